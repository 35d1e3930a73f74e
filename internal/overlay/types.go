// Package overlay implements the staged-edit reconciliation engine: the
// per-bucket record of not-yet-committed metadata edits, lock edits and
// newly registered objects, the merge of that record with server-fetched
// listings, and the batch commit that flushes it.
package overlay

import (
	"time"

	"github.com/holdboard/holdboard/pkg/proto"
)

// BucketOverlay is the unit of persistence: one bucket's staged state.
//
// MetadataEdits maps object name to a full replacement metadata mapping
// (a total overwrite, never a patch). LockEdits maps object name to the
// staged hold change. Both hold at most one entry per object; the newest
// call wins. ExpiredObjects is recomputed on every server fetch and never
// merged across fetches.
type BucketOverlay struct {
	Bucket         string
	MetadataEdits  map[string]map[string]string
	LockEdits      map[string]proto.LockStatus
	AddedObjects   []proto.ObjectRecord
	ExpiredObjects []proto.ObjectRecord
}

// NewBucketOverlay returns an empty overlay for a bucket.
func NewBucketOverlay(bucket string) BucketOverlay {
	return BucketOverlay{
		Bucket:        bucket,
		MetadataEdits: make(map[string]map[string]string),
		LockEdits:     make(map[string]proto.LockStatus),
	}
}

// Empty reports whether the overlay holds no staged edits. Observed
// expired objects don't count: they are derived from the server listing,
// not user intent, and ride along with a commit only when one happens.
func (o BucketOverlay) Empty() bool {
	return len(o.MetadataEdits) == 0 && len(o.LockEdits) == 0 && len(o.AddedObjects) == 0
}

// HasAdded reports whether name is already present among the added objects.
func (o BucketOverlay) HasAdded(name string) bool {
	for _, rec := range o.AddedObjects {
		if rec.Name == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the overlay.
func (o BucketOverlay) Clone() BucketOverlay {
	out := NewBucketOverlay(o.Bucket)
	for name, md := range o.MetadataEdits {
		m := make(map[string]string, len(md))
		for k, v := range md {
			m[k] = v
		}
		out.MetadataEdits[name] = m
	}
	for name, ls := range o.LockEdits {
		if ls.HoldExpiry != nil {
			t := *ls.HoldExpiry
			ls.HoldExpiry = &t
		}
		out.LockEdits[name] = ls
	}
	for _, rec := range o.AddedObjects {
		out.AddedObjects = append(out.AddedObjects, rec.Clone())
	}
	for _, rec := range o.ExpiredObjects {
		out.ExpiredObjects = append(out.ExpiredObjects, rec.Clone())
	}
	return out
}

// LockChoice is the user's lock-duration selection: indefinite, or until
// a chosen instant. The "sentinel timestamp a few seconds out" encoding
// exists only at the persistence and wire boundary; internal logic never
// compares magic offsets.
type LockChoice struct {
	until      time.Time
	indefinite bool
}

// Indefinite is the lock choice with no user-chosen expiry.
func Indefinite() LockChoice {
	return LockChoice{indefinite: true}
}

// Until is the lock choice expiring at t.
func Until(t time.Time) LockChoice {
	return LockChoice{until: t}
}

// IsIndefinite reports whether the choice carries no real expiry.
func (c LockChoice) IsIndefinite() bool {
	return c.indefinite
}

// lockStatus encodes the choice for persistence. An indefinite choice
// becomes the sentinel expiry a few seconds past now, which the
// classifier's tolerance window decodes back to Indefinite.
func (c LockChoice) lockStatus(now time.Time) proto.LockStatus {
	if c.indefinite {
		sentinel := now.Add(IndefiniteSentinelOffset)
		return proto.LockStatus{TemporaryHold: true, HoldExpiry: &sentinel}
	}
	until := c.until
	return proto.LockStatus{TemporaryHold: true, HoldExpiry: &until}
}

// unlockStatus encodes a hold release. The same sentinel signals
// "cleared" to the update service.
func unlockStatus(now time.Time) proto.LockStatus {
	sentinel := now.Add(IndefiniteSentinelOffset)
	return proto.LockStatus{TemporaryHold: false, HoldExpiry: &sentinel}
}
