package overlay

import (
	"time"

	"github.com/holdboard/holdboard/pkg/proto"
)

// EffectiveState is the per-row rendered state of one object after
// overlaying pending edits on its committed record.
type EffectiveState struct {
	Record         proto.ObjectRecord
	Metadata       map[string]string
	Locked         bool
	Classification Classification
	Pending        bool // Any staged edit exists for the object
}

// BuildView merges a server-fetched object list with a bucket's overlay.
//
// Server order is preserved. Server objects whose own expiry has lapsed
// beyond the skew tolerance, with no active hold, are partitioned out as
// expired rather than rendered; overlay added objects are appended unless
// the server already confirmed an object of the same name. Expiry is
// evaluated here, once per fetch against a stable now; pending-edit
// precedence is applied later, per render, by ResolveEffectiveState.
func BuildView(serverObjects []proto.ObjectRecord, ov BucketOverlay, now time.Time) (view, expired []proto.ObjectRecord) {
	seen := make(map[string]bool, len(serverObjects)+len(ov.AddedObjects))
	view = make([]proto.ObjectRecord, 0, len(serverObjects)+len(ov.AddedObjects))

	for _, rec := range serverObjects {
		if seen[rec.Name] {
			continue
		}
		seen[rec.Name] = true
		if isExpired(rec, now) {
			expired = append(expired, rec)
			continue
		}
		view = append(view, rec)
	}

	for _, rec := range ov.AddedObjects {
		if seen[rec.Name] {
			continue
		}
		seen[rec.Name] = true
		view = append(view, rec)
	}

	return view, expired
}

// ResolveEffectiveState overlays any pending edits for one object on top
// of its committed record: pending metadata fully replaces committed
// metadata (never a field merge), and a pending lock edit wins over the
// record's hold state.
func ResolveEffectiveState(rec proto.ObjectRecord, ov BucketOverlay, now time.Time) EffectiveState {
	state := EffectiveState{
		Record:   rec,
		Metadata: rec.Metadata,
	}

	if md, ok := ov.MetadataEdits[rec.Name]; ok {
		state.Metadata = md
		state.Pending = true
	}

	var pendingLock *proto.LockStatus
	if ls, ok := ov.LockEdits[rec.Name]; ok {
		pendingLock = &ls
		state.Pending = true
	}

	state.Locked = IsEffectivelyLocked(rec, pendingLock, now)
	state.Classification = Classify(EffectiveExpiry(rec, pendingLock), now)
	return state
}
