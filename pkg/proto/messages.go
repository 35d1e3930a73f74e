// Package proto defines shared protocol messages for holdboard.
package proto

import (
	"time"
)

// ObjectRecord is one storage object as known to the system.
type ObjectRecord struct {
	Name           string            `json:"name"`
	Metadata       map[string]string `json:"metadata"`
	TemporaryHold  bool              `json:"temporary_hold"`
	ExpirationDate *time.Time        `json:"expiration_date"` // Hold expiry, if any
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r ObjectRecord) Clone() ObjectRecord {
	out := r
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	if r.ExpirationDate != nil {
		t := *r.ExpirationDate
		out.ExpirationDate = &t
	}
	return out
}

// LockStatus is the wire encoding of a hold change for one object.
type LockStatus struct {
	TemporaryHold bool       `json:"temporary_hold"`
	HoldExpiry    *time.Time `json:"hold_expiry,omitempty"`
}

// UpdateEntry is one object's worth of staged changes in a batch update.
// Metadata and LockStatus are both optional; an entry carries whichever
// kinds of edit were staged for the object.
type UpdateEntry struct {
	Filename   string            `json:"filename"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	LockStatus *LockStatus       `json:"lockstatus,omitempty"`
}

// BatchUpdateRequest is the per-bucket commit payload.
// Generation is an opaque compare-and-swap token; empty means "no check".
type BatchUpdateRequest struct {
	Updates    []UpdateEntry `json:"updates"`
	Generation string        `json:"generation,omitempty"`
}

// BatchUpdateResponse is returned after a successful batch update.
type BatchUpdateResponse struct {
	Updated int `json:"updated"`
}

// FileListResponse is the object listing service response.
type FileListResponse struct {
	Files      []ObjectRecord `json:"files"`
	Page       int            `json:"page"`
	Size       int            `json:"size"`
	Total      int            `json:"total"`
	Pages      int            `json:"pages"`
	Generation string         `json:"generation,omitempty"`
}

// BucketListResponse is the bucket enumeration service response.
type BucketListResponse struct {
	Buckets []string `json:"buckets"`
}

// SearchResponse maps bucket name to matching object names.
type SearchResponse struct {
	Results map[string][]string `json:"results"`
}

// ExistsResponse is the existence check service response.
type ExistsResponse struct {
	Exists bool `json:"exists"`
}

// BucketChanges summarizes the staged state for one bucket.
type BucketChanges struct {
	Bucket        string `json:"bucket"`
	MetadataEdits int    `json:"metadata_edits"`
	LockEdits     int    `json:"lock_edits"`
	AddedObjects  int    `json:"added_objects"`
}

// ChangesResponse lists every bucket with staged edits.
type ChangesResponse struct {
	Buckets []BucketChanges `json:"buckets"`
}

// CommitOutcome reports the result of committing one bucket's overlay.
type CommitOutcome struct {
	Bucket   string `json:"bucket"`
	Updated  int    `json:"updated"`
	Conflict bool   `json:"conflict,omitempty"`
	Error    string `json:"error,omitempty"`
}

// CommitResponse reports per-bucket commit outcomes.
type CommitResponse struct {
	Outcomes []CommitOutcome `json:"outcomes"`
}

// LoginRequest is the admin login payload.
type LoginRequest struct {
	Password string `json:"password"`
}

// LoginResponse carries the session token issued on successful login.
type LoginResponse struct {
	Token string `json:"token"`
}

// Event is pushed over the websocket change feed.
type Event struct {
	Type    string   `json:"type"`              // "overlay-changed" or "commit-complete"
	Buckets []string `json:"buckets,omitempty"` // Affected buckets
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}
