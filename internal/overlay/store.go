package overlay

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/holdboard/holdboard/pkg/proto"
)

// Field groups under which one bucket's staged state is persisted. Each
// group is its own key, named "{fieldGroup}-{bucketName}".
const (
	groupMetadata = "metadata"
	groupLock     = "lock"
	groupAdded    = "added"
	groupExpired  = "expired"
)

var fieldGroups = []string{groupMetadata, groupLock, groupAdded, groupExpired}

// Store reads and writes per-bucket overlays through the KV port. Every
// Save is synchronous: once it returns, a reload reconstructs the exact
// staged state. A corrupt or missing persisted value is treated as empty,
// never as an error.
type Store struct {
	kv KV
}

// NewStore creates a Store over kv.
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

func groupKey(group, bucket string) string {
	return group + "-" + bucket
}

// Load returns the persisted overlay for a bucket. Missing or unreadable
// groups come back empty.
func (s *Store) Load(bucket string) BucketOverlay {
	ov := NewBucketOverlay(bucket)
	if data, ok := s.kv.Get(groupKey(groupMetadata, bucket)); ok {
		var edits map[string]map[string]string
		if err := json.Unmarshal(data, &edits); err == nil && edits != nil {
			ov.MetadataEdits = edits
		}
	}
	if data, ok := s.kv.Get(groupKey(groupLock, bucket)); ok {
		var edits map[string]proto.LockStatus
		if err := json.Unmarshal(data, &edits); err == nil && edits != nil {
			ov.LockEdits = edits
		}
	}
	if data, ok := s.kv.Get(groupKey(groupAdded, bucket)); ok {
		var added []proto.ObjectRecord
		if err := json.Unmarshal(data, &added); err == nil {
			ov.AddedObjects = added
		}
	}
	if data, ok := s.kv.Get(groupKey(groupExpired, bucket)); ok {
		var expired []proto.ObjectRecord
		if err := json.Unmarshal(data, &expired); err == nil {
			ov.ExpiredObjects = expired
		}
	}
	return ov
}

// Save fully replaces the persisted record for the overlay's bucket.
// Empty groups are deleted rather than written so the dirty-bucket scan
// stays accurate.
func (s *Store) Save(ov BucketOverlay) error {
	if err := s.saveGroup(groupMetadata, ov.Bucket, ov.MetadataEdits, len(ov.MetadataEdits) == 0); err != nil {
		return err
	}
	if err := s.saveGroup(groupLock, ov.Bucket, ov.LockEdits, len(ov.LockEdits) == 0); err != nil {
		return err
	}
	if err := s.saveGroup(groupAdded, ov.Bucket, ov.AddedObjects, len(ov.AddedObjects) == 0); err != nil {
		return err
	}
	return s.saveGroup(groupExpired, ov.Bucket, ov.ExpiredObjects, len(ov.ExpiredObjects) == 0)
}

func (s *Store) saveGroup(group, bucket string, value interface{}, empty bool) error {
	key := groupKey(group, bucket)
	if empty {
		s.kv.Delete(key)
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.kv.Set(key, data)
}

// Clear removes every persisted group for a bucket.
func (s *Store) Clear(bucket string) {
	for _, group := range fieldGroups {
		s.kv.Delete(groupKey(group, bucket))
	}
}

// ClearAll removes every persisted overlay.
func (s *Store) ClearAll() {
	for _, key := range s.kv.Keys() {
		s.kv.Delete(key)
	}
}

// ListDirtyBuckets returns, sorted, every bucket that has staged edits.
// It scans persisted keys and extracts bucket names from the group
// prefix; the expired group alone doesn't make a bucket dirty.
func (s *Store) ListDirtyBuckets() []string {
	seen := make(map[string]bool)
	for _, key := range s.kv.Keys() {
		for _, group := range []string{groupMetadata, groupLock, groupAdded} {
			prefix := group + "-"
			if strings.HasPrefix(key, prefix) {
				seen[strings.TrimPrefix(key, prefix)] = true
			}
		}
	}
	buckets := make([]string, 0, len(seen))
	for bucket := range seen {
		buckets = append(buckets, bucket)
	}
	sort.Strings(buckets)
	return buckets
}
