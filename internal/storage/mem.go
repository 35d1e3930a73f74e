package storage

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/holdboard/holdboard/pkg/proto"
)

// MemBackend is an in-memory Backend with full update semantics,
// including a per-bucket generation counter for the compare-and-swap
// path. It backs gateway and engine tests.
type MemBackend struct {
	mu      sync.Mutex
	buckets map[string]*memBucket
	now     func() time.Time
}

type memBucket struct {
	objects    map[string]*proto.ObjectRecord
	order      []string // insertion order, the listing order
	generation uint64
}

// NewMemBackend creates an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{
		buckets: make(map[string]*memBucket),
		now:     time.Now,
	}
}

// SetNowFunc overrides the clock used by the delete-on-expiry policy.
func (m *MemBackend) SetNowFunc(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// AddBucket creates an empty bucket.
func (m *MemBackend) AddBucket(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucket(name)
}

// PutObject seeds or replaces an object.
func (m *MemBackend) PutObject(bucket string, rec proto.ObjectRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bucket(bucket)
	if _, exists := b.objects[rec.Name]; !exists {
		b.order = append(b.order, rec.Name)
	}
	clone := rec.Clone()
	b.objects[rec.Name] = &clone
	b.generation++
}

// GetObject returns a copy of an object, if present.
func (m *MemBackend) GetObject(bucket, name string) (proto.ObjectRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[bucket]
	if !ok {
		return proto.ObjectRecord{}, false
	}
	rec, ok := b.objects[name]
	if !ok {
		return proto.ObjectRecord{}, false
	}
	return rec.Clone(), true
}

// Generation returns the bucket's current generation token.
func (m *MemBackend) Generation(bucket string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[bucket]
	if !ok {
		return ""
	}
	return strconv.FormatUint(b.generation, 10)
}

func (m *MemBackend) bucket(name string) *memBucket {
	b, ok := m.buckets[name]
	if !ok {
		b = &memBucket{objects: make(map[string]*proto.ObjectRecord)}
		m.buckets[name] = b
	}
	return b
}

func (m *MemBackend) ListObjects(_ context.Context, bucket, query string) ([]proto.ObjectRecord, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[bucket]
	if !ok {
		return nil, "", ErrBucketNotFound
	}

	records := make([]proto.ObjectRecord, 0, len(b.order))
	for _, name := range b.order {
		rec, ok := b.objects[name]
		if !ok {
			continue
		}
		if query != "" && !matches(rec, query) {
			continue
		}
		records = append(records, rec.Clone())
	}
	return records, strconv.FormatUint(b.generation, 10), nil
}

// matches mirrors the listing service's free-text filter: the query must
// appear in the object name, a metadata key, or a metadata value.
func matches(rec *proto.ObjectRecord, query string) bool {
	if strings.Contains(rec.Name, query) {
		return true
	}
	for k, v := range rec.Metadata {
		if strings.Contains(k, query) || strings.Contains(v, query) {
			return true
		}
	}
	return false
}

func (m *MemBackend) ListBuckets(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.buckets))
	for name := range m.buckets {
		names = append(names, name)
	}
	return names, nil
}

func (m *MemBackend) SearchObjects(_ context.Context, fragment string, buckets []string) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make(map[string][]string)
	for _, bucket := range buckets {
		b, ok := m.buckets[bucket]
		if !ok {
			continue
		}
		for _, name := range b.order {
			rec, ok := b.objects[name]
			if !ok {
				continue
			}
			if matches(rec, fragment) {
				results[bucket] = append(results[bucket], name)
			}
		}
	}
	return results, nil
}

func (m *MemBackend) ObjectExists(_ context.Context, bucket, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[bucket]
	if !ok {
		return false, nil
	}
	_, exists := b.objects[name]
	return exists, nil
}

func (m *MemBackend) UpdateBatch(_ context.Context, bucket string, updates []proto.UpdateEntry, generation string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[bucket]
	if !ok {
		return ErrBucketNotFound
	}

	if generation != "" && generation != strconv.FormatUint(b.generation, 10) {
		return ErrGenerationMismatch
	}

	now := m.now()
	for _, update := range updates {
		rec, exists := b.objects[update.Filename]
		if !exists {
			rec = &proto.ObjectRecord{
				Name:     update.Filename,
				Metadata: map[string]string{},
			}
			b.objects[update.Filename] = rec
			b.order = append(b.order, update.Filename)
		}

		if update.Metadata != nil {
			md := make(map[string]string, len(update.Metadata))
			for k, v := range update.Metadata {
				md[k] = v
			}
			rec.Metadata = md
		}

		if update.LockStatus != nil {
			rec.TemporaryHold = update.LockStatus.TemporaryHold
			if update.LockStatus.HoldExpiry != nil {
				expiry := *update.LockStatus.HoldExpiry
				rec.ExpirationDate = &expiry
			}
			// Finalization policy: an entry arriving with no hold and a
			// lapsed expiry is a reconciled expired object, removed here.
			if !rec.TemporaryHold && rec.ExpirationDate != nil && rec.ExpirationDate.Before(now) {
				delete(b.objects, update.Filename)
				removeName(&b.order, update.Filename)
				continue
			}
		}

		rec.UpdatedAt = now
	}

	b.generation++
	return nil
}

func removeName(order *[]string, name string) {
	for i, n := range *order {
		if n == name {
			*order = append((*order)[:i], (*order)[i+1:]...)
			return
		}
	}
}
