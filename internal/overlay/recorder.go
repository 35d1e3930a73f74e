package overlay

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/holdboard/holdboard/pkg/proto"
)

var (
	// ErrNoObjectNames is returned when a recording call names no objects.
	ErrNoObjectNames = errors.New("no object names given")
	// ErrEmptyObjectName is returned when an object name is blank.
	ErrEmptyObjectName = errors.New("empty object name")
	// ErrNoBucket is returned when a recording call names no target bucket.
	ErrNoBucket = errors.New("no target bucket given")
)

// Recorder is the mutation surface of the engine. It holds the active
// bucket's overlay in memory, persisting through the store on every
// mutation, and applies edits targeted at other buckets through a
// load/apply/save round trip that leaves active state untouched. A single
// user action (locking a batch of search results, say) can fan out across
// several buckets at once, which is why every recording call is scoped to
// a target bucket rather than assuming the one being viewed.
type Recorder struct {
	mu       sync.Mutex
	store    *Store
	active   string
	query    string
	overlay  BucketOverlay
	server   []proto.ObjectRecord // last reconciled server list, expired partitioned out
	view     []proto.ObjectRecord
	page     int
	pageSize int
	now      func() time.Time
	onChange func(bucket string)
}

// NewRecorder creates a Recorder persisting through store.
func NewRecorder(store *Store, pageSize int) *Recorder {
	return &Recorder{
		store:    store,
		overlay:  NewBucketOverlay(""),
		page:     1,
		pageSize: pageSize,
		now:      time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (r *Recorder) SetNowFunc(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// SetOnChange registers a callback invoked (outside the lock) after any
// bucket's staged state changes.
func (r *Recorder) SetOnChange(fn func(bucket string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// SetActiveBucket switches the bucket and listing filter being viewed.
// A bucket change loads that bucket's persisted overlay; either change
// drops the reconciled view and resets pagination. Staged edits survive a
// filter change within the same bucket.
func (r *Recorder) SetActiveBucket(bucket, query string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == bucket && r.query == query {
		return
	}
	if r.active != bucket {
		r.overlay = r.store.Load(bucket)
	}
	r.active = bucket
	r.query = query
	r.server = nil
	r.view = nil
	r.page = 1
}

// ActiveBucket returns the bucket currently being viewed.
func (r *Recorder) ActiveBucket() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// ActiveView returns the bucket and listing filter currently being
// viewed, read under one lock so callers can check both at once.
func (r *Recorder) ActiveView() (bucket, query string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.query
}

// Reconcile merges a fresh server fetch for the active bucket with the
// staged overlay. Objects whose hold lapsed are partitioned into the
// overlay's expired list (replacing, never merging, the previous fetch's
// partition) and excluded from the returned view.
func (r *Recorder) Reconcile(serverObjects []proto.ObjectRecord) []proto.ObjectRecord {
	r.mu.Lock()
	view, expired := BuildView(serverObjects, r.overlay, r.now())
	r.server = serverObjects
	r.view = view
	r.overlay.ExpiredObjects = expired
	bucket := r.active
	err := r.store.Save(r.overlay)
	r.mu.Unlock()
	if err != nil {
		log.Warn().Err(err).Str("bucket", bucket).Msg("failed to persist expired partition")
	}
	return view
}

// View returns the merged, de-duplicated list for the active bucket with
// pending edits resolved per row.
func (r *Recorder) View() []EffectiveState {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	states := make([]EffectiveState, 0, len(r.view))
	for _, rec := range r.view {
		states = append(states, ResolveEffectiveState(rec, r.overlay, now))
	}
	return states
}

// Overlay returns a copy of the active bucket's staged state.
func (r *Recorder) Overlay() BucketOverlay {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overlay.Clone()
}

func validate(target string, names []string) error {
	if target == "" {
		return ErrNoBucket
	}
	if len(names) == 0 {
		return ErrNoObjectNames
	}
	for _, name := range names {
		if name == "" {
			return ErrEmptyObjectName
		}
	}
	return nil
}

// RecordMetadataEdit stages a full metadata replacement for each named
// object in the target bucket. The newest call for an object wins; fields
// are never merged.
func (r *Recorder) RecordMetadataEdit(target string, names []string, metadata map[string]string) error {
	if err := validate(target, names); err != nil {
		return err
	}
	return r.mutate(target, func(ov *BucketOverlay) {
		for _, name := range names {
			md := make(map[string]string, len(metadata))
			for k, v := range metadata {
				md[k] = v
			}
			ov.MetadataEdits[name] = md
		}
	})
}

// RecordLockEdit stages a hold for each named object in the target
// bucket, expiring per choice.
func (r *Recorder) RecordLockEdit(target string, names []string, choice LockChoice) error {
	if err := validate(target, names); err != nil {
		return err
	}
	r.mu.Lock()
	status := choice.lockStatus(r.now())
	r.mu.Unlock()
	return r.mutate(target, func(ov *BucketOverlay) {
		for _, name := range names {
			ov.LockEdits[name] = status
		}
	})
}

// RecordUnlock stages a hold release for each named object.
func (r *Recorder) RecordUnlock(target string, names []string) error {
	if err := validate(target, names); err != nil {
		return err
	}
	r.mu.Lock()
	status := unlockStatus(r.now())
	r.mu.Unlock()
	return r.mutate(target, func(ov *BucketOverlay) {
		for _, name := range names {
			ov.LockEdits[name] = status
		}
	})
}

// RecordObjectAddition registers objects not yet known to the server:
// empty metadata, no hold, no expiry. Names already server-known or
// already added are skipped, so the merged view never grows a duplicate.
// When the addition lands in the active bucket the current page advances
// to the tail so the user sees what they just staged.
func (r *Recorder) RecordObjectAddition(target string, names []string) error {
	if err := validate(target, names); err != nil {
		return err
	}

	r.mu.Lock()
	now := r.now()
	if target == r.active {
		known := make(map[string]bool, len(r.view))
		for _, rec := range r.view {
			known[rec.Name] = true
		}
		for _, name := range names {
			if known[name] || r.overlay.HasAdded(name) {
				continue
			}
			rec := proto.ObjectRecord{
				Name:      name,
				Metadata:  map[string]string{},
				UpdatedAt: now,
			}
			r.overlay.AddedObjects = append(r.overlay.AddedObjects, rec)
			r.view = append(r.view, rec)
			known[name] = true
		}
		r.page = PageCount(r.view, r.pageSize)
		err := r.store.Save(r.overlay)
		onChange := r.onChange
		r.mu.Unlock()
		if err != nil {
			return err
		}
		if onChange != nil {
			onChange(target)
		}
		return nil
	}
	r.mu.Unlock()

	return r.mutate(target, func(ov *BucketOverlay) {
		for _, name := range names {
			if ov.HasAdded(name) {
				continue
			}
			ov.AddedObjects = append(ov.AddedObjects, proto.ObjectRecord{
				Name:      name,
				Metadata:  map[string]string{},
				UpdatedAt: now,
			})
		}
	})
}

// ToggleLock handles the lock button for an object in the active bucket.
// A locked object gets an unlock edit staged directly. An unlocked one
// has any stale pending lock edit removed so the upcoming duration
// selection starts clean; the caller then opens the selection flow.
func (r *Recorder) ToggleLock(name string, currentlyLocked bool) (needsSelection bool, err error) {
	if name == "" {
		return false, ErrEmptyObjectName
	}
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	if currentlyLocked {
		return false, r.RecordUnlock(active, []string{name})
	}
	err = r.mutate(active, func(ov *BucketOverlay) {
		delete(ov.LockEdits, name)
	})
	return true, err
}

// DiscardAll drops every bucket's staged state.
func (r *Recorder) DiscardAll() {
	r.mu.Lock()
	r.store.ClearAll()
	r.overlay = NewBucketOverlay(r.active)
	if r.server != nil {
		view, expired := BuildView(r.server, r.overlay, r.now())
		r.view = view
		r.overlay.ExpiredObjects = expired
	}
	onChange := r.onChange
	active := r.active
	r.mu.Unlock()
	if onChange != nil {
		onChange(active)
	}
}

// ReloadActive re-reads the active bucket's overlay from the store. The
// committer clears persisted state behind the recorder's back after an
// acknowledged commit; this re-syncs the in-memory copy.
func (r *Recorder) ReloadActive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == "" {
		return
	}
	r.overlay = r.store.Load(r.active)
}

// mutate applies fn to the target bucket's overlay and persists it. The
// active bucket's in-memory overlay is mutated directly; any other bucket
// goes through a load/apply/save round trip.
func (r *Recorder) mutate(target string, fn func(*BucketOverlay)) error {
	r.mu.Lock()
	var err error
	if target == r.active {
		fn(&r.overlay)
		err = r.store.Save(r.overlay)
	} else {
		ov := r.store.Load(target)
		fn(&ov)
		err = r.store.Save(ov)
	}
	onChange := r.onChange
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if onChange != nil {
		onChange(target)
	}
	return nil
}

// Page state.

// SetPage sets the 1-based current page, clamped to the valid range.
func (r *Recorder) SetPage(page int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if page < 1 {
		page = 1
	}
	if max := PageCount(r.view, r.pageSize); page > max {
		page = max
	}
	r.page = page
}

// CurrentPage returns the 1-based current page.
func (r *Recorder) CurrentPage() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.page
}

// PageSize returns the configured page size.
func (r *Recorder) PageSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pageSize
}

// DirtyBuckets returns every bucket with staged edits.
func (r *Recorder) DirtyBuckets() []string {
	return r.store.ListDirtyBuckets()
}
