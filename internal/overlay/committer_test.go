package overlay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holdboard/holdboard/internal/storage"
	"github.com/holdboard/holdboard/pkg/proto"
)

func newTestCommitter(t *testing.T) (*Committer, *Store, *storage.MemBackend) {
	t.Helper()
	store := NewStore(NewMemoryKV())
	backend := storage.NewMemBackend()
	backend.SetNowFunc(func() time.Time { return testNow })
	return NewCommitter(store, backend), store, backend
}

func TestCommitFlushesAndClears(t *testing.T) {
	committer, store, backend := newTestCommitter(t)
	backend.PutObject("photos", proto.ObjectRecord{Name: "a.jpg", Metadata: map[string]string{"old": "value"}})

	ov := NewBucketOverlay("photos")
	ov.MetadataEdits["a.jpg"] = map[string]string{"owner": "ops"}
	until := testNow.Add(72 * time.Hour)
	ov.LockEdits["a.jpg"] = Until(until).lockStatus(testNow)
	require.NoError(t, store.Save(ov))

	committer.SetGeneration("photos", backend.Generation("photos"))
	outcomes := committer.Commit(context.Background(), []string{"photos"})

	require.Contains(t, outcomes, "photos")
	assert.NoError(t, outcomes["photos"].Err)
	assert.False(t, outcomes["photos"].Conflict)
	assert.Equal(t, 1, outcomes["photos"].Updated)

	// Acknowledged: overlay cleared, backend updated.
	assert.True(t, store.Load("photos").Empty())
	rec, ok := backend.GetObject("photos", "a.jpg")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"owner": "ops"}, rec.Metadata)
	assert.True(t, rec.TemporaryHold)
	require.NotNil(t, rec.ExpirationDate)
	assert.True(t, until.Equal(*rec.ExpirationDate))
}

func TestCommitConflictRetainsOverlay(t *testing.T) {
	committer, store, backend := newTestCommitter(t)
	backend.PutObject("photos", proto.ObjectRecord{Name: "a.jpg", Metadata: map[string]string{}})

	ov := NewBucketOverlay("photos")
	ov.MetadataEdits["a.jpg"] = map[string]string{"owner": "ops"}
	require.NoError(t, store.Save(ov))

	committer.SetGeneration("photos", backend.Generation("photos"))
	// The bucket moves on before the commit lands.
	backend.PutObject("photos", proto.ObjectRecord{Name: "b.jpg", Metadata: map[string]string{}})

	outcomes := committer.Commit(context.Background(), []string{"photos"})
	require.Contains(t, outcomes, "photos")
	assert.True(t, outcomes["photos"].Conflict)
	assert.Error(t, outcomes["photos"].Err)

	// Nothing applied, nothing lost.
	assert.False(t, store.Load("photos").Empty())
	rec, _ := backend.GetObject("photos", "a.jpg")
	assert.Empty(t, rec.Metadata)
}

func TestCommitSkipsCleanBuckets(t *testing.T) {
	committer, _, backend := newTestCommitter(t)
	backend.AddBucket("photos")

	outcomes := committer.Commit(context.Background(), []string{"photos"})
	assert.Empty(t, outcomes)
}

func TestCommitMultipleBuckets(t *testing.T) {
	committer, store, backend := newTestCommitter(t)
	backend.PutObject("photos", proto.ObjectRecord{Name: "a.jpg", Metadata: map[string]string{}})
	backend.PutObject("logs", proto.ObjectRecord{Name: "x.log", Metadata: map[string]string{}})

	for _, bucket := range []string{"photos", "logs"} {
		ov := NewBucketOverlay(bucket)
		ov.LockEdits[bucket+"-obj"] = Indefinite().lockStatus(testNow)
		require.NoError(t, store.Save(ov))
		committer.SetGeneration(bucket, backend.Generation(bucket))
	}

	outcomes := committer.Commit(context.Background(), []string{"photos", "logs"})
	require.Len(t, outcomes, 2)
	for bucket, outcome := range outcomes {
		assert.NoError(t, outcome.Err, bucket)
		assert.True(t, store.Load(bucket).Empty(), bucket)
	}
}

// gatedUpdater blocks inside UpdateBatch until released, so a test can
// hold a bucket in the committing state.
type gatedUpdater struct {
	entered chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (g *gatedUpdater) UpdateBatch(ctx context.Context, bucket string, updates []proto.UpdateEntry, generation string) error {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	g.entered <- struct{}{}
	<-g.release
	return nil
}

func (g *gatedUpdater) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestCommitRejectsWhileBucketInFlight(t *testing.T) {
	store := NewStore(NewMemoryKV())
	updater := &gatedUpdater{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	committer := NewCommitter(store, updater)

	ov := NewBucketOverlay("photos")
	ov.MetadataEdits["a.jpg"] = map[string]string{"owner": "ops"}
	require.NoError(t, store.Save(ov))

	first := make(chan map[string]Outcome, 1)
	go func() {
		first <- committer.Commit(context.Background(), []string{"photos"})
	}()
	<-updater.entered

	// Same bucket, commit already in flight: rejected without touching
	// the staged state or the update service.
	second := committer.Commit(context.Background(), []string{"photos"})
	require.Contains(t, second, "photos")
	assert.ErrorIs(t, second["photos"].Err, ErrCommitInFlight)
	assert.False(t, second["photos"].Conflict)
	assert.False(t, store.Load("photos").Empty())

	close(updater.release)
	outcomes := <-first
	require.Contains(t, outcomes, "photos")
	assert.NoError(t, outcomes["photos"].Err)
	assert.Equal(t, 1, outcomes["photos"].Updated)

	// The first commit still ran to completion: exactly one batch sent,
	// overlay cleared on ack.
	assert.Equal(t, 1, updater.callCount())
	assert.True(t, store.Load("photos").Empty())
}

func TestBuildUpdatesMergesAndOrders(t *testing.T) {
	ov := NewBucketOverlay("photos")
	ov.MetadataEdits["b.jpg"] = map[string]string{"k": "v"}
	ov.MetadataEdits["a.jpg"] = map[string]string{"k": "v"}
	ov.LockEdits["b.jpg"] = Indefinite().lockStatus(testNow)
	ov.LockEdits["c.jpg"] = unlockStatus(testNow)

	lapsed := testNow.Add(-time.Hour)
	ov.ExpiredObjects = []proto.ObjectRecord{
		{Name: "old.jpg", Metadata: map[string]string{"was": "here"}, ExpirationDate: &lapsed},
	}

	updates := BuildUpdates(ov)
	require.Len(t, updates, 4)

	// Expired reconciliation entries lead, carrying state verbatim.
	assert.Equal(t, "old.jpg", updates[0].Filename)
	assert.Equal(t, map[string]string{"was": "here"}, updates[0].Metadata)
	require.NotNil(t, updates[0].LockStatus)
	assert.False(t, updates[0].LockStatus.TemporaryHold)

	// Edited objects follow, sorted, one entry each even when both a
	// metadata and a lock edit exist.
	assert.Equal(t, "a.jpg", updates[1].Filename)
	assert.Nil(t, updates[1].LockStatus)

	assert.Equal(t, "b.jpg", updates[2].Filename)
	assert.NotNil(t, updates[2].Metadata)
	require.NotNil(t, updates[2].LockStatus)
	assert.True(t, updates[2].LockStatus.TemporaryHold)

	assert.Equal(t, "c.jpg", updates[3].Filename)
	assert.Nil(t, updates[3].Metadata)
	require.NotNil(t, updates[3].LockStatus)
	assert.False(t, updates[3].LockStatus.TemporaryHold)
}

func TestCommitExpiredReconciliationDeletesAtBackend(t *testing.T) {
	committer, store, backend := newTestCommitter(t)

	lapsed := testNow.Add(-time.Hour)
	backend.PutObject("photos", proto.ObjectRecord{
		Name:           "old.jpg",
		Metadata:       map[string]string{},
		ExpirationDate: &lapsed,
	})
	backend.PutObject("photos", proto.ObjectRecord{Name: "live.jpg", Metadata: map[string]string{}})

	ov := NewBucketOverlay("photos")
	ov.MetadataEdits["live.jpg"] = map[string]string{"k": "v"}
	ov.ExpiredObjects = []proto.ObjectRecord{
		{Name: "old.jpg", Metadata: map[string]string{}, ExpirationDate: &lapsed},
	}
	require.NoError(t, store.Save(ov))
	committer.SetGeneration("photos", backend.Generation("photos"))

	outcomes := committer.Commit(context.Background(), []string{"photos"})
	require.NoError(t, outcomes["photos"].Err)

	// The update service's finalization policy removed the lapsed object.
	_, ok := backend.GetObject("photos", "old.jpg")
	assert.False(t, ok)
	rec, ok := backend.GetObject("photos", "live.jpg")
	require.True(t, ok)
	assert.Equal(t, "v", rec.Metadata["k"])
}
