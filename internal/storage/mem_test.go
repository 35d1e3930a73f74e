package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holdboard/holdboard/pkg/proto"
)

var memNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func seededBackend(t *testing.T) *MemBackend {
	t.Helper()
	backend := NewMemBackend()
	backend.SetNowFunc(func() time.Time { return memNow })
	backend.PutObject("photos", proto.ObjectRecord{Name: "cat.jpg", Metadata: map[string]string{"animal": "cat"}})
	backend.PutObject("photos", proto.ObjectRecord{Name: "dog.jpg", Metadata: map[string]string{"animal": "dog"}})
	backend.PutObject("logs", proto.ObjectRecord{Name: "app.log", Metadata: map[string]string{"level": "info"}})
	return backend
}

func TestMemBackendListObjects(t *testing.T) {
	backend := seededBackend(t)

	records, generation, err := backend.ListObjects(context.Background(), "photos", "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "cat.jpg", records[0].Name)
	assert.Equal(t, "dog.jpg", records[1].Name)
	assert.NotEmpty(t, generation)

	_, _, err = backend.ListObjects(context.Background(), "nope", "")
	assert.ErrorIs(t, err, ErrBucketNotFound)
}

func TestMemBackendListObjectsQuery(t *testing.T) {
	backend := seededBackend(t)

	// Name match.
	records, _, err := backend.ListObjects(context.Background(), "photos", "cat")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "cat.jpg", records[0].Name)

	// Metadata value match.
	records, _, err = backend.ListObjects(context.Background(), "photos", "dog")
	require.NoError(t, err)
	require.Len(t, records, 1)

	// Metadata key match.
	records, _, err = backend.ListObjects(context.Background(), "photos", "animal")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestMemBackendSearchObjects(t *testing.T) {
	backend := seededBackend(t)

	results, err := backend.SearchObjects(context.Background(), "o", []string{"photos", "logs", "nope"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dog.jpg"}, results["photos"])
	assert.ElementsMatch(t, []string{"app.log"}, results["logs"])
	assert.NotContains(t, results, "nope")
}

func TestMemBackendObjectExists(t *testing.T) {
	backend := seededBackend(t)

	exists, err := backend.ObjectExists(context.Background(), "photos", "cat.jpg")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = backend.ObjectExists(context.Background(), "photos", "bird.jpg")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = backend.ObjectExists(context.Background(), "nope", "cat.jpg")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemBackendUpdateBatchGeneration(t *testing.T) {
	backend := seededBackend(t)
	generation := backend.Generation("photos")

	err := backend.UpdateBatch(context.Background(), "photos", []proto.UpdateEntry{
		{Filename: "cat.jpg", Metadata: map[string]string{"animal": "tiger"}},
	}, generation)
	require.NoError(t, err)

	rec, _ := backend.GetObject("photos", "cat.jpg")
	assert.Equal(t, "tiger", rec.Metadata["animal"])
	assert.NotEqual(t, generation, backend.Generation("photos"))

	// Replaying with the stale token is rejected.
	err = backend.UpdateBatch(context.Background(), "photos", nil, generation)
	assert.ErrorIs(t, err, ErrGenerationMismatch)

	// An empty token skips the check.
	err = backend.UpdateBatch(context.Background(), "photos", nil, "")
	assert.NoError(t, err)
}

func TestMemBackendUpdateBatchCreatesMissing(t *testing.T) {
	backend := seededBackend(t)

	err := backend.UpdateBatch(context.Background(), "photos", []proto.UpdateEntry{
		{Filename: "new.jpg"},
	}, "")
	require.NoError(t, err)

	rec, ok := backend.GetObject("photos", "new.jpg")
	require.True(t, ok)
	assert.Empty(t, rec.Metadata)
	assert.True(t, memNow.Equal(rec.UpdatedAt))
}

func TestMemBackendUpdateBatchLockAndFinalize(t *testing.T) {
	backend := seededBackend(t)

	future := memNow.Add(48 * time.Hour)
	err := backend.UpdateBatch(context.Background(), "photos", []proto.UpdateEntry{
		{Filename: "cat.jpg", LockStatus: &proto.LockStatus{TemporaryHold: true, HoldExpiry: &future}},
	}, "")
	require.NoError(t, err)
	rec, _ := backend.GetObject("photos", "cat.jpg")
	assert.True(t, rec.TemporaryHold)

	// A no-hold entry with a lapsed expiry is a reconciled expired object
	// and is finalized (deleted).
	lapsed := memNow.Add(-time.Hour)
	err = backend.UpdateBatch(context.Background(), "photos", []proto.UpdateEntry{
		{Filename: "dog.jpg", LockStatus: &proto.LockStatus{TemporaryHold: false, HoldExpiry: &lapsed}},
	}, "")
	require.NoError(t, err)
	_, ok := backend.GetObject("photos", "dog.jpg")
	assert.False(t, ok)

	records, _, err := backend.ListObjects(context.Background(), "photos", "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "cat.jpg", records[0].Name)
}
