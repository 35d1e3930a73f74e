package overlay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holdboard/holdboard/pkg/proto"
)

func TestBuildViewPreservesServerOrder(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	server := []proto.ObjectRecord{
		{Name: "c.txt"},
		{Name: "a.txt"},
		{Name: "b.txt"},
	}

	view, expired := BuildView(server, NewBucketOverlay("docs"), now)
	require.Len(t, view, 3)
	assert.Empty(t, expired)
	assert.Equal(t, "c.txt", view[0].Name)
	assert.Equal(t, "a.txt", view[1].Name)
	assert.Equal(t, "b.txt", view[2].Name)
}

func TestBuildViewAppendsAddedUnlessConfirmed(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	server := []proto.ObjectRecord{{Name: "a.txt"}}

	ov := NewBucketOverlay("docs")
	ov.AddedObjects = []proto.ObjectRecord{
		{Name: "a.txt"}, // now server-confirmed, must not duplicate
		{Name: "pending.txt"},
	}

	view, _ := BuildView(server, ov, now)
	require.Len(t, view, 2)
	assert.Equal(t, "a.txt", view[0].Name)
	assert.Equal(t, "pending.txt", view[1].Name)
}

func TestBuildViewPartitionsExpired(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	lapsed := now.Add(-2 * time.Hour)
	future := now.Add(48 * time.Hour)

	server := []proto.ObjectRecord{
		{Name: "live.txt", ExpirationDate: &future},
		{Name: "gone.txt", ExpirationDate: &lapsed},
		{Name: "held.txt", ExpirationDate: &lapsed, TemporaryHold: true},
	}

	view, expired := BuildView(server, NewBucketOverlay("docs"), now)
	require.Len(t, view, 2)
	assert.Equal(t, "live.txt", view[0].Name)
	assert.Equal(t, "held.txt", view[1].Name)
	require.Len(t, expired, 1)
	assert.Equal(t, "gone.txt", expired[0].Name)
}

func TestBuildViewDeduplicatesServerList(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	server := []proto.ObjectRecord{
		{Name: "a.txt", Metadata: map[string]string{"v": "first"}},
		{Name: "a.txt", Metadata: map[string]string{"v": "second"}},
	}

	view, _ := BuildView(server, NewBucketOverlay("docs"), now)
	require.Len(t, view, 1)
	assert.Equal(t, "first", view[0].Metadata["v"])
}

func TestResolveEffectiveStateMetadataReplaces(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rec := proto.ObjectRecord{
		Name:     "a.txt",
		Metadata: map[string]string{"keep": "no", "other": "field"},
	}

	ov := NewBucketOverlay("docs")
	ov.MetadataEdits["a.txt"] = map[string]string{"only": "this"}

	state := ResolveEffectiveState(rec, ov, now)
	assert.True(t, state.Pending)
	// Full replacement: committed fields not present in the edit are gone.
	assert.Equal(t, map[string]string{"only": "this"}, state.Metadata)
}

func TestResolveEffectiveStateLockPrecedence(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rec := proto.ObjectRecord{Name: "a.txt", TemporaryHold: true}

	ov := NewBucketOverlay("docs")
	ov.LockEdits["a.txt"] = unlockStatus(now)

	state := ResolveEffectiveState(rec, ov, now)
	assert.True(t, state.Pending)
	assert.False(t, state.Locked)

	// And the other direction: staged lock on an unheld record.
	rec = proto.ObjectRecord{Name: "b.txt"}
	ov = NewBucketOverlay("docs")
	ov.LockEdits["b.txt"] = Indefinite().lockStatus(now)

	state = ResolveEffectiveState(rec, ov, now)
	assert.True(t, state.Locked)
	assert.Equal(t, ClassIndefinite, state.Classification.Class)
}

func TestPage(t *testing.T) {
	list := make([]proto.ObjectRecord, 7)
	for i := range list {
		list[i].Name = string(rune('a' + i))
	}

	assert.Len(t, Page(list, 5, 1), 5)
	assert.Len(t, Page(list, 5, 2), 2)
	assert.Empty(t, Page(list, 5, 3))
	assert.Empty(t, Page(list, 0, 1))
	assert.Empty(t, Page(nil, 5, 1))

	assert.Equal(t, 2, PageCount(list, 5))
	assert.Equal(t, 1, PageCount(nil, 5))
	assert.Equal(t, 7, PageCount(list, 1))
}
