package overlay

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/holdboard/holdboard/internal/storage"
	"github.com/holdboard/holdboard/pkg/proto"
)

// ErrCommitInFlight is returned when a commit is requested for a bucket
// whose previous commit has not yet been acknowledged.
var ErrCommitInFlight = errors.New("commit already in flight for bucket")

// BatchUpdater is the slice of the storage backend the committer needs.
type BatchUpdater interface {
	UpdateBatch(ctx context.Context, bucket string, updates []proto.UpdateEntry, generation string) error
}

// Outcome reports the result of committing one bucket.
type Outcome struct {
	Updated  int
	Conflict bool
	Err      error
}

// Committer flushes dirty bucket overlays to the update service, one
// batched request per bucket. A bucket's overlay is cleared only after
// the service acknowledges; any failure, including a generation conflict,
// leaves the staged state untouched for retry. Commits for distinct
// buckets run concurrently, but a bucket already committing rejects a
// second attempt rather than racing two batches over the same objects.
type Committer struct {
	mu          sync.Mutex
	inFlight    map[string]bool
	generations map[string]string // bucket -> opaque token from the last fetch
	store       *Store
	backend     BatchUpdater
}

// NewCommitter creates a Committer over store and backend.
func NewCommitter(store *Store, backend BatchUpdater) *Committer {
	return &Committer{
		inFlight:    make(map[string]bool),
		generations: make(map[string]string),
		store:       store,
		backend:     backend,
	}
}

// SetGeneration records the generation token observed on the most recent
// listing fetch for a bucket. The token is opaque: it is echoed back on
// commit for the service's compare-and-swap, never inspected.
func (c *Committer) SetGeneration(bucket, generation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation == "" {
		delete(c.generations, bucket)
		return
	}
	c.generations[bucket] = generation
}

// Commit flushes the named buckets. Buckets without staged edits are
// skipped. The returned map has one outcome per attempted bucket.
func (c *Committer) Commit(ctx context.Context, buckets []string) map[string]Outcome {
	outcomes := make(map[string]Outcome, len(buckets))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	commitID := uuid.New().String()[:8]

	for _, bucket := range buckets {
		ov := c.store.Load(bucket)
		if ov.Empty() {
			continue
		}

		c.mu.Lock()
		if c.inFlight[bucket] {
			c.mu.Unlock()
			mu.Lock()
			outcomes[bucket] = Outcome{Err: ErrCommitInFlight}
			mu.Unlock()
			continue
		}
		c.inFlight[bucket] = true
		generation := c.generations[bucket]
		c.mu.Unlock()

		wg.Add(1)
		go func(bucket string, ov BucketOverlay, generation string) {
			defer wg.Done()
			outcome := c.commitBucket(ctx, bucket, ov, generation, commitID)
			c.mu.Lock()
			delete(c.inFlight, bucket)
			c.mu.Unlock()
			mu.Lock()
			outcomes[bucket] = outcome
			mu.Unlock()
		}(bucket, ov, generation)
	}

	wg.Wait()
	return outcomes
}

func (c *Committer) commitBucket(ctx context.Context, bucket string, ov BucketOverlay, generation, commitID string) Outcome {
	updates := BuildUpdates(ov)

	err := c.backend.UpdateBatch(ctx, bucket, updates, generation)
	if err != nil {
		conflict := errors.Is(err, storage.ErrGenerationMismatch)
		log.Warn().
			Err(err).
			Str("commit_id", commitID).
			Str("bucket", bucket).
			Bool("conflict", conflict).
			Msg("batch commit failed, staged edits retained")
		return Outcome{Conflict: conflict, Err: err}
	}

	c.store.Clear(bucket)
	log.Info().
		Str("commit_id", commitID).
		Str("bucket", bucket).
		Int("updates", len(updates)).
		Msg("batch commit acknowledged, overlay cleared")
	return Outcome{Updated: len(updates)}
}

// BuildUpdates assembles one bucket's commit payload: a reconciliation
// entry per observed-expired object carrying its last known metadata and
// lock state verbatim, then one entry per object with staged edits,
// merging metadata and lock edits into a single entry when both exist.
func BuildUpdates(ov BucketOverlay) []proto.UpdateEntry {
	updates := make([]proto.UpdateEntry, 0, len(ov.ExpiredObjects)+len(ov.MetadataEdits)+len(ov.LockEdits))

	for _, rec := range ov.ExpiredObjects {
		updates = append(updates, proto.UpdateEntry{
			Filename: rec.Name,
			Metadata: rec.Metadata,
			LockStatus: &proto.LockStatus{
				TemporaryHold: rec.TemporaryHold,
				HoldExpiry:    rec.ExpirationDate,
			},
		})
	}

	names := make([]string, 0, len(ov.MetadataEdits)+len(ov.LockEdits))
	seen := make(map[string]bool)
	for name := range ov.MetadataEdits {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range ov.LockEdits {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		entry := proto.UpdateEntry{Filename: name}
		if md, ok := ov.MetadataEdits[name]; ok {
			entry.Metadata = md
		}
		if ls, ok := ov.LockEdits[name]; ok {
			status := ls
			entry.LockStatus = &status
		}
		updates = append(updates, entry)
	}

	return updates
}
