// Package storage defines the object-store backend boundary: the listing,
// search, existence and batch-update services the gateway consumes. The
// backend itself (the service that actually mutates bucket objects) is an
// external collaborator; this package specifies it as a port with an HTTP
// adapter and an in-memory fake.
package storage

import (
	"context"
	"errors"

	"github.com/holdboard/holdboard/pkg/proto"
)

var (
	// ErrGenerationMismatch signals that a batch update was rejected
	// because the bucket changed since the generation token was issued.
	ErrGenerationMismatch = errors.New("bucket generation mismatch")
	// ErrBucketNotFound is returned for an unknown bucket.
	ErrBucketNotFound = errors.New("bucket not found")
)

// Backend is the object-store service boundary.
type Backend interface {
	// ListObjects returns a bucket's objects, optionally filtered by a
	// free-text query, along with an opaque generation token for
	// optimistic concurrency at commit time. The token may be empty if
	// the service doesn't support it.
	ListObjects(ctx context.Context, bucket, query string) ([]proto.ObjectRecord, string, error)

	// ListBuckets enumerates bucket names.
	ListBuckets(ctx context.Context) ([]string, error)

	// SearchObjects finds object names matching a free-text fragment
	// across the given buckets.
	SearchObjects(ctx context.Context, fragment string, buckets []string) (map[string][]string, error)

	// ObjectExists reports whether an object exists in a bucket.
	ObjectExists(ctx context.Context, bucket, name string) (bool, error)

	// UpdateBatch applies one bucket's staged updates atomically (from
	// the client's perspective). A non-empty generation token makes the
	// call conditional; ErrGenerationMismatch reports a concurrent
	// external modification.
	UpdateBatch(ctx context.Context, bucket string, updates []proto.UpdateEntry, generation string) error
}
