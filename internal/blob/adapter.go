// Package blob defines the durable object storage surface the pipeline
// consumes and a local filesystem implementation of it. Uploads stage
// chunks as named blocks and commit them in order, mirroring block-blob
// semantics so a cloud adapter can slot in without touching callers.
package blob

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a blob or staged block does not exist.
var ErrNotFound = errors.New("blob: not found")

// Metadata describes a stored blob.
type Metadata struct {
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Adapter is the storage contract the upload manager and stage handlers use.
type Adapter interface {
	// StageBlock stores one uncommitted block for a blob under construction.
	StageBlock(ctx context.Context, container, name, blockID string, data []byte) error
	// CommitBlocks finalizes a blob from previously staged blocks, applied
	// in the given order. Staged blocks are consumed by the commit.
	CommitBlocks(ctx context.Context, container, name string, blockIDs []string, contentType string) error
	// Put writes a complete blob in one call.
	Put(ctx context.Context, container, name string, data []byte, contentType string) error
	// Get reads a complete blob.
	Get(ctx context.Context, container, name string) ([]byte, error)
	// Move renames a blob, overwriting any existing target.
	Move(ctx context.Context, container, oldName, newName string) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, container, name string) error
	// Exists reports whether a blob is present.
	Exists(ctx context.Context, container, name string) (bool, error)
	// GetMetadata returns size and content information for a blob.
	GetMetadata(ctx context.Context, container, name string) (Metadata, error)
	// GenerateUploadURL returns a caller-usable URL for writing the blob.
	GenerateUploadURL(ctx context.Context, container, name string, ttl time.Duration) (string, error)
	// GenerateReadURL returns a caller-usable URL for reading the blob.
	GenerateReadURL(ctx context.Context, container, name string, ttl time.Duration) (string, error)
}
