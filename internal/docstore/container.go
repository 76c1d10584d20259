package docstore

import (
	"context"
	"errors"
)

// Sentinel errors shared by all container backends.
var (
	// ErrNotFound means no document exists at (id, partition key).
	ErrNotFound = errors.New("docstore: document not found")
	// ErrPreconditionFailed means a conditional replace lost the race:
	// the stored etag no longer matches.
	ErrPreconditionFailed = errors.New("docstore: etag mismatch")
	// ErrMissingID means the document carries no id.
	ErrMissingID = errors.New("docstore: document missing id")
)

// Item is a stored document plus its concurrency token.
type Item struct {
	Body Document
	ETag string
}

// Container is one physical document container. Implementations
// enforce the partition key on point reads: a read with the wrong key
// returns ErrNotFound even when the id exists elsewhere.
type Container interface {
	// DeclaredPartitionKeyPath returns the container's configured
	// partition key path, e.g. "/normalized_domain".
	DeclaredPartitionKeyPath() string

	// ReadItem point-reads a document. pk may be NoPartitionKey, which
	// matches only documents stored without a key.
	ReadItem(ctx context.Context, id, pk string) (*Item, error)

	// UpsertItem writes a document unconditionally, returning the new
	// etag.
	UpsertItem(ctx context.Context, doc Document, pk string) (*Item, error)

	// ReplaceItem writes a document only if the stored etag matches.
	// Returns ErrPreconditionFailed when another writer got there
	// first, ErrNotFound when the document vanished.
	ReplaceItem(ctx context.Context, doc Document, pk, etag string) (*Item, error)

	// ListIDPrefix returns documents whose id starts with prefix,
	// across all partitions, ordered by id.
	ListIDPrefix(ctx context.Context, prefix string, limit int) ([]Item, error)

	// DeleteItem removes a document; absent documents are not an error.
	DeleteItem(ctx context.Context, id, pk string) error

	Close() error
}
