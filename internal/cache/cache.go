package cache

import (
	"context"
	"time"
)

// Cache stores serialized query responses keyed by a digest of the query
// parameters. A miss is (nil, nil), not an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)

	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	// InvalidateDocument drops cached responses that may reference the
	// document; called when a document is deleted.
	InvalidateDocument(ctx context.Context, docID string) error

	Close() error
}
