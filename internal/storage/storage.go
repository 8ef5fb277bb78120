package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a stored artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// Store is a durable byte store for uploaded artifacts, keyed by a
// generated storage name.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
}
