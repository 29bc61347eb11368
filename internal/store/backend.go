package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Backend.Get for a missing key.
var ErrNotFound = errors.New("key not found")

// Backend is a small key-value store with append-only logs. Values are
// opaque JSON blobs; Put overwrites the whole value of a key.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	Append(ctx context.Context, key string, entry []byte) error
	ReadLog(ctx context.Context, key string) ([][]byte, error)
	ClearLog(ctx context.Context, key string) error

	Close() error
}
