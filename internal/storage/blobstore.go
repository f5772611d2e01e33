package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("storage: blob not found")
	ErrInvalidID = errors.New("storage: invalid blob id")
)

type BlobStore interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}

// SlotStore is a BlobStore over a fixed set of named slots that can also
// report presence and move one slot onto another.
type SlotStore interface {
	BlobStore
	Exists(ctx context.Context, id string) (bool, error)
	Move(ctx context.Context, from, to string) error
}
