package store

import (
	"context"
	"errors"
)

// ErrClosed is returned when a store is used after Close.
var ErrClosed = errors.New("store closed")

// Store is the durable store contract shared by queues, suspension stores,
// the orchestrator, and the PR poller.
type Store interface {
	// Push appends value to the tail of list.
	Push(ctx context.Context, list string, value []byte) error
	// Pop removes and returns the head of list. ok is false when the list is empty.
	Pop(ctx context.Context, list string) (value []byte, ok bool, err error)
	// Len reports the number of entries in list.
	Len(ctx context.Context, list string) (int, error)
	// Range returns up to limit entries from the head of list without removing them.
	// A non-positive limit returns every entry.
	Range(ctx context.Context, list string, limit int) ([][]byte, error)
	// Lists returns the names of non-empty lists starting with prefix.
	Lists(ctx context.Context, prefix string) ([]string, error)

	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Take atomically reads and removes key. Only one concurrent caller observes ok.
	Take(ctx context.Context, key string) (value []byte, ok bool, err error)
	// CompareAndSwap replaces key with next only while it still holds prev.
	// A nil prev requires the key to be absent; a nil next deletes it.
	// swapped is false when the precondition did not hold.
	CompareAndSwap(ctx context.Context, key string, prev, next []byte) (swapped bool, err error)
	// Keys returns every key starting with prefix in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	SetAdd(ctx context.Context, set, member string) error
	SetRemove(ctx context.Context, set, member string) error
	SetMembers(ctx context.Context, set string) ([]string, error)

	Close() error
}
