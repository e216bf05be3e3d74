// Package storage is the durable key-value layer the catalog persists into.
//
// A Storage value is one session over a shared backend. Writes made through
// one session are observed by the other sessions through the optional
// Watcher capability; a session never receives events for its own writes.
package storage

import (
	"context"
	"errors"
)

var (
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrUnavailable   = errors.New("storage unavailable")
)

type Storage interface {
	// Get reports ok=false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Event describes a change made by another session. NewValue is empty and
// Removed is true when the key was deleted. Some backends only announce the
// key, and an event with an empty Origin is a resync after a lost
// connection; consumers are expected to re-read the store.
type Event struct {
	Key      string
	NewValue string
	Removed  bool
	Origin   string
}

type Watcher interface {
	Watch(ctx context.Context, key string, fn func(Event)) (stop func(), err error)
}

func quotaExceeded(limit, size int) bool {
	return limit > 0 && size > limit
}
