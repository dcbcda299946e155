// Package cache provides the read-through snapshot cache behind the property
// catalog and the user's token balances. A cache has no write path of its
// own: the only way its contents change is a full replacement from a fresh
// remote read.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrSuperseded marks a refresh whose result arrived after the session that
// requested it was replaced. The result is dropped; the new session's caches
// start empty and refresh on their own terms.
var ErrSuperseded = errors.New("refresh superseded by a session change")

type Cache[T any] struct {
	name  string
	log   *slog.Logger
	group singleflight.Group

	mu       sync.Mutex
	snapshot T
	ok       bool
	gen      uint64
}

func New[T any](name string, logger *slog.Logger) *Cache[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache[T]{name: name, log: logger}
}

// Snapshot returns the current value and whether one has been loaded.
// Readers never observe a partially updated collection: the snapshot is
// replaced wholesale under the lock.
func (c *Cache[T]) Snapshot() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot, c.ok
}

// Reset clears the snapshot and binds the cache to a session generation.
// Results of refreshes started under any other generation are discarded.
func (c *Cache[T]) Reset(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.snapshot = zero
	c.ok = false
	c.gen = gen
}

// Refresh fetches a fresh snapshot. Concurrent callers coalesce onto one
// in-flight fetch and all observe the same result. gen is the session
// generation the caller observed when it decided to refresh; if the cache
// has been rebound by the time the fetch lands, the result is dropped.
func (c *Cache[T]) Refresh(ctx context.Context, gen uint64, fetch func(context.Context) (T, error)) (T, error) {
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		fresh, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen {
			c.log.Debug("dropping stale refresh", "cache", c.name, "got", gen, "want", c.gen)
			return nil, ErrSuperseded
		}
		c.snapshot = fresh
		c.ok = true
		return fresh, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
