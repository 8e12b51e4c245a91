// Package cache holds the query result caches that sit in front of the association query engine.
package cache

import (
	"context"
	"time"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 50
)

// Cache is a string keyed store of values with a fixed time to live.
type Cache[V any] interface {
	// Get returns the value for key. Expired entries are reported as absent.
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, value V) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every entry whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	Clear(ctx context.Context) error
}

// Stats is a point in time view of an in-memory cache.
type Stats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}
