// Package cacher memoizes values that are costly to rebuild and identical
// for every caller, such as the encoded wall set sent during each
// handshake. Concurrent misses for one key trigger a single fetch.
package cacher

import (
	"context"
	"strings"
	"time"
)

// KeyPrefix namespaces every key written by this package.
const KeyPrefix = "snakearena"

// FetchFunc produces the value for a key on a cache miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cacher caches values of type T with fetch-on-miss.
type Cacher[T any] interface {
	// GetOrFetch returns the cached value for key, or calls fetchFn, stores
	// the result for ttl and returns it. A ttl of 0 keeps the value until it
	// is deleted. Fetch errors are returned and nothing is cached.
	GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error)

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// ItemCount returns the number of cached keys.
	ItemCount(ctx context.Context) (int, error)
}

// Key joins parts under KeyPrefix with ':' separators.
func Key(parts ...string) string {
	return KeyPrefix + ":" + strings.Join(parts, ":")
}
