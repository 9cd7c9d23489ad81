package repository

import (
	"context"
	"time"
)

// Store holds the shared dedup state. Implementations must be concurrency-safe
// and, when backed by Redis, atomic across service instances.
//
// A scope groups claims that are counted together (one scope per window).
type Store interface {
	// Claim records member under scope unless it is already recorded.
	// Only the first caller within ttl gets true. The ttl runs from the first
	// claim; later attempts never extend it. A successful claim increments the
	// scope's count.
	Claim(ctx context.Context, scope, member string, ttl time.Duration) (bool, error)

	// Count returns the number of successful claims recorded under scope.
	Count(ctx context.Context, scope string) (int64, error)

	// Clear drops the count for scope. Claim markers expire on their own.
	Clear(ctx context.Context, scope string) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	Close() error
}
