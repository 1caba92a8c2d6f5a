package ratelimit

import "context"

// RateLimiter is the interface for rate limiting operations.
//
// Implementations check a fixed set of counting windows (burst/minute/
// hour/day) per key, each a fixed window with a hard boundary: the
// (limit+1)-th call in a window is rejected, and the first call of the
// next window succeeds.
//
// The interface is storage-agnostic, allowing implementations backed by
// a shared external store or an in-process map.
type RateLimiter interface {
	// Allow checks if a request identified by key is allowed under the
	// given config, charging one unit against every configured tier.
	//
	// The key should be a structured identifier created by FormatKey.
	// If any tier is exceeded, the request is rejected and no tier's
	// counter is charged for it.
	Allow(ctx context.Context, key string, config Config) (Result, error)
}
