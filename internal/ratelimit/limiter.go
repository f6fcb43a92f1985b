package ratelimit

import "context"

// RateLimiter throttles outbound calls per scope, e.g. one webhook subscription.
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}
