package backend

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Backend with a token bucket: each Submit waits for one
// token per item. It is safe for concurrent use because rate.Limiter is.
type RateLimited struct {
	Backend
	limiter *rate.Limiter
}

// NewRateLimited wraps b. itemsPerSecond <= 0 returns b unchanged.
// burst is raised to at least 1.
func NewRateLimited(b Backend, itemsPerSecond float64, burst int) Backend {
	if itemsPerSecond <= 0 {
		return b
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		Backend: b,
		limiter: rate.NewLimiter(rate.Limit(itemsPerSecond), burst),
	}
}

// Submit waits for capacity, then delegates. Batches larger than the burst
// wait in burst-sized steps.
func (r *RateLimited) Submit(ctx context.Context, batch Batch) ([]ItemResult, error) {
	remaining := batch.Len()
	for remaining > 0 {
		n := min(remaining, r.limiter.Burst())
		if err := r.limiter.WaitN(ctx, n); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
		remaining -= n
	}
	return r.Backend.Submit(ctx, batch)
}

// Tokens returns the current number of available tokens.
func (r *RateLimited) Tokens() float64 {
	return r.limiter.Tokens()
}
