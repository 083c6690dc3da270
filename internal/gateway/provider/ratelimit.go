package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// rateLimited spaces requests to one provider. Waiting counts against the
// caller's deadline, so a saturated provider times out like a slow one.
type rateLimited struct {
	ModelProvider
	limiter *rate.Limiter
}

// WithRateLimit wraps p with a token bucket of perMinute requests (burst 1).
// perMinute <= 0 returns p unchanged.
func WithRateLimit(p ModelProvider, perMinute int) ModelProvider {
	if p == nil || perMinute <= 0 {
		return p
	}
	every := time.Minute / time.Duration(perMinute)
	return &rateLimited{ModelProvider: p, limiter: rate.NewLimiter(rate.Every(every), 1)}
}

func (r *rateLimited) Call(ctx context.Context, payload ChatPayload) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return r.ModelProvider.Call(ctx, payload)
}
