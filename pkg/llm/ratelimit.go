package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Provider with a token-bucket limiter so bursts of
// chunking work do not flood a shared model server. Complete blocks
// until a token is available or the context is done.
type RateLimited struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimited wraps provider, allowing rps requests per second with
// the given burst.
func NewRateLimited(provider Provider, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		inner:   provider,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Complete waits for limiter admission and delegates to the wrapped
// provider.
func (r *RateLimited) Complete(ctx context.Context, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.inner.Complete(ctx, prompt)
}

// IsConfigured returns true if the wrapped provider is configured.
func (r *RateLimited) IsConfigured() bool {
	return r.inner.IsConfigured()
}
