package llm

import (
	"context"

	"github.com/vinayprograms/courier/ratelimit"
)

// RateLimitedProvider takes a limiter token before every call and lowers
// the shared capacity when the upstream still answers with a rate limit.
type RateLimitedProvider struct {
	provider Provider
	limiter  ratelimit.Limiter
	resource string
}

// WithRateLimit wraps p so calls draw from resource on l.
func WithRateLimit(p Provider, l ratelimit.Limiter, resource string) Provider {
	return &RateLimitedProvider{provider: p, limiter: l, resource: resource}
}

// Chat implements Provider.
func (rp *RateLimitedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	// unconfigured resources pass through unthrottled
	if err := rp.limiter.Acquire(ctx, rp.resource); err != nil && err != ratelimit.ErrResourceUnknown {
		return nil, err
	}
	resp, err := rp.provider.Chat(ctx, req)
	if err != nil && isRateLimitError(err) {
		rp.limiter.Reduce(rp.resource, err.Error())
	}
	return resp, err
}

// Unwrap returns the wrapped provider.
func (rp *RateLimitedProvider) Unwrap() Provider { return rp.provider }
