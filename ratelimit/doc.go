// Package ratelimit throttles calls to shared upstream services, chiefly
// the language model API.
//
// MemoryLimiter is a per-process token bucket. DistributedLimiter wraps
// one and shares capacity reductions with every other courier process on
// the same bus: when one process is told to slow down (an HTTP 429), all
// of them cut their rate and then recover it gradually.
//
//	limiter := ratelimit.NewMemoryLimiter()
//	limiter.SetCapacity("llm:anthropic", 50, time.Minute)
//	if err := limiter.Acquire(ctx, "llm:anthropic"); err != nil {
//	    return err
//	}
package ratelimit
