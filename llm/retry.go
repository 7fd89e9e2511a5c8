package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/vinayprograms/courier/errors"
)

// Retry configuration defaults
const (
	defaultMaxRetries  = 5
	defaultInitBackoff = time.Second
	defaultMaxBackoff  = 60 * time.Second
	backoffFactor      = 2.0
)

func (r RetryConfig) withDefaults() RetryConfig {
	if r.MaxRetries <= 0 {
		r.MaxRetries = defaultMaxRetries
	}
	if r.InitBackoff <= 0 {
		r.InitBackoff = defaultInitBackoff
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = defaultMaxBackoff
	}
	return r
}

// retry calls fn until it succeeds, fails permanently or retries run out.
// fn reports whether the failure happened after output was already
// delivered (streamed), in which case it is not retried.
func retry(ctx context.Context, rc RetryConfig, provider string, fn func() (delivered bool, err error)) error {
	rc = rc.withDefaults()
	backoff := rc.InitBackoff

	for attempt := 0; ; attempt++ {
		delivered, err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return apperrors.Wrap(ctx.Err(), provider+" request canceled")
		}
		if isBillingError(err) {
			return apperrors.WrapWithCode(err, apperrors.ErrCodeExecution, "billing/payment error (fatal)")
		}
		if delivered || !isRetryableError(err) {
			return apperrors.WrapWithCode(err, apperrors.ErrCodeExecution, provider+" request failed")
		}
		if attempt >= rc.MaxRetries {
			return apperrors.WrapWithCode(err, apperrors.ErrCodeUnavailable,
				fmt.Sprintf("%s request failed after %d retries", provider, rc.MaxRetries))
		}

		select {
		case <-ctx.Done():
			return apperrors.Wrap(ctx.Err(), provider+" request canceled")
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * backoffFactor)
		if backoff > rc.MaxBackoff {
			backoff = rc.MaxBackoff
		}
	}
}

func isRateLimitError(err error) bool {
	return errorContains(err, "rate limit", "too many requests", "429", "overloaded", "capacity")
}

// isServerError checks for transient 5xx failures.
func isServerError(err error) bool {
	return errorContains(err,
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable",
		"gateway timeout", "temporarily unavailable",
	)
}

func isRetryableError(err error) bool {
	return isRateLimitError(err) || isServerError(err)
}

// isBillingError checks for billing and quota failures, which are fatal.
func isBillingError(err error) bool {
	return errorContains(err,
		"billing", "payment", "credits", "quota exceeded",
		"insufficient", "402", "subscription",
	)
}

func errorContains(err error, patterns ...string) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	s = strings.ToLower(s)
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
