package pipeline

import (
	"errors"
	"time"

	"github.com/oasisdevteambal/regula/internal/extract"
)

// RetryPolicy governs extraction retries. MaxRetries counts retries after
// the first attempt, so a chunk gets MaxRetries+1 attempts in total.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
	}
}

// Backoff returns the delay before retry n (1-indexed): n squared times
// the base delay, so 1x, 4x, 9x.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt*attempt) * p.BaseDelay
}

// IsRetryable reports whether an extraction error is worth retrying.
// Rate limits and timeouts are; an unusable response is not, the same
// prompt would fail the same way.
func IsRetryable(err error) bool {
	var rateLimited *extract.RateLimitedError
	if errors.As(err, &rateLimited) {
		return true
	}
	var timeout *extract.TimeoutError
	return errors.As(err, &timeout)
}
