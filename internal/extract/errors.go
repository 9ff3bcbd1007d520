package extract

import "fmt"

// RateLimitedError indicates the extraction service pushed back (429 or an
// overloaded 5xx). Transient: the call can be retried after a backoff.
type RateLimitedError struct {
	StatusCode int
	Message    string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// TimeoutError indicates the extraction call did not complete in time.
// Transient: the call can be retried after a backoff.
type TimeoutError struct {
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("extraction timed out: %v", e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// InvalidResponseError indicates the service answered but the payload was
// not usable (malformed JSON, empty content, in-band API error). Not
// retryable: the same prompt would fail the same way.
type InvalidResponseError struct {
	Reason string
	Raw    string
}

func (e *InvalidResponseError) Error() string {
	if e.Raw == "" {
		return fmt.Sprintf("invalid extraction response: %s", e.Reason)
	}
	return fmt.Sprintf("invalid extraction response: %s (raw: %s)", e.Reason, truncate(e.Raw, 200))
}
