package provider

import (
	"fmt"
	"net/http"
	"time"
)

// RateLimitedError reports an HTTP 429 from the aggregator together with the
// server-signaled retry delay. It is not a failure: callers reschedule the
// work after RetryAfter instead of treating the operation as failed.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited by provider, retry after %s", e.RetryAfter)
}

// APIError is any other non-2xx response from the aggregator.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the request may succeed on retry.
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500
}

// NotFound reports whether the aggregator does not know the resource.
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}
