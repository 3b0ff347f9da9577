package ratelimit

import (
	"fmt"
	"time"
)

// LocalRateLimitError is returned when the local token bucket cannot admit a
// request within the caller's wait budget. The server was never contacted.
type LocalRateLimitError struct {
	Cost    float64
	Wait    time.Duration
	MaxWait time.Duration
}

// Error implements the error interface.
func (e *LocalRateLimitError) Error() string {
	return fmt.Sprintf("local rate limit exceeded: cost=%.2f wait=%.3fs exceeds max_wait=%.3fs",
		e.Cost, e.Wait.Seconds(), e.MaxWait.Seconds())
}
