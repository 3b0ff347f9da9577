package ratelimit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedRetryAfter is returned when a Retry-After value is empty or
// matches none of the supported formats.
var ErrMalformedRetryAfter = errors.New("malformed Retry-After header")

// RetryAfterVariant names the format a Retry-After value was parsed with.
type RetryAfterVariant string

const (
	// VariantDeltaSeconds is a whole number of seconds relative to now.
	VariantDeltaSeconds RetryAfterVariant = "delta-seconds"

	// VariantISO8601 is an absolute ISO-8601 instant.
	VariantISO8601 RetryAfterVariant = "iso8601"
)

// isoLayouts are tried in order. Layouts without a zone are read as UTC.
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseRetryAfter converts a Retry-After header value into an absolute time.
//
// Only delta-seconds and ISO-8601 instants are accepted; HTTP-date values
// fail with ErrMalformedRetryAfter.
func ParseRetryAfter(raw string, now time.Time) (time.Time, RetryAfterVariant, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, "", fmt.Errorf("%w: empty value", ErrMalformedRetryAfter)
	}

	if isDigits(value) {
		seconds, err := strconv.ParseInt(value, 10, 64)
		if err != nil || seconds > maxDeltaSeconds {
			return time.Time{}, "", fmt.Errorf("%w: %q out of range", ErrMalformedRetryAfter, raw)
		}
		return now.Add(time.Duration(seconds) * time.Second).UTC(), VariantDeltaSeconds, nil
	}

	for _, layout := range isoLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), VariantISO8601, nil
		}
	}

	return time.Time{}, "", fmt.Errorf("%w: %q", ErrMalformedRetryAfter, raw)
}

// maxDeltaSeconds keeps now+delta inside time.Duration.
const maxDeltaSeconds = int64(1<<63-1) / int64(time.Second)

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
