package client

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/atlassian-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for request execution.
var (
	atlassianRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlassian_requests_total",
		Help: "Total Atlassian API requests by operation and status",
	}, []string{"operation", "status"})

	atlassianRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atlassian_request_duration_seconds",
		Help:    "Atlassian API request duration in seconds by operation",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"operation"})

	atlassianRateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlassian_rate_limited_total",
		Help: "Total 429 responses by operation and decision (retry, wait_cap, retries_exhausted, malformed)",
	}, []string{"operation", "decision"})

	atlassianRetryWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atlassian_retry_wait_seconds",
		Help:    "Time slept before retrying a rate limited request",
		Buckets: []float64{0, 0.5, 1, 2, 5, 10, 30, 60},
	})
)

// Rate limit decisions reported in RateLimitEvent.Decision.
const (
	DecisionRetry            = "retry"
	DecisionWaitCap          = "wait_cap"
	DecisionRetriesExhausted = "retries_exhausted"
	DecisionMalformed        = "malformed"
)

// redacted replaces credential-bearing header values.
const redacted = "<redacted>"

var sensitiveHeaders = map[string]struct{}{
	"Authorization":       {},
	"Proxy-Authorization": {},
	"Cookie":              {},
	"Set-Cookie":          {},
	"X-Api-Key":           {},
	"X-Atlassian-Token":   {},
}

// RedactHeaders returns a copy of h with credential values replaced.
func RedactHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		if _, ok := sensitiveHeaders[http.CanonicalHeaderKey(name)]; ok {
			masked := make([]string, len(values))
			for i := range masked {
				masked[i] = redacted
			}
			out[name] = masked
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

// AttemptEvent describes one HTTP exchange. Status is 0 for transport failures.
type AttemptEvent struct {
	Operation string
	Method    string
	Path      string
	Attempt   int
	Status    int
	Duration  time.Duration
	Headers   http.Header // redacted request headers
	RequestID string
	Err       error
}

// RateLimitEvent describes the decision taken after a 429.
type RateLimitEvent struct {
	Operation    string
	Attempt      int
	HeaderValue  string
	Variant      ratelimit.RetryAfterVariant
	RetryAt      time.Time
	ComputedWait time.Duration
	Wait         time.Duration
	MaxWait      time.Duration
	Decision     string
	Retrying     bool
	RequestID    string
}

// ThrottleEvent describes a local token bucket admission.
type ThrottleEvent struct {
	Operation string
	Cost      float64
	Wait      time.Duration
	Err       error
}

// Observer receives diagnostic events from the executor. Implementations must
// be safe for concurrent use and must not block.
type Observer interface {
	OnAttempt(AttemptEvent)
	OnRateLimit(RateLimitEvent)
	OnThrottle(ThrottleEvent)
}

// LogObserver writes events to a zerolog logger.
type LogObserver struct {
	Logger zerolog.Logger
}

// OnAttempt implements Observer.
func (o LogObserver) OnAttempt(e AttemptEvent) {
	ev := o.Logger.Debug()
	if e.Err != nil {
		ev = ev.Err(e.Err)
	}
	ev.Str("operation", e.Operation).
		Str("method", e.Method).
		Str("path", e.Path).
		Int("attempt", e.Attempt).
		Int("status_code", e.Status).
		Dur("duration", e.Duration).
		Interface("headers", e.Headers).
		Msg("HTTP attempt")
}

// OnRateLimit implements Observer.
func (o LogObserver) OnRateLimit(e RateLimitEvent) {
	ev := o.Logger.Warn().
		Str("operation", e.Operation).
		Int("attempt", e.Attempt).
		Str("retry_after", e.HeaderValue).
		Str("decision", e.Decision).
		Bool("retrying", e.Retrying)
	if e.Variant != "" {
		ev = ev.Str("variant", string(e.Variant)).
			Time("retry_at", e.RetryAt).
			Dur("computed_wait", e.ComputedWait).
			Dur("wait", e.Wait)
	}
	if e.RequestID != "" {
		ev = ev.Str("request_id", e.RequestID)
	}
	ev.Msg("Rate limited by server")
}

// OnThrottle implements Observer.
func (o LogObserver) OnThrottle(e ThrottleEvent) {
	if e.Wait == 0 && e.Err == nil {
		return
	}
	ev := o.Logger.Debug()
	if e.Err != nil {
		ev = ev.Err(e.Err)
	}
	ev.Str("operation", e.Operation).
		Float64("cost", e.Cost).
		Dur("wait", e.Wait).
		Msg("Local throttle")
}

// MetricsObserver records events as Prometheus metrics.
type MetricsObserver struct{}

// OnAttempt implements Observer.
func (MetricsObserver) OnAttempt(e AttemptEvent) {
	status := "transport_error"
	if e.Status != 0 {
		status = strconv.Itoa(e.Status)
	}
	atlassianRequestsTotal.WithLabelValues(e.Operation, status).Inc()
	atlassianRequestDuration.WithLabelValues(e.Operation).Observe(e.Duration.Seconds())
}

// OnRateLimit implements Observer.
func (MetricsObserver) OnRateLimit(e RateLimitEvent) {
	atlassianRateLimitedTotal.WithLabelValues(e.Operation, e.Decision).Inc()
	if e.Retrying {
		atlassianRetryWaitSeconds.Observe(e.Wait.Seconds())
	}
}

// OnThrottle implements Observer. The token bucket records its own metrics.
func (MetricsObserver) OnThrottle(ThrottleEvent) {}

// MultiObserver fans events out to several observers in order.
type MultiObserver []Observer

// OnAttempt implements Observer.
func (m MultiObserver) OnAttempt(e AttemptEvent) {
	for _, o := range m {
		o.OnAttempt(e)
	}
}

// OnRateLimit implements Observer.
func (m MultiObserver) OnRateLimit(e RateLimitEvent) {
	for _, o := range m {
		o.OnRateLimit(e)
	}
}

// OnThrottle implements Observer.
func (m MultiObserver) OnThrottle(e ThrottleEvent) {
	for _, o := range m {
		o.OnThrottle(e)
	}
}

// nopObserver discards every event.
type nopObserver struct{}

func (nopObserver) OnAttempt(AttemptEvent)     {}
func (nopObserver) OnRateLimit(RateLimitEvent) {}
func (nopObserver) OnThrottle(ThrottleEvent)   {}

func operationLabel(name, path string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return path
}
