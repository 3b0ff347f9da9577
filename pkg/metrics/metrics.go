// Package metrics documents the Prometheus metrics of the Atlassian client
// and serves them over HTTP.
// Metrics are defined with promauto in the packages that record them
// (client, ratelimit, pagination) so this package stays free of import cycles.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every client metric is registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer Handler exposes.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server exposing /metrics and /health on addr.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", healthHandler)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - atlassian_requests_total{operation, status} (Counter): HTTP attempts by operation and status ("transport_error" when no response)
//   - atlassian_request_duration_seconds{operation} (Histogram): Attempt duration by operation
//
// Server Rate Limit Metrics (pkg/client):
//   - atlassian_rate_limited_total{operation, decision} (Counter): 429 responses by decision (retry, wait_cap, retries_exhausted, malformed)
//   - atlassian_retry_wait_seconds (Histogram): Time slept honouring Retry-After
//
// Local Throttle Metrics (pkg/ratelimit):
//   - atlassian_local_throttle_wait_seconds (Histogram): Time spent waiting for token bucket admission
//   - atlassian_local_throttle_rejections_total (Counter): Requests rejected because the wait exceeded max_wait
//
// Pagination Metrics (pkg/pagination):
//   - atlassian_pagination_pages_total{kind} (Counter): Pages fetched by kind (cursor, offset)
//   - atlassian_pagination_loops_total{kind} (Counter): Walks aborted on a repeated cursor or offset
//
// Example Prometheus Queries:
//
//   # 429 rate per operation
//   sum by (operation) (rate(atlassian_rate_limited_total[5m]))
//
//   # Share of 429s that gave up
//   sum(rate(atlassian_rate_limited_total{decision!="retry"}[5m])) /
//   sum(rate(atlassian_rate_limited_total[5m]))
//
//   # P95 attempt latency
//   histogram_quantile(0.95, rate(atlassian_request_duration_seconds_bucket[5m]))
//
//   # Local throttle pressure
//   rate(atlassian_local_throttle_wait_seconds_sum[5m])
//
//   # Pagination loops (should stay at zero)
//   increase(atlassian_pagination_loops_total[1h]) > 0
