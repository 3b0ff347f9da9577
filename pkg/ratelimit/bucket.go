package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/Sternrassler/atlassian-client/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for local throttling.
var (
	localThrottleWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atlassian_local_throttle_wait_seconds",
		Help:    "Time requests spent waiting for local token bucket admission",
		Buckets: []float64{0, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	localThrottleRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlassian_local_throttle_rejections_total",
		Help: "Total number of requests rejected because the local wait exceeded its budget",
	})
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BucketConfig configures a TokenBucket. Zero values fall back to the
// Atlassian defaults, an in-memory store, the wall clock and SleepContext.
type BucketConfig struct {
	Capacity   float64
	RefillRate float64 // tokens per second
	Store      Store
	Now        func() time.Time
	Sleep      Sleeper
	Logger     *zerolog.Logger
}

// TokenBucket is a cost-weighted admission control shared by every request
// issued through the same client. It is safe for concurrent use; all state
// changes go through its Store.
type TokenBucket struct {
	capacity float64
	rate     float64
	store    Store
	now      func() time.Time
	sleep    Sleeper
	logger   zerolog.Logger
}

// NewTokenBucket creates a token bucket that starts full.
func NewTokenBucket(cfg BucketConfig) (*TokenBucket, error) {
	if cfg.Capacity < 0 {
		return nil, errors.New("capacity must not be negative")
	}
	if cfg.RefillRate < 0 {
		return nil, errors.New("refill rate must not be negative")
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.RefillRate == 0 {
		cfg.RefillRate = DefaultRefillRate
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepContext
	}

	logger := logging.NewLogger(logging.ComponentTokenBucket)
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &TokenBucket{
		capacity: cfg.Capacity,
		rate:     cfg.RefillRate,
		store:    cfg.Store,
		now:      cfg.Now,
		sleep:    cfg.Sleep,
		logger:   logger,
	}, nil
}

// Capacity returns the maximum token level.
func (b *TokenBucket) Capacity() float64 {
	return b.capacity
}

// RefillRate returns the refill rate in tokens per second.
func (b *TokenBucket) RefillRate() float64 {
	return b.rate
}

// Consume admits a request of the given cost, sleeping until enough tokens
// have accrued. It returns the time spent waiting.
//
// When the projected wait exceeds maxWait it fails with *LocalRateLimitError
// without sleeping and without deducting anything. Once admitted after a
// wait, the full cost is deducted (the level is clamped at zero), even if
// other callers drained the bucket while this one slept.
func (b *TokenBucket) Consume(ctx context.Context, cost float64, maxWait time.Duration) (time.Duration, error) {
	if cost <= 0 {
		return 0, nil
	}
	if maxWait < 0 {
		maxWait = 0
	}

	var wait time.Duration
	err := b.store.Update(ctx, func(s *BucketState) error {
		now := b.now()
		b.prime(s, now)
		s.Refill(now, b.capacity, b.rate)

		deficit := s.Deficit(cost)
		if deficit == 0 {
			s.Take(cost, b.capacity)
			wait = 0
			return nil
		}

		secs := deficit / b.rate
		wait = durationFromSeconds(secs)
		if secs > maxWait.Seconds() {
			return &LocalRateLimitError{Cost: cost, Wait: wait, MaxWait: maxWait}
		}
		return nil
	})
	if err != nil {
		var localErr *LocalRateLimitError
		if errors.As(err, &localErr) {
			localThrottleRejectionsTotal.Inc()
			b.logger.Debug().
				Float64("cost", cost).
				Dur("wait", localErr.Wait).
				Dur("max_wait", maxWait).
				Msg("Local throttle rejected request")
		}
		return 0, err
	}
	if wait == 0 {
		localThrottleWaitSeconds.Observe(0)
		return 0, nil
	}

	b.logger.Debug().
		Float64("cost", cost).
		Dur("wait", wait).
		Msg("Local throttle waiting for tokens")

	if err := b.sleep(ctx, wait); err != nil {
		return 0, err
	}

	err = b.store.Update(ctx, func(s *BucketState) error {
		now := b.now()
		b.prime(s, now)
		s.Refill(now, b.capacity, b.rate)
		s.Take(cost, b.capacity)
		return nil
	})
	if err != nil {
		return wait, err
	}

	localThrottleWaitSeconds.Observe(wait.Seconds())
	return wait, nil
}

// Level returns the current token level after refilling.
func (b *TokenBucket) Level(ctx context.Context) (float64, error) {
	var level float64
	err := b.store.Update(ctx, func(s *BucketState) error {
		now := b.now()
		b.prime(s, now)
		s.Refill(now, b.capacity, b.rate)
		level = s.Tokens
		return nil
	})
	return level, err
}

// durationFromSeconds converts seconds to a Duration, saturating at the
// largest representable value.
func durationFromSeconds(secs float64) time.Duration {
	if secs >= float64(math.MaxInt64)/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(secs * float64(time.Second))
}

// prime fills a state that has never been written.
func (b *TokenBucket) prime(s *BucketState, now time.Time) {
	if s.LastRefill.IsZero() {
		s.Tokens = b.capacity
		s.LastRefill = now
	}
}
