// Package ratelimit implements the client-side half of Atlassian rate limiting:
// parsing the server's Retry-After header and a cost-weighted token bucket that
// throttles requests before they reach the network.
package ratelimit

import (
	"math"
	"time"
)

// Redis keys for shared bucket state.
const (
	RedisKeyPrefix       = "atlassian:rate_limit:bucket:"
	RedisFieldTokens     = "tokens"
	RedisFieldLastRefill = "last_refill"
)

// Defaults for the Atlassian GraphQL points budget.
const (
	// DefaultCapacity is the number of cost points available in a full bucket.
	DefaultCapacity = 10000.0

	// DefaultRefillRate refills a full bucket once per minute.
	DefaultRefillRate = DefaultCapacity / 60.0
)

// BucketState is the mutable part of a token bucket.
// Level is always kept within [0, capacity].
type BucketState struct {
	// Tokens is the current token level.
	Tokens float64 `json:"tokens"`

	// LastRefill is when Tokens was last brought up to date.
	LastRefill time.Time `json:"last_refill"`
}

// Refill adds the tokens accrued since LastRefill, capped at capacity.
// A clock that moves backwards accrues nothing.
func (s *BucketState) Refill(now time.Time, capacity, rate float64) {
	elapsed := now.Sub(s.LastRefill).Seconds()
	if elapsed > 0 {
		s.Tokens = math.Min(capacity, s.Tokens+elapsed*rate)
		s.LastRefill = now
	}
	s.clamp(capacity)
}

// Take deducts cost, never letting the level drop below zero.
func (s *BucketState) Take(cost, capacity float64) {
	s.Tokens -= cost
	s.clamp(capacity)
}

// Deficit returns how many tokens are missing to admit cost.
func (s *BucketState) Deficit(cost float64) float64 {
	if s.Tokens >= cost {
		return 0
	}
	return cost - s.Tokens
}

func (s *BucketState) clamp(capacity float64) {
	if s.Tokens < 0 {
		s.Tokens = 0
	}
	if s.Tokens > capacity {
		s.Tokens = capacity
	}
}
