package control

import (
	"time"
)

// Policy bounds each external call made while handling one message.
type Policy struct {
	GenerateTimeout time.Duration
	SearchTimeout   time.Duration
}

// DefaultPolicy returns the default call budget.
func DefaultPolicy() Policy {
	return Policy{
		GenerateTimeout: 60 * time.Second,
		SearchTimeout:   10 * time.Second,
	}
}

// Normalize fills non-positive fields from DefaultPolicy.
func (p Policy) Normalize() Policy {
	def := DefaultPolicy()
	if p.GenerateTimeout <= 0 {
		p.GenerateTimeout = def.GenerateTimeout
	}
	if p.SearchTimeout <= 0 {
		p.SearchTimeout = def.SearchTimeout
	}
	return p
}

// RetryBackoffSeconds computes exponential backoff with a fixed cap.
func RetryBackoffSeconds(attempt int) int {
	if attempt <= 0 {
		return 0
	}
	if attempt > 6 {
		return 30
	}
	seconds := 1 << (attempt - 1)
	if seconds > 30 {
		return 30
	}
	return seconds
}
