package rules

import (
	"errors"
	"time"
)

var ErrRateLimited = errors.New("update rate exceeded")

// RateLimiter admits at most Limit events in any rolling Window. Excess
// events are dropped, never queued. Not safe for concurrent use; the owning
// room serializes access.
type RateLimiter struct {
	Limit  int
	Window time.Duration

	// ring of the last Limit accepted times; next is the oldest once full
	times []time.Time
	next  int
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{Limit: limit, Window: window, times: make([]time.Time, 0, limit)}
}

func (l *RateLimiter) Allow(now time.Time) bool {
	if l.Limit <= 0 {
		return false
	}
	if len(l.times) < l.Limit {
		l.times = append(l.times, now)
		return true
	}
	if now.Sub(l.times[l.next]) < l.Window {
		return false
	}
	l.times[l.next] = now
	l.next = (l.next + 1) % l.Limit
	return true
}
