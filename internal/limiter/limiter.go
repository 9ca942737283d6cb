// Package limiter implements the sliding-window message-rate throttle each
// competitor session carries.
//
// The ring is a fixed-size circular array of timestamps indexed by a
// write cursor modulo its capacity. No atomics: the whole exchange runs
// on one cooperative goroutine, so there is never a second writer to
// race against.
package limiter

import "time"

// Limiter admits at most `limit` messages per `interval`. A limit of zero
// disables the throttle and admits every message.
type Limiter struct {
	ring     []time.Time
	interval time.Duration
	next     int // index to overwrite on the next admitted message
	filled   int // how many ring slots have ever been written
}

// New builds a limiter admitting up to limit messages per interval. The
// interval should already be scaled by the Timer's speed factor so that
// simulated time matches real time under fast-forward.
func New(limit int, interval time.Duration) *Limiter {
	return &Limiter{
		ring:     make([]time.Time, limit),
		interval: interval,
	}
}

// TryAdmit reports whether a message arriving at `now` is within the rate
// limit, and if so records it. Cost is O(1).
func (l *Limiter) TryAdmit(now time.Time) bool {
	if len(l.ring) == 0 {
		return true
	}
	if l.filled < len(l.ring) {
		l.ring[l.next] = now
		l.next = (l.next + 1) % len(l.ring)
		l.filled++
		return true
	}

	oldest := l.ring[l.next]
	if now.Sub(oldest) < l.interval {
		return false
	}
	l.ring[l.next] = now
	l.next = (l.next + 1) % len(l.ring)
	return true
}
