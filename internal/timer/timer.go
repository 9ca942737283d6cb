// Package timer is the single source of simulated time.
// Per-tick work is driven by its observers, so the whole match advances
// off one deterministic sequence of ticks; wall-clock readings elsewhere
// (fill timestamps, the market open delay) do not advance the match.
package timer

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// TickFunc is called once per tick with the wall-clock time of the tick
// and the monotonic tick number (starting at zero, never skipped).
type TickFunc func(now time.Time, tickNumber uint64)

// ShutdownFunc is called once, when the timer stops.
type ShutdownFunc func(now time.Time, reason string)

// Timer emits ticks at real intervals of tickInterval/speed. Observers
// are notified in registration order: an explicit slice of callbacks,
// not a single assignable field, so several components can watch the
// same event independently.
type Timer struct {
	interval time.Duration
	speed    float64

	onTick     []TickFunc
	onShutdown []ShutdownFunc

	tickNumber uint64
	stop       chan string
}

// New builds a Timer that ticks every tickInterval/speed of real time.
func New(tickInterval time.Duration, speed float64) *Timer {
	if speed <= 0 {
		speed = 1
	}
	return &Timer{
		interval: tickInterval,
		speed:    speed,
		stop:     make(chan string, 1),
	}
}

// ScaledInterval is the real-time duration between ticks after applying
// the speed factor. Other components (e.g. the frequency limiter) scale
// their own intervals by the same factor so simulated time matches real
// time under fast-forward.
func (t *Timer) ScaledInterval() time.Duration {
	return time.Duration(float64(t.interval) / t.speed)
}

// OnTick registers an observer invoked once per tick, in registration
// order.
func (t *Timer) OnTick(fn TickFunc) {
	t.onTick = append(t.onTick, fn)
}

// OnShutdown registers an observer invoked once when the timer stops.
func (t *Timer) OnShutdown(fn ShutdownFunc) {
	t.onShutdown = append(t.onShutdown, fn)
}

// Run drives the tick loop until the context is cancelled or Shutdown is
// called. It blocks; callers run it in its own goroutine.
func (t *Timer) Run(ctx context.Context) error {
	interval := t.ScaledInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("timer started")

	for {
		select {
		case <-ctx.Done():
			t.fireShutdown(time.Now(), "context cancelled")
			return nil
		case reason := <-t.stop:
			t.fireShutdown(time.Now(), reason)
			return nil
		case now := <-ticker.C:
			for _, fn := range t.onTick {
				fn(now, t.tickNumber)
			}
			t.tickNumber++
		}
	}
}

// Shutdown stops further ticks and notifies shutdown observers at the
// next opportunity. Idempotent.
func (t *Timer) Shutdown(reason string) {
	select {
	case t.stop <- reason:
	default:
	}
}

func (t *Timer) fireShutdown(now time.Time, reason string) {
	log.Info().Str("reason", reason).Msg("timer stopped")
	for _, fn := range t.onShutdown {
		fn(now, reason)
	}
}

// TickNumber is the number the next tick will carry, which equals the
// count of ticks emitted so far.
func (t *Timer) TickNumber() uint64 {
	return t.tickNumber
}
