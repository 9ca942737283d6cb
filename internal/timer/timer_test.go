package timer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaledInterval(t *testing.T) {
	tm := New(time.Second, 4)
	assert.Equal(t, 250*time.Millisecond, tm.ScaledInterval())
}

func TestNew_DefaultsNonPositiveSpeed(t *testing.T) {
	tm := New(time.Second, 0)
	assert.Equal(t, time.Second, tm.ScaledInterval())
}

func TestRun_TicksAreMonotonicFromZero(t *testing.T) {
	tm := New(10*time.Millisecond, 1)

	var ticks []uint64
	tm.OnTick(func(now time.Time, tickNumber uint64) {
		ticks = append(ticks, tickNumber)
		if tickNumber == 2 {
			tm.Shutdown("enough")
		}
	})

	var shutdownReason string
	tm.OnShutdown(func(now time.Time, reason string) { shutdownReason = reason })

	require.NoError(t, tm.Run(context.Background()))
	require.GreaterOrEqual(t, len(ticks), 3)
	assert.Equal(t, []uint64{0, 1, 2}, ticks[:3])
	assert.Equal(t, "enough", shutdownReason)
}

func TestRun_ObserversNotifiedInRegistrationOrder(t *testing.T) {
	tm := New(5*time.Millisecond, 1)

	var order []string
	tm.OnTick(func(time.Time, uint64) { order = append(order, "a") })
	tm.OnTick(func(time.Time, uint64) {
		order = append(order, "b")
		tm.Shutdown("done")
	})

	require.NoError(t, tm.Run(context.Background()))
	require.GreaterOrEqual(t, len(order), 2)
	assert.Equal(t, []string{"a", "b"}, order[:2])
}

func TestShutdown_Idempotent(t *testing.T) {
	tm := New(5*time.Millisecond, 1)

	shutdowns := 0
	tm.OnShutdown(func(time.Time, string) { shutdowns++ })
	tm.OnTick(func(time.Time, uint64) {
		tm.Shutdown("first")
		tm.Shutdown("second")
	})

	require.NoError(t, tm.Run(context.Background()))
	assert.Equal(t, 1, shutdowns)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	tm := New(time.Hour, 1) // never ticks
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan string, 1)
	tm.OnShutdown(func(_ time.Time, reason string) { stopped <- reason })

	go cancel()
	require.NoError(t, tm.Run(ctx))
	assert.Equal(t, "context cancelled", <-stopped)
}
