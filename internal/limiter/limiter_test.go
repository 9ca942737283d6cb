package limiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTryAdmit_AllowsUpToLimit(t *testing.T) {
	l := New(5, time.Second)
	now := time.Unix(0, 0)

	for i := 0; i < 5; i++ {
		assert.True(t, l.TryAdmit(now), "message %d should be admitted", i+1)
	}
	assert.False(t, l.TryAdmit(now), "sixth message in the same window must be refused")
}

func TestTryAdmit_SlidesWithTime(t *testing.T) {
	l := New(3, time.Second)
	start := time.Unix(0, 0)

	assert.True(t, l.TryAdmit(start))
	assert.True(t, l.TryAdmit(start.Add(400*time.Millisecond)))
	assert.True(t, l.TryAdmit(start.Add(800*time.Millisecond)))

	// Window still holds the first timestamp.
	assert.False(t, l.TryAdmit(start.Add(900*time.Millisecond)))

	// One second after the oldest admit, a slot frees up.
	assert.True(t, l.TryAdmit(start.Add(time.Second)))
	// The next oldest is now t=400ms; t=1.1s is still inside its window.
	assert.False(t, l.TryAdmit(start.Add(1100*time.Millisecond)))
	assert.True(t, l.TryAdmit(start.Add(1400*time.Millisecond)))
}

func TestTryAdmit_ZeroLimitAdmitsEverything(t *testing.T) {
	l := New(0, time.Second)
	assert.True(t, l.TryAdmit(time.Unix(0, 0)))
}
