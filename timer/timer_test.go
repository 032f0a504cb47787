package timer_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxenran/chops-net-ip/timer"
)

func TestPeriodicTicks(t *testing.T) {
	p := timer.New(nil, 10*time.Millisecond)
	var n atomic.Int32
	require.NoError(t, p.Start(func(elapsed time.Duration) bool {
		n.Add(1)
		return true
	}))
	require.Eventually(t, func() bool { return n.Load() >= 3 },
		5*time.Second, time.Millisecond)
	assert.True(t, p.Stop())
	assert.False(t, p.Stop())
}

func TestPeriodicCallbackStops(t *testing.T) {
	p := timer.New(nil, 5*time.Millisecond)
	var n atomic.Int32
	require.NoError(t, p.Start(func(elapsed time.Duration) bool {
		return n.Add(1) < 3
	}))
	require.Eventually(t, func() bool { return n.Load() == 3 },
		5*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), n.Load())
	assert.False(t, p.Stop())
}

func TestPeriodicDoubleStart(t *testing.T) {
	p := timer.New(nil, time.Hour)
	require.NoError(t, p.Start(func(time.Duration) bool { return true }))
	assert.Error(t, p.Start(func(time.Duration) bool { return true }))
	assert.True(t, p.Stop())
}

func TestPeriodicBadInterval(t *testing.T) {
	p := timer.New(nil, 0)
	assert.Error(t, p.Start(func(time.Duration) bool { return true }))
}

func TestPeriodicMockClock(t *testing.T) {
	mock := clock.NewMock()
	p := timer.New(mock, time.Second)
	var n atomic.Int32
	var lastElapsed atomic.Int64
	require.NoError(t, p.Start(func(elapsed time.Duration) bool {
		n.Add(1)
		lastElapsed.Store(int64(elapsed))
		return true
	}))
	// Let the tick goroutine install its ticker before moving time.
	time.Sleep(100 * time.Millisecond)
	mock.Add(3 * time.Second)
	require.Eventually(t, func() bool { return n.Load() == 3 },
		5*time.Second, time.Millisecond)
	assert.Equal(t, int64(3*time.Second), lastElapsed.Load())
	assert.True(t, p.Stop())
}
