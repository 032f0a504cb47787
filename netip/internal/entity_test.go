package internal_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxenran/chops-net-ip/netip/internal"
)

func TestStateSingleStartWinner(t *testing.T) {
	var s internal.State[int]
	var wins atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Start(func(int, error, int) {}) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.True(t, s.IsStarted())
}

func TestStateSingleStopWinner(t *testing.T) {
	var s internal.State[int]
	require.True(t, s.Start(func(int, error, int) {}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.Stop(); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.False(t, s.IsStarted())
}

func TestStateLoserDoesNotOverwriteCallback(t *testing.T) {
	var s internal.State[string]
	var got string

	require.True(t, s.Start(func(io string, err error, n int) { got = "first" }))
	assert.False(t, s.Start(func(io string, err error, n int) { got = "second" }))

	cb, ok := s.Stop()
	require.True(t, ok)
	require.NotNil(t, cb)
	cb("x", nil, 0)
	assert.Equal(t, "first", got)
}

func TestStateStopClearsCallback(t *testing.T) {
	var s internal.State[int]
	require.True(t, s.Start(func(int, error, int) {}))

	cb, ok := s.Stop()
	require.True(t, ok)
	require.NotNil(t, cb)

	cb2, ok := s.Stop()
	assert.False(t, ok)
	assert.Nil(t, cb2)

	// Restart installs a fresh callback.
	require.True(t, s.Start(func(int, error, int) {}))
	cb3, ok := s.Stop()
	require.True(t, ok)
	require.NotNil(t, cb3)
}
