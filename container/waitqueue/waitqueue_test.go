package waitqueue_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxenran/chops-net-ip/container/waitqueue"
)

func TestQueueFIFO(t *testing.T) {
	q := waitqueue.New[int]()
	for i := 0; i < 10; i++ {
		require.True(t, q.Push(i))
	}
	assert.Equal(t, 10, q.Len())
	for i := 0; i < 10; i++ {
		v, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
	assert.True(t, q.Empty())
}

func TestQueueCloseWakesWaiters(t *testing.T) {
	q := waitqueue.New[int]()
	var done sync.WaitGroup
	var woke atomic.Int32
	for i := 0; i < 4; i++ {
		done.Add(1)
		go func() {
			defer done.Done()
			_, ok := q.WaitAndPop()
			if !ok {
				woke.Add(1)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	q.Close()
	done.Wait()
	assert.Equal(t, int32(4), woke.Load())
}

func TestQueuePushAfterCloseFails(t *testing.T) {
	q := waitqueue.New[string]()
	require.True(t, q.Push("a"))
	q.Close()
	assert.False(t, q.Push("b"))
	assert.True(t, q.IsClosed())

	// Elements pushed before close still drain.
	v, ok := q.WaitAndPop()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	_, ok = q.WaitAndPop()
	assert.False(t, ok)

	q.Open()
	assert.True(t, q.Push("c"))
}

func TestQueueBoundedOverflow(t *testing.T) {
	q := waitqueue.NewBounded[int](2)
	assert.True(t, q.Push(1))
	assert.True(t, q.Push(2))
	assert.False(t, q.Push(3))
	assert.Equal(t, 2, q.Len())
}

func TestQueueConcurrentProducersConsumers(t *testing.T) {
	const (
		producers = 4
		perProd   = 1000
	)
	q := waitqueue.New[int]()
	var prodWG, consWG sync.WaitGroup
	var sum atomic.Int64

	for i := 0; i < 4; i++ {
		consWG.Add(1)
		go func() {
			defer consWG.Done()
			for {
				v, ok := q.WaitAndPop()
				if !ok {
					return
				}
				sum.Add(int64(v))
			}
		}()
	}
	for p := 0; p < producers; p++ {
		prodWG.Add(1)
		go func() {
			defer prodWG.Done()
			for i := 1; i <= perProd; i++ {
				q.Push(i)
			}
		}()
	}
	prodWG.Wait()
	// Drain before close so no pushed element is lost to a consumer exit.
	require.Eventually(t, q.Empty, 5*time.Second, time.Millisecond)
	q.Close()
	consWG.Wait()

	want := int64(producers) * int64(perProd) * int64(perProd+1) / 2
	assert.Equal(t, want, sum.Load())
}

func TestQueueApply(t *testing.T) {
	q := waitqueue.New[int]()
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	var got []int
	q.Apply(func(v int) { got = append(got, v) })
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Equal(t, 5, q.Len())
}
