package concurrent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForEachBoundsWorkers(t *testing.T) {
	items := make([]int, 64)
	for i := range items {
		items[i] = i
	}

	var inFlight, peak, sum atomic.Int64
	err := ForEach(context.Background(), items, 4, func(_ context.Context, v int) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		sum.Add(int64(v))
		inFlight.Add(-1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int64(4))
	assert.Equal(t, int64(63*64/2), sum.Load())
}

func TestForEachReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	err := ForEach(context.Background(), []int{1, 2, 3}, 1, func(_ context.Context, v int) error {
		if v == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, ForEach[int](context.Background(), nil, 2, nil))
}

func TestThrottleVisitsAll(t *testing.T) {
	var n atomic.Int32
	Throttle([]int{1, 2, 3, 4, 5}, 3, func(int) { n.Add(1) })
	assert.Equal(t, int32(5), n.Load())

	n.Store(0)
	Throttle([]int{1, 2}, 0, func(int) { n.Add(1) })
	assert.Equal(t, int32(2), n.Load())
}

func TestBatch(t *testing.T) {
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, Batch([]int{1, 2, 3, 4, 5}, 2))
	assert.Equal(t, [][]int{{1, 2}}, Batch([]int{1, 2}, 0))
	assert.Nil(t, Batch([]int{}, 3))
}
