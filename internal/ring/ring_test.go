package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutDropsOldestWhenFull(t *testing.T) {
	r := New[int](3)

	for i := 1; i <= 5; i++ {
		r.Put(i)
	}

	// Only the last 3 values survive.
	var got []int
	for len(got) < 3 {
		v, ok := r.Receive()
		require.True(t, ok)
		got = append(got, v)
	}
	assert.Equal(t, []int{3, 4, 5}, got)

	stats := r.Stats()
	assert.Equal(t, int64(5), stats.Pushed)
	assert.Equal(t, int64(2), stats.Dropped)
	assert.Equal(t, int64(3), stats.Received)
}

func TestPutReportsDrop(t *testing.T) {
	r := New[string](1)

	assert.False(t, r.Put("a"))
	assert.True(t, r.Put("b"), "second Put into a full ring must report a drop")
}

func TestTryPut(t *testing.T) {
	r := New[int](1)

	assert.True(t, r.TryPut(1))
	assert.False(t, r.TryPut(2), "TryPut must fail when full instead of dropping")
	assert.Equal(t, 1, r.Len())
}

func TestCloseEndsConsumerRange(t *testing.T) {
	r := New[int](4)
	r.Put(1)
	r.Put(2)
	r.Close()

	var got []int
	for v := range r.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2}, got)

	_, ok := r.Receive()
	assert.False(t, ok, "Receive on a closed drained ring must report !ok")
}

func TestNewPanicsOnNonPositiveCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
	assert.Panics(t, func() { New[int](-1) })
}

func TestConcurrentProducersNeverBlock(t *testing.T) {
	const producers = 8
	const perProducer = 200

	r := New[int](4)

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				r.Put(base + i)
			}
		}(p * perProducer)
	}
	wg.Wait()

	stats := r.Stats()
	assert.Equal(t, int64(producers*perProducer), stats.Pushed)
	// Everything beyond the buffered remainder was evicted.
	assert.Equal(t, stats.Pushed-int64(r.Len()), stats.Dropped)
}
