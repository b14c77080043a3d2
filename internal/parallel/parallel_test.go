package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor(t *testing.T) {
	cfg := DefaultConfig()

	var counter int64
	n := 1000
	For(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	assert.Equal(t, int64(n), counter)
}

func TestFor_VisitsEveryIndexOnce(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinItems: 1}

	seen := make([]int32, 257)
	For(len(seen), func(i int) {
		atomic.AddInt32(&seen[i], 1)
	}, cfg)

	for i, v := range seen {
		assert.Equal(t, int32(1), v, "index %d", i)
	}
}

func TestFor_Sequential(t *testing.T) {
	cfg := Config{Enabled: false}

	order := make([]int, 0, 10)
	For(10, func(i int) {
		order = append(order, i)
	}, cfg)

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestForRange(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 3, MinItems: 1}

	var covered int64
	ForRange(100, 8, func(start, end int) {
		assert.Less(t, start, end)
		atomic.AddInt64(&covered, int64(end-start))
	}, cfg)

	assert.Equal(t, int64(100), covered)
}

func TestForRange_Empty(t *testing.T) {
	called := false
	ForRange(0, 4, func(_, _ int) { called = true }, DefaultConfig())
	assert.False(t, called)
}
