// Package parallel fans CPU kernels out over a bounded set of goroutines.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled    bool // Whether parallel execution is enabled.
	NumWorkers int  // Upper bound on worker goroutines.
	MinItems   int  // Below this many items the loop runs inline.
}

// DefaultConfig returns defaults based on the CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:    n > 1,
		NumWorkers: n,
		MinItems:   2,
	}
}

// For executes f(i) for i in [0, n).
//
// Workers pull indices from a shared counter, so uneven items (one
// convolution per sample, one GEMM per batch entry) balance themselves.
func For(n int, f func(i int), cfg Config) {
	workers := min(cfg.NumWorkers, n)
	if !cfg.Enabled || n < cfg.MinItems || workers < 2 {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	var next atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1) - 1)
				if i >= n {
					return
				}
				f(i)
			}
		}()
	}
	wg.Wait()
}

// ForRange splits [0, n) into contiguous chunks of at least minChunk items
// and calls f(start, end) for each chunk.
func ForRange(n, minChunk int, f func(start, end int), cfg Config) {
	if minChunk < 1 {
		minChunk = 1
	}
	workers := max(cfg.NumWorkers, 1)
	chunk := max((n+workers-1)/workers, minChunk)
	chunks := (n + chunk - 1) / chunk
	For(chunks, func(c int) {
		f(c*chunk, min((c+1)*chunk, n))
	}, cfg)
}
