// Package parallel provides chunked parallel loops for the CPU backend.
package parallel

import (
	"runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// Config controls parallel execution.
type Config struct {
	Enabled      bool // whether to spawn workers at all
	NumWorkers   int  // worker goroutine count
	MinChunkSize int  // minimum items per goroutine to amortize overhead
}

// DefaultConfig sizes the worker pool from the physical core count when
// the CPU reports one; SMT siblings rarely help the memory-bound kernels
// in backend/cpu. Falls back to GOMAXPROCS.
func DefaultConfig() Config {
	n := cpuid.CPU.PhysicalCores
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64,
	}
}

// For executes f(i) for i in [0, n), in parallel when the config allows
// it and n is large enough, sequentially otherwise.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || n < cfg.MinChunkSize {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForBatch iterates a batch*channels grid, the common pattern in the
// convolution and pooling kernels.
func ForBatch(batch, channels int, f func(b, c int), cfg Config) {
	For(batch*channels, func(k int) {
		f(k/channels, k%channels)
	}, cfg)
}
