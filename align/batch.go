package align

import (
	"runtime"
	"sync"
)

// ExecTarget selects how a batch of residuals is pushed through a resolved
// weight function. The function itself is identical for every target; the
// target only changes how it is invoked.
type ExecTarget int

const (
	// ExecSequential evaluates the batch on the calling goroutine.
	ExecSequential ExecTarget = iota
	// ExecParallel distributes disjoint chunks of the batch across a pool of
	// worker goroutines. Each per-residual call is independent and side-effect
	// free, so no ordering is guaranteed or needed between invocations.
	ExecParallel
)

// ApplyWeights evaluates fn over residuals into dst, which must be the same
// length. Results are positionally identical for both execution targets.
func ApplyWeights[T Float](fn WeightFunc[T], residuals, dst []T, target ExecTarget) {
	if len(dst) != len(residuals) {
		panic("align: residual and weight slices must have equal length")
	}

	if target == ExecSequential || len(residuals) < parallelThreshold {
		for i, r := range residuals {
			dst[i] = fn(r)
		}
		return
	}

	workers := runtime.NumCPU()
	if workers > len(residuals) {
		workers = len(residuals)
	}
	chunk := (len(residuals) + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < len(residuals); start += chunk {
		end := min(start+chunk, len(residuals))
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				dst[i] = fn(residuals[i])
			}
		}(start, end)
	}
	wg.Wait()
}

// Weights is ApplyWeights with an allocated result slice.
func Weights[T Float](fn WeightFunc[T], residuals []T, target ExecTarget) []T {
	dst := make([]T, len(residuals))
	ApplyWeights(fn, residuals, dst, target)
	return dst
}

// parallelThreshold is the batch size below which goroutine startup costs
// more than the evaluation itself.
const parallelThreshold = 1024
