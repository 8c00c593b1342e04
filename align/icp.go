package align

import (
	"fmt"
	"math"
	"runtime"
	"sync"
)

// ICPConfig holds configuration for point-to-plane ICP.
// All distance thresholds are in the same units as the input clouds (mm).
type ICPConfig struct {
	MaxIterations     int         // Maximum number of Gauss-Newton iterations
	ConvergenceThresh float64     // Stop when RMSE improvement is below this (mm)
	MaxCorrespondDist float64     // Maximum distance for point correspondence (mm)
	Kernel            RobustKernel // Robust loss applied to correspondence residuals
	Target            ExecTarget  // How the accumulation loop is executed
}

// DefaultICPConfig returns sensible defaults for indoor-scale clouds.
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		MaxIterations:     30,
		ConvergenceThresh: 1e-4,
		MaxCorrespondDist: 500.0,
		Kernel:            RobustKernel{Method: L2, ScalingParameter: 1.0},
		Target:            ExecSequential,
	}
}

// ICPResult contains the result of a registration run.
type ICPResult struct {
	Transform      RigidTransform // Source-to-target transform
	RMSE           float64        // Root mean square inlier residual (mm)
	InlierFraction float64        // Fraction of source points with a correspondence
	Iterations     int            // Number of iterations performed
	Converged      bool           // Whether the RMSE improvement fell below threshold
}

// correspondence pairs a transformed source point with its nearest target
// point and that target's normal.
type correspondence struct {
	p Vec3 // transformed source point
	q Vec3 // target point
	n Vec3 // target normal
}

// RunPointToPlaneICP aligns source to target starting from initial.
//
// Per iteration, each correspondence contributes one scalar residual
// r = n·(T·p − q). The robust kernel is resolved to a weight function once,
// before the first iteration; inside the accumulation loop each residual is
// mapped to a weight w = fn(r) which scales that correspondence's row in the
// 6x6 normal equations. An unresolvable kernel aborts before any
// per-correspondence work.
func RunPointToPlaneICP(source, target *PointCloud, initial RigidTransform, config ICPConfig) (ICPResult, error) {
	if len(source.Points) == 0 || len(target.Points) == 0 {
		return ICPResult{Transform: initial}, fmt.Errorf("empty point cloud (source=%d target=%d)", len(source.Points), len(target.Points))
	}
	if !target.HasNormals() {
		return ICPResult{Transform: initial}, fmt.Errorf("target cloud has no normals; run EstimateNormals first")
	}

	weightFn, err := Resolve[float64](config.Kernel)
	if err != nil {
		return ICPResult{Transform: initial}, fmt.Errorf("resolving robust kernel: %w", err)
	}

	result := ICPResult{Transform: initial, RMSE: math.MaxFloat64}
	current := initial
	prevRMSE := math.MaxFloat64

	for iter := 0; iter < config.MaxIterations; iter++ {
		result.Iterations = iter + 1

		transformed := current.ApplyAll(source.Points)
		corres := findCorrespondences(transformed, target, config.MaxCorrespondDist)
		if len(corres) < 6 {
			break
		}

		ata, atb, rmse := accumulateNormalEquations(corres, weightFn, config.Target)

		delta, err := solve6x6(&ata, &atb)
		if err != nil {
			// Degenerate geometry (e.g. all normals coplanar); keep the best
			// transform found so far.
			break
		}
		update := PoseToTransform(delta)
		next := Compose(update, current)

		result.Transform = next
		result.RMSE = rmse
		result.InlierFraction = float64(len(corres)) / float64(len(source.Points))

		improvement := prevRMSE - rmse
		if improvement >= 0 && improvement < config.ConvergenceThresh {
			result.Converged = true
			current = next
			break
		}
		// Divergence check, matching the coarse-alignment backtracking used
		// for map registration: refuse to follow a step that makes the fit
		// substantially worse.
		if rmse > prevRMSE*1.5 {
			break
		}

		prevRMSE = rmse
		current = next
	}

	result.Transform = current
	return result, nil
}

// findCorrespondences pairs each transformed source point with its nearest
// target point within maxDist.
func findCorrespondences(transformed []Vec3, target *PointCloud, maxDist float64) []correspondence {
	maxSq := maxDist * maxDist
	corres := make([]correspondence, 0, len(transformed))

	for _, p := range transformed {
		best := -1
		bestSq := maxSq
		for ti, q := range target.Points {
			dx := p.X - q.X
			dy := p.Y - q.Y
			dz := p.Z - q.Z
			if d := dx*dx + dy*dy + dz*dz; d < bestSq {
				bestSq = d
				best = ti
			}
		}
		if best >= 0 {
			corres = append(corres, correspondence{p: p, q: target.Points[best], n: target.Normals[best]})
		}
	}
	return corres
}

// accumulateNormalEquations builds JᵀWJ and -JᵀWr over all correspondences.
// For point-to-plane, each correspondence has the Jacobian row
// J = [p×n, n] and residual r = n·(p−q); its contribution is scaled by the
// robust weight w = weightFn(r).
//
// With ExecParallel the correspondences are split into disjoint chunks, each
// worker accumulates a private system, and the partial systems are summed.
// The weight function is invoked concurrently from all workers; it is pure,
// so the merged system is independent of chunking and scheduling order.
func accumulateNormalEquations(corres []correspondence, weightFn WeightFunc[float64], target ExecTarget) ([6][6]float64, [6]float64, float64) {
	workers := 1
	if target == ExecParallel && len(corres) >= parallelThreshold {
		workers = runtime.NumCPU()
		if workers > len(corres) {
			workers = len(corres)
		}
	}

	if workers == 1 {
		ata, atb, sqSum := accumulateRange(corres, weightFn)
		return ata, atb, math.Sqrt(sqSum / float64(len(corres)))
	}

	type partial struct {
		ata   [6][6]float64
		atb   [6]float64
		sqSum float64
	}
	partials := make([]partial, workers)
	chunk := (len(corres) + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, len(corres))
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			partials[w].ata, partials[w].atb, partials[w].sqSum = accumulateRange(corres[lo:hi], weightFn)
		}(w, lo, hi)
	}
	wg.Wait()

	var ata [6][6]float64
	var atb [6]float64
	sqSum := 0.0
	for _, p := range partials {
		for i := 0; i < 6; i++ {
			for j := 0; j < 6; j++ {
				ata[i][j] += p.ata[i][j]
			}
			atb[i] += p.atb[i]
		}
		sqSum += p.sqSum
	}
	return ata, atb, math.Sqrt(sqSum / float64(len(corres)))
}

func accumulateRange(corres []correspondence, weightFn WeightFunc[float64]) ([6][6]float64, [6]float64, float64) {
	var ata [6][6]float64
	var atb [6]float64
	sqSum := 0.0

	for _, c := range corres {
		r := c.n.Dot(c.p.Sub(c.q))
		w := weightFn(r)

		cross := c.p.Cross(c.n)
		j := [6]float64{cross.X, cross.Y, cross.Z, c.n.X, c.n.Y, c.n.Z}

		for i := 0; i < 6; i++ {
			wji := w * j[i]
			for k := 0; k < 6; k++ {
				ata[i][k] += wji * j[k]
			}
			atb[i] -= wji * r
		}
		sqSum += r * r
	}
	return ata, atb, sqSum
}
