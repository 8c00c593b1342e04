package align

import (
	"fmt"
	"math"
)

// Method selects the robust loss used to down-weight correspondence
// residuals during registration.
type Method int

const (
	L2 Method = iota
	L1
	Huber
	Cauchy
	GemanMcClure
	Tukey
	Generalized
)

// String returns the config-file name of the method.
func (m Method) String() string {
	switch m {
	case L2:
		return "l2"
	case L1:
		return "l1"
	case Huber:
		return "huber"
	case Cauchy:
		return "cauchy"
	case GemanMcClure:
		return "geman-mcclure"
	case Tukey:
		return "tukey"
	case Generalized:
		return "generalized"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// ParseMethod converts a config-file method name to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "l2", "":
		return L2, nil
	case "l1":
		return L1, nil
	case "huber":
		return Huber, nil
	case "cauchy":
		return Cauchy, nil
	case "geman-mcclure", "gm":
		return GemanMcClure, nil
	case "tukey":
		return Tukey, nil
	case "generalized":
		return Generalized, nil
	}
	return 0, fmt.Errorf("unknown robust kernel method %q", s)
}

// RobustKernel configures the per-residual weighting applied during the
// normal-equation accumulation. It is immutable for the duration of a
// registration run.
//
// ScalingParameter separates inlier from outlier residual magnitude and is
// used as a divisor by every method except L2 and L1; a zero value produces
// Inf/NaN weights, which is accepted behavior rather than a guarded error.
// ShapeParameter is only meaningful for Generalized and is ignored otherwise.
type RobustKernel struct {
	Method           Method
	ScalingParameter float64
	ShapeParameter   float64
}

// Float is the scalar precision of a resolved weight function.
type Float interface {
	~float32 | ~float64
}

// WeightFunc maps a single correspondence residual to its weight in the
// weighted least-squares accumulation. Resolved functions are pure: they
// capture the kernel parameters by value, never allocate, and are safe to
// call concurrently from any number of goroutines.
type WeightFunc[T Float] func(residual T) T

const (
	// shapeTolerance is the approximate-equality window for detecting the
	// degenerate Generalized shapes a=2 (L2) and a=0 (Cauchy). The shape
	// parameter is caller-supplied and may not land exactly on either value,
	// and the general formula divides by |a-2|, so exact comparison would
	// blow up at the boundary.
	shapeTolerance = 1e-7

	// gaussianShapeCutoff: below this the Generalized loss is treated as the
	// a -> -Inf Gaussian/Welsch limit instead of the general power formula.
	gaussianShapeCutoff = -1e7
)

// Resolve selects the weight function for k once, outside the hot loop.
// The returned function contains no method dispatch; for Generalized the
// shape sub-regime is also fixed here since the kernel is immutable.
//
// An unknown method is a configuration error and must not reach the
// per-correspondence loop: Resolve returns a non-nil error and callers are
// expected to treat it as fatal before any batch work starts.
//
// Known degeneracies are deliberately left unguarded: L1 diverges as the
// residual approaches zero (1/0 = +Inf), and a zero scaling parameter
// yields Inf or NaN weights. Both propagate to the caller's accumulation.
func Resolve[T Float](k RobustKernel) (WeightFunc[T], error) {
	s := T(k.ScalingParameter)

	switch k.Method {
	case L2:
		return func(T) T { return 1 }, nil
	case L1:
		return func(r T) T { return 1 / absT(r) }, nil
	case Huber:
		return func(r T) T { return s / max(absT(r), s) }, nil
	case Cauchy:
		return func(r T) T {
			q := r / s
			return 1 / (1 + q*q)
		}, nil
	case GemanMcClure:
		return func(r T) T {
			d := s + r*r
			return s / (d * d)
		}, nil
	case Tukey:
		return func(r T) T {
			q := min(1, absT(r)/s)
			t := 1 - q*q
			return t * t
		}, nil
	case Generalized:
		a := k.ShapeParameter
		switch {
		case math.Abs(a-2) < shapeTolerance:
			c := 1 / (s * s)
			return func(T) T { return c }, nil
		case math.Abs(a) < shapeTolerance:
			twoS2 := 2 * s * s
			return func(r T) T { return 2 / (r*r + twoS2) }, nil
		case a < gaussianShapeCutoff:
			invS2 := 1 / (s * s)
			return func(r T) T {
				q := r / s
				return T(math.Exp(float64(q*q)/-2)) * invS2
			}, nil
		default:
			invAbsA2 := T(1 / math.Abs(a-2))
			exponent := a/2 - 1
			invS2 := 1 / (s * s)
			return func(r T) T {
				q := r / s
				return T(math.Pow(float64(q*q*invAbsA2+1), exponent)) * invS2
			}, nil
		}
	}
	return nil, fmt.Errorf("unsupported robust kernel method %d", int(k.Method))
}

// MustResolve is Resolve for callers that have already validated the kernel,
// such as the batch appliers in tests. It panics on an unknown method.
func MustResolve[T Float](k RobustKernel) WeightFunc[T] {
	fn, err := Resolve[T](k)
	if err != nil {
		panic(err)
	}
	return fn
}

func absT[T Float](v T) T {
	if v < 0 {
		return -v
	}
	return v
}
