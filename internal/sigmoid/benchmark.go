package sigmoid

import (
	"fmt"
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/z3rotig4r/ckks_train/internal/he"
)

// DefaultTestPoints covers the [-8, 8] fitting interval.
var DefaultTestPoints = []float64{-8, -6, -4, -2, -1, -0.5, 0, 0.5, 1, 2, 4, 6, 8}

// BenchmarkResult stores benchmark information
type BenchmarkResult struct {
	Method          string
	MeanError       float64 // mean absolute error against the exact sigmoid
	MaxError        float64
	Duration        time.Duration
	TestPoints      int
	RequiredDepth   int
	Multiplications int
	Bootstraps      int
}

// Benchmark evaluates every method on points packed into one ciphertext and
// compares the decrypted output with the exact sigmoid. Ledger deltas are
// attributed to the method that caused them.
func Benchmark(methods []Approximation, u *he.Unit, points []float64) ([]BenchmarkResult, error) {
	if len(points) == 0 {
		points = DefaultTestPoints
	}
	results := make([]BenchmarkResult, 0, len(methods))

	for _, method := range methods {
		ct, err := u.Encrypt(points)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", method.Name(), err)
		}

		before := u.Ledger()
		start := time.Now()
		out, err := method.Evaluate(u, ct)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", method.Name(), err)
		}
		elapsed := time.Since(start)
		after := u.Ledger()

		approx, err := u.Decrypt(out)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", method.Name(), err)
		}

		errs := make([]float64, len(points))
		for i, x := range points {
			errs[i] = math.Abs(approx[i] - Sigmoid(x))
		}
		mean, err := stats.Mean(errs)
		if err != nil {
			return nil, err
		}
		worst, err := stats.Max(errs)
		if err != nil {
			return nil, err
		}

		results = append(results, BenchmarkResult{
			Method:          method.Name(),
			MeanError:       mean,
			MaxError:        worst,
			Duration:        elapsed,
			TestPoints:      len(points),
			RequiredDepth:   method.RequiredDepth(),
			Multiplications: after.Multiplications - before.Multiplications,
			Bootstraps:      after.Bootstraps - before.Bootstraps,
		})
	}

	return results, nil
}

// AllMethods lists every built-in approximation.
func AllMethods() []Approximation {
	methods := []Approximation{NewPolynomial3()}
	for _, d := range []int{3, 5, 7} {
		methods = append(methods, NewChebyshevApprox(d), NewMinimaxApprox(d), NewCompositeApprox(d))
	}
	return methods
}
