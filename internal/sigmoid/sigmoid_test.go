package sigmoid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z3rotig4r/ckks_train/internal/he"
	"github.com/z3rotig4r/ckks_train/internal/he/plainprovider"
)

func newUnit(t *testing.T, maxDepth int) *he.Unit {
	t.Helper()
	u, err := he.NewUnit(plainprovider.New(), he.Config{MaxDepth: maxDepth, LogBaseScale: 40}, nil)
	require.NoError(t, err)
	return u
}

func TestPolynomial3(t *testing.T) {
	u := newUnit(t, 6)
	p := NewPolynomial3()
	points := []float64{-2, -1, 0, 0.5, 1, 2}

	x, err := u.Encrypt(points)
	require.NoError(t, err)
	y, err := p.Evaluate(u, x)
	require.NoError(t, err)

	assert.Equal(t, 4, y.Level())
	assert.Equal(t, len(points), y.Size())
	assert.Equal(t, 2, u.Ledger().Multiplications)
	assert.Zero(t, u.Ledger().Bootstraps)

	got, err := u.Decrypt(y)
	require.NoError(t, err)
	for i, v := range points {
		want := 0.5 + 0.1973*v - 0.0048*v*v*v
		assert.InDelta(t, want, got[i], 1e-12)
		assert.InDelta(t, p.Reference(v), got[i], 1e-12)
	}
	assert.InDelta(t, 0.5, p.Reference(0), 0)
}

func TestRequiredDepth(t *testing.T) {
	tests := []struct {
		approx Approximation
		depth  int
	}{
		{mustOdd("Linear", []float64{0.5, 0.25}), 0},
		{NewPolynomial3(), 2},
		{NewChebyshevApprox(3), 2},
		{NewChebyshevApprox(5), 3},
		{NewMinimaxApprox(7), 4},
		{NewCompositeApprox(5), 3},
		{NewCompositeApprox(7), 4},
	}
	for _, tt := range tests {
		t.Run(tt.approx.Name(), func(t *testing.T) {
			u := newUnit(t, 6)
			x, err := u.Encrypt([]float64{0.3})
			require.NoError(t, err)

			y, err := tt.approx.Evaluate(u, x)
			require.NoError(t, err)
			assert.Equal(t, tt.depth, tt.approx.RequiredDepth())
			assert.Equal(t, tt.depth, u.Ledger().Multiplications)
			assert.Equal(t, 6-tt.depth, y.Level())

			got, err := u.Decrypt(y)
			require.NoError(t, err)
			assert.InDelta(t, tt.approx.Reference(0.3), got[0], 1e-12)
			assert.InDelta(t, Sigmoid(0.3), got[0], 1e-2)
		})
	}
}

func TestEvaluateRefreshesOnShallowBudget(t *testing.T) {
	u := newUnit(t, 2)
	x, err := u.Encrypt([]float64{1})
	require.NoError(t, err)

	y, err := NewPolynomial3().Evaluate(u, x)
	require.NoError(t, err)
	assert.Equal(t, 2, u.Ledger().Bootstraps)
	assert.Equal(t, 2, y.Level())

	got, err := u.Decrypt(y)
	require.NoError(t, err)
	assert.InDelta(t, 0.5+0.1973-0.0048, got[0], 1e-12)
}

func TestCompositeCoefficients(t *testing.T) {
	c := NewCompositeApprox(3).Coefficients()
	assert.InDeltaSlice(t, []float64{0.5, 0.25, 0, -1.0 / 48.0}, c, 1e-15)
	assert.Equal(t, "Composite-3", NewCompositeApprox(4).Name())
}

func TestNewOddPolynomial(t *testing.T) {
	_, err := NewOddPolynomial("even", []float64{0.5, 0.2, 0.1, -0.01})
	assert.Error(t, err)
	_, err = NewOddPolynomial("degree-2", []float64{0.5, 0.2, 0})
	assert.Error(t, err)
	_, err = NewOddPolynomial("zero-lead", []float64{0.5, 0.2, 0, 0})
	assert.Error(t, err)

	p, err := NewOddPolynomial("linear", []float64{0.5, 0.25})
	require.NoError(t, err)
	assert.Zero(t, p.RequiredDepth())
}

func TestByName(t *testing.T) {
	for name, want := range map[string]string{
		"":            "Polynomial-3",
		"polynomial":  "Polynomial-3",
		"Chebyshev-5": "Chebyshev-5",
		"minimax-7":   "Minimax-7",
		"composite":   "Composite-3",
	} {
		a, err := ByName(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, a.Name())
	}

	for _, name := range []string{"taylor-3", "minimax-4", "polynomial-5", "chebyshev-x"} {
		_, err := ByName(name)
		assert.Error(t, err, name)
	}
}

func TestBenchmark(t *testing.T) {
	u := newUnit(t, 6)
	methods := AllMethods()

	results, err := Benchmark(methods, u, nil)
	require.NoError(t, err)
	require.Len(t, results, len(methods))

	for i, r := range results {
		assert.Equal(t, methods[i].Name(), r.Method)
		assert.Equal(t, len(DefaultTestPoints), r.TestPoints)
		assert.Equal(t, r.RequiredDepth, r.Multiplications, r.Method)
		assert.LessOrEqual(t, r.MeanError, r.MaxError)
		assert.GreaterOrEqual(t, r.MeanError, 0.0)
	}
}
