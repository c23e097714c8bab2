package sigmoid

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/z3rotig4r/ckks_train/internal/he"
)

// Approximation represents a sigmoid approximation method
type Approximation interface {
	Name() string
	Evaluate(u *he.Unit, x he.CipherValue) (he.CipherValue, error)
	// RequiredDepth is the number of sequential ciphertext multiplications per call.
	RequiredDepth() int
	// Reference evaluates the same approximation in the clear.
	Reference(x float64) float64
}

// Sigmoid is the exact logistic function.
func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// OddPolynomial approximates sigmoid by c0 + c1*x + c3*x^3 + ... with every even
// coefficient past c0 equal to zero. Odd powers are built from x and x^2, so degree
// d costs (d+1)/2 levels.
type OddPolynomial struct {
	name   string
	coeffs []float64
}

// NewOddPolynomial validates coeffs (power basis, index = exponent).
func NewOddPolynomial(name string, coeffs []float64) (*OddPolynomial, error) {
	if len(coeffs) < 2 || len(coeffs)%2 != 0 {
		return nil, fmt.Errorf("odd polynomial %q needs an odd degree, got %d coefficients", name, len(coeffs))
	}
	for k := 2; k < len(coeffs); k += 2 {
		if coeffs[k] != 0 {
			return nil, fmt.Errorf("odd polynomial %q has non-zero even coefficient c%d=%v", name, k, coeffs[k])
		}
	}
	if coeffs[len(coeffs)-1] == 0 {
		return nil, fmt.Errorf("odd polynomial %q has a zero leading coefficient", name)
	}
	return &OddPolynomial{name: name, coeffs: append([]float64(nil), coeffs...)}, nil
}

func mustOdd(name string, coeffs []float64) *OddPolynomial {
	p, err := NewOddPolynomial(name, coeffs)
	if err != nil {
		panic(err)
	}
	return p
}

// NewPolynomial3 returns the default activation 0.5 + 0.1973x - 0.0048x^3.
// Two levels per call.
func NewPolynomial3() *OddPolynomial {
	return mustOdd("Polynomial-3", []float64{0.5, 0.1973, 0.0, -0.0048})
}

// NewChebyshevApprox creates a Chebyshev approximation on [-8, 8].
// Degrees: 3, 5, 7; anything else falls back to 3.
func NewChebyshevApprox(degree int) *OddPolynomial {
	switch degree {
	case 5:
		return mustOdd("Chebyshev-5", []float64{0.5, 0.25, 0.0, -0.03125, 0.0, 0.003906})
	case 7:
		return mustOdd("Chebyshev-7", []float64{0.5, 0.25, 0.0, -0.03125, 0.0, 0.003906, 0.0, -0.000488})
	default:
		return mustOdd("Chebyshev-3", []float64{0.5, 0.25, 0.0, -0.03125})
	}
}

// NewMinimaxApprox creates a minimax approximation on [-8, 8].
func NewMinimaxApprox(degree int) *OddPolynomial {
	switch degree {
	case 5:
		return mustOdd("Minimax-5", []float64{0.5, 0.2380952, 0.0, -0.0154321, 0.0, 0.0006588})
	case 7:
		return mustOdd("Minimax-7", []float64{0.5, 0.2471169, 0.0, -0.0195740, 0.0, 0.0015314, 0.0, -0.0000451})
	default:
		return mustOdd("Minimax-3", []float64{0.5, 0.2159198, 0.0, -0.0082176})
	}
}

// NewCompositeApprox expands σ(x) = 0.5 + 0.5*tanh(x/2) with the Taylor series of
// tanh truncated at the given degree.
func NewCompositeApprox(degree int) *OddPolynomial {
	// tanh(y) ≈ y - y^3/3 + 2y^5/15 - 17y^7/315, y = x/2
	tanh := []float64{0, 1, 0, -1.0 / 3.0, 0, 2.0 / 15.0, 0, -17.0 / 315.0}
	if degree != 5 && degree != 7 {
		degree = 3
	}
	coeffs := make([]float64, degree+1)
	coeffs[0] = 0.5
	for k := 1; k <= degree; k += 2 {
		coeffs[k] = 0.5 * tanh[k] / math.Pow(2, float64(k))
	}
	return mustOdd("Composite-"+strconv.Itoa(degree), coeffs)
}

// ByName resolves names such as "polynomial-3", "chebyshev-5" or "minimax-7".
// An empty name selects the default polynomial.
func ByName(name string) (Approximation, error) {
	if name == "" {
		return NewPolynomial3(), nil
	}
	family, deg, ok := strings.Cut(strings.ToLower(name), "-")
	degree := 3
	if ok {
		d, err := strconv.Atoi(deg)
		if err != nil || (d != 3 && d != 5 && d != 7) {
			return nil, fmt.Errorf("unsupported sigmoid degree %q", deg)
		}
		degree = d
	}
	switch family {
	case "polynomial", "default":
		if degree != 3 {
			return nil, fmt.Errorf("default polynomial only exists in degree 3")
		}
		return NewPolynomial3(), nil
	case "chebyshev":
		return NewChebyshevApprox(degree), nil
	case "minimax":
		return NewMinimaxApprox(degree), nil
	case "composite":
		return NewCompositeApprox(degree), nil
	}
	return nil, fmt.Errorf("unknown sigmoid approximation %q", name)
}

func (p *OddPolynomial) Name() string { return p.name }

func (p *OddPolynomial) Degree() int { return len(p.coeffs) - 1 }

// Coefficients returns a copy of the power-basis coefficients.
func (p *OddPolynomial) Coefficients() []float64 {
	return append([]float64(nil), p.coeffs...)
}

// RequiredDepth is the number of ciphertext multiplications on the critical path:
// 0 for a linear polynomial, (degree+1)/2 otherwise.
func (p *OddPolynomial) RequiredDepth() int {
	if p.Degree() < 3 {
		return 0
	}
	return (p.Degree() + 1) / 2
}

func (p *OddPolynomial) Reference(x float64) float64 {
	y := 0.0
	for k := len(p.coeffs) - 1; k >= 0; k-- {
		y = y*x + p.coeffs[k]
	}
	return y
}

// Evaluate computes the polynomial with ciphertext multiplications only for the odd
// powers: x^2 = x*x, x^3 = x^2*x, then x^(k+2) = x^k*x^2. Coefficients are applied
// as plaintext constants and c0 is added last.
func (p *OddPolynomial) Evaluate(u *he.Unit, x he.CipherValue) (he.CipherValue, error) {
	powers := map[int]he.CipherValue{1: x}
	if p.Degree() >= 3 {
		x2, err := u.Multiply(x, x)
		if err != nil {
			return he.CipherValue{}, fmt.Errorf("x^2: %w", err)
		}
		x3, err := u.Multiply(x2, x)
		if err != nil {
			return he.CipherValue{}, fmt.Errorf("x^3: %w", err)
		}
		powers[3] = x3
		for k := 5; k <= p.Degree(); k += 2 {
			xk, err := u.Multiply(powers[k-2], x2)
			if err != nil {
				return he.CipherValue{}, fmt.Errorf("x^%d: %w", k, err)
			}
			powers[k] = xk
		}
	}

	var acc he.CipherValue
	for k := 1; k <= p.Degree(); k += 2 {
		if p.coeffs[k] == 0 {
			continue
		}
		term, err := u.MultiplyScalar(powers[k], p.coeffs[k])
		if err != nil {
			return he.CipherValue{}, fmt.Errorf("term c%d: %w", k, err)
		}
		if acc.IsZero() {
			acc = term
			continue
		}
		if acc, err = u.Add(acc, term); err != nil {
			return he.CipherValue{}, fmt.Errorf("sum c%d: %w", k, err)
		}
	}

	res, err := u.AddScalar(acc, p.coeffs[0])
	if err != nil {
		return he.CipherValue{}, fmt.Errorf("constant term: %w", err)
	}
	return res, nil
}
