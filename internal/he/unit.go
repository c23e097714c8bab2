package he

import (
	"fmt"
	"io"
	"log"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// Config holds the depth budget of a Unit.
type Config struct {
	// MaxDepth is the level of a freshly encrypted or refreshed value.
	MaxDepth int `yaml:"max_depth" json:"max_depth"`
	// LogBaseScale is log2 of the canonical scale assigned on encryption and refresh.
	LogBaseScale int `yaml:"log_base_scale" json:"log_base_scale"`
}

// MaxLogBaseScale bounds Config.LogBaseScale.
const MaxLogBaseScale = 120

// DefaultConfig is a six-level budget at scale 2^40.
func DefaultConfig() Config {
	return Config{MaxDepth: 6, LogBaseScale: 40}
}

func (c Config) Validate() error {
	if c.MaxDepth < 2 {
		return fmt.Errorf("%w: max depth %d, need at least 2", ErrInvalidConfig, c.MaxDepth)
	}
	if c.LogBaseScale <= 0 || c.LogBaseScale > MaxLogBaseScale {
		return fmt.Errorf("%w: log base scale %d outside [1, %d]", ErrInvalidConfig, c.LogBaseScale, MaxLogBaseScale)
	}
	return nil
}

// Unit performs homomorphic arithmetic over CipherValue while keeping the level and
// scale bookkeeping and the depth budget. Multiplication is the only operation that
// consumes depth; whenever a product would be left with level <= 1 the unit refreshes
// it before returning.
//
// A Unit is not safe for concurrent use.
type Unit struct {
	provider Provider
	cfg      Config
	base     rlwe.Scale
	ledger   Ledger
	logger   *log.Logger
}

// NewUnit builds a unit on top of p. A nil logger discards output.
func NewUnit(p Provider, cfg Config, logger *log.Logger) (*Unit, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Unit{
		provider: p,
		cfg:      cfg,
		base:     scaleFromLog(float64(cfg.LogBaseScale)),
		ledger:   Ledger{MaxDepth: cfg.MaxDepth},
		logger:   logger,
	}, nil
}

// MaxDepth returns the configured depth budget.
func (u *Unit) MaxDepth() int { return u.cfg.MaxDepth }

// LogBaseScale returns log2 of the canonical scale.
func (u *Unit) LogBaseScale() int { return u.cfg.LogBaseScale }

// BaseScale returns the canonical scale of fresh values.
func (u *Unit) BaseScale() rlwe.Scale { return u.base }

// Ledger returns a snapshot of the operation counters.
func (u *Unit) Ledger() Ledger { return u.ledger }

// Provider exposes the underlying encryption provider.
func (u *Unit) Provider() Provider { return u.provider }

// Encrypt encrypts values into a fresh value at full depth and base scale.
func (u *Unit) Encrypt(values []float64) (CipherValue, error) {
	if len(values) == 0 {
		return CipherValue{}, fmt.Errorf("%w: cannot encrypt an empty vector", ErrInvalidCipherValue)
	}
	ct, err := u.provider.Encrypt(values)
	if err != nil {
		return CipherValue{}, providerErr(opEncrypt, err)
	}
	return u.fresh(ct, len(values)), nil
}

// Decrypt returns the first Size() plaintext values of v.
func (u *Unit) Decrypt(v CipherValue) ([]float64, error) {
	if err := u.check(v); err != nil {
		return nil, err
	}
	if v.level < 1 {
		return nil, providerErr(opDecrypt, fmt.Errorf("%w: level %d", ErrDepthExhaustion, v.level))
	}
	out, err := u.provider.Decrypt(v.ct, v.size)
	if err != nil {
		return nil, providerErr(opDecrypt, err)
	}
	return out, nil
}

// Add returns a + b. The result takes the larger size and the smaller level.
func (u *Unit) Add(a, b CipherValue) (CipherValue, error) {
	return u.additive(opAdd, a, b, u.provider.Add)
}

// Sub returns a - b under the same rules as Add.
func (u *Unit) Sub(a, b CipherValue) (CipherValue, error) {
	return u.additive(opSub, a, b, u.provider.Sub)
}

// AddScalar encrypts c broadcast to a's size and adds it to a.
func (u *Unit) AddScalar(a CipherValue, c float64) (CipherValue, error) {
	if err := u.check(a); err != nil {
		return CipherValue{}, err
	}
	vals := make([]float64, a.size)
	for i := range vals {
		vals[i] = c
	}
	enc, err := u.Encrypt(vals)
	if err != nil {
		return CipherValue{}, err
	}
	return u.Add(a, enc)
}

func (u *Unit) additive(op string, a, b CipherValue, fn func(a, b Ciphertext) (Ciphertext, error)) (CipherValue, error) {
	if err := u.check(a); err != nil {
		return CipherValue{}, err
	}
	if err := u.check(b); err != nil {
		return CipherValue{}, err
	}
	ct, err := fn(a.ct, b.ct)
	if err != nil {
		return CipherValue{}, providerErr(op, err)
	}
	u.ledger.Additions++
	return CipherValue{
		ct:    ct,
		size:  max(a.size, b.size),
		level: min(a.level, b.level),
		scale: a.scale,
	}, nil
}

// Multiply returns the element-wise product of a and b. The result is refreshed when
// its level would drop to 1 or below.
//
// Size departs from a plain min(a, b) on purpose: a size-1 operand is a broadcast
// scalar, so the result takes the other operand's size. Otherwise the smaller size
// wins.
func (u *Unit) Multiply(a, b CipherValue) (CipherValue, error) {
	if err := u.checkMul(a, b); err != nil {
		return CipherValue{}, err
	}
	ct, err := u.provider.Mul(a.ct, b.ct)
	if err != nil {
		return CipherValue{}, providerErr(opMul, err)
	}
	u.ledger.Multiplications++
	return u.settle(CipherValue{
		ct:    ct,
		size:  productSize(a.size, b.size),
		level: min(a.level, b.level) - 1,
		scale: a.scale.Mul(b.scale),
	})
}

// MultiplyScalar multiplies a by a plaintext constant. Level and scale are kept and
// no counter moves.
func (u *Unit) MultiplyScalar(a CipherValue, c float64) (CipherValue, error) {
	if err := u.check(a); err != nil {
		return CipherValue{}, err
	}
	ct, err := u.provider.MulScalar(a.ct, c)
	if err != nil {
		return CipherValue{}, providerErr(opMulScalar, err)
	}
	return CipherValue{ct: ct, size: a.size, level: a.level, scale: a.scale}, nil
}

// DotProduct multiplies a and b element-wise and sums the product into a scalar.
// It costs one level and counts as one multiplication.
func (u *Unit) DotProduct(a, b CipherValue) (CipherValue, error) {
	if err := u.checkMul(a, b); err != nil {
		return CipherValue{}, err
	}
	prod, err := u.provider.Mul(a.ct, b.ct)
	if err != nil {
		return CipherValue{}, providerErr(opMul, err)
	}
	sum, err := u.provider.SumReduce(prod, productSize(a.size, b.size))
	if err != nil {
		return CipherValue{}, providerErr(opSum, err)
	}
	u.ledger.Multiplications++
	return u.settle(CipherValue{
		ct:    sum,
		size:  1,
		level: min(a.level, b.level) - 1,
		scale: a.scale.Mul(b.scale),
	})
}

// Power computes a^n with n-1 multiplications.
func (u *Unit) Power(a CipherValue, n int) (CipherValue, error) {
	if n < 1 {
		return CipherValue{}, fmt.Errorf("%w: %d", ErrInvalidExponent, n)
	}
	if err := u.check(a); err != nil {
		return CipherValue{}, err
	}
	res := a
	for i := 1; i < n; i++ {
		var err error
		if res, err = u.Multiply(res, a); err != nil {
			return CipherValue{}, fmt.Errorf("power step %d/%d: %w", i, n-1, err)
		}
	}
	return res, nil
}

// Bootstrap refreshes a back to full depth and base scale. It always runs, even on a
// value that is already at full depth.
func (u *Unit) Bootstrap(a CipherValue) (CipherValue, error) {
	if err := u.check(a); err != nil {
		return CipherValue{}, err
	}
	ct, err := u.provider.Refresh(a.ct)
	if err != nil {
		return CipherValue{}, providerErr(opRefresh, err)
	}
	u.ledger.Bootstraps++
	u.logger.Printf("Bootstrapping #%d (level %d -> %d)", u.ledger.Bootstraps, a.level, u.cfg.MaxDepth)
	return u.fresh(ct, a.size), nil
}

func (u *Unit) settle(v CipherValue) (CipherValue, error) {
	if v.level > 1 {
		return v, nil
	}
	return u.Bootstrap(v)
}

func (u *Unit) fresh(ct Ciphertext, size int) CipherValue {
	return CipherValue{ct: ct, size: size, level: u.cfg.MaxDepth, scale: u.base}
}

func (u *Unit) check(v CipherValue) error {
	switch {
	case v.ct == nil:
		return fmt.Errorf("%w: missing ciphertext", ErrInvalidCipherValue)
	case v.size < 1:
		return fmt.Errorf("%w: size %d", ErrInvalidCipherValue, v.size)
	case !positive(v.scale):
		return fmt.Errorf("%w: non-positive scale", ErrInvalidCipherValue)
	case v.level > u.cfg.MaxDepth:
		return fmt.Errorf("%w: level %d above max depth %d", ErrInvalidCipherValue, v.level, u.cfg.MaxDepth)
	}
	return nil
}

func (u *Unit) checkMul(a, b CipherValue) error {
	for _, v := range [...]CipherValue{a, b} {
		if err := u.check(v); err != nil {
			return err
		}
		if v.level <= 1 {
			return fmt.Errorf("%w: multiply operand at level %d", ErrDepthExhaustion, v.level)
		}
	}
	return nil
}

func productSize(a, b int) int {
	switch {
	case a == 1:
		return b
	case b == 1:
		return a
	}
	return min(a, b)
}
