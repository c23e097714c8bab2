package he

import (
	"fmt"
	"math"
	"math/big"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// CipherValue is one encrypted vector (a scalar when Size() == 1) together with the
// level and scale the unit tracks for it. Values are never modified after creation.
type CipherValue struct {
	ct    Ciphertext
	size  int
	level int
	scale rlwe.Scale
}

func (v CipherValue) Ciphertext() Ciphertext { return v.ct }

// Size is the plaintext vector length.
func (v CipherValue) Size() int { return v.size }

// Level is the remaining multiplicative depth before a refresh is mandatory.
func (v CipherValue) Level() int { return v.level }

// Scale is the accumulated fixed-point scaling factor.
func (v CipherValue) Scale() rlwe.Scale { return v.scale }

// LogScale returns log2 of the scale without going through float64, so it stays
// finite for very long multiplication chains.
func (v CipherValue) LogScale() float64 {
	return logScale(v.scale)
}

// IsZero reports whether v is the zero CipherValue (no payload attached).
func (v CipherValue) IsZero() bool { return v.ct == nil }

func (v CipherValue) String() string {
	return fmt.Sprintf("CipherValue{size=%d level=%d scale=2^%.2f}", v.size, v.level, v.LogScale())
}

func logScale(s rlwe.Scale) float64 {
	if s.Value.Sign() <= 0 {
		return math.Inf(-1)
	}
	mant := new(big.Float)
	exp := s.Value.MantExp(mant)
	m, _ := mant.Float64()
	return float64(exp) + math.Log2(m)
}

func positive(s rlwe.Scale) bool {
	return s.Value.Sign() > 0
}
