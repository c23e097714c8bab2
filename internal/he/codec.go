package he

import (
	"encoding/base64"
	"fmt"
	"math"
	"math/big"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// MaxCiphertextSize bounds a decoded ciphertext payload.
const MaxCiphertextSize = 10 * 1024 * 1024

// Envelope is the wire form of a CipherValue.
type Envelope struct {
	Size       int     `json:"size"`
	Level      int     `json:"level"`
	LogScale   float64 `json:"log_scale"`
	Ciphertext string  `json:"ciphertext"` // base64
}

// Seal serializes v into an envelope.
func (u *Unit) Seal(v CipherValue) (Envelope, error) {
	if err := u.check(v); err != nil {
		return Envelope{}, err
	}
	data, err := v.ct.MarshalBinary()
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to serialize ciphertext: %w", err)
	}
	return Envelope{
		Size:       v.size,
		Level:      v.level,
		LogScale:   v.LogScale(),
		Ciphertext: base64.StdEncoding.EncodeToString(data),
	}, nil
}

// Open rebuilds a CipherValue from an envelope produced by Seal, possibly by
// another process sharing the same keys.
func (u *Unit) Open(env Envelope) (CipherValue, error) {
	if env.Size < 1 {
		return CipherValue{}, fmt.Errorf("%w: size %d", ErrInvalidCipherValue, env.Size)
	}
	if env.Level < 2 || env.Level > u.cfg.MaxDepth {
		return CipherValue{}, fmt.Errorf("%w: level %d outside [2, %d]", ErrInvalidCipherValue, env.Level, u.cfg.MaxDepth)
	}
	if math.IsNaN(env.LogScale) || math.IsInf(env.LogScale, 0) || env.LogScale <= 0 {
		return CipherValue{}, fmt.Errorf("%w: log scale %v", ErrInvalidCipherValue, env.LogScale)
	}
	if base64.StdEncoding.DecodedLen(len(env.Ciphertext)) > MaxCiphertextSize {
		return CipherValue{}, fmt.Errorf("%w: ciphertext too large (max %d bytes)", ErrInvalidCipherValue, MaxCiphertextSize)
	}
	data, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return CipherValue{}, fmt.Errorf("%w: invalid base64 encoding: %v", ErrInvalidCipherValue, err)
	}
	ct, err := u.provider.UnmarshalCiphertext(data)
	if err != nil {
		return CipherValue{}, providerErr(opUnmarshal, err)
	}
	return CipherValue{ct: ct, size: env.Size, level: env.Level, scale: scaleFromLog(env.LogScale)}, nil
}

func scaleFromLog(logScale float64) rlwe.Scale {
	whole, frac := math.Modf(logScale)
	f := new(big.Float).SetMantExp(big.NewFloat(math.Exp2(frac)), int(whole))
	return rlwe.NewScale(f)
}
