package he

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidExponent is returned by Power when n < 1.
	ErrInvalidExponent = errors.New("he: invalid exponent")

	// ErrDepthExhaustion signals that a value reached the multiplier with its level
	// already drained and the unit did not refresh it. It is an internal-consistency
	// violation and must never be recovered from.
	ErrDepthExhaustion = errors.New("he: depth exhausted without refresh")

	// ErrEncryptionProvider matches every failure reported by the encryption provider.
	ErrEncryptionProvider = errors.New("he: encryption provider failure")

	// ErrDecryption matches provider failures raised while decrypting.
	ErrDecryption = errors.New("he: decryption failed")

	ErrInvalidCipherValue = errors.New("he: invalid cipher value")
	ErrInvalidConfig      = errors.New("he: invalid unit configuration")
)

// ProviderError wraps a failure of the external encryption provider.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("he: provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is lets errors.Is match the provider kinds without losing the wrapped cause.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrEncryptionProvider:
		return true
	case ErrDecryption:
		return e.Op == opDecrypt
	}
	return false
}

// IsFatal reports whether err is an internal-consistency violation of the unit.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDepthExhaustion)
}

const (
	opEncrypt   = "encrypt"
	opDecrypt   = "decrypt"
	opAdd       = "add"
	opSub       = "sub"
	opMul       = "multiply"
	opMulScalar = "multiply-scalar"
	opSum       = "sum-reduce"
	opRefresh   = "refresh"
	opUnmarshal = "unmarshal"
)

func providerErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Op: op, Err: err}
}
