// Package ckksprovider implements he.Provider on top of the lattigo CKKS scheme.
//
// The provider is also the key holder: it keeps the secret key so that Refresh can
// renew a ciphertext by decrypting and re-encrypting it at the top of the modulus
// chain. Real bootstrapping is out of scope.
package ckksprovider

import (
	"fmt"
	"io"
	"log"
	"math"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"

	"github.com/z3rotig4r/ckks_train/internal/he"
)

// Stats counts the key-holder refreshes performed by the provider.
type Stats struct {
	// Refreshes requested through Refresh.
	Refreshes int `json:"refreshes"`
	// Reencryptions done implicitly because a ciphertext ran out of physical levels
	// (plaintext-constant products consume moduli that the unit does not account for).
	Reencryptions int `json:"reencryptions"`
}

type Provider struct {
	params    ckks.Parameters
	encoder   *ckks.Encoder
	encryptor *rlwe.Encryptor
	decryptor *rlwe.Decryptor
	evaluator *ckks.Evaluator

	stats  Stats
	logger *log.Logger
}

// New generates a fresh key set for params: secret/public keys, relinearization key
// and the Galois keys needed to sum over every slot.
func New(params ckks.Parameters, logger *log.Logger) (*Provider, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if params.MaxLevel() < 1 {
		return nil, fmt.Errorf("ckks parameters need at least one rescaling level, got max level %d", params.MaxLevel())
	}

	kgen := ckks.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPairNew()
	rlk := kgen.GenRelinearizationKeyNew(sk)
	galEls := rlwe.GaloisElementsForInnerSum(params, 1, params.MaxSlots())
	gks := kgen.GenGaloisKeysNew(galEls, sk)
	evk := rlwe.NewMemEvaluationKeySet(rlk, gks...)

	logger.Printf("CKKS Parameters: LogN=%d, MaxLevel=%d, MaxSlots=%d, Galois keys=%d",
		params.LogN(), params.MaxLevel(), params.MaxSlots(), len(gks))

	return &Provider{
		params:    params,
		encoder:   ckks.NewEncoder(params),
		encryptor: ckks.NewEncryptor(params, pk),
		decryptor: ckks.NewDecryptor(params, sk),
		evaluator: ckks.NewEvaluator(params, evk),
		logger:    logger,
	}, nil
}

func (p *Provider) Params() ckks.Parameters { return p.params }

func (p *Provider) Stats() Stats { return p.stats }

// Encrypt encodes values at the top level. A single value is replicated in every
// slot; longer vectors are zero-padded.
func (p *Provider) Encrypt(values []float64) (he.Ciphertext, error) {
	slots := p.params.MaxSlots()
	if len(values) == 0 || len(values) > slots {
		return nil, fmt.Errorf("cannot encrypt %d values into %d slots", len(values), slots)
	}
	vals := make([]float64, slots)
	if len(values) == 1 {
		for i := range vals {
			vals[i] = values[0]
		}
	} else {
		copy(vals, values)
	}
	return p.encryptSlots(vals)
}

func (p *Provider) encryptSlots(vals []float64) (*rlwe.Ciphertext, error) {
	pt := ckks.NewPlaintext(p.params, p.params.MaxLevel())
	if err := p.encoder.Encode(vals, pt); err != nil {
		return nil, fmt.Errorf("encode failed: %w", err)
	}
	ct, err := p.encryptor.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("encrypt failed: %w", err)
	}
	return ct, nil
}

func (p *Provider) Decrypt(c he.Ciphertext, n int) ([]float64, error) {
	ct, err := p.ciphertext(c)
	if err != nil {
		return nil, err
	}
	if n < 1 || n > p.params.MaxSlots() {
		return nil, fmt.Errorf("cannot read %d slots out of %d", n, p.params.MaxSlots())
	}
	vals, err := p.decryptSlots(ct)
	if err != nil {
		return nil, err
	}
	return vals[:n], nil
}

func (p *Provider) decryptSlots(ct *rlwe.Ciphertext) ([]float64, error) {
	pt := p.decryptor.DecryptNew(ct)
	vals := make([]float64, p.params.MaxSlots())
	if err := p.encoder.Decode(pt, vals); err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}
	return vals, nil
}

func (p *Provider) Add(a, b he.Ciphertext) (he.Ciphertext, error) {
	ca, cb, err := p.pair(a, b)
	if err != nil {
		return nil, err
	}
	out, err := p.evaluator.AddNew(ca, cb)
	if err != nil {
		return nil, fmt.Errorf("addition failed: %w", err)
	}
	return out, nil
}

func (p *Provider) Sub(a, b he.Ciphertext) (he.Ciphertext, error) {
	ca, cb, err := p.pair(a, b)
	if err != nil {
		return nil, err
	}
	out, err := p.evaluator.SubNew(ca, cb)
	if err != nil {
		return nil, fmt.Errorf("subtraction failed: %w", err)
	}
	return out, nil
}

// Mul multiplies, relinearizes and rescales.
func (p *Provider) Mul(a, b he.Ciphertext) (he.Ciphertext, error) {
	ca, cb, err := p.pair(a, b)
	if err != nil {
		return nil, err
	}
	if ca, err = p.ensureLevel(ca); err != nil {
		return nil, err
	}
	if cb, err = p.ensureLevel(cb); err != nil {
		return nil, err
	}
	out, err := p.evaluator.MulRelinNew(ca, cb)
	if err != nil {
		return nil, fmt.Errorf("multiplication failed: %w", err)
	}
	if err := p.evaluator.Rescale(out, out); err != nil {
		return nil, fmt.Errorf("rescaling failed: %w", err)
	}
	return out, nil
}

// MulScalar multiplies by a constant. Integer constants are encoded with scale 1 and
// need no rescale; other constants are scaled by the current modulus and rescaled.
func (p *Provider) MulScalar(a he.Ciphertext, c float64) (he.Ciphertext, error) {
	ca, err := p.ciphertext(a)
	if err != nil {
		return nil, err
	}
	if c == math.Trunc(c) && math.Abs(c) < 1<<53 {
		out, err := p.evaluator.MulNew(ca, int64(c))
		if err != nil {
			return nil, fmt.Errorf("constant multiplication failed: %w", err)
		}
		return out, nil
	}
	if ca, err = p.ensureLevel(ca); err != nil {
		return nil, err
	}
	out, err := p.evaluator.MulNew(ca, c)
	if err != nil {
		return nil, fmt.Errorf("constant multiplication failed: %w", err)
	}
	if err := p.evaluator.Rescale(out, out); err != nil {
		return nil, fmt.Errorf("rescaling failed: %w", err)
	}
	return out, nil
}

// SumReduce sums the first n slots and replicates the result in every slot. When n
// does not cover every slot the other slots are masked out first, which costs one
// rescale.
func (p *Provider) SumReduce(a he.Ciphertext, n int) (he.Ciphertext, error) {
	ca, err := p.ciphertext(a)
	if err != nil {
		return nil, err
	}
	slots := p.params.MaxSlots()
	if n < 1 || n > slots {
		return nil, fmt.Errorf("cannot sum %d slots out of %d", n, slots)
	}
	if n < slots {
		if ca, err = p.ensureLevel(ca); err != nil {
			return nil, err
		}
		mask := make([]float64, slots)
		for i := 0; i < n; i++ {
			mask[i] = 1
		}
		if ca, err = p.evaluator.MulNew(ca, mask); err != nil {
			return nil, fmt.Errorf("masking failed: %w", err)
		}
		if err := p.evaluator.Rescale(ca, ca); err != nil {
			return nil, fmt.Errorf("rescaling failed: %w", err)
		}
	}
	out := ckks.NewCiphertext(p.params, ca.Degree(), ca.Level())
	if err := p.evaluator.InnerSum(ca, 1, p.params.MaxSlots(), out); err != nil {
		return nil, fmt.Errorf("inner sum failed: %w", err)
	}
	return out, nil
}

// Refresh re-encrypts a at the top level with the default scale.
func (p *Provider) Refresh(a he.Ciphertext) (he.Ciphertext, error) {
	ca, err := p.ciphertext(a)
	if err != nil {
		return nil, err
	}
	out, err := p.reencrypt(ca)
	if err != nil {
		return nil, err
	}
	p.stats.Refreshes++
	return out, nil
}

func (p *Provider) UnmarshalCiphertext(data []byte) (he.Ciphertext, error) {
	ct := new(rlwe.Ciphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("invalid ciphertext: %w", err)
	}
	if ct.Level() < 0 || ct.Level() > p.params.MaxLevel() {
		return nil, fmt.Errorf("invalid ciphertext level %d (max: %d)", ct.Level(), p.params.MaxLevel())
	}
	return ct, nil
}

func (p *Provider) reencrypt(ct *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	vals, err := p.decryptSlots(ct)
	if err != nil {
		return nil, err
	}
	return p.encryptSlots(vals)
}

// ensureLevel makes sure ct can afford one rescale.
func (p *Provider) ensureLevel(ct *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	if ct.Level() >= 1 {
		return ct, nil
	}
	out, err := p.reencrypt(ct)
	if err != nil {
		return nil, err
	}
	p.stats.Reencryptions++
	p.logger.Printf("Re-encrypting exhausted ciphertext (#%d)", p.stats.Reencryptions)
	return out, nil
}

func (p *Provider) ciphertext(c he.Ciphertext) (*rlwe.Ciphertext, error) {
	ct, ok := c.(*rlwe.Ciphertext)
	if !ok || ct == nil {
		return nil, fmt.Errorf("unexpected ciphertext type %T", c)
	}
	return ct, nil
}

func (p *Provider) pair(a, b he.Ciphertext) (*rlwe.Ciphertext, *rlwe.Ciphertext, error) {
	ca, err := p.ciphertext(a)
	if err != nil {
		return nil, nil, err
	}
	cb, err := p.ciphertext(b)
	if err != nil {
		return nil, nil, err
	}
	return ca, cb, nil
}
