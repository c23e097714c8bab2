// Package plainprovider is a plaintext stand-in for an HE backend. It keeps vectors
// in the clear and follows the same slot convention as the CKKS provider, which makes
// depth accounting and training runs cheap to test.
package plainprovider

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/z3rotig4r/ckks_train/internal/he"
)

// Operation names used by Calls and InjectFault.
const (
	OpEncrypt   = "encrypt"
	OpDecrypt   = "decrypt"
	OpAdd       = "add"
	OpSub       = "sub"
	OpMul       = "mul"
	OpMulScalar = "mul-scalar"
	OpSum       = "sum"
	OpRefresh   = "refresh"
	OpUnmarshal = "unmarshal"
)

var errForeignCiphertext = errors.New("plainprovider: ciphertext was not produced by this provider")

// Vector is the payload handled by Provider. A scalar is broadcast to every slot.
type Vector struct {
	values []float64
	scalar bool
}

func (v *Vector) slot(i int) float64 {
	if v.scalar {
		return v.values[0]
	}
	if i < len(v.values) {
		return v.values[i]
	}
	return 0
}

func (v *Vector) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 5+8*len(v.values))
	if v.scalar {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(v.values)))
	for i, x := range v.values {
		binary.LittleEndian.PutUint64(buf[5+8*i:], math.Float64bits(x))
	}
	return buf, nil
}

func (v *Vector) UnmarshalBinary(data []byte) error {
	if len(data) < 5 {
		return fmt.Errorf("plainprovider: payload too short (%d bytes)", len(data))
	}
	n := int(binary.LittleEndian.Uint32(data[1:5]))
	if n < 1 || len(data) != 5+8*n {
		return fmt.Errorf("plainprovider: payload length %d does not match %d slots", len(data), n)
	}
	v.scalar = data[0] == 1
	v.values = make([]float64, n)
	for i := range v.values {
		v.values[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[5+8*i:]))
	}
	return nil
}

type fault struct {
	after int
	err   error
}

// Provider implements he.Provider over plaintext vectors.
type Provider struct {
	noise  *distuv.Normal
	calls  map[string]int
	faults map[string]*fault
}

// Option configures a Provider.
type Option func(*Provider)

// WithNoise adds zero-mean Gaussian noise of the given standard deviation to every
// encryption and refresh, imitating the approximation error of CKKS.
func WithNoise(sigma float64, seed uint64) Option {
	return func(p *Provider) {
		p.noise = &distuv.Normal{Mu: 0, Sigma: sigma, Src: rand.NewSource(seed)}
	}
}

func New(opts ...Option) *Provider {
	p := &Provider{calls: make(map[string]int), faults: make(map[string]*fault)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// InjectFault makes op fail with err once it has succeeded after times.
func (p *Provider) InjectFault(op string, after int, err error) {
	p.faults[op] = &fault{after: after, err: err}
}

// Calls returns how many times op was invoked.
func (p *Provider) Calls(op string) int { return p.calls[op] }

func (p *Provider) enter(op string) error {
	p.calls[op]++
	f, ok := p.faults[op]
	if !ok {
		return nil
	}
	if f.after > 0 {
		f.after--
		return nil
	}
	return f.err
}

func (p *Provider) perturb(vals []float64) {
	if p.noise == nil {
		return
	}
	for i := range vals {
		vals[i] += p.noise.Rand()
	}
}

func (p *Provider) Encrypt(values []float64) (he.Ciphertext, error) {
	if err := p.enter(OpEncrypt); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, errors.New("plainprovider: empty plaintext")
	}
	vals := append([]float64(nil), values...)
	p.perturb(vals)
	return &Vector{values: vals, scalar: len(vals) == 1}, nil
}

func (p *Provider) Decrypt(ct he.Ciphertext, n int) ([]float64, error) {
	if err := p.enter(OpDecrypt); err != nil {
		return nil, err
	}
	v, err := vector(ct)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = v.slot(i)
	}
	return out, nil
}

func (p *Provider) Add(a, b he.Ciphertext) (he.Ciphertext, error) {
	if err := p.enter(OpAdd); err != nil {
		return nil, err
	}
	return zip(a, b, func(x, y float64) float64 { return x + y })
}

func (p *Provider) Sub(a, b he.Ciphertext) (he.Ciphertext, error) {
	if err := p.enter(OpSub); err != nil {
		return nil, err
	}
	return zip(a, b, func(x, y float64) float64 { return x - y })
}

func (p *Provider) Mul(a, b he.Ciphertext) (he.Ciphertext, error) {
	if err := p.enter(OpMul); err != nil {
		return nil, err
	}
	return zip(a, b, func(x, y float64) float64 { return x * y })
}

func (p *Provider) MulScalar(a he.Ciphertext, c float64) (he.Ciphertext, error) {
	if err := p.enter(OpMulScalar); err != nil {
		return nil, err
	}
	v, err := vector(a)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(v.values))
	for i, x := range v.values {
		out[i] = x * c
	}
	return &Vector{values: out, scalar: v.scalar}, nil
}

func (p *Provider) SumReduce(a he.Ciphertext, n int) (he.Ciphertext, error) {
	if err := p.enter(OpSum); err != nil {
		return nil, err
	}
	v, err := vector(a)
	if err != nil {
		return nil, err
	}
	var s float64
	for i := 0; i < n; i++ {
		s += v.slot(i)
	}
	return &Vector{values: []float64{s}, scalar: true}, nil
}

func (p *Provider) Refresh(a he.Ciphertext) (he.Ciphertext, error) {
	if err := p.enter(OpRefresh); err != nil {
		return nil, err
	}
	v, err := vector(a)
	if err != nil {
		return nil, err
	}
	vals := append([]float64(nil), v.values...)
	p.perturb(vals)
	return &Vector{values: vals, scalar: v.scalar}, nil
}

func (p *Provider) UnmarshalCiphertext(data []byte) (he.Ciphertext, error) {
	if err := p.enter(OpUnmarshal); err != nil {
		return nil, err
	}
	v := new(Vector)
	if err := v.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return v, nil
}

func vector(ct he.Ciphertext) (*Vector, error) {
	v, ok := ct.(*Vector)
	if !ok || v == nil || len(v.values) == 0 {
		return nil, errForeignCiphertext
	}
	return v, nil
}

func zip(a, b he.Ciphertext, op func(x, y float64) float64) (he.Ciphertext, error) {
	va, err := vector(a)
	if err != nil {
		return nil, err
	}
	vb, err := vector(b)
	if err != nil {
		return nil, err
	}
	if va.scalar && vb.scalar {
		return &Vector{values: []float64{op(va.values[0], vb.values[0])}, scalar: true}, nil
	}
	n := 0
	if !va.scalar {
		n = len(va.values)
	}
	if !vb.scalar {
		n = max(n, len(vb.values))
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = op(va.slot(i), vb.slot(i))
	}
	return &Vector{values: out}, nil
}
