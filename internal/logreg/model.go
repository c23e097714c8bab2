// Package logreg trains and runs logistic regression over encrypted samples.
//
// Every sample, label and parameter stays encrypted from EncryptData until
// DecryptPredictions. The model owns its ModelState and is the only writer.
package logreg

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/z3rotig4r/ckks_train/internal/he"
	"github.com/z3rotig4r/ckks_train/internal/sigmoid"
)

// progressEvery is the sample interval of progress lines and checkpoints.
const progressEvery = 100

// Checkpoint labels emitted at phase boundaries.
const (
	CheckpointEncryption  = "Encryption complete"
	CheckpointTraining    = "Training complete"
	CheckpointPredictions = "Predictions complete"
	CheckpointDecryption  = "Decryption complete"
)

// Checkpointer receives phase-boundary notifications. Implementations must not
// block for long; their outcome does not affect the model.
type Checkpointer interface {
	Checkpoint(label string)
}

type Config struct {
	NIter        int     `yaml:"n_iter" json:"n_iter"`
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate"`
	BatchSize    int     `yaml:"batch_size" json:"batch_size"`
	Seed         uint64  `yaml:"seed" json:"seed"`
}

func DefaultConfig() Config {
	return Config{NIter: 30, LearningRate: 0.1, BatchSize: 32, Seed: 42}
}

func (c Config) Validate() error {
	switch {
	case c.NIter <= 0:
		return fmt.Errorf("%w: n_iter must be positive, got %d", ErrInvalidConfig, c.NIter)
	case !(c.LearningRate > 0) || math.IsInf(c.LearningRate, 0):
		return fmt.Errorf("%w: learning_rate must be positive, got %v", ErrInvalidConfig, c.LearningRate)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	}
	return nil
}

// Model is an encrypted logistic regression. It is not safe for concurrent use.
type Model struct {
	unit       *he.Unit
	cfg        Config
	activation sigmoid.Approximation
	rule       UpdateRule
	monitor    Checkpointer
	logger     *log.Logger
	rng        *rand.Rand

	state          *ModelState
	trained        bool
	lastCheckpoint string
}

// Option customizes a Model.
type Option func(*Model)

// WithActivation replaces the default degree-3 sigmoid polynomial.
func WithActivation(a sigmoid.Approximation) Option {
	return func(m *Model) { m.activation = a }
}

// WithUpdateRule replaces FixedStepRule.
func WithUpdateRule(r UpdateRule) Option {
	return func(m *Model) { m.rule = r }
}

func WithCheckpointer(c Checkpointer) Option {
	return func(m *Model) { m.monitor = c }
}

func WithLogger(l *log.Logger) Option {
	return func(m *Model) { m.logger = l }
}

// New builds an untrained model computing on u.
func New(u *he.Unit, cfg Config, opts ...Option) (*Model, error) {
	if u == nil {
		return nil, fmt.Errorf("%w: nil arithmetic unit", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Model{
		unit:       u,
		cfg:        cfg,
		activation: sigmoid.NewPolynomial3(),
		rule:       FixedStepRule{},
		rng:        rand.New(rand.NewSource(cfg.Seed)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.New(io.Discard, "", 0)
	}
	if m.activation == nil || m.rule == nil {
		return nil, fmt.Errorf("%w: activation and update rule are required", ErrInvalidConfig)
	}
	return m, nil
}

func (m *Model) Unit() *he.Unit { return m.unit }

func (m *Model) Config() Config { return m.cfg }

func (m *Model) Activation() sigmoid.Approximation { return m.activation }

func (m *Model) UpdateRule() UpdateRule { return m.rule }

// Trained reports whether the last Fit ran to completion.
func (m *Model) Trained() bool { return m.trained }

// State returns the current parameters.
func (m *Model) State() (ModelState, error) {
	if m.state == nil {
		return ModelState{}, ErrUninitializedModel
	}
	return *m.state, nil
}

// LastCheckpoint returns the label of the most recent checkpoint.
func (m *Model) LastCheckpoint() string { return m.lastCheckpoint }

// Reset drops the parameters so that InitializeWeights may run again.
func (m *Model) Reset() {
	m.state = nil
	m.trained = false
}

func (m *Model) checkpoint(label string) {
	m.lastCheckpoint = label
	if m.monitor != nil {
		m.monitor.Checkpoint(label)
	}
}

// EncryptData encrypts every row of X and, when y is not nil, every label as a
// scalar. The outputs are parallel to the inputs.
func (m *Model) EncryptData(X [][]float64, y []float64) ([]he.CipherValue, []he.CipherValue, error) {
	if y != nil && len(y) != len(X) {
		return nil, nil, fmt.Errorf("%w: %d samples but %d labels", ErrShapeMismatch, len(X), len(y))
	}
	start := time.Now()

	encX := make([]he.CipherValue, len(X))
	for i, row := range X {
		if i%progressEvery == 0 {
			m.logger.Printf("Encrypting sample %d/%d", i, len(X))
		}
		ct, err := m.unit.Encrypt(row)
		if err != nil {
			return nil, nil, fmt.Errorf("encrypt sample %d: %w", i, err)
		}
		encX[i] = ct
	}

	var encY []he.CipherValue
	if y != nil {
		encY = make([]he.CipherValue, len(y))
		for i, label := range y {
			ct, err := m.unit.Encrypt([]float64{label})
			if err != nil {
				return nil, nil, fmt.Errorf("encrypt label %d: %w", i, err)
			}
			encY[i] = ct
		}
	}

	m.logger.Printf("Encrypted %d samples in %.3f ms", len(X), float64(time.Since(start).Microseconds())/1000.0)
	m.checkpoint(CheckpointEncryption)
	return encX, encY, nil
}

// InitializeWeights draws weights from U(-l, l) with l = sqrt(6/(n+1)) and a zero
// bias, then encrypts them.
func (m *Model) InitializeWeights(nFeatures int) error {
	if m.state != nil {
		return ErrAlreadyInitialized
	}
	if nFeatures < 1 {
		return fmt.Errorf("%w: need at least one feature, got %d", ErrShapeMismatch, nFeatures)
	}

	limit := math.Sqrt(6.0 / float64(nFeatures+1))
	dist := distuv.Uniform{Min: -limit, Max: limit, Src: m.rng}
	weights := make([]float64, nFeatures)
	for i := range weights {
		weights[i] = dist.Rand()
	}

	w, err := m.unit.Encrypt(weights)
	if err != nil {
		return fmt.Errorf("encrypt weights: %w", err)
	}
	b, err := m.unit.Encrypt([]float64{0})
	if err != nil {
		return fmt.Errorf("encrypt bias: %w", err)
	}
	m.state = &ModelState{Weights: w, Bias: b}
	m.trained = false
	m.logger.Printf("Initialized %d weights (limit %.4f)", nFeatures, limit)
	return nil
}

// ForwardPass returns activation(x·w + b).
func (m *Model) ForwardPass(x he.CipherValue) (he.CipherValue, error) {
	if m.state == nil {
		return he.CipherValue{}, ErrUninitializedModel
	}
	z, err := m.unit.DotProduct(x, m.state.Weights)
	if err != nil {
		return he.CipherValue{}, fmt.Errorf("dot product: %w", err)
	}
	if z, err = m.unit.Add(z, m.state.Bias); err != nil {
		return he.CipherValue{}, fmt.Errorf("bias: %w", err)
	}
	out, err := m.activation.Evaluate(m.unit, z)
	if err != nil {
		return he.CipherValue{}, fmt.Errorf("activation %s: %w", m.activation.Name(), err)
	}
	return out, nil
}

// UpdateParameters applies the configured update rule for one sample. The state is
// replaced only when the whole update succeeds.
func (m *Model) UpdateParameters(x, y, pred he.CipherValue) error {
	if m.state == nil {
		return ErrUninitializedModel
	}
	next, err := m.rule.Update(m.unit, *m.state, x, y, pred, m.cfg.LearningRate)
	if err != nil {
		return fmt.Errorf("%s update: %w", m.rule.Name(), err)
	}
	m.state = &next
	return nil
}

// Fit trains for NIter epochs, one sample at a time in a seeded random order.
// Batches only pace the progress output. Cancellation is honoured between samples.
//
// On failure the parameters are restored to the end of the last completed epoch and
// a *TrainingError is returned.
func (m *Model) Fit(ctx context.Context, X, y []he.CipherValue, nFeatures int) error {
	if len(X) != len(y) {
		return fmt.Errorf("%w: %d samples but %d labels", ErrShapeMismatch, len(X), len(y))
	}
	for i, x := range X {
		if x.Size() != nFeatures {
			return fmt.Errorf("%w: sample %d has %d features, want %d", ErrShapeMismatch, i, x.Size(), nFeatures)
		}
	}
	if m.state == nil {
		if err := m.InitializeWeights(nFeatures); err != nil {
			return err
		}
	} else if m.state.Weights.Size() != nFeatures {
		return fmt.Errorf("%w: model has %d weights, data has %d features", ErrShapeMismatch, m.state.Weights.Size(), nFeatures)
	}

	m.trained = false
	m.logger.Printf("Starting homomorphic training: iterations=%d lr=%v batch=%d rule=%s activation=%s",
		m.cfg.NIter, m.cfg.LearningRate, m.cfg.BatchSize, m.rule.Name(), m.activation.Name())

	n := len(X)
	for epoch := 1; epoch <= m.cfg.NIter; epoch++ {
		m.logger.Printf("Epoch %d/%d", epoch, m.cfg.NIter)
		epochStart := time.Now()
		saved := *m.state
		fail := func(done int, err error) error {
			m.state = &saved
			if he.IsFatal(err) {
				m.logger.Printf("FATAL: depth accounting violated at epoch %d sample %d: %v", epoch, done, err)
			}
			return &TrainingError{Epoch: epoch, Sample: done, Checkpoint: m.lastCheckpoint, Err: err}
		}

		order := m.rng.Perm(n)
		processed := 0
		for batchStart := 0; batchStart < n; batchStart += m.cfg.BatchSize {
			batchEnd := min(batchStart+m.cfg.BatchSize, n)
			for _, idx := range order[batchStart:batchEnd] {
				if err := ctx.Err(); err != nil {
					return fail(processed, err)
				}
				pred, err := m.ForwardPass(X[idx])
				if err != nil {
					return fail(processed, fmt.Errorf("sample %d forward pass: %w", idx, err))
				}
				if err := m.UpdateParameters(X[idx], y[idx], pred); err != nil {
					return fail(processed, fmt.Errorf("sample %d: %w", idx, err))
				}
				processed++
			}
			if processed%progressEvery == 0 || processed == n {
				m.logger.Printf("  Processed %d/%d samples, operations: %s", processed, n, m.unit.Ledger())
			}
		}

		m.logger.Printf("  Epoch completed in %.3f ms", float64(time.Since(epochStart).Microseconds())/1000.0)
		m.checkpoint(fmt.Sprintf("Epoch %d", epoch))
	}

	m.logger.Printf("Total operations: %s", m.unit.Ledger())
	m.trained = true
	m.checkpoint(CheckpointTraining)
	return nil
}
