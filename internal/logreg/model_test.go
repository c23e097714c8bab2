package logreg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z3rotig4r/ckks_train/internal/he"
	"github.com/z3rotig4r/ckks_train/internal/he/plainprovider"
)

type recorder struct {
	labels []string
	hook   func(label string)
}

func (r *recorder) Checkpoint(label string) {
	r.labels = append(r.labels, label)
	if r.hook != nil {
		r.hook(label)
	}
}

func newModel(t *testing.T, maxDepth int, cfg Config, opts ...Option) (*Model, *plainprovider.Provider) {
	t.Helper()
	p := plainprovider.New()
	u, err := he.NewUnit(p, he.Config{MaxDepth: maxDepth, LogBaseScale: 40}, nil)
	require.NoError(t, err)
	m, err := New(u, cfg, opts...)
	require.NoError(t, err)
	return m, p
}

func decryptState(t *testing.T, m *Model) ([]float64, float64) {
	t.Helper()
	s, err := m.State()
	require.NoError(t, err)
	w, err := m.Unit().Decrypt(s.Weights)
	require.NoError(t, err)
	b, err := m.Unit().Decrypt(s.Bias)
	require.NoError(t, err)
	return w, b[0]
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	for _, cfg := range []Config{
		{NIter: 0, LearningRate: 0.1, BatchSize: 32},
		{NIter: 1, LearningRate: 0, BatchSize: 32},
		{NIter: 1, LearningRate: math.NaN(), BatchSize: 32},
		{NIter: 1, LearningRate: 0.1, BatchSize: 0},
	} {
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, "%+v", cfg)
	}
}

func TestForwardPassRange(t *testing.T) {
	m, _ := newModel(t, 6, Config{NIter: 1, LearningRate: 0.1, BatchSize: 1, Seed: 7})
	require.NoError(t, m.InitializeWeights(4))

	x, err := m.Unit().Encrypt([]float64{1.0, -1.0, 0.5, 0.0})
	require.NoError(t, err)

	pred, err := m.ForwardPass(x)
	require.NoError(t, err)
	assert.Equal(t, 1, pred.Size())
	assert.GreaterOrEqual(t, pred.Level(), 2)

	got, err := m.Unit().Decrypt(pred)
	require.NoError(t, err)
	// the polynomial is not clamped, allow a small overshoot
	assert.GreaterOrEqual(t, got[0], -0.1)
	assert.LessOrEqual(t, got[0], 1.1)

	assert.Equal(t, 3, m.Unit().Ledger().Multiplications)
}

func TestInitializeWeights(t *testing.T) {
	cfg := Config{NIter: 1, LearningRate: 0.1, BatchSize: 1, Seed: 99}
	m1, _ := newModel(t, 6, cfg)
	m2, _ := newModel(t, 6, cfg)

	require.NoError(t, m1.InitializeWeights(5))
	require.NoError(t, m2.InitializeWeights(5))

	w1, b1 := decryptState(t, m1)
	w2, _ := decryptState(t, m2)
	assert.Equal(t, w1, w2)
	assert.Zero(t, b1)

	limit := math.Sqrt(6.0 / 6.0)
	for _, w := range w1 {
		assert.LessOrEqual(t, math.Abs(w), limit)
	}

	assert.ErrorIs(t, m1.InitializeWeights(5), ErrAlreadyInitialized)
	m1.Reset()
	require.NoError(t, m1.InitializeWeights(3))
	w, _ := decryptState(t, m1)
	assert.Len(t, w, 3)

	m3, _ := newModel(t, 6, cfg)
	assert.ErrorIs(t, m3.InitializeWeights(0), ErrShapeMismatch)
}

func TestUninitializedModel(t *testing.T) {
	m, _ := newModel(t, 6, DefaultConfig())
	x, err := m.Unit().Encrypt([]float64{1, 2})
	require.NoError(t, err)

	_, err = m.ForwardPass(x)
	assert.ErrorIs(t, err, ErrUninitializedModel)
	assert.ErrorIs(t, m.UpdateParameters(x, x, x), ErrUninitializedModel)
	_, err = m.State()
	assert.ErrorIs(t, err, ErrUninitializedModel)
	_, err = m.PredictAll(context.Background(), []he.CipherValue{x})
	assert.ErrorIs(t, err, ErrUninitializedModel)
}

func TestFixedStepRule(t *testing.T) {
	m, _ := newModel(t, 6, Config{NIter: 1, LearningRate: 0.1, BatchSize: 1, Seed: 3})
	require.NoError(t, m.InitializeWeights(2))
	w0, _ := decryptState(t, m)

	u := m.Unit()
	x, err := u.Encrypt([]float64{1, 2})
	require.NoError(t, err)
	y, err := u.Encrypt([]float64{1})
	require.NoError(t, err)
	pred, err := u.Encrypt([]float64{0.2})
	require.NoError(t, err)

	before := u.Ledger()
	require.NoError(t, m.UpdateParameters(x, y, pred))
	after := u.Ledger()

	w1, b1 := decryptState(t, m)
	assert.InDeltaSlice(t, []float64{w0[0] - 1e-4, w0[1] - 2e-4}, w1, 1e-12)
	assert.InDelta(t, -1e-4, b1, 1e-12)
	assert.Equal(t, 3, after.Additions-before.Additions)
	assert.Zero(t, after.Multiplications-before.Multiplications)

	// the step ignores the error term
	pred2, err := u.Encrypt([]float64{0.99})
	require.NoError(t, err)
	require.NoError(t, m.UpdateParameters(x, y, pred2))
	w2, _ := decryptState(t, m)
	assert.InDeltaSlice(t, []float64{w1[0] - 1e-4, w1[1] - 2e-4}, w2, 1e-12)
}

func TestGradientRule(t *testing.T) {
	m, _ := newModel(t, 6, Config{NIter: 1, LearningRate: 0.1, BatchSize: 1, Seed: 3}, WithUpdateRule(GradientRule{}))
	require.NoError(t, m.InitializeWeights(2))
	w0, _ := decryptState(t, m)

	u := m.Unit()
	x, err := u.Encrypt([]float64{1, 2})
	require.NoError(t, err)
	y, err := u.Encrypt([]float64{1})
	require.NoError(t, err)
	pred, err := u.Encrypt([]float64{0.8})
	require.NoError(t, err)

	require.NoError(t, m.UpdateParameters(x, y, pred))
	w1, b1 := decryptState(t, m)
	assert.InDeltaSlice(t, []float64{w0[0] + 0.02, w0[1] + 0.04}, w1, 1e-12)
	assert.InDelta(t, 0.02, b1, 1e-12)
	assert.Equal(t, 1, u.Ledger().Multiplications)

	s, err := m.State()
	require.NoError(t, err)
	assert.Equal(t, 5, s.Weights.Level())
	assert.Equal(t, 6, s.Bias.Level())
}

func TestRuleByName(t *testing.T) {
	r, err := RuleByName("")
	require.NoError(t, err)
	assert.Equal(t, "fixed-step", r.Name())
	r, err = RuleByName("gradient")
	require.NoError(t, err)
	assert.Equal(t, "gradient", r.Name())
	_, err = RuleByName("adam")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFitBootstrapsGrowAsDepthShrinks(t *testing.T) {
	boots := map[int]int{}
	for _, maxDepth := range []int{6, 3, 2} {
		m, _ := newModel(t, maxDepth, Config{NIter: 1, LearningRate: 0.1, BatchSize: 32, Seed: 1})
		X, y, err := m.EncryptData([][]float64{{2.0}}, []float64{1.0})
		require.NoError(t, err)

		require.NoError(t, m.Fit(context.Background(), X, y, 1))
		assert.True(t, m.Trained())
		boots[maxDepth] = m.Unit().Ledger().Bootstraps
	}

	assert.GreaterOrEqual(t, boots[3], boots[6])
	assert.GreaterOrEqual(t, boots[2], boots[3])
	assert.Positive(t, boots[2])
	assert.Positive(t, boots[3])
	assert.Equal(t, map[int]int{6: 0, 3: 2, 2: 3}, boots)
}

func TestFitCheckpoints(t *testing.T) {
	rec := &recorder{}
	m, _ := newModel(t, 6, Config{NIter: 2, LearningRate: 0.1, BatchSize: 2, Seed: 5}, WithCheckpointer(rec))

	X, y, err := m.EncryptData([][]float64{{1, 0}, {0, 1}, {1, 1}}, []float64{1, 0, 1})
	require.NoError(t, err)
	require.NoError(t, m.Fit(context.Background(), X, y, 2))

	assert.Equal(t, []string{CheckpointEncryption, "Epoch 1", "Epoch 2", CheckpointTraining}, rec.labels)
	assert.Equal(t, 2*3*3, m.Unit().Ledger().Multiplications)
}

func TestFitShapeErrors(t *testing.T) {
	m, _ := newModel(t, 6, DefaultConfig())
	X, y, err := m.EncryptData([][]float64{{1, 0}, {0, 1}}, []float64{1, 0})
	require.NoError(t, err)

	assert.ErrorIs(t, m.Fit(context.Background(), X, y[:1], 2), ErrShapeMismatch)
	assert.ErrorIs(t, m.Fit(context.Background(), X, y, 3), ErrShapeMismatch)

	_, _, err = m.EncryptData([][]float64{{1}}, []float64{1, 0})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestFitCancellation(t *testing.T) {
	m, _ := newModel(t, 6, Config{NIter: 3, LearningRate: 0.1, BatchSize: 1, Seed: 5})
	X, y, err := m.EncryptData([][]float64{{1, 0}, {0, 1}}, []float64{1, 0})
	require.NoError(t, err)
	require.NoError(t, m.InitializeWeights(2))
	initial, err := m.State()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = m.Fit(ctx, X, y, 2)
	require.ErrorIs(t, err, context.Canceled)

	var terr *TrainingError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 1, terr.Epoch)
	assert.Equal(t, 0, terr.Sample)
	assert.Equal(t, CheckpointEncryption, terr.Checkpoint)
	assert.False(t, m.Trained())

	got, err := m.State()
	require.NoError(t, err)
	assert.Equal(t, initial, got)
}

func TestFitRollsBackToLastEpoch(t *testing.T) {
	boom := errors.New("boom")
	rec := &recorder{}
	m, p := newModel(t, 6, Config{NIter: 3, LearningRate: 0.1, BatchSize: 2, Seed: 11}, WithCheckpointer(rec))

	var epoch1 ModelState
	rec.hook = func(label string) {
		if label == "Epoch 1" {
			s, err := m.State()
			require.NoError(t, err)
			epoch1 = s
		}
	}

	X, y, err := m.EncryptData([][]float64{{1, 0}, {0, 1}, {1, 1}, {-1, 0.5}}, []float64{1, 0, 1, 0})
	require.NoError(t, err)

	// 3 ciphertext products per forward pass, 4 samples per epoch
	p.InjectFault(plainprovider.OpMul, 4*3+5, boom)

	err = m.Fit(context.Background(), X, y, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, he.ErrEncryptionProvider)

	var terr *TrainingError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 2, terr.Epoch)
	assert.Equal(t, 1, terr.Sample)
	assert.Equal(t, "Epoch 1", terr.Checkpoint)
	assert.False(t, terr.Fatal())
	assert.False(t, m.Trained())

	got, err := m.State()
	require.NoError(t, err)
	assert.Equal(t, epoch1, got)
}

// drainedRule stands in for a unit that handed back an unrefreshed value.
type drainedRule struct{}

func (drainedRule) Name() string { return "drained" }

func (drainedRule) Update(*he.Unit, ModelState, he.CipherValue, he.CipherValue, he.CipherValue, float64) (ModelState, error) {
	return ModelState{}, fmt.Errorf("weights: %w", he.ErrDepthExhaustion)
}

func TestFitReportsFatalDepthViolation(t *testing.T) {
	var buf bytes.Buffer
	m, _ := newModel(t, 6, Config{NIter: 2, LearningRate: 0.1, BatchSize: 2, Seed: 5},
		WithUpdateRule(drainedRule{}), WithLogger(log.New(&buf, "", 0)))

	X, y, err := m.EncryptData([][]float64{{1, 0}, {0, 1}}, []float64{1, 0})
	require.NoError(t, err)
	require.NoError(t, m.InitializeWeights(2))
	initial, err := m.State()
	require.NoError(t, err)

	err = m.Fit(context.Background(), X, y, 2)
	require.ErrorIs(t, err, he.ErrDepthExhaustion)
	assert.True(t, he.IsFatal(err))

	var terr *TrainingError
	require.ErrorAs(t, err, &terr)
	assert.True(t, terr.Fatal())
	assert.Equal(t, 1, terr.Epoch)
	assert.Zero(t, terr.Sample)
	assert.Contains(t, buf.String(), "FATAL: depth accounting violated at epoch 1 sample 0")

	got, err := m.State()
	require.NoError(t, err)
	assert.Equal(t, initial, got)
}

func TestPredictSequence(t *testing.T) {
	rec := &recorder{}
	m, _ := newModel(t, 6, Config{NIter: 1, LearningRate: 0.1, BatchSize: 1, Seed: 2}, WithCheckpointer(rec))
	require.NoError(t, m.InitializeWeights(3))

	rows := [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {1, 1, 1}}
	X, _, err := m.EncryptData(rows, nil)
	require.NoError(t, err)

	w, b := decryptState(t, m)
	seq := m.Predict(context.Background(), X)

	i := 0
	for pred, err := range seq {
		require.NoError(t, err)
		got, err := m.Unit().Decrypt(pred)
		require.NoError(t, err)

		z := b
		for j := range rows[i] {
			z += rows[i][j] * w[j]
		}
		assert.InDelta(t, m.Activation().Reference(z), got[0], 1e-9, "sample %d", i)
		i++
	}
	assert.Equal(t, len(rows), i)
	assert.Equal(t, CheckpointPredictions, m.LastCheckpoint())

	for _, err := range seq {
		assert.ErrorIs(t, err, ErrSequenceConsumed)
	}
}

func TestPredictIsLazy(t *testing.T) {
	m, _ := newModel(t, 6, Config{NIter: 1, LearningRate: 0.1, BatchSize: 1, Seed: 2})
	require.NoError(t, m.InitializeWeights(2))
	X, _, err := m.EncryptData([][]float64{{1, 0}, {0, 1}, {1, 1}}, nil)
	require.NoError(t, err)

	for _, err := range m.Predict(context.Background(), X) {
		require.NoError(t, err)
		break
	}
	assert.Equal(t, 3, m.Unit().Ledger().Multiplications)
	assert.Equal(t, CheckpointEncryption, m.LastCheckpoint())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.PredictAll(ctx, X)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecryptPredictionsThreshold(t *testing.T) {
	m, p := newModel(t, 6, DefaultConfig())
	u := m.Unit()

	var preds []he.CipherValue
	for _, v := range []float64{0.6, 0.4, 0.5} {
		c, err := u.Encrypt([]float64{v})
		require.NoError(t, err)
		preds = append(preds, c)
	}

	labels, err := m.DecryptPredictions(preds, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 1}, labels)
	assert.Equal(t, CheckpointDecryption, m.LastCheckpoint())

	p.InjectFault(plainprovider.OpDecrypt, 1, errors.New("corrupted"))
	_, err = m.DecryptPredictions(preds, 0.5)
	assert.ErrorIs(t, err, he.ErrDecryption)
}
