package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z3rotig4r/ckks_train/internal/config"
	"github.com/z3rotig4r/ckks_train/internal/logreg"
	"github.com/z3rotig4r/ckks_train/internal/monitor"
)

func smallConfig() config.Config {
	cfg := config.Default()
	cfg.Provider = config.ProviderPlain
	cfg.Data.Samples = 40
	cfg.Data.Features = 2
	cfg.Training.NIter = 2
	cfg.Training.BatchSize = 8
	cfg.Monitor.Log = false
	return cfg
}

func TestRun(t *testing.T) {
	res, err := Run(context.Background(), smallConfig(), nil)
	require.NoError(t, err)

	require.NotEmpty(t, res.Scores)
	assert.Len(t, res.Labels, len(res.Scores))
	assert.Len(t, res.Truth, len(res.Scores))
	assert.Len(t, res.Scaler.Mean, 2)
	assert.True(t, res.Model.Trained())
	assert.GreaterOrEqual(t, res.Metrics.Accuracy, 0.0)
	assert.LessOrEqual(t, res.Metrics.Accuracy, 1.0)
	assert.GreaterOrEqual(t, res.AUC, 0.0)
	assert.LessOrEqual(t, res.AUC, 1.0)
	assert.Positive(t, res.Ledger.Multiplications)
	assert.Equal(t, 6, res.Ledger.MaxDepth)

	var labels []string
	for _, c := range res.Report.Checkpoints {
		labels = append(labels, c.Label)
	}
	assert.Equal(t, []string{
		CheckpointData,
		logreg.CheckpointEncryption,
		"Epoch 1",
		"Epoch 2",
		logreg.CheckpointTraining,
		logreg.CheckpointEncryption,
		logreg.CheckpointPredictions,
		logreg.CheckpointDecryption,
	}, labels)
}

func TestRunDeterministic(t *testing.T) {
	a, err := Run(context.Background(), smallConfig(), nil)
	require.NoError(t, err)
	b, err := Run(context.Background(), smallConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, a.Scores, b.Scores)
	assert.Equal(t, a.Ledger, b.Ledger)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, smallConfig(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	var te *logreg.TrainingError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 1, te.Epoch)
	assert.Equal(t, logreg.CheckpointEncryption, te.Checkpoint)
}

func TestBuildModelRejectsUnknownNames(t *testing.T) {
	cfg := smallConfig()
	cfg.Training.UpdateRule = "momentum"
	_, err := BuildModel(cfg, nil)
	assert.Error(t, err)

	cfg = smallConfig()
	cfg.Training.Activation = "tanh"
	_, err = BuildModel(cfg, nil)
	assert.Error(t, err)
}

func TestSinks(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	cfg := smallConfig()
	cfg.Monitor.Log = true
	sinks, closer, err := Sinks(context.Background(), cfg, logger)
	require.NoError(t, err)
	require.Len(t, sinks, 1)
	assert.IsType(t, monitor.LogSink{}, sinks[0])
	assert.NoError(t, closer())

	cfg.Monitor.MySQL = &monitor.MySQLConfig{User: "he", Addr: "127.0.0.1:1", DBName: "runs"}
	_, closer, err = Sinks(context.Background(), cfg, logger)
	assert.Error(t, err)
	assert.NoError(t, closer())
}
