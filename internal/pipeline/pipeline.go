// Package pipeline wires configuration, data, the encrypted model and the monitor
// into one end-to-end training run.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/z3rotig4r/ckks_train/internal/config"
	"github.com/z3rotig4r/ckks_train/internal/dataset"
	"github.com/z3rotig4r/ckks_train/internal/he"
	"github.com/z3rotig4r/ckks_train/internal/logreg"
	"github.com/z3rotig4r/ckks_train/internal/monitor"
	"github.com/z3rotig4r/ckks_train/internal/sigmoid"
)

// CheckpointData marks the end of data generation and scaling.
const CheckpointData = "Data ready"

// Result is the outcome of Run.
type Result struct {
	Model   *logreg.Model
	Metrics logreg.Metrics
	AUC     float64
	Scores  []float64
	Labels  []int
	Truth   []int
	Scaler  dataset.Scaler
	Ledger  he.Ledger
	Report  monitor.Report
}

// BuildModel creates the provider, the arithmetic unit and an uninitialized model
// as described by cfg.
func BuildModel(cfg config.Config, logger *log.Logger, opts ...logreg.Option) (*logreg.Model, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	p, err := cfg.NewProvider(logger)
	if err != nil {
		return nil, err
	}
	u, err := he.NewUnit(p, cfg.Unit, logger)
	if err != nil {
		return nil, err
	}
	act, err := sigmoid.ByName(cfg.Training.Activation)
	if err != nil {
		return nil, err
	}
	rule, err := logreg.RuleByName(cfg.Training.UpdateRule)
	if err != nil {
		return nil, err
	}
	base := []logreg.Option{
		logreg.WithActivation(act),
		logreg.WithUpdateRule(rule),
		logreg.WithLogger(logger),
	}
	return logreg.New(u, cfg.Training.Config, append(base, opts...)...)
}

// Sinks opens the checkpoint sinks enabled in cfg. The returned closer releases
// them and is never nil.
func Sinks(ctx context.Context, cfg config.Config, logger *log.Logger) ([]monitor.Sink, func() error, error) {
	var sinks []monitor.Sink
	closer := func() error { return nil }
	if cfg.Monitor.Log && logger != nil {
		sinks = append(sinks, monitor.LogSink{Logger: logger})
	}
	if cfg.Monitor.MySQL != nil {
		run := fmt.Sprintf("run-%d", time.Now().UnixNano())
		s, err := monitor.OpenMySQL(ctx, *cfg.Monitor.MySQL, run)
		if err != nil {
			return nil, closer, err
		}
		if logger != nil {
			logger.Printf("Recording checkpoints to MySQL as %s", run)
		}
		sinks = append(sinks, s)
		closer = s.Close
	}
	return sinks, closer, nil
}

// split is the scaled train/test partition of the synthetic data set.
type split struct {
	xTrain, xTest [][]float64
	yTrain, yTest []float64
	scaler        dataset.Scaler
}

func prepare(cfg config.Config) (split, error) {
	X, y, _, err := dataset.Synthetic(cfg.Data.Samples, cfg.Data.Features, cfg.Data.Seed)
	if err != nil {
		return split{}, err
	}
	parts, err := dataset.TrainTestSplit(X, y, cfg.Data.TestFraction, cfg.Data.Seed)
	if err != nil {
		return split{}, err
	}
	xTrain, scaler, err := dataset.Standardize(parts.XTrain)
	if err != nil {
		return split{}, err
	}
	return split{
		xTrain: xTrain,
		xTest:  scaler.Transform(parts.XTest),
		yTrain: parts.YTrain,
		yTest:  parts.YTest,
		scaler: scaler,
	}, nil
}

// trainAndScore fits a fresh model on the training rows and returns the decrypted
// scores of the test rows.
func trainAndScore(ctx context.Context, cfg config.Config, logger *log.Logger, data split, opts ...logreg.Option) (*logreg.Model, []float64, error) {
	model, err := BuildModel(cfg, logger, opts...)
	if err != nil {
		return nil, nil, err
	}
	encX, encY, err := model.EncryptData(data.xTrain, data.yTrain)
	if err != nil {
		return nil, nil, err
	}
	if err := model.Fit(ctx, encX, encY, cfg.Data.Features); err != nil {
		return nil, nil, err
	}

	encTest, _, err := model.EncryptData(data.xTest, nil)
	if err != nil {
		return nil, nil, err
	}
	preds, err := model.PredictAll(ctx, encTest)
	if err != nil {
		return nil, nil, err
	}
	scores, err := model.DecryptScores(preds)
	if err != nil {
		return nil, nil, err
	}
	return model, scores, nil
}

// Run generates the synthetic data set, trains on the encrypted training split and
// scores the encrypted test split.
func Run(ctx context.Context, cfg config.Config, logger *log.Logger, sinks ...monitor.Sink) (*Result, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	mon := monitor.New(logger, sinks...)

	data, err := prepare(cfg)
	if err != nil {
		return nil, err
	}
	logger.Printf("Data: %d train / %d test samples, %d features", len(data.xTrain), len(data.xTest), cfg.Data.Features)
	mon.Checkpoint(CheckpointData)

	model, scores, err := trainAndScore(ctx, cfg, logger, data, logreg.WithCheckpointer(mon))
	if err != nil {
		return nil, err
	}
	labels := logreg.Threshold(scores, cfg.Training.Threshold)
	mon.Checkpoint(logreg.CheckpointDecryption)

	truth := dataset.Labels(data.yTest)
	metrics, err := logreg.Evaluate(truth, labels)
	if err != nil {
		return nil, err
	}
	auc, err := logreg.AUC(truth, scores)
	if err != nil {
		return nil, err
	}
	report, err := mon.Report()
	if err != nil {
		return nil, err
	}

	return &Result{
		Model:   model,
		Metrics: metrics,
		AUC:     auc,
		Scores:  scores,
		Labels:  labels,
		Truth:   truth,
		Scaler:  data.scaler,
		Ledger:  model.Unit().Ledger(),
		Report:  report,
	}, nil
}
