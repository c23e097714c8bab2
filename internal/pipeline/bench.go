package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/z3rotig4r/ckks_train/internal/config"
	"github.com/z3rotig4r/ckks_train/internal/he"
)

// OpTiming is the wall-clock cost of one unit operation over several runs.
type OpTiming struct {
	Op   string
	Runs int
	Mean time.Duration
	Min  time.Duration
	Max  time.Duration
}

// TimeOps times every primitive of u on vectors of the given size. Inputs are
// encrypted fresh before each timed call, so every run starts at full depth.
func TimeOps(u *he.Unit, size, runs int) ([]OpTiming, error) {
	if size < 1 || runs < 1 {
		return nil, fmt.Errorf("pipeline: need positive size and runs, got %d and %d", size, runs)
	}
	vals := make([]float64, size)
	for i := range vals {
		vals[i] = 0.5 - float64(i)/float64(2*size)
	}

	ops := []struct {
		name string
		fn   func(a, b he.CipherValue) error
	}{
		{"Encrypt", func(_, _ he.CipherValue) error { _, err := u.Encrypt(vals); return err }},
		{"Decrypt", func(a, _ he.CipherValue) error { _, err := u.Decrypt(a); return err }},
		{"Add", func(a, b he.CipherValue) error { _, err := u.Add(a, b); return err }},
		{"AddScalar", func(a, _ he.CipherValue) error { _, err := u.AddScalar(a, 0.5); return err }},
		{"MultiplyScalar", func(a, _ he.CipherValue) error { _, err := u.MultiplyScalar(a, 0.25); return err }},
		{"Multiply", func(a, b he.CipherValue) error { _, err := u.Multiply(a, b); return err }},
		{"DotProduct", func(a, b he.CipherValue) error { _, err := u.DotProduct(a, b); return err }},
		{"Bootstrap", func(a, _ he.CipherValue) error { _, err := u.Bootstrap(a); return err }},
	}

	out := make([]OpTiming, 0, len(ops))
	for _, op := range ops {
		samples := make(stats.Float64Data, runs)
		for r := 0; r < runs; r++ {
			a, err := u.Encrypt(vals)
			if err != nil {
				return nil, err
			}
			b, err := u.Encrypt(vals)
			if err != nil {
				return nil, err
			}
			start := time.Now()
			if err := op.fn(a, b); err != nil {
				return nil, fmt.Errorf("%s: %w", op.name, err)
			}
			samples[r] = float64(time.Since(start))
		}
		mean, _ := samples.Mean()
		lo, _ := samples.Min()
		hi, _ := samples.Max()
		out = append(out, OpTiming{
			Op:   op.name,
			Runs: runs,
			Mean: time.Duration(mean),
			Min:  time.Duration(lo),
			Max:  time.Duration(hi),
		})
	}
	return out, nil
}

// ScoreError compares one test sample scored by the configured provider with the
// same sample scored by the plaintext simulation.
type ScoreError struct {
	Sample    int
	Encrypted float64
	Plain     float64
	AbsError  float64
}

// Comparison is the model-level error of the configured provider.
type Comparison struct {
	Cases       []ScoreError
	MeanError   float64
	MaxError    float64
	Encrypted   he.Ledger
	Plain       he.Ledger
	EncryptedIn time.Duration
	PlainIn     time.Duration
}

// CompareWithPlain trains the model described by cfg and an identical model on the
// plaintext simulation provider, then compares their test scores sample by sample.
func CompareWithPlain(ctx context.Context, cfg config.Config, logger *log.Logger) (Comparison, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	data, err := prepare(cfg)
	if err != nil {
		return Comparison{}, err
	}

	start := time.Now()
	encModel, encScores, err := trainAndScore(ctx, cfg, logger, data)
	if err != nil {
		return Comparison{}, fmt.Errorf("%s run: %w", cfg.Provider, err)
	}
	encTime := time.Since(start)

	plainCfg := cfg
	plainCfg.Provider = config.ProviderPlain
	start = time.Now()
	plainModel, plainScores, err := trainAndScore(ctx, plainCfg, logger, data)
	if err != nil {
		return Comparison{}, fmt.Errorf("plain run: %w", err)
	}

	c := Comparison{
		Cases:       make([]ScoreError, len(encScores)),
		Encrypted:   encModel.Unit().Ledger(),
		Plain:       plainModel.Unit().Ledger(),
		EncryptedIn: encTime,
		PlainIn:     time.Since(start),
	}
	if len(encScores) == 0 {
		return c, nil
	}
	errs := make(stats.Float64Data, len(encScores))
	for i := range encScores {
		errs[i] = math.Abs(encScores[i] - plainScores[i])
		c.Cases[i] = ScoreError{Sample: i, Encrypted: encScores[i], Plain: plainScores[i], AbsError: errs[i]}
	}
	if c.MeanError, err = errs.Mean(); err != nil {
		return Comparison{}, err
	}
	if c.MaxError, err = errs.Max(); err != nil {
		return Comparison{}, err
	}
	return c, nil
}
