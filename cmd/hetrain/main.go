// Command hetrain trains a logistic regression model on encrypted synthetic data
// and reports accuracy, operation counts and phase timings.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/pkg/profile"

	"github.com/z3rotig4r/ckks_train/internal/config"
	"github.com/z3rotig4r/ckks_train/internal/pipeline"
)

func main() {
	var (
		cfgPath    = flag.String("config", "", "path to a YAML config file")
		provider   = flag.String("provider", "", "encryption provider: ckks or plain")
		nIter      = flag.Int("n-iter", 0, "training epochs")
		lr         = flag.Float64("lr", 0, "learning rate")
		rule       = flag.String("rule", "", "update rule: fixed-step or gradient")
		activation = flag.String("activation", "", "sigmoid approximation, e.g. polynomial-3 or minimax-5")
		depth      = flag.Int("depth", 0, "depth budget of the arithmetic unit")
		samples    = flag.Int("samples", 0, "synthetic samples")
		features   = flag.Int("features", 0, "synthetic features")
		prof       = flag.String("profile", "", "write a cpu or mem profile to the working directory")
		quiet      = flag.Bool("quiet", false, "suppress per-checkpoint log lines")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			logger.Fatal(err)
		}
	}
	if *provider != "" {
		cfg.Provider = *provider
	}
	if *nIter > 0 {
		cfg.Training.NIter = *nIter
	}
	if *lr > 0 {
		cfg.Training.LearningRate = *lr
	}
	if *rule != "" {
		cfg.Training.UpdateRule = *rule
	}
	if *activation != "" {
		cfg.Training.Activation = *activation
	}
	if *depth > 0 {
		cfg.Unit.MaxDepth = *depth
	}
	if *samples > 0 {
		cfg.Data.Samples = *samples
	}
	if *features > 0 {
		cfg.Data.Features = *features
	}
	if *quiet {
		cfg.Monitor.Log = false
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal(err)
	}

	switch *prof {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	default:
		logger.Fatalf("unknown profile mode %q", *prof)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sinks, closeSinks, err := pipeline.Sinks(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err)
	}
	defer closeSinks()

	logger.Printf("Provider=%s depth=%d scale=2^%d rule=%s activation=%s",
		cfg.Provider, cfg.Unit.MaxDepth, cfg.Unit.LogBaseScale, cfg.Training.UpdateRule, cfg.Training.Activation)

	res, err := pipeline.Run(ctx, cfg, logger, sinks...)
	if err != nil {
		logger.Printf("Run failed: %v", err)
		closeSinks()
		stop()
		os.Exit(1)
	}

	fmt.Println("Results:")
	fmt.Println("--------")
	fmt.Printf("Test samples: %d\n", len(res.Scores))
	fmt.Println(res.Metrics)
	fmt.Printf("AUC: %.4f\n", res.AUC)
	fmt.Printf("Operations: %s\n\n", res.Ledger)
	if _, err := res.Report.WriteTo(os.Stdout); err != nil {
		logger.Printf("write report: %v", err)
	}
}
