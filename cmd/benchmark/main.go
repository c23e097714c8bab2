// Command benchmark times the homomorphic primitives, compares the sigmoid
// approximations under encryption, checks the encrypted model against the
// plaintext simulation and measures how the depth budget drives refreshes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/z3rotig4r/ckks_train/internal/config"
	"github.com/z3rotig4r/ckks_train/internal/he"
	"github.com/z3rotig4r/ckks_train/internal/pipeline"
	"github.com/z3rotig4r/ckks_train/internal/sigmoid"
)

const separator = "========================================================================"

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file")
	provider := flag.String("provider", "", "encryption provider: ckks or plain")
	depthList := flag.String("depths", "2,3,6", "comma separated depth budgets to sweep")
	samples := flag.Int("samples", 60, "synthetic samples per training run")
	epochs := flag.Int("n-iter", 2, "training epochs per run")
	runs := flag.Int("runs", 5, "timed runs per primitive")
	slots := flag.Int("size", 8, "vector size used for primitive timings")
	verbose := flag.Bool("v", false, "log every refresh and checkpoint")
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
	cfg.Data.Samples = *samples
	cfg.Training.NIter = *epochs
	cfg.Monitor.Log = false
	depths, err := parseDepths(*depthList)
	if err != nil {
		logger.Fatal(err)
	}

	var runLogger *log.Logger
	if *verbose {
		runLogger = logger
	}

	fmt.Println(separator)
	fmt.Println("Primitive timings")
	fmt.Println(separator)
	if err := benchmarkOps(cfg, *slots, *runs, runLogger); err != nil {
		logger.Fatal(err)
	}

	fmt.Println()
	fmt.Println(separator)
	fmt.Println("Sigmoid approximation accuracy")
	fmt.Println(separator)
	if err := benchmarkSigmoid(cfg, runLogger); err != nil {
		logger.Fatal(err)
	}

	fmt.Println()
	fmt.Println(separator)
	fmt.Printf("Encrypted (%s) vs plaintext model scores\n", cfg.Provider)
	fmt.Println(separator)
	if err := benchmarkModelError(cfg, runLogger); err != nil {
		logger.Fatal(err)
	}

	fmt.Println()
	fmt.Println(separator)
	fmt.Println("Depth budget sweep")
	fmt.Println(separator)
	if err := benchmarkDepths(cfg, depths, runLogger); err != nil {
		logger.Fatal(err)
	}
}

func benchmarkOps(cfg config.Config, size, runs int, logger *log.Logger) error {
	p, err := cfg.NewProvider(logger)
	if err != nil {
		return err
	}
	u, err := he.NewUnit(p, cfg.Unit, logger)
	if err != nil {
		return err
	}
	timings, err := pipeline.TimeOps(u, size, runs)
	if err != nil {
		return err
	}
	fmt.Printf("%-16s | %-12s | %-12s | %-12s\n", "Operation", "Mean", "Min", "Max")
	fmt.Println(strings.Repeat("-", 60))
	for _, op := range timings {
		fmt.Printf("%-16s | %-12v | %-12v | %-12v\n", op.Op, op.Mean, op.Min, op.Max)
	}
	fmt.Printf("\nSize=%d, runs=%d, operations: %s\n", size, runs, u.Ledger())
	return nil
}

func benchmarkModelError(cfg config.Config, logger *log.Logger) error {
	c, err := pipeline.CompareWithPlain(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	fmt.Printf("%-6s | %-12s | %-12s | %s\n", "Sample", "Encrypted", "Plaintext", "Abs Error")
	fmt.Println(strings.Repeat("-", 60))
	for _, sc := range c.Cases {
		fmt.Printf("%-6d | %.10f | %.10f | %.3e\n", sc.Sample, sc.Encrypted, sc.Plain, sc.AbsError)
	}
	fmt.Printf("\nMean error: %.3e, max error: %.3e\n", c.MeanError, c.MaxError)
	fmt.Printf("Encrypted run: %v (%s)\n", c.EncryptedIn, c.Encrypted)
	fmt.Printf("Plaintext run: %v (%s)\n", c.PlainIn, c.Plain)
	return nil
}

func benchmarkSigmoid(cfg config.Config, logger *log.Logger) error {
	p, err := cfg.NewProvider(logger)
	if err != nil {
		return err
	}
	u, err := he.NewUnit(p, cfg.Unit, logger)
	if err != nil {
		return err
	}

	start := time.Now()
	results, err := sigmoid.Benchmark(sigmoid.AllMethods(), u, nil)
	if err != nil {
		return err
	}
	fmt.Printf("%-16s | %-12s | %-12s | %-5s | %-5s | %-5s | %s\n",
		"Method", "Mean Error", "Max Error", "Depth", "Mults", "Boots", "Time")
	fmt.Println(strings.Repeat("-", 80))
	for _, r := range results {
		fmt.Printf("%-16s | %.10f | %.10f | %-5d | %-5d | %-5d | %v\n",
			r.Method, r.MeanError, r.MaxError, r.RequiredDepth, r.Multiplications, r.Bootstraps, r.Duration)
	}
	fmt.Printf("\nTotal benchmark time: %v\n", time.Since(start))
	return nil
}

func benchmarkDepths(cfg config.Config, depths []int, logger *log.Logger) error {
	fmt.Printf("%-5s | %-8s | %-10s | %-9s | %-8s | %-6s | %s\n",
		"Depth", "Adds", "Mults", "Boots", "Accuracy", "AUC", "Time")
	fmt.Println(strings.Repeat("-", 80))
	for _, d := range depths {
		run := cfg
		run.Unit.MaxDepth = d
		if err := run.Validate(); err != nil {
			return fmt.Errorf("depth %d: %w", d, err)
		}
		start := time.Now()
		res, err := pipeline.Run(context.Background(), run, logger)
		if err != nil {
			return fmt.Errorf("depth %d: %w", d, err)
		}
		l := res.Ledger
		fmt.Printf("%-5d | %-8d | %-10d | %-9d | %-8.4f | %-6.4f | %v\n",
			d, l.Additions, l.Multiplications, l.Bootstraps, res.Metrics.Accuracy, res.AUC, time.Since(start))
	}
	return nil
}

func parseDepths(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		d, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("bad depth %q: %w", f, err)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no depths given")
	}
	return out, nil
}
