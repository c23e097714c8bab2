// Command heserver trains a model on encrypted synthetic data and then serves
// encrypted inference over HTTP.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/z3rotig4r/ckks_train/internal/config"
	"github.com/z3rotig4r/ckks_train/internal/pipeline"
	"github.com/z3rotig4r/ckks_train/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file")
	addr := flag.String("addr", "", "listen address, overrides the config")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			logger.Fatal(err)
		}
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	ctx := context.Background()
	sinks, closeSinks, err := pipeline.Sinks(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err)
	}
	res, err := pipeline.Run(ctx, cfg, logger, sinks...)
	closeSinks()
	if err != nil {
		logger.Fatal(err)
	}
	logger.Printf("Model ready: %s, AUC %.4f", res.Metrics, res.AUC)
	logger.Printf("Ready to perform encrypted inference")

	srv := server.New(res.Model, cfg.Training.Threshold, logger)
	if err := srv.ListenAndServe(cfg.Server.Addr, cfg.Server.CertFile, cfg.Server.KeyFile); err != nil {
		logger.Fatal(err)
	}
}
