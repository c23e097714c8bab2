// Package config loads the YAML configuration shared by the binaries.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
	"gopkg.in/yaml.v3"

	"github.com/z3rotig4r/ckks_train/internal/he"
	"github.com/z3rotig4r/ckks_train/internal/he/ckksprovider"
	"github.com/z3rotig4r/ckks_train/internal/he/plainprovider"
	"github.com/z3rotig4r/ckks_train/internal/logreg"
	"github.com/z3rotig4r/ckks_train/internal/monitor"
	"github.com/z3rotig4r/ckks_train/internal/sigmoid"
)

const (
	ProviderCKKS  = "ckks"
	ProviderPlain = "plain"
)

// CKKS mirrors ckks.ParametersLiteral.
type CKKS struct {
	LogN            int   `yaml:"log_n"`
	LogQ            []int `yaml:"log_q"`
	LogP            []int `yaml:"log_p"`
	LogDefaultScale int   `yaml:"log_default_scale"`
}

func (c CKKS) Parameters() (ckks.Parameters, error) {
	params, err := ckks.NewParametersFromLiteral(ckks.ParametersLiteral{
		LogN:            c.LogN,
		LogQ:            c.LogQ,
		LogP:            c.LogP,
		LogDefaultScale: c.LogDefaultScale,
	})
	if err != nil {
		return ckks.Parameters{}, fmt.Errorf("failed to create CKKS parameters: %w", err)
	}
	return params, nil
}

type Training struct {
	logreg.Config `yaml:",inline"`
	UpdateRule    string  `yaml:"update_rule"`
	Activation    string  `yaml:"activation"`
	Threshold     float64 `yaml:"threshold"`
}

type Data struct {
	Samples      int     `yaml:"samples"`
	Features     int     `yaml:"features"`
	TestFraction float64 `yaml:"test_fraction"`
	Seed         uint64  `yaml:"seed"`
}

type Server struct {
	Addr     string `yaml:"addr"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type Monitor struct {
	Log   bool                 `yaml:"log"`
	MySQL *monitor.MySQLConfig `yaml:"mysql"`
}

type Config struct {
	Provider string    `yaml:"provider"`
	CKKS     CKKS      `yaml:"ckks"`
	Unit     he.Config `yaml:"unit"`
	Training Training  `yaml:"training"`
	Data     Data      `yaml:"data"`
	Server   Server    `yaml:"server"`
	Monitor  Monitor   `yaml:"monitor"`
}

// Default is LogN 14, a 60-bit base prime with seven 40-bit
// levels, 2^40 scale, depth budget 6, 30 epochs at learning rate 0.1.
func Default() Config {
	return Config{
		Provider: ProviderCKKS,
		CKKS: CKKS{
			LogN:            14,
			LogQ:            []int{60, 40, 40, 40, 40, 40, 40, 40},
			LogP:            []int{61},
			LogDefaultScale: 40,
		},
		Unit: he.DefaultConfig(),
		Training: Training{
			Config:     logreg.DefaultConfig(),
			UpdateRule: "fixed-step",
			Activation: "polynomial-3",
			Threshold:  0.5,
		},
		Data: Data{
			Samples:      200,
			Features:     4,
			TestFraction: 0.2,
			Seed:         42,
		},
		Server: Server{
			Addr:     ":8080",
			CertFile: "server.crt",
			KeyFile:  "server.key",
		},
		Monitor: Monitor{Log: true},
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Provider {
	case ProviderCKKS:
		if c.Unit.LogBaseScale != c.CKKS.LogDefaultScale {
			return fmt.Errorf("config: unit log_base_scale %d differs from ckks log_default_scale %d",
				c.Unit.LogBaseScale, c.CKKS.LogDefaultScale)
		}
		if c.CKKS.LogN < 10 || c.CKKS.LogN > 17 {
			return fmt.Errorf("config: ckks log_n %d outside [10, 17]", c.CKKS.LogN)
		}
		if len(c.CKKS.LogQ) < 2 || len(c.CKKS.LogP) < 1 {
			return fmt.Errorf("config: ckks needs at least two log_q primes and one log_p prime")
		}
	case ProviderPlain:
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
	if err := c.Unit.Validate(); err != nil {
		return err
	}
	if err := c.Training.Config.Validate(); err != nil {
		return err
	}
	if _, err := logreg.RuleByName(c.Training.UpdateRule); err != nil {
		return err
	}
	if _, err := sigmoid.ByName(c.Training.Activation); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Training.Threshold < 0 || c.Training.Threshold > 1 {
		return fmt.Errorf("config: threshold %v outside [0, 1]", c.Training.Threshold)
	}
	if c.Data.Samples < 2 || c.Data.Features < 1 {
		return fmt.Errorf("config: need at least 2 samples and 1 feature, got %d x %d", c.Data.Samples, c.Data.Features)
	}
	if !(c.Data.TestFraction > 0 && c.Data.TestFraction < 1) {
		return fmt.Errorf("config: test_fraction %v outside (0, 1)", c.Data.TestFraction)
	}
	return nil
}

// NewProvider builds the configured encryption provider.
func (c Config) NewProvider(logger *log.Logger) (he.Provider, error) {
	switch c.Provider {
	case ProviderPlain:
		return plainprovider.New(), nil
	case ProviderCKKS:
		params, err := c.CKKS.Parameters()
		if err != nil {
			return nil, err
		}
		return ckksprovider.New(params, logger)
	}
	return nil, fmt.Errorf("config: unknown provider %q", c.Provider)
}
