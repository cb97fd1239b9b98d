package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/haengmina/JNU-Research-Accel/internal/model"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the mixnet configuration file (~/.config/mixnet/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	Weights  string `yaml:"weights"`
	Metadata string `yaml:"metadata"`
	Labels   string `yaml:"labels"`
	Image    string `yaml:"image"`

	Replicas *int64 `yaml:"replicas"`
	Workers  *int64 `yaml:"workers"`

	// Model is an inline model config; --model-config takes precedence.
	Model yaml.Node `yaml:"model"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string   `yaml:"server_address"`
	RateLimit     *float64 `yaml:"rate_limit"`
	RateBurst     *int64   `yaml:"rate_burst"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "mixnet", "config.yaml")
}

// LoadConfig reads path, or the default location when path is empty. A
// missing default file yields a zero Config; a missing explicit file is an
// error.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
		if path == "" {
			return Config{}, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyLoggingConfig applies config file defaults to the logging flags when
// they were not set explicitly.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyAssetConfig applies config file defaults to asset and model flags.
func applyAssetConfig(c *cli.Command, cfg Config) {
	if cfg.Weights != "" && !c.IsSet("weights") {
		weightsPath = cfg.Weights
	}
	if cfg.Metadata != "" && !c.IsSet("metadata") {
		metadataPath = cfg.Metadata
	}
	if cfg.Labels != "" && !c.IsSet("labels") {
		labelsPath = cfg.Labels
	}
	if cfg.Replicas != nil && !c.IsSet("replicas") {
		replicas = *cfg.Replicas
	}
	if cfg.Workers != nil && !c.IsSet("workers") {
		workers = *cfg.Workers
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, rateLimit *float64, burst *int64) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.RateLimit != nil && !c.IsSet("rate-limit") {
		*rateLimit = *cfg.RateLimit
	}
	if cfg.RateBurst != nil && !c.IsSet("rate-burst") {
		*burst = *cfg.RateBurst
	}
}

// resolveModelConfig picks the model config from --model-config, then the
// config file's model key, then the built-in default. The workers setting
// always comes from the flag.
func resolveModelConfig(cfg Config, path string, workers int) (model.Config, error) {
	var mc model.Config
	switch {
	case path != "":
		var err error
		mc, err = model.LoadConfig(path)
		if err != nil {
			return model.Config{}, err
		}
	case !cfg.Model.IsZero():
		mc = model.DefaultConfig()
		if err := cfg.Model.Decode(&mc); err != nil {
			return model.Config{}, fmt.Errorf("parse model config: %w", err)
		}
		if err := mc.Validate(); err != nil {
			return model.Config{}, fmt.Errorf("model config: %w", err)
		}
	default:
		mc = model.DefaultConfig()
	}
	mc.Workers = workers
	return mc, nil
}
