package config

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// Options control where Resolve looks for its layers.
type Options struct {
	// ConfigPath is an explicit config file. Empty means discovery in Dir.
	ConfigPath string
	// Dir is searched for webscreenshots.* and .env. Empty means ".".
	Dir string
	// DotenvPath overrides the .env location. Empty means Dir/.env.
	DotenvPath string
	// SkipDotenv disables .env loading.
	SkipDotenv bool
	// Overrides is the highest-precedence layer, usually built from flags.
	Overrides Partial
}

// Resolve merges defaults < file < environment < overrides, fills derived
// defaults and validates the result. Any error is fatal to the run.
func Resolve(logger *zap.Logger, opts Options) (Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}

	if !opts.SkipDotenv {
		dotenv := opts.DotenvPath
		if dotenv == "" {
			dotenv = filepath.Join(dir, ".env")
		}
		if err := LoadDotenv(dotenv); err != nil {
			return Config{}, err
		}
	}

	file, err := LoadFile(opts.ConfigPath, dir)
	if err != nil {
		return Config{}, err
	}
	if file.Found {
		logger.Info("Loaded config from file", zap.String("path", file.Path))
	} else {
		logger.Info("No config file found, using defaults")
	}

	env, err := LoadEnv()
	if err != nil {
		return Config{}, err
	}
	if env.IsZero() {
		logger.Debug("No environment variables found", zap.String("prefix", EnvPrefix+"__"))
	} else {
		logger.Info("Loaded config from environment variables", zap.String("prefix", EnvPrefix+"__"))
	}

	cfg := Finalize(Merge(Defaults(), file.Layer, env, opts.Overrides))
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("resolve config: %w", err)
	}
	return cfg, nil
}

// Finalize fills values that are implied rather than configured.
func Finalize(cfg Config) Config {
	for i := range cfg.Viewports {
		if cfg.Viewports[i].DeviceScaleFactor == 0 {
			cfg.Viewports[i].DeviceScaleFactor = 1
		}
	}
	if cfg.Routes == nil {
		cfg.Routes = []string{""}
	}
	return cfg
}
