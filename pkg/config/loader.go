package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the user configuration file looked up under the config
// directory.
const ConfigFileName = "wayfarer.yaml"

// Initialize loads, merges, and validates the configuration. A missing user
// file is not an error: the built-in defaults apply.
//
// Steps performed:
//  1. Read wayfarer.yaml from configDir (optional)
//  2. Expand environment variables
//  3. Parse YAML
//  4. Merge user values over built-in defaults
//  5. Validate
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"store_type", cfg.Store.Type,
		"mock_mode", cfg.LLM.MockMode,
		"workers", cfg.Queue.WorkerCount)
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	cfg := &Config{}

	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("No user configuration file, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	default:
		data = ExpandEnv(data)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	// User values win; defaults fill whatever the file left unset.
	if err := mergo.Merge(cfg, Default()); err != nil {
		return nil, fmt.Errorf("merging defaults: %w", err)
	}
	return cfg, nil
}
