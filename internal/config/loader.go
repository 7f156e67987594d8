package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration: defaults, then the file at path (if present),
// then TOKENPOOL_* environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
			log.WithField("path", path).Warn("using default configuration (no config file found)")
		}
	}

	applyEnv(cfg)

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	log.WithField("path", path).Info("configuration loaded")
	return nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) expandPaths() error {
	var err error
	if c.Storage.FilePath != "" {
		if c.Storage.FilePath, err = expandPath(c.Storage.FilePath); err != nil {
			return fmt.Errorf("invalid storage.file_path: %w", err)
		}
	}
	if c.Log.File != "" {
		if c.Log.File, err = expandPath(c.Log.File); err != nil {
			return fmt.Errorf("invalid log.file: %w", err)
		}
	}
	return nil
}

// expandPath expands ~ and environment variables in file paths
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Abs(os.ExpandEnv(path))
}
