package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Source names a configuration layer.
type Source string

const (
	SourceDefault Source = "default"
	SourceUser    Source = "user"
	SourceProject Source = "project"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
)

// Loaded is a configuration together with where it came from.
type Loaded struct {
	*Config
	// Files lists the config files merged, in order.
	Files []string
	// EnvOverrides lists config paths set from environment variables.
	EnvOverrides []string
}

// LoadOptions controls Load.
type LoadOptions struct {
	// ProjectPath is the repository root; its .autoflow/config.yaml is merged.
	ProjectPath string
	// File is an explicit config file merged after the project file.
	File string
	// HomeDir overrides the user's home directory.
	HomeDir string
	// SkipUser ignores ~/.autoflow/config.yaml.
	SkipUser bool
	// Getenv overrides os.Getenv.
	Getenv func(string) string
}

// Load loads configuration.
// Load order (later sources override earlier):
//  1. Built-in defaults
//  2. User config (~/.autoflow/config.yaml) - optional
//  3. Project config (<project>/.autoflow/config.yaml) - optional
//  4. Explicit file (--config) - must exist
//  5. Environment variables (AUTOFLOW_*)
//
// The result is validated.
func Load(opts LoadOptions) (*Loaded, error) {
	l := &Loaded{Config: Default()}

	if !opts.SkipUser {
		home := opts.HomeDir
		if home == "" {
			home, _ = os.UserHomeDir()
		}
		if home != "" {
			userPath := filepath.Join(home, Dir, FileName)
			if err := l.mergeIfExists(userPath); err != nil {
				// a broken user file should not block every project
				slog.Warn("failed to load user config", "path", userPath, "error", err)
			}
		}
	}

	if opts.ProjectPath != "" {
		if err := l.mergeIfExists(filepath.Join(opts.ProjectPath, Dir, FileName)); err != nil {
			return nil, err
		}
	}

	if opts.File != "" {
		if err := l.mergeFile(opts.File); err != nil {
			return nil, err
		}
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	overridden, err := ApplyEnvVars(l.Config, getenv)
	if err != nil {
		return nil, err
	}
	l.EnvOverrides = overridden

	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Loaded) mergeIfExists(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return l.mergeFile(path)
}

// mergeFile decodes path on top of the current configuration. Keys absent
// from the file keep their values; lists present in the file replace.
func (l *Loaded) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(l.Config); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	l.Files = append(l.Files, path)
	return nil
}

// Save writes cfg to path.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
