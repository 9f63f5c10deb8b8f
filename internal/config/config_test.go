package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/autoflow/internal/automation"
	flowerrors "github.com/randalmurphal/autoflow/internal/errors"
	"github.com/randalmurphal/autoflow/internal/lock"
	"github.com/randalmurphal/autoflow/internal/review"
	"github.com/randalmurphal/autoflow/internal/task"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, Dir, FileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func noEnv(string) string { return "" }

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_Layers(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	writeConfig(t, home, `
automation:
  default_level: semi_auto
engine:
  max_concurrent: 8
review:
  threshold: 60
`)
	writeConfig(t, project, `
automation:
  type_levels:
    bug: manual
engine:
  strategy: smart
  step_timeout: 90s
git:
  protected: ["main", "prod/*"]
`)
	env := map[string]string{
		"AUTOFLOW_REVIEW_THRESHOLD": "75",
		"AUTOFLOW_LOCK_MODE":        "shared",
		"AUTOFLOW_LOCK_DIR":         "/tmp/locks",
	}

	l, err := Load(LoadOptions{ProjectPath: project, HomeDir: home, Getenv: func(k string) string { return env[k] }})
	require.NoError(t, err)

	assert.Len(t, l.Files, 2)
	assert.Equal(t, automation.LevelSemiAuto, l.Automation.DefaultLevel)
	assert.Equal(t, automation.LevelManual, l.Automation.TypeLevels[task.TypeBug])
	// untouched nested defaults survive
	assert.InDelta(t, 0.85, l.Automation.Adaptive.FullAutoAt, 1e-9)
	assert.Equal(t, 8, l.Engine.MaxConcurrent)
	assert.Equal(t, "smart", l.Engine.Strategy)
	assert.Equal(t, 90*time.Second, l.Engine.StepTimeout)
	assert.Equal(t, []string{"main", "prod/*"}, l.Git.Protected)
	assert.Equal(t, "main", l.Git.BaseBranch)
	assert.InDelta(t, 75.0, l.Review.Threshold, 1e-9)
	assert.Equal(t, lock.ModeShared, l.Git.LockMode)
	assert.Equal(t, []string{"git.lock_dir", "git.lock_mode", "review.threshold"}, l.EnvOverrides)
}

func TestLoad_ExplicitFileMustExist(t *testing.T) {
	_, err := Load(LoadOptions{SkipUser: true, File: filepath.Join(t.TempDir(), "nope.yaml"), Getenv: noEnv})
	assert.Error(t, err)
}

func TestLoad_UnknownFieldInProjectIsFatal(t *testing.T) {
	project := t.TempDir()
	writeConfig(t, project, "engine:\n  max_concurent: 3\n")
	_, err := Load(LoadOptions{ProjectPath: project, SkipUser: true, Getenv: noEnv})
	assert.ErrorContains(t, err, "max_concurent")
}

func TestLoad_BrokenUserFileIgnored(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "automation: [")
	l, err := Load(LoadOptions{HomeDir: home, Getenv: noEnv})
	require.NoError(t, err)
	assert.Empty(t, l.Files)
}

func TestLoad_BadEnvValue(t *testing.T) {
	_, err := Load(LoadOptions{SkipUser: true, Getenv: func(k string) string {
		if k == "AUTOFLOW_STEP_TIMEOUT" {
			return "soon"
		}
		return ""
	}})
	assert.ErrorContains(t, err, "AUTOFLOW_STEP_TIMEOUT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"level", func(c *Config) { c.Automation.DefaultLevel = "turbo" }, "automation.default_level"},
		{"max level adaptive", func(c *Config) { c.Automation.MaxLevel = automation.LevelAdaptive }, "automation.max_level"},
		{"type", func(c *Config) { c.Automation.TypeLevels = map[task.Type]automation.Level{"chore": "manual"} }, "automation.type_levels"},
		{"thresholds", func(c *Config) { c.Automation.Adaptive.AssistedAt = 0.9 }, "automation.adaptive"},
		{"concurrency", func(c *Config) { c.Engine.MaxConcurrent = 0 }, "engine.max_concurrent"},
		{"strategy", func(c *Config) { c.Engine.Strategy = "greedy" }, "engine.strategy"},
		{"failure threshold", func(c *Config) { c.Engine.FailureThreshold = 2 }, "engine.failure_threshold"},
		{"depth", func(c *Config) { c.Review.Depth = "deep" }, "review.depth"},
		{"threshold", func(c *Config) { c.Review.Threshold = 101 }, "review.threshold"},
		{"analyzer kind", func(c *Config) {
			c.Review.Analyzers = []AnalyzerConfig{{Kind: "style", Command: "x"}}
		}, "review.analyzers[0].kind"},
		{"analyzer command", func(c *Config) {
			c.Review.Analyzers = []AnalyzerConfig{{Kind: review.KindSecurity}}
		}, "review.analyzers[0].command"},
		{"pattern", func(c *Config) { c.Git.Protected = []string{"release/[*"} }, "git.protected"},
		{"lock dir", func(c *Config) { c.Git.LockMode = lock.ModeShared }, "git.lock_dir"},
		{"provider", func(c *Config) { c.Hosting.Provider = "bitbucket" }, "hosting.provider"},
		{"dialect", func(c *Config) { c.Observability.DBDialect = "mysql" }, "observability.db_dialect"},
		{"dsn", func(c *Config) { c.Observability.DBDialect = "sqlite" }, "observability.db_dsn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			fe := flowerrors.AsFlowError(err)
			require.NotNil(t, fe)
			assert.Equal(t, flowerrors.CodeConfigInvalid, fe.Code)
			assert.Contains(t, fe.What, tt.field)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", FileName)
	cfg := Default()
	cfg.Engine.Strategy = "batch"
	require.NoError(t, Save(cfg, path))

	l, err := Load(LoadOptions{SkipUser: true, File: path, Getenv: noEnv})
	require.NoError(t, err)
	assert.Equal(t, "batch", l.Engine.Strategy)
}
