// Package config loads autoflow configuration from layered YAML files and
// AUTOFLOW_* environment variables.
package config

import (
	"time"

	"github.com/randalmurphal/autoflow/internal/automation"
	"github.com/randalmurphal/autoflow/internal/executor"
	"github.com/randalmurphal/autoflow/internal/hosting"
	"github.com/randalmurphal/autoflow/internal/lock"
	"github.com/randalmurphal/autoflow/internal/review"
)

// Dir is the name of the autoflow directory in home and project roots.
const Dir = ".autoflow"

// FileName is the config file name inside Dir.
const FileName = "config.yaml"

// Config is the complete autoflow configuration.
type Config struct {
	Automation    automation.Settings `yaml:"automation"`
	Engine        EngineConfig        `yaml:"engine"`
	Review        ReviewConfig        `yaml:"review"`
	Git           GitConfig           `yaml:"git"`
	Hosting       hosting.Config      `yaml:"hosting"`
	Observability ObservabilityConfig `yaml:"observability"`
	Preferences   PreferencesConfig   `yaml:"preferences"`
	Jira          JiraConfig          `yaml:"jira"`
}

// EngineConfig configures the execution engine.
type EngineConfig struct {
	MaxConcurrent   int           `yaml:"max_concurrent"`
	StepTimeout     time.Duration `yaml:"step_timeout"`
	RollbackTimeout time.Duration `yaml:"rollback_timeout"`
	Strategy        string        `yaml:"strategy"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	// RateLimit bounds step dispatches per second; 0 disables it.
	RateLimit        float64 `yaml:"rate_limit"`
	RateBurst        int     `yaml:"rate_burst"`
	FailureThreshold float64 `yaml:"failure_threshold"`
}

// ReviewConfig configures the automated review.
type ReviewConfig struct {
	Depth     review.Depth     `yaml:"depth"`
	Threshold float64          `yaml:"threshold"`
	Timeout   time.Duration    `yaml:"timeout"`
	Analyzers []AnalyzerConfig `yaml:"analyzers,omitempty"`
}

// AnalyzerConfig declares a command-backed analyzer.
type AnalyzerConfig struct {
	Kind                review.Kind `yaml:"kind"`
	Command             string      `yaml:"command"`
	Args                []string    `yaml:"args,omitempty"`
	ScorePath           string      `yaml:"score_path,omitempty"`
	IssuesPath          string      `yaml:"issues_path,omitempty"`
	RecommendationsPath string      `yaml:"recommendations_path,omitempty"`
	AllowFailure        bool        `yaml:"allow_failure,omitempty"`
}

// GitConfig configures branch handling.
type GitConfig struct {
	BaseBranch string `yaml:"base_branch"`
	HotfixBase string `yaml:"hotfix_base,omitempty"`
	Remote     string `yaml:"remote"`
	Push       bool   `yaml:"push"`
	// Protected lists doublestar patterns of branches a workflow must
	// never create.
	Protected             []string  `yaml:"protected,omitempty"`
	DeleteBranchOnFailure bool      `yaml:"delete_branch_on_failure"`
	LockMode              lock.Mode `yaml:"lock_mode"`
	LockDir               string    `yaml:"lock_dir,omitempty"`
}

// ObservabilityConfig configures event sinks and metrics.
type ObservabilityConfig struct {
	NATSURL          string `yaml:"nats_url,omitempty"`
	SubjectPrefix    string `yaml:"subject_prefix,omitempty"`
	DBDialect        string `yaml:"db_dialect,omitempty"`
	DBDSN            string `yaml:"db_dsn,omitempty"`
	MetricsNamespace string `yaml:"metrics_namespace,omitempty"`
}

// PreferencesConfig locates the preference store.
type PreferencesConfig struct {
	Path string `yaml:"path,omitempty"`
	User string `yaml:"user,omitempty"`
}

// JiraConfig configures the Jira task source.
type JiraConfig struct {
	URL         string `yaml:"url,omitempty"`
	Email       string `yaml:"email,omitempty"`
	TokenEnvVar string `yaml:"token_env_var,omitempty"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Automation: automation.Settings{
			DefaultLevel: automation.LevelAssisted,
			Adaptive:     automation.DefaultAdaptiveConfig(),
		},
		Engine: EngineConfig{
			MaxConcurrent:    executor.DefaultMaxConcurrent,
			StepTimeout:      executor.DefaultStepTimeout,
			RollbackTimeout:  executor.DefaultRollbackTimeout,
			Strategy:         executor.StrategySequential,
			CacheTTL:         executor.DefaultCacheTTL,
			FailureThreshold: executor.DefaultFailureThreshold,
		},
		Review: ReviewConfig{
			Depth:     review.DepthStandard,
			Threshold: 70,
			Timeout:   review.DefaultAnalyzerTimeout,
		},
		Git: GitConfig{
			BaseBranch:            "main",
			Remote:                "origin",
			Protected:             []string{"main", "master"},
			DeleteBranchOnFailure: true,
			LockMode:              lock.ModeSolo,
		},
		Hosting: hosting.Config{Provider: "auto"},
		Observability: ObservabilityConfig{
			SubjectPrefix:    "autoflow",
			MetricsNamespace: "autoflow",
		},
		Jira: JiraConfig{TokenEnvVar: "JIRA_API_TOKEN"},
	}
}
