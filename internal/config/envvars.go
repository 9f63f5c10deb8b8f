package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/randalmurphal/autoflow/internal/automation"
	"github.com/randalmurphal/autoflow/internal/lock"
	"github.com/randalmurphal/autoflow/internal/review"
)

// EnvVarMapping defines the mapping between environment variables and config paths.
var EnvVarMapping = map[string]string{
	"AUTOFLOW_LEVEL":     "automation.default_level",
	"AUTOFLOW_MAX_LEVEL": "automation.max_level",
	// Engine
	"AUTOFLOW_MAX_CONCURRENT":    "engine.max_concurrent",
	"AUTOFLOW_STEP_TIMEOUT":      "engine.step_timeout",
	"AUTOFLOW_ROLLBACK_TIMEOUT":  "engine.rollback_timeout",
	"AUTOFLOW_STRATEGY":          "engine.strategy",
	"AUTOFLOW_CACHE_TTL":         "engine.cache_ttl",
	"AUTOFLOW_RATE_LIMIT":        "engine.rate_limit",
	"AUTOFLOW_RATE_BURST":        "engine.rate_burst",
	"AUTOFLOW_FAILURE_THRESHOLD": "engine.failure_threshold",
	// Review
	"AUTOFLOW_REVIEW_DEPTH":     "review.depth",
	"AUTOFLOW_REVIEW_THRESHOLD": "review.threshold",
	"AUTOFLOW_REVIEW_TIMEOUT":   "review.timeout",
	// Git
	"AUTOFLOW_BASE_BRANCH": "git.base_branch",
	"AUTOFLOW_HOTFIX_BASE": "git.hotfix_base",
	"AUTOFLOW_REMOTE":      "git.remote",
	"AUTOFLOW_PUSH":        "git.push",
	"AUTOFLOW_LOCK_MODE":   "git.lock_mode",
	"AUTOFLOW_LOCK_DIR":    "git.lock_dir",
	// Hosting
	"AUTOFLOW_HOSTING_PROVIDER": "hosting.provider",
	"AUTOFLOW_HOSTING_BASE_URL": "hosting.base_url",
	// Observability
	"AUTOFLOW_NATS_URL":          "observability.nats_url",
	"AUTOFLOW_SUBJECT_PREFIX":    "observability.subject_prefix",
	"AUTOFLOW_DB_DIALECT":        "observability.db_dialect",
	"AUTOFLOW_DB_DSN":            "observability.db_dsn",
	"AUTOFLOW_METRICS_NAMESPACE": "observability.metrics_namespace",
	// Preferences
	"AUTOFLOW_PREFERENCES": "preferences.path",
	"AUTOFLOW_USER":        "preferences.user",
	// Jira
	"AUTOFLOW_JIRA_URL":   "jira.url",
	"AUTOFLOW_JIRA_EMAIL": "jira.email",
}

// ApplyEnvVars applies environment variable overrides to cfg and returns
// the config paths that were overridden, sorted. A value that does not
// parse is an error.
func ApplyEnvVars(cfg *Config, getenv func(string) string) ([]string, error) {
	var overridden []string
	for envVar, path := range EnvVarMapping {
		value := getenv(envVar)
		if value == "" {
			continue
		}
		if err := applyEnvVar(cfg, path, value); err != nil {
			return nil, fmt.Errorf("%s: %w", envVar, err)
		}
		overridden = append(overridden, path)
	}
	sort.Strings(overridden)
	return overridden, nil
}

// applyEnvVar applies a single environment variable to the config.
func applyEnvVar(cfg *Config, path, value string) error {
	var err error
	switch path {
	case "automation.default_level":
		cfg.Automation.DefaultLevel = automation.Level(value)
	case "automation.max_level":
		cfg.Automation.MaxLevel = automation.Level(value)
	case "engine.max_concurrent":
		cfg.Engine.MaxConcurrent, err = strconv.Atoi(value)
	case "engine.step_timeout":
		cfg.Engine.StepTimeout, err = time.ParseDuration(value)
	case "engine.rollback_timeout":
		cfg.Engine.RollbackTimeout, err = time.ParseDuration(value)
	case "engine.strategy":
		cfg.Engine.Strategy = value
	case "engine.cache_ttl":
		cfg.Engine.CacheTTL, err = time.ParseDuration(value)
	case "engine.rate_limit":
		cfg.Engine.RateLimit, err = strconv.ParseFloat(value, 64)
	case "engine.rate_burst":
		cfg.Engine.RateBurst, err = strconv.Atoi(value)
	case "engine.failure_threshold":
		cfg.Engine.FailureThreshold, err = strconv.ParseFloat(value, 64)
	case "review.depth":
		cfg.Review.Depth = review.Depth(value)
	case "review.threshold":
		cfg.Review.Threshold, err = strconv.ParseFloat(value, 64)
	case "review.timeout":
		cfg.Review.Timeout, err = time.ParseDuration(value)
	case "git.base_branch":
		cfg.Git.BaseBranch = value
	case "git.hotfix_base":
		cfg.Git.HotfixBase = value
	case "git.remote":
		cfg.Git.Remote = value
	case "git.push":
		cfg.Git.Push = parseBool(value)
	case "git.lock_mode":
		cfg.Git.LockMode = lock.Mode(value)
	case "git.lock_dir":
		cfg.Git.LockDir = value
	case "hosting.provider":
		cfg.Hosting.Provider = value
	case "hosting.base_url":
		cfg.Hosting.BaseURL = value
	case "observability.nats_url":
		cfg.Observability.NATSURL = value
	case "observability.subject_prefix":
		cfg.Observability.SubjectPrefix = value
	case "observability.db_dialect":
		cfg.Observability.DBDialect = value
	case "observability.db_dsn":
		cfg.Observability.DBDSN = value
	case "observability.metrics_namespace":
		cfg.Observability.MetricsNamespace = value
	case "preferences.path":
		cfg.Preferences.Path = value
	case "preferences.user":
		cfg.Preferences.User = value
	case "jira.url":
		cfg.Jira.URL = value
	case "jira.email":
		cfg.Jira.Email = value
	default:
		return fmt.Errorf("unknown config path %q", path)
	}
	return err
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
