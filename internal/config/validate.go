package config

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/randalmurphal/autoflow/internal/db/driver"
	flowerrors "github.com/randalmurphal/autoflow/internal/errors"
	"github.com/randalmurphal/autoflow/internal/executor"
	"github.com/randalmurphal/autoflow/internal/lock"
	"github.com/randalmurphal/autoflow/internal/review"
	"github.com/randalmurphal/autoflow/internal/task"
)

var strategies = map[string]bool{
	executor.StrategySequential: true,
	executor.StrategyOptimized:  true,
	executor.StrategyBatch:      true,
	executor.StrategySmart:      true,
}

// Validate rejects unknown names and out-of-range values. The first
// problem is returned as a CONFIG_INVALID error.
func (c *Config) Validate() error {
	a := c.Automation
	if a.DefaultLevel != "" && !a.DefaultLevel.IsValid() {
		return flowerrors.ErrConfigInvalid("automation.default_level", fmt.Sprintf("unknown level %q", a.DefaultLevel))
	}
	if a.MaxLevel != "" && !a.MaxLevel.IsConcrete() {
		return flowerrors.ErrConfigInvalid("automation.max_level", fmt.Sprintf("%q is not a concrete level", a.MaxLevel))
	}
	for typ, l := range a.TypeLevels {
		if !task.IsValidType(typ) {
			return flowerrors.ErrConfigInvalid("automation.type_levels", fmt.Sprintf("unknown task type %q", typ))
		}
		if !l.IsValid() {
			return flowerrors.ErrConfigInvalid("automation.type_levels."+string(typ), fmt.Sprintf("unknown level %q", l))
		}
	}
	ad := a.Adaptive
	if ad.ReviewWeight < 0 || ad.HistoryWeight < 0 {
		return flowerrors.ErrConfigInvalid("automation.adaptive", "weights must not be negative")
	}
	if !(ad.AssistedAt <= ad.SemiAutoAt && ad.SemiAutoAt <= ad.FullAutoAt && ad.FullAutoAt <= 1) {
		return flowerrors.ErrConfigInvalid("automation.adaptive", "thresholds must satisfy assisted_at <= semi_auto_at <= full_auto_at <= 1")
	}

	e := c.Engine
	if e.MaxConcurrent < 1 {
		return flowerrors.ErrConfigInvalid("engine.max_concurrent", "must be at least 1")
	}
	if e.StepTimeout <= 0 || e.RollbackTimeout <= 0 {
		return flowerrors.ErrConfigInvalid("engine.step_timeout", "timeouts must be positive")
	}
	if !strategies[e.Strategy] {
		return flowerrors.ErrConfigInvalid("engine.strategy", fmt.Sprintf("unknown strategy %q", e.Strategy))
	}
	if e.RateLimit < 0 || e.RateBurst < 0 {
		return flowerrors.ErrConfigInvalid("engine.rate_limit", "must not be negative")
	}
	if e.FailureThreshold <= 0 || e.FailureThreshold > 1 {
		return flowerrors.ErrConfigInvalid("engine.failure_threshold", "must be in (0,1]")
	}

	r := c.Review
	if _, err := review.ParseDepth(string(r.Depth)); err != nil {
		return flowerrors.ErrConfigInvalid("review.depth", err.Error())
	}
	if r.Threshold < 0 || r.Threshold > 100 {
		return flowerrors.ErrConfigInvalid("review.threshold", "must be between 0 and 100")
	}
	for i, an := range r.Analyzers {
		known := false
		for _, k := range review.AllKinds {
			known = known || k == an.Kind
		}
		if !known {
			return flowerrors.ErrConfigInvalid(fmt.Sprintf("review.analyzers[%d].kind", i), fmt.Sprintf("unknown kind %q", an.Kind))
		}
		if an.Command == "" {
			return flowerrors.ErrConfigInvalid(fmt.Sprintf("review.analyzers[%d].command", i), "is required")
		}
	}

	g := c.Git
	if g.BaseBranch == "" {
		return flowerrors.ErrConfigInvalid("git.base_branch", "is required")
	}
	for _, p := range g.Protected {
		if !doublestar.ValidatePattern(p) {
			return flowerrors.ErrConfigInvalid("git.protected", fmt.Sprintf("invalid pattern %q", p))
		}
	}
	switch g.LockMode {
	case lock.ModeSolo:
	case lock.ModeShared:
		if g.LockDir == "" {
			return flowerrors.ErrConfigInvalid("git.lock_dir", "is required in shared lock mode")
		}
	default:
		return flowerrors.ErrConfigInvalid("git.lock_mode", fmt.Sprintf("unknown mode %q", g.LockMode))
	}

	switch c.Hosting.Provider {
	case "", "auto", "none", "github", "gitlab":
	default:
		return flowerrors.ErrConfigInvalid("hosting.provider", fmt.Sprintf("unknown provider %q", c.Hosting.Provider))
	}

	if o := c.Observability; o.DBDialect != "" {
		if _, err := driver.ParseDialect(o.DBDialect); err != nil {
			return flowerrors.ErrConfigInvalid("observability.db_dialect", err.Error())
		}
		if o.DBDSN == "" {
			return flowerrors.ErrConfigInvalid("observability.db_dsn", "is required with db_dialect")
		}
	}
	return nil
}
