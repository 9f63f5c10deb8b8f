package automation

import (
	"log/slog"
	"math"

	"github.com/randalmurphal/autoflow/internal/task"
)

// Settings are the project level automation defaults.
type Settings struct {
	DefaultLevel Level              `yaml:"default_level" json:"default_level"`
	TypeLevels   map[task.Type]Level `yaml:"type_levels,omitempty" json:"type_levels,omitempty"`
	// MaxLevel caps every resolved level. Empty means no cap.
	MaxLevel Level          `yaml:"max_level,omitempty" json:"max_level,omitempty"`
	Adaptive AdaptiveConfig `yaml:"adaptive" json:"adaptive"`
}

// AdaptiveConfig weights the confidence signals and maps the resulting
// score onto a concrete level.
type AdaptiveConfig struct {
	ReviewWeight  float64 `yaml:"review_weight" json:"review_weight"`
	HistoryWeight float64 `yaml:"history_weight" json:"history_weight"`
	// Scores below AssistedAt resolve to manual.
	AssistedAt float64 `yaml:"assisted_at" json:"assisted_at"`
	SemiAutoAt float64 `yaml:"semi_auto_at" json:"semi_auto_at"`
	FullAutoAt float64 `yaml:"full_auto_at" json:"full_auto_at"`
	// MinSamples is the history size below which history is ignored.
	MinSamples int `yaml:"min_samples" json:"min_samples"`
}

// DefaultAdaptiveConfig returns the default thresholds.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		ReviewWeight:  0.6,
		HistoryWeight: 0.4,
		AssistedAt:    0.5,
		SemiAutoAt:    0.7,
		FullAutoAt:    0.85,
		MinSamples:    5,
	}
}

// Preferences are per-user automation preferences.
type Preferences struct {
	Level     Level    `yaml:"level,omitempty" json:"level,omitempty"`
	Reviewers []string `yaml:"reviewers,omitempty" json:"reviewers,omitempty"`
}

// Signals feed the adaptive confidence score. Rates are in [0,1].
type Signals struct {
	ReviewPassRate    float64
	HistoricalSuccess float64
	HistorySamples    int
}

// Manager resolves automation levels. It performs no I/O.
type Manager struct {
	logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// Confidence computes the weighted adaptive score from signals. History
// with too few samples is dropped and the review rate carries the weight.
func (m *Manager) Confidence(cfg AdaptiveConfig, s Signals) float64 {
	rw, hw := cfg.ReviewWeight, cfg.HistoryWeight
	if s.HistorySamples < cfg.MinSamples {
		hw = 0
	}
	total := rw + hw
	if total <= 0 {
		return 0
	}
	score := (rw*clamp01(s.ReviewPassRate) + hw*clamp01(s.HistoricalSuccess)) / total
	return clamp01(score)
}

// ResolveLevel returns the concrete level for a task. Precedence is task
// metadata, then user preference, then the per-type project level, then the
// project default. Anything unknown resolves to manual.
func (m *Manager) ResolveLevel(t *task.Task, settings Settings, prefs *Preferences, confidence float64) Level {
	if t == nil || !task.IsValidType(t.Type) {
		return LevelManual
	}

	level := LevelManual
	switch {
	case t.Meta(task.MetaAutomationLevel) != "":
		if l, err := ParseLevel(t.Meta(task.MetaAutomationLevel)); err == nil {
			level = l
		} else {
			m.logger.Warn("ignoring task automation level", "task_id", t.ID, "error", err)
		}
	case prefs != nil && prefs.Level != "":
		level = prefs.Level
	case settings.TypeLevels[t.Type] != "":
		level = settings.TypeLevels[t.Type]
	case settings.DefaultLevel != "":
		level = settings.DefaultLevel
	}

	if level == LevelAdaptive {
		level = m.fromConfidence(settings.Adaptive, confidence)
	}
	if !level.IsConcrete() {
		return LevelManual
	}
	if settings.MaxLevel.IsConcrete() {
		level = Min(level, settings.MaxLevel)
	}
	return level
}

func (m *Manager) fromConfidence(cfg AdaptiveConfig, score float64) Level {
	if math.IsNaN(score) {
		return LevelManual
	}
	if cfg.FullAutoAt == 0 && cfg.SemiAutoAt == 0 && cfg.AssistedAt == 0 {
		cfg = DefaultAdaptiveConfig()
	}
	switch {
	case score >= cfg.FullAutoAt:
		return LevelFullAuto
	case score >= cfg.SemiAutoAt:
		return LevelSemiAuto
	case score >= cfg.AssistedAt:
		return LevelAssisted
	default:
		return LevelManual
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
