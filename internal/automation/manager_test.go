package automation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/autoflow/internal/task"
)

func newTask(typ task.Type, meta map[string]string) *task.Task {
	return &task.Task{ID: "T-00000001", Type: typ, Title: "x", Metadata: meta}
}

func TestResolveLevelPrecedence(t *testing.T) {
	m := NewManager(nil)
	settings := Settings{
		DefaultLevel: LevelAssisted,
		TypeLevels:   map[task.Type]Level{task.TypeDocumentation: LevelFullAuto},
	}

	tests := []struct {
		name  string
		task  *task.Task
		prefs *Preferences
		want  Level
	}{
		{"project default", newTask(task.TypeFeature, nil), nil, LevelAssisted},
		{"type level", newTask(task.TypeDocumentation, nil), nil, LevelFullAuto},
		{"preference beats type", newTask(task.TypeDocumentation, nil), &Preferences{Level: LevelSemiAuto}, LevelSemiAuto},
		{"metadata beats preference", newTask(task.TypeFeature, map[string]string{"automation_level": "manual"}), &Preferences{Level: LevelFullAuto}, LevelManual},
		{"bad metadata fails closed", newTask(task.TypeFeature, map[string]string{"automation_level": "yolo"}), nil, LevelManual},
		{"unknown type", newTask("chore", nil), &Preferences{Level: LevelFullAuto}, LevelManual},
		{"nil task", nil, nil, LevelManual},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.ResolveLevel(tt.task, settings, tt.prefs, 0))
		})
	}
}

func TestResolveLevelFailsClosedWithoutSettings(t *testing.T) {
	m := NewManager(nil)
	assert.Equal(t, LevelManual, m.ResolveLevel(newTask(task.TypeFeature, nil), Settings{}, nil, 1))
	assert.Equal(t, LevelManual, m.ResolveLevel(newTask(task.TypeFeature, nil), Settings{DefaultLevel: "bogus"}, nil, 1))
}

func TestResolveLevelMaxCap(t *testing.T) {
	m := NewManager(nil)
	settings := Settings{DefaultLevel: LevelFullAuto, MaxLevel: LevelAssisted}
	assert.Equal(t, LevelAssisted, m.ResolveLevel(newTask(task.TypeFeature, nil), settings, nil, 0))
}

func TestResolveLevelAdaptive(t *testing.T) {
	m := NewManager(nil)
	settings := Settings{DefaultLevel: LevelAdaptive, Adaptive: DefaultAdaptiveConfig()}

	tests := []struct {
		score float64
		want  Level
	}{
		{0.1, LevelManual},
		{0.5, LevelAssisted},
		{0.75, LevelSemiAuto},
		{0.9, LevelFullAuto},
		{math.NaN(), LevelManual},
	}
	for _, tt := range tests {
		got := m.ResolveLevel(newTask(task.TypeRefactor, nil), settings, nil, tt.score)
		assert.Equal(t, tt.want, got, "score %v", tt.score)
	}
}

func TestConfidence(t *testing.T) {
	m := NewManager(nil)
	cfg := DefaultAdaptiveConfig()

	// Not enough history: review rate alone.
	assert.InDelta(t, 0.8, m.Confidence(cfg, Signals{ReviewPassRate: 0.8, HistoricalSuccess: 0.1, HistorySamples: 1}), 1e-9)
	// Weighted blend.
	assert.InDelta(t, 0.6*1+0.4*0.5, m.Confidence(cfg, Signals{ReviewPassRate: 1, HistoricalSuccess: 0.5, HistorySamples: 10}), 1e-9)
	// Out of range inputs are clamped.
	assert.InDelta(t, 1.0, m.Confidence(cfg, Signals{ReviewPassRate: 7, HistoricalSuccess: 2, HistorySamples: 10}), 1e-9)
	assert.Zero(t, m.Confidence(AdaptiveConfig{}, Signals{ReviewPassRate: 1}))
}

func TestPolicyTable(t *testing.T) {
	manual := PolicyFor(LevelManual)
	assert.True(t, manual.CreatePR)
	assert.False(t, manual.RunReview)
	assert.False(t, manual.AutoMerge)

	full := PolicyFor(LevelFullAuto)
	assert.False(t, full.CreatePR)
	assert.True(t, full.RunReview)
	assert.True(t, full.AutoMerge)
	assert.False(t, full.GateOnScore)

	for _, l := range []Level{LevelAssisted, LevelSemiAuto} {
		p := PolicyFor(l)
		assert.True(t, p.RequireConfirmation, l)
		assert.True(t, p.GateOnScore, l)
	}

	assert.Equal(t, manual, PolicyFor(LevelAdaptive))
	assert.Equal(t, manual, PolicyFor("unknown"))
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("Semi-Auto")
	require.NoError(t, err)
	assert.Equal(t, LevelSemiAuto, l)

	_, err = ParseLevel("auto")
	assert.Error(t, err)

	assert.True(t, LevelFullAuto.AtLeast(LevelAssisted))
	assert.False(t, LevelManual.AtLeast(LevelAssisted))
	assert.Equal(t, LevelManual, Min(LevelManual, LevelFullAuto))
}
