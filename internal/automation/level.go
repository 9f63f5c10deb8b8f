// Package automation resolves how much human involvement a git workflow
// requires. A resolved Level selects a static Policy that decides which
// gated stages run.
package automation

import (
	"fmt"
	"strings"
)

// Level is the automation level of a workflow.
type Level string

const (
	LevelManual   Level = "manual"    // Human opens PR review and merges
	LevelAssisted Level = "assisted"  // Review runs, merge needs confirmation
	LevelSemiAuto Level = "semi_auto" // Same gates as assisted, no reviewer requests
	LevelFullAuto Level = "full_auto" // No PR, merge immediately
	LevelAdaptive Level = "adaptive"  // Resolved per task from a confidence score
)

// rank orders the concrete levels. Adaptive has no rank.
var rank = map[Level]int{
	LevelManual:   0,
	LevelAssisted: 1,
	LevelSemiAuto: 2,
	LevelFullAuto: 3,
}

// ParseLevel parses a level name. Hyphens and case are tolerated.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if l == LevelAdaptive {
		return l, nil
	}
	if _, ok := rank[l]; ok {
		return l, nil
	}
	return "", fmt.Errorf("unknown automation level %q", s)
}

// IsValid reports whether l is a known level.
func (l Level) IsValid() bool {
	_, ok := rank[l]
	return ok || l == LevelAdaptive
}

// IsConcrete reports whether l is one of the four ordered levels.
func (l Level) IsConcrete() bool {
	_, ok := rank[l]
	return ok
}

// AtLeast reports whether l is at or above other. Adaptive compares as
// manual since it must be resolved first.
func (l Level) AtLeast(other Level) bool {
	return rank[l] >= rank[other]
}

// Min returns the lower of two concrete levels.
func Min(a, b Level) Level {
	if rank[a] <= rank[b] {
		return a
	}
	return b
}

func (l Level) String() string { return string(l) }
