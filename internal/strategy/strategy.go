// Package strategy selects branch names and merge behaviour per task type.
//
// A Strategy is a policy object: naming and planning are pure functions of
// the task, the creation time and the automation level. Only Merge touches
// git, and it does so through the injected git.Service.
//
// Default mapping:
//   - bug, hotfix, security → hotfix (history preserving merge, "hotfix" label)
//   - release → release (merge commit plus a release tag)
//   - everything else → feature (squash merge)
package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/randalmurphal/autoflow/internal/automation"
	"github.com/randalmurphal/autoflow/internal/git"
	"github.com/randalmurphal/autoflow/internal/task"
)

// Strategy names.
const (
	NameFeature = "feature"
	NameHotfix  = "hotfix"
	NameRelease = "release"
)

// maxSlugLength bounds the title part of generated branch names.
const maxSlugLength = 40

// timestampLayout keeps millisecond precision so two workflows for the
// same task never share a branch.
const timestampLayout = "20060102T150405.000"

// Strategy decides how a task's work is branched and merged.
type Strategy interface {
	Name() string
	// BranchName is deterministic in (task, created).
	BranchName(t *task.Task, created time.Time) string
	// BaseBranch returns the branch to fork from given the configured default.
	BaseBranch(defaultBase string) string
	// Labels are attached to the pull request.
	Labels() []string
	// Plan decides the merge behaviour for a resolved automation level.
	Plan(level automation.Level) MergePlan
	// Merge integrates source into target.
	Merge(ctx context.Context, svc git.Service, path, source, target string, opts MergeOptions) (*MergeResult, error)
}

// Tagger is implemented by strategies that tag the merge target after a
// merge. TagMerge can be retried alone when the merge already happened.
type Tagger interface {
	TagMerge(ctx context.Context, svc git.Service, path, target string, merged *MergeResult, opts MergeOptions) error
}

// MergePlan is the merge behaviour for one automation level.
type MergePlan struct {
	Level  automation.Level `json:"level"`
	Method git.MergeMethod  `json:"method"`
	// Auto is false when a human performs the merge.
	Auto                bool `json:"auto"`
	RequireConfirmation bool `json:"require_confirmation"`
	// GateOnScore blocks the merge when the review score is below threshold.
	GateOnScore bool   `json:"gate_on_score"`
	Reason      string `json:"reason,omitempty"`
}

// MergeOptions carries the per-merge parameters.
type MergeOptions struct {
	Method       git.MergeMethod
	PRNumber     int
	Message      string
	DeleteSource bool
	Task         *task.Task
}

// MergeResult is the outcome of Strategy.Merge.
type MergeResult struct {
	Merged      bool            `json:"merged"`
	Skipped     bool            `json:"skipped,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Method      git.MergeMethod `json:"method,omitempty"`
	SHA         string          `json:"sha,omitempty"`
	Tag         string          `json:"tag,omitempty"`
	ViaProvider bool            `json:"via_provider,omitempty"`
}

// base implements the behaviour shared by all strategies.
type base struct {
	name   string
	prefix string
	method git.MergeMethod
	labels []string
}

func (b *base) Name() string { return b.name }

func (b *base) BaseBranch(defaultBase string) string { return defaultBase }

func (b *base) Labels() []string {
	return append([]string(nil), b.labels...)
}

// BranchName returns "<prefix>/<type>/<slug>-<id8>-<timestamp>".
func (b *base) BranchName(t *task.Task, created time.Time) string {
	return fmt.Sprintf("%s/%s/%s-%s-%s",
		b.prefix,
		sanitize(string(t.Type), 20, "task"),
		sanitize(t.Title, maxSlugLength, "task"),
		sanitize(t.ID, 8, "0"),
		created.UTC().Format(timestampLayout),
	)
}

// Plan derives the merge plan from the automation policy table. Adaptive
// must be resolved before planning; an unresolved level plans like manual.
func (b *base) Plan(level automation.Level) MergePlan {
	if !level.IsConcrete() {
		level = automation.LevelManual
	}
	p := automation.PolicyFor(level)
	plan := MergePlan{
		Level:               level,
		Method:              b.method,
		Auto:                p.AutoMerge,
		RequireConfirmation: p.RequireConfirmation,
		GateOnScore:         p.GateOnScore,
	}
	if !plan.Auto {
		plan.Reason = "manual_mode"
	}
	return plan
}

func (b *base) Merge(ctx context.Context, svc git.Service, path, source, target string, opts MergeOptions) (*MergeResult, error) {
	method := opts.Method
	if method == "" {
		method = b.method
	}
	out, err := svc.Merge(ctx, path, git.MergeRequest{
		Source:       source,
		Target:       target,
		Method:       method,
		Message:      opts.Message,
		PRNumber:     opts.PRNumber,
		DeleteSource: opts.DeleteSource,
	})
	if err != nil {
		return nil, err
	}
	return &MergeResult{
		Merged:      true,
		Method:      out.Method,
		SHA:         out.SHA,
		ViaProvider: out.ViaProvider,
	}, nil
}

// sanitize lowercases s and turns runs of anything but letters and digits
// into single hyphens, truncated to max runes.
func sanitize(s string, max int, fallback string) string {
	var b strings.Builder
	dash := false
	n := 0
	for _, r := range strings.ToLower(s) {
		if n >= max {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			n++
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
			n++
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return fallback
	}
	return out
}
