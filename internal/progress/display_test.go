package progress

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/randalmurphal/autoflow/internal/events"
)

func TestFollow(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf, false)

	ch := make(chan events.Event, 8)
	ch <- events.NewEvent(events.EventTransition, "wf", events.TransitionData{From: "validating", To: "branch_creating", Duration: 20 * time.Millisecond})
	ch <- events.NewEvent(events.EventStep, "wf", events.StepData{StepID: "lint", Kind: "analysis", Success: true, Duration: 2 * time.Second})
	ch <- events.NewEvent(events.EventStep, "wf", events.StepData{StepID: "docs", Skipped: true})
	ch <- events.NewEvent(events.EventStep, "wf", events.StepData{StepID: "test", Kind: "testing", Error: "exit 1"})
	ch <- events.NewEvent(events.EventAudit, "wf", "ignored")
	ch <- events.NewEvent(events.EventDecisionRequired, "wf", events.DecisionData{DecisionID: "d-1", Branch: "feature/x"})
	ch <- events.NewEvent(events.EventTransition, "wf", events.TransitionData{From: "merging", To: "failed", Error: "conflict"})
	close(ch)

	d.Follow(context.Background(), ch)

	out := buf.String()
	assert.Contains(t, out, "branch creating (validating took 20ms)")
	assert.Contains(t, out, "lint (analysis, 2s)")
	assert.Contains(t, out, "docs skipped")
	assert.Contains(t, out, "test (testing) failed: exit 1")
	assert.Contains(t, out, "feature/x waits for confirmation (decision d-1)")
	assert.Contains(t, out, "merging failed after 0ms: conflict")
	assert.NotContains(t, out, "ignored")
}

func TestQuiet(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, true).Handle(events.NewEvent(events.EventStep, "wf", events.StepData{StepID: "x", Success: true}))
	assert.Empty(t, buf.String())
}

func TestConflictHelp(t *testing.T) {
	var buf bytes.Buffer
	ConflictHelp(&buf, "/repo", "feature/x", "main", []string{"a.go", "b.go"})

	out := buf.String()
	assert.Contains(t, out, "2 conflicting files")
	assert.Contains(t, out, "     - b.go")
	assert.Contains(t, out, "git merge main")
	assert.Equal(t, 1, strings.Count(out, "cd /repo"))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{45 * time.Second, "45s"},
		{5*time.Minute + 30*time.Second, "5m30s"},
		{2*time.Hour + 15*time.Minute + 30*time.Second, "2h15m30s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in))
	}
}
