// Package progress prints live workflow progress from the event stream.
package progress

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/autoflow/internal/events"
)

// Display shows progress to the user.
type Display struct {
	w         io.Writer
	quiet     bool
	startTime time.Time
	mu        sync.Mutex
}

// New creates a new progress display writing to w.
func New(w io.Writer, quiet bool) *Display {
	return &Display{w: w, quiet: quiet, startTime: time.Now()}
}

// Follow prints events from ch until ch is closed or ctx is done.
func (d *Display) Follow(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			d.Handle(e)
		}
	}
}

// Handle prints one event. Audit and completion events are not shown;
// the final result covers them.
func (d *Display) Handle(e events.Event) {
	if d.quiet {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	switch data := e.Data.(type) {
	case events.TransitionData:
		d.transition(data)
	case events.StepData:
		d.step(data)
	case events.DecisionData:
		if e.Type == events.EventDecisionRequired {
			fmt.Fprintf(d.w, "⏸  Merge of %s waits for confirmation (decision %s)\n", data.Branch, data.DecisionID)
		} else if data.Approved {
			fmt.Fprintf(d.w, "✅ Merge approved by %s\n", data.ResolvedBy)
		} else {
			fmt.Fprintf(d.w, "❌ Merge rejected by %s: %s\n", data.ResolvedBy, data.Reason)
		}
	}
}

func (d *Display) transition(t events.TransitionData) {
	if t.Error != "" {
		fmt.Fprintf(d.w, "💥 %s failed after %s: %s\n", t.From, formatDuration(t.Duration), t.Error)
		return
	}
	if t.To == "completed" {
		fmt.Fprintf(d.w, "🎉 Workflow completed in %s\n", formatDuration(time.Since(d.startTime)))
		return
	}
	fmt.Fprintf(d.w, "🚀 %s (%s took %s)\n", strings.ReplaceAll(t.To, "_", " "), t.From, formatDuration(t.Duration))
}

func (d *Display) step(s events.StepData) {
	switch {
	case s.Skipped:
		fmt.Fprintf(d.w, "   ⏭  %s skipped\n", s.StepID)
	case s.TimedOut:
		fmt.Fprintf(d.w, "   ⏰ %s timed out after %s\n", s.StepID, formatDuration(s.Duration))
	case !s.Success:
		fmt.Fprintf(d.w, "   ❌ %s (%s) failed: %s\n", s.StepID, s.Kind, s.Error)
	case s.Cached:
		fmt.Fprintf(d.w, "   ✅ %s (%s, cached)\n", s.StepID, s.Kind)
	default:
		fmt.Fprintf(d.w, "   ✅ %s (%s, %s)\n", s.StepID, s.Kind, formatDuration(s.Duration))
	}
}

// ConflictHelp prints manual resolution steps for a merge of source into
// target that stopped on conflicts.
func ConflictHelp(w io.Writer, projectPath, source, target string, files []string) {
	fmt.Fprintf(w, "\n⚠️  Merging %s into %s stopped on %d conflicting %s.\n",
		source, target, len(files), pluralize(len(files), "file", "files"))
	for _, f := range files {
		fmt.Fprintf(w, "     - %s\n", f)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "   To resolve manually:")
	fmt.Fprintln(w, "   "+strings.Repeat("─", 44))
	fmt.Fprintf(w, "   cd %s\n", projectPath)
	fmt.Fprintf(w, "   git checkout %s\n", source)
	fmt.Fprintf(w, "   git merge %s\n", target)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "   # For each conflicted file:")
	fmt.Fprintln(w, "   #   1. Edit the file to resolve conflict markers")
	fmt.Fprintln(w, "   #   2. git add <file>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "   git commit -m \"Resolve merge conflicts\"")
	fmt.Fprintln(w, "   "+strings.Repeat("─", 44))
	fmt.Fprintln(w, "   Then re-run the workflow to merge.")
}

func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	d = d.Round(time.Second)

	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
