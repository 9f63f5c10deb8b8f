package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/randalmurphal/autoflow/internal/gitflow"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// styled reports whether w is a terminal that should get colors.
func styled(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func render(w io.Writer, s lipgloss.Style, text string) string {
	if !styled(w) {
		return text
	}
	return s.Render(text)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printField prints an aligned "label: value" line; empty values are
// omitted.
func printField(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(w, "  %s %s\n", render(w, labelStyle, fmt.Sprintf("%-12s", label+":")), value)
}

// printResult renders a workflow result for humans.
func printResult(w io.Writer, res *gitflow.Result) {
	status := render(w, successStyle, "completed")
	switch {
	case !res.Success && res.Recoverable:
		status = render(w, warnStyle, "blocked at "+res.Stage.String())
	case !res.Success:
		status = render(w, errorStyle, "failed at "+res.Stage.String())
	}
	fmt.Fprintf(w, "%s %s\n", render(w, titleStyle, "Workflow "+res.WorkflowID), status)

	printField(w, "task", res.TaskID)
	printField(w, "level", res.Level.String())
	printField(w, "strategy", res.Strategy)
	printField(w, "branch", res.Branch+" -> "+res.BaseBranch)
	if res.Steps != nil {
		printField(w, "steps", stepLine(res))
	}
	if res.PullRequest != nil {
		if res.PullRequest.Skipped {
			printField(w, "pr", "skipped ("+res.PullRequest.Reason+")")
		} else {
			printField(w, "pr", fmt.Sprintf("#%d %s", res.PRNumber(), res.PRURL()))
		}
	}
	if res.Review != nil {
		verdict := render(w, successStyle, "passed")
		if !res.Review.Passed {
			verdict = render(w, errorStyle, "below threshold")
		}
		printField(w, "review", fmt.Sprintf("%.1f / %.1f %s", res.Review.Score, res.Review.Threshold, verdict))
	}
	if res.Merge != nil {
		printField(w, "merge", mergeLine(res))
	}
	printField(w, "duration", res.Duration.Round(time.Millisecond).String())
	if res.Validation != nil && !res.Validation.Valid {
		for _, e := range res.Validation.Errors {
			fmt.Fprintf(w, "  %s %s\n", render(w, errorStyle, "x"), e)
		}
	}
	if res.Error != "" {
		printField(w, "error", render(w, errorStyle, res.Error))
	}
}

func stepLine(res *gitflow.Result) string {
	var ok, failed, skipped int
	for _, r := range res.Steps.Steps {
		switch {
		case r.Skipped:
			skipped++
		case r.Success:
			ok++
		default:
			failed++
		}
	}
	parts := []string{fmt.Sprintf("%d ok", ok)}
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", failed))
	}
	if skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", skipped))
	}
	if len(res.Steps.RolledBack) > 0 {
		parts = append(parts, "rolled back "+strings.Join(res.Steps.RolledBack, ", "))
	}
	return strings.Join(parts, ", ")
}

func mergeLine(res *gitflow.Result) string {
	m := res.Merge
	if m.Skipped {
		return "skipped (" + m.Reason + ")"
	}
	if !m.Merged {
		return "not merged"
	}
	line := string(m.Method)
	if m.SHA != "" {
		line += " " + m.SHA
	}
	if m.Tag != "" {
		line += " tag " + m.Tag
	}
	return line
}
