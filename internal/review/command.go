package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Runner executes commands. git.ExecRunner satisfies it.
type Runner interface {
	Run(ctx context.Context, workDir string, name string, args ...string) (string, error)
}

// CommandAnalyzer runs an external tool that prints a JSON report and maps
// the report onto an Analysis with gjson paths.
//
// Arguments may reference {{path}}, {{branch}} and {{base}}.
type CommandAnalyzer struct {
	Runner  Runner
	Command string
	Args    []string

	// ScorePath selects the 0-100 score. Defaults to "score".
	ScorePath string
	// IssuesPath selects an array of objects with file, line, severity and
	// message fields. Defaults to "issues".
	IssuesPath string
	// RecommendationsPath selects an array of strings. Defaults to
	// "recommendations".
	RecommendationsPath string
	// AllowFailure parses the output even when the command exits non-zero,
	// for linters that signal findings through the exit code.
	AllowFailure bool
}

// Analyze runs the command in projectPath and parses its output.
func (c *CommandAnalyzer) Analyze(ctx context.Context, projectPath string, opts Options) (*Analysis, error) {
	r := strings.NewReplacer("{{path}}", projectPath, "{{branch}}", opts.Branch, "{{base}}", opts.BaseBranch)
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = r.Replace(a)
	}
	out, err := c.Runner.Run(ctx, projectPath, c.Command, args...)
	if err != nil && (!c.AllowFailure || ctx.Err() != nil) {
		return nil, fmt.Errorf("%s: %w", c.Command, err)
	}
	return ParseReport(out, c.ScorePath, c.IssuesPath, c.RecommendationsPath)
}

// ParseReport maps a JSON report onto an Analysis. Empty paths use the
// defaults "score", "issues" and "recommendations".
func ParseReport(report, scorePath, issuesPath, recsPath string) (*Analysis, error) {
	if !gjson.Valid(report) {
		return nil, fmt.Errorf("report is not valid JSON")
	}
	scorePath = orDefault(scorePath, "score")
	issuesPath = orDefault(issuesPath, "issues")
	recsPath = orDefault(recsPath, "recommendations")

	score := gjson.Get(report, scorePath)
	if !score.Exists() {
		return nil, fmt.Errorf("report has no %q field", scorePath)
	}
	a := &Analysis{Score: score.Float()}
	gjson.Get(report, issuesPath).ForEach(func(_, v gjson.Result) bool {
		a.Issues = append(a.Issues, Issue{
			Severity: v.Get("severity").String(),
			File:     v.Get("file").String(),
			Line:     int(v.Get("line").Int()),
			Message:  v.Get("message").String(),
		})
		return true
	})
	gjson.Get(report, recsPath).ForEach(func(_, v gjson.Result) bool {
		if s := v.String(); s != "" {
			a.Recommendations = append(a.Recommendations, s)
		}
		return true
	})
	return a, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
