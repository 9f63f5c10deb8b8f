package gitflow

import (
	"context"
	"fmt"
	"os"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/randalmurphal/autoflow/internal/git"
	"github.com/randalmurphal/autoflow/internal/workflow"
)

// Validation is the pre-flight verdict.
type Validation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

func (v *Validation) add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
	v.Valid = false
}

// BranchChecker is the read-only part of git.Service the validator needs.
type BranchChecker interface {
	BranchExists(ctx context.Context, path, name string) (bool, error)
}

// Validator checks a workflow before anything in git is changed.
type Validator struct {
	protected []string
	branches  BranchChecker
}

// NewValidator creates a Validator. protected holds doublestar patterns of
// branches a workflow may never create. branches may be nil to skip the
// repository checks.
func NewValidator(protected []string, branches BranchChecker) *Validator {
	return &Validator{protected: protected, branches: branches}
}

// Validate reports every problem found, not only the first.
func (v *Validator) Validate(ctx context.Context, wctx *workflow.Context) Validation {
	res := Validation{Valid: true}

	t := wctx.Task()
	if t == nil {
		res.add("task: is required")
	} else {
		for _, e := range t.Validate() {
			res.add("task %s", e.Error())
		}
	}

	path := wctx.ProjectPath()
	switch info, err := os.Stat(path); {
	case path == "":
		res.add("project path: is required")
	case err != nil:
		res.add("project path %s: %v", path, err)
	case !info.IsDir():
		res.add("project path %s: not a directory", path)
	}

	branch, base := wctx.Branch(), wctx.BaseBranch()
	if err := git.ValidateBranchName(branch); err != nil {
		res.add("branch %q: %v", branch, err)
	}
	if err := git.ValidateBranchName(base); err != nil {
		res.add("base branch %q: %v", base, err)
	}
	if branch != "" && branch == base {
		res.add("branch %q: same as base branch", branch)
	}
	for _, pattern := range v.protected {
		if ok, _ := doublestar.Match(pattern, branch); ok {
			res.add("branch %q: matches protected pattern %q", branch, pattern)
			break
		}
	}

	if v.branches == nil || !res.Valid {
		return res
	}
	if exists, err := v.branches.BranchExists(ctx, path, branch); err != nil {
		res.add("branch %q: %v", branch, err)
	} else if exists {
		res.add("branch %q: already exists", branch)
	}
	if exists, err := v.branches.BranchExists(ctx, path, base); err != nil {
		res.add("base branch %q: %v", base, err)
	} else if !exists {
		res.add("base branch %q: does not exist", base)
	}
	return res
}
