package git

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/randalmurphal/autoflow/internal/errors"
	"github.com/randalmurphal/autoflow/internal/hosting"
)

// MergeMethod selects how a source branch is integrated.
type MergeMethod string

const (
	MethodMerge       MergeMethod = "merge"
	MethodSquash      MergeMethod = "squash"
	MethodRebase      MergeMethod = "rebase"
	MethodFastForward MergeMethod = "fast_forward"
)

// ErrNoProvider is returned for operations that need a hosting provider
// when none is configured.
var ErrNoProvider = stderrors.New("no hosting provider configured")

// PullRequestRequest describes a pull request to open.
type PullRequestRequest struct {
	Title     string
	Body      string
	Source    string
	Target    string
	Draft     bool
	Labels    []string
	Reviewers []string
}

// MergeRequest describes a merge of Source into Target.
type MergeRequest struct {
	Source  string
	Target  string
	Method  MergeMethod
	Message string
	// PRNumber merges through the hosting provider when set.
	PRNumber     int
	DeleteSource bool
}

// MergeOutcome is what a successful merge produced.
type MergeOutcome struct {
	SHA         string      `json:"sha,omitempty"`
	Method      MergeMethod `json:"method"`
	ViaProvider bool        `json:"via_provider,omitempty"`
}

// Service is the set of git operations workflows rely on. path is the
// project working tree.
type Service interface {
	CreateBranch(ctx context.Context, path, name, base string) error
	DeleteBranch(ctx context.Context, path, name string) error
	BranchExists(ctx context.Context, path, name string) (bool, error)
	CreatePullRequest(ctx context.Context, path string, req PullRequestRequest) (*hosting.PR, error)
	Merge(ctx context.Context, path string, req MergeRequest) (*MergeOutcome, error)
	Tag(ctx context.Context, path, name, ref, message string) error
}

// CLIService implements Service with the git binary. Pull requests and
// provider merges go through the hosting provider when one is set.
type CLIService struct {
	runner   CommandRunner
	provider hosting.Provider
	remote   string
	push     bool
	logger   *slog.Logger
}

// Option configures a CLIService.
type Option func(*CLIService)

// WithRunner sets the command runner.
func WithRunner(r CommandRunner) Option { return func(s *CLIService) { s.runner = r } }

// WithProvider sets the hosting provider.
func WithProvider(p hosting.Provider) Option { return func(s *CLIService) { s.provider = p } }

// WithRemote sets the remote name. Defaults to origin.
func WithRemote(name string) Option { return func(s *CLIService) { s.remote = name } }

// WithPush pushes merged targets and tags to the remote.
func WithPush(v bool) Option { return func(s *CLIService) { s.push = v } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *CLIService) { s.logger = l } }

// NewCLIService creates a CLIService.
func NewCLIService(opts ...Option) *CLIService {
	s := &CLIService{runner: NewExecRunner(), remote: "origin"}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Provider returns the hosting provider, or nil.
func (s *CLIService) Provider() hosting.Provider { return s.provider }

func (s *CLIService) git(ctx context.Context, path string, args ...string) (string, error) {
	return s.runner.Run(ctx, path, "git", args...)
}

// CreateBranch creates name from base and checks it out.
func (s *CLIService) CreateBranch(ctx context.Context, path, name, base string) error {
	if err := ValidateBranchName(name); err != nil {
		return errors.ErrGitOperation("create branch", err)
	}
	args := []string{"checkout", "-b", name}
	if base != "" {
		args = append(args, base)
	}
	if _, err := s.git(ctx, path, args...); err != nil {
		return errors.ErrGitOperation("create branch", err)
	}
	s.logger.Debug("branch created", "path", path, "branch", name, "base", base)
	return nil
}

// DeleteBranch deletes a local branch, detaching HEAD first when it is
// checked out. The remote branch is removed best effort.
func (s *CLIService) DeleteBranch(ctx context.Context, path, name string) error {
	if head, err := s.git(ctx, path, "rev-parse", "--abbrev-ref", "HEAD"); err == nil && head == name {
		if _, err := s.git(ctx, path, "checkout", "--detach"); err != nil {
			return errors.ErrGitOperation("delete branch", err)
		}
	}
	if _, err := s.git(ctx, path, "branch", "-D", name); err != nil {
		return errors.ErrGitOperation("delete branch", err)
	}
	if s.provider != nil {
		if err := s.provider.DeleteBranch(ctx, name); err != nil {
			s.logger.Warn("delete remote branch failed", "branch", name, "error", err)
		}
	}
	return nil
}

// BranchExists reports whether a local branch exists.
func (s *CLIService) BranchExists(ctx context.Context, path, name string) (bool, error) {
	_, err := s.git(ctx, path, "rev-parse", "--verify", "--quiet", "refs/heads/"+name)
	if err == nil {
		return true, nil
	}
	var cmdErr *CommandError
	if stderrors.As(err, &cmdErr) && cmdErr.ExitCode() == 1 {
		return false, nil
	}
	return false, errors.ErrGitOperation("branch exists", err)
}

// CreatePullRequest pushes the source branch and opens a pull request.
func (s *CLIService) CreatePullRequest(ctx context.Context, path string, req PullRequestRequest) (*hosting.PR, error) {
	if s.provider == nil {
		return nil, errors.ErrPullRequest(req.Source, ErrNoProvider)
	}
	if _, err := s.git(ctx, path, "push", "-u", s.remote, req.Source); err != nil {
		return nil, errors.ErrPullRequest(req.Source, err)
	}
	pr, err := s.provider.CreatePR(ctx, hosting.PRCreateOptions{
		Title:     req.Title,
		Body:      req.Body,
		Head:      req.Source,
		Base:      req.Target,
		Draft:     req.Draft,
		Labels:    req.Labels,
		Reviewers: req.Reviewers,
	})
	if err != nil {
		return nil, errors.ErrPullRequest(req.Source, err)
	}
	return pr, nil
}

// Merge integrates req.Source into req.Target. A pull request number
// routes the merge through the provider; otherwise the merge is local.
// A conflicting local merge is aborted and reported with the conflicting
// files.
func (s *CLIService) Merge(ctx context.Context, path string, req MergeRequest) (*MergeOutcome, error) {
	if req.Method == "" {
		req.Method = MethodMerge
	}
	if req.PRNumber > 0 && s.provider != nil {
		return s.mergeViaProvider(ctx, req)
	}

	if _, err := s.git(ctx, path, "checkout", req.Target); err != nil {
		return nil, errors.ErrGitOperation("checkout "+req.Target, err)
	}

	var steps [][]string
	switch req.Method {
	case MethodSquash:
		steps = [][]string{
			{"merge", "--squash", req.Source},
			{"commit", "-m", mergeMessage(req)},
		}
	case MethodRebase, MethodFastForward:
		steps = [][]string{{"merge", "--ff-only", req.Source}}
	default:
		steps = [][]string{{"merge", "--no-ff", "-m", mergeMessage(req), req.Source}}
	}
	for _, args := range steps {
		out, err := s.git(ctx, path, args...)
		if err == nil {
			continue
		}
		if strings.Contains(out, "CONFLICT") || strings.Contains(err.Error(), "CONFLICT") {
			return nil, s.conflict(ctx, path, req)
		}
		return nil, errors.ErrGitOperation("merge", err)
	}

	sha, err := s.git(ctx, path, "rev-parse", "HEAD")
	if err != nil {
		return nil, errors.ErrGitOperation("rev-parse", err)
	}
	if s.push {
		if _, err := s.git(ctx, path, "push", s.remote, req.Target); err != nil {
			return nil, errors.ErrGitOperation("push "+req.Target, err)
		}
	}
	if req.DeleteSource {
		if _, err := s.git(ctx, path, "branch", "-D", req.Source); err != nil {
			s.logger.Warn("delete merged branch failed", "branch", req.Source, "error", err)
		}
	}
	s.logger.Info("merged", "source", req.Source, "target", req.Target, "method", req.Method, "sha", sha)
	return &MergeOutcome{SHA: sha, Method: req.Method}, nil
}

func (s *CLIService) mergeViaProvider(ctx context.Context, req MergeRequest) (*MergeOutcome, error) {
	method := string(req.Method)
	if req.Method == MethodFastForward {
		method = string(MethodRebase)
	}
	err := s.provider.MergePR(ctx, req.PRNumber, hosting.PRMergeOptions{
		Method:        method,
		CommitMessage: req.Message,
		DeleteBranch:  req.DeleteSource,
	})
	if err != nil {
		return nil, errors.ErrGitOperation(fmt.Sprintf("merge PR #%d", req.PRNumber), err)
	}
	out := &MergeOutcome{Method: req.Method, ViaProvider: true}
	if pr, err := s.provider.GetPR(ctx, req.PRNumber); err == nil {
		out.SHA = pr.MergeCommitSHA
	}
	return out, nil
}

// conflict collects the unmerged files and aborts the merge so the
// working tree is left clean.
func (s *CLIService) conflict(ctx context.Context, path string, req MergeRequest) error {
	var files []string
	if out, err := s.git(ctx, path, "diff", "--name-only", "--diff-filter=U"); err == nil {
		for _, f := range strings.Split(out, "\n") {
			if f = strings.TrimSpace(f); f != "" {
				files = append(files, f)
			}
		}
	}
	abort := []string{"merge", "--abort"}
	if req.Method == MethodSquash {
		abort = []string{"reset", "--merge"}
	}
	if _, err := s.git(ctx, path, abort...); err != nil {
		s.logger.Warn("abort merge failed", "path", path, "error", err)
	}
	return errors.ErrMergeConflict(req.Source, req.Target, files)
}

// Tag creates an annotated tag at ref and pushes it when pushing is enabled.
func (s *CLIService) Tag(ctx context.Context, path, name, ref, message string) error {
	if message == "" {
		message = name
	}
	args := []string{"tag", "-a", name, "-m", message}
	if ref != "" {
		args = append(args, ref)
	}
	if _, err := s.git(ctx, path, args...); err != nil {
		return errors.ErrGitOperation("tag "+name, err)
	}
	if s.push {
		if _, err := s.git(ctx, path, "push", s.remote, name); err != nil {
			return errors.ErrGitOperation("push tag "+name, err)
		}
	}
	return nil
}

func mergeMessage(req MergeRequest) string {
	if req.Message != "" {
		return req.Message
	}
	return fmt.Sprintf("Merge %s into %s", req.Source, req.Target)
}
