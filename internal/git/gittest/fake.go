// Package gittest provides an in-memory git.Service for tests.
package gittest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/randalmurphal/autoflow/internal/errors"
	"github.com/randalmurphal/autoflow/internal/git"
	"github.com/randalmurphal/autoflow/internal/hosting"
)

// Call is one recorded operation.
type Call struct {
	Op   string
	Path string
	Arg  string
}

// Service is a fake git.Service keeping branches in memory. Errors can be
// injected per operation; Delay makes every mutating call take that long.
type Service struct {
	mu       sync.Mutex
	branches map[string]bool
	calls    []Call
	nextPR   int

	// Errs maps an operation name to the error it returns.
	Errs map[string]error
	// Conflicts makes Merge report these conflicting files.
	Conflicts []string
	Delay     time.Duration
	// OnCall observes every call as it starts.
	OnCall func(Call)
}

var _ git.Service = (*Service)(nil)

// New creates a fake with the given existing branches.
func New(branches ...string) *Service {
	s := &Service{branches: make(map[string]bool), Errs: make(map[string]error), nextPR: 1}
	for _, b := range branches {
		s.branches[b] = true
	}
	return s
}

func (s *Service) record(op, path, arg string) error {
	c := Call{Op: op, Path: path, Arg: arg}
	s.mu.Lock()
	s.calls = append(s.calls, c)
	err := s.Errs[op]
	hook := s.OnCall
	delay := s.Delay
	s.mu.Unlock()
	if hook != nil {
		hook(c)
	}
	if delay > 0 && op != "branch_exists" {
		time.Sleep(delay)
	}
	return err
}

// Calls returns the recorded calls.
func (s *Service) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Ops returns the recorded operation names.
func (s *Service) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := make([]string, len(s.calls))
	for i, c := range s.calls {
		ops[i] = c.Op
	}
	return ops
}

// Count returns how often op was called.
func (s *Service) Count(op string) int {
	n := 0
	for _, o := range s.Ops() {
		if o == op {
			n++
		}
	}
	return n
}

// HasBranch reports whether the fake holds a branch.
func (s *Service) HasBranch(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.branches[name]
}

func (s *Service) CreateBranch(_ context.Context, path, name, base string) error {
	if err := s.record("create_branch", path, name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.branches[name] {
		return errors.ErrGitOperation("create branch", fmt.Errorf("branch %s already exists", name))
	}
	s.branches[name] = true
	return nil
}

func (s *Service) DeleteBranch(_ context.Context, path, name string) error {
	if err := s.record("delete_branch", path, name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.branches, name)
	return nil
}

func (s *Service) BranchExists(_ context.Context, path, name string) (bool, error) {
	if err := s.record("branch_exists", path, name); err != nil {
		return false, err
	}
	return s.HasBranch(name), nil
}

func (s *Service) CreatePullRequest(_ context.Context, path string, req git.PullRequestRequest) (*hosting.PR, error) {
	if err := s.record("create_pr", path, req.Source); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nextPR
	s.nextPR++
	return &hosting.PR{
		Number:     n,
		Title:      req.Title,
		State:      "open",
		HeadBranch: req.Source,
		BaseBranch: req.Target,
		HTMLURL:    fmt.Sprintf("https://example.test/pr/%d", n),
	}, nil
}

func (s *Service) Merge(_ context.Context, path string, req git.MergeRequest) (*git.MergeOutcome, error) {
	if err := s.record("merge", path, req.Source); err != nil {
		return nil, err
	}
	if len(s.Conflicts) > 0 {
		return nil, errors.ErrMergeConflict(req.Source, req.Target, s.Conflicts)
	}
	return &git.MergeOutcome{SHA: "0123abcd", Method: req.Method, ViaProvider: req.PRNumber > 0}, nil
}

func (s *Service) Tag(_ context.Context, path, name, _ string, _ string) error {
	return s.record("tag", path, name)
}
