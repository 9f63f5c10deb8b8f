// Package pullrequest creates pull requests for workflow branches and
// tracks what was created per workflow.
package pullrequest

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/autoflow/internal/automation"
	"github.com/randalmurphal/autoflow/internal/errors"
	"github.com/randalmurphal/autoflow/internal/git"
)

// Skip reasons.
const (
	ReasonFullAuto = "full_auto_mode"
	ReasonPolicy   = "disabled_by_policy"
)

var (
	// ErrSameBranch is returned when source and target are the same branch.
	ErrSameBranch = stderrors.New("source and target branch are the same")
	// ErrBranchNotFound is returned when the source branch does not exist.
	ErrBranchNotFound = stderrors.New("source branch does not exist")
)

// Request describes the pull request to open.
type Request struct {
	WorkflowID string
	Source     string
	Target     string
	Title      string
	Body       string
	Draft      bool
	Labels     []string
	Reviewers  []string
	Level      automation.Level
}

// Record is the tracked metadata of a pull request.
type Record struct {
	WorkflowID string    `json:"workflow_id"`
	Number     int       `json:"number,omitempty"`
	URL        string    `json:"url,omitempty"`
	Source     string    `json:"source"`
	Target     string    `json:"target"`
	Title      string    `json:"title,omitempty"`
	Reviewers  []string  `json:"reviewers,omitempty"`
	Skipped    bool      `json:"skipped,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Result is the outcome of CreatePullRequest.
type Result struct {
	Skipped bool    `json:"skipped"`
	Reason  string  `json:"reason,omitempty"`
	Record  *Record `json:"record,omitempty"`
}

// Manager opens pull requests through a git.Service.
type Manager struct {
	svc    git.Service
	logger *slog.Logger

	mu      sync.RWMutex
	records map[string][]Record
}

// NewManager creates a Manager.
func NewManager(svc git.Service, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{svc: svc, logger: logger, records: make(map[string][]Record)}
}

// CreatePullRequest opens a pull request for req.Source into req.Target.
// Levels whose policy does not create pull requests are skipped without
// any git call.
func (m *Manager) CreatePullRequest(ctx context.Context, projectPath string, req Request) (*Result, error) {
	policy := automation.PolicyFor(req.Level)
	if !policy.CreatePR {
		reason := ReasonPolicy
		if req.Level == automation.LevelFullAuto {
			reason = ReasonFullAuto
		}
		rec := Record{
			WorkflowID: req.WorkflowID,
			Source:     req.Source,
			Target:     req.Target,
			Skipped:    true,
			Reason:     reason,
			CreatedAt:  time.Now().UTC(),
		}
		m.track(rec)
		return &Result{Skipped: true, Reason: reason, Record: &rec}, nil
	}

	if req.Source == req.Target {
		return nil, errors.ErrPullRequest(req.Source, ErrSameBranch)
	}
	exists, err := m.svc.BranchExists(ctx, projectPath, req.Source)
	if err != nil {
		return nil, errors.ErrPullRequest(req.Source, err)
	}
	if !exists {
		return nil, errors.ErrPullRequest(req.Source, fmt.Errorf("%w: %s", ErrBranchNotFound, req.Source))
	}

	var reviewers []string
	if policy.RequestReviewers {
		reviewers = req.Reviewers
	}
	pr, err := m.svc.CreatePullRequest(ctx, projectPath, git.PullRequestRequest{
		Title:     req.Title,
		Body:      req.Body,
		Source:    req.Source,
		Target:    req.Target,
		Draft:     req.Draft,
		Labels:    req.Labels,
		Reviewers: reviewers,
	})
	if err != nil {
		return nil, err
	}

	rec := Record{
		WorkflowID: req.WorkflowID,
		Number:     pr.Number,
		URL:        pr.HTMLURL,
		Source:     req.Source,
		Target:     req.Target,
		Title:      req.Title,
		Reviewers:  reviewers,
		CreatedAt:  time.Now().UTC(),
	}
	m.track(rec)
	m.logger.Info("pull request created",
		"workflow_id", req.WorkflowID,
		"number", pr.Number,
		"source", req.Source,
		"target", req.Target,
	)
	return &Result{Record: &rec}, nil
}

func (m *Manager) track(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.WorkflowID] = append(m.records[rec.WorkflowID], rec)
}

// Records returns the pull requests tracked for a workflow.
func (m *Manager) Records(workflowID string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Record(nil), m.records[workflowID]...)
}

// Latest returns the most recent opened (not skipped) pull request of a
// workflow.
func (m *Manager) Latest(workflowID string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.records[workflowID]
	for i := len(recs) - 1; i >= 0; i-- {
		if !recs[i].Skipped {
			return recs[i], true
		}
	}
	return Record{}, false
}
