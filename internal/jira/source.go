package jira

import (
	"context"
	"fmt"
	"strings"

	"github.com/randalmurphal/autoflow/internal/task"
)

// IssueGetter fetches issues. *Client satisfies it.
type IssueGetter interface {
	GetIssue(ctx context.Context, key string) (Issue, error)
}

// Source turns Jira issues into tasks.
type Source struct {
	issues IssueGetter
}

// NewSource creates a Source.
func NewSource(issues IssueGetter) *Source {
	return &Source{issues: issues}
}

// FetchTask loads an issue and maps it to a task.
func (s *Source) FetchTask(ctx context.Context, key string) (*task.Task, error) {
	issue, err := s.issues.GetIssue(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	return MapIssue(issue), nil
}

// Metadata keys set on mapped tasks.
const (
	MetaIssueKey  = "jira_key"
	MetaParentKey = "jira_parent"
)

// MapIssue converts an issue to a task. Labels that name a task type
// ("hotfix", "security", "release") take precedence over the issue type.
func MapIssue(issue Issue) *task.Task {
	t := &task.Task{
		ID:          issue.Key,
		Type:        mapType(issue.IssueType, issue.Labels),
		Title:       issue.Summary,
		Description: issue.Description,
		Priority:    mapPriority(issue.Priority),
		Tags:        append(append([]string(nil), issue.Labels...), issue.Components...),
		Metadata:    map[string]string{MetaIssueKey: issue.Key},
	}
	if issue.ParentKey != "" {
		t.Metadata[MetaParentKey] = issue.ParentKey
	}
	if t.Type == task.TypeRelease && len(issue.FixVersions) > 0 {
		t.Metadata[task.MetaVersion] = issue.FixVersions[0]
	}
	return t
}

func mapType(issueType string, labels []string) task.Type {
	for _, l := range labels {
		switch t := task.Type(strings.ToLower(l)); t {
		case task.TypeHotfix, task.TypeSecurity, task.TypeRelease:
			return t
		}
	}
	switch strings.ToLower(issueType) {
	case "bug", "defect":
		return task.TypeBug
	case "security", "vulnerability":
		return task.TypeSecurity
	case "release":
		return task.TypeRelease
	case "test", "test case":
		return task.TypeTesting
	case "documentation", "docs":
		return task.TypeDocumentation
	case "spike", "research":
		return task.TypeAnalysis
	case "tech debt", "refactor":
		return task.TypeRefactor
	default:
		return task.TypeFeature
	}
}

func mapPriority(p string) task.Priority {
	switch strings.ToLower(p) {
	case "highest", "blocker", "critical":
		return task.PriorityCritical
	case "high":
		return task.PriorityHigh
	case "low", "lowest", "minor", "trivial":
		return task.PriorityLow
	default:
		return task.PriorityNormal
	}
}
