// Package jira turns Jira Cloud issues into workflow tasks.
package jira

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	v3 "github.com/ctreminiom/go-atlassian/v2/jira/v3"
	"github.com/ctreminiom/go-atlassian/v2/pkg/infra/models"
)

// ErrIssueNotFound is returned when a key matches no issue.
var ErrIssueNotFound = errors.New("jira issue not found")

// ClientConfig holds the configuration for connecting to a Jira Cloud instance.
type ClientConfig struct {
	// BaseURL is the Jira Cloud instance URL (e.g., "https://acme.atlassian.net").
	BaseURL  string
	Email    string
	APIToken string
}

// Issue is the subset of a Jira issue a task is built from.
type Issue struct {
	Key         string
	Summary     string
	Description string
	IssueType   string
	Priority    string
	Labels      []string
	Components  []string
	FixVersions []string
	ParentKey   string
}

// Client wraps the go-atlassian Jira v3 client.
type Client struct {
	jira *v3.Client
}

// NewClient creates a new Jira Cloud client with basic auth.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("jira base URL is required")
	}
	if cfg.Email == "" {
		return nil, fmt.Errorf("jira email is required")
	}
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("jira API token is required")
	}

	client, err := v3.New(&http.Client{Timeout: 30 * time.Second}, strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("create jira client: %w", err)
	}
	client.Auth.SetBasicAuth(cfg.Email, cfg.APIToken)
	client.Auth.SetUserAgent("autoflow/1.0")

	return &Client{jira: client}, nil
}

var issueFields = []string{
	"summary",
	"description",
	"issuetype",
	"priority",
	"labels",
	"components",
	"fixVersions",
	"parent",
}

// GetIssue fetches one issue by key.
func (c *Client) GetIssue(ctx context.Context, key string) (Issue, error) {
	jql := fmt.Sprintf("key = %q", key)
	result, resp, err := c.jira.Issue.Search.SearchJQL(ctx, jql, issueFields, nil, 1, "")
	if err != nil {
		if resp != nil {
			return Issue{}, fmt.Errorf("jira search (status %d): %w", resp.StatusCode, err)
		}
		return Issue{}, fmt.Errorf("jira search: %w", err)
	}
	if result == nil || len(result.Issues) == 0 {
		return Issue{}, fmt.Errorf("%w: %s", ErrIssueNotFound, key)
	}
	return convertIssue(result.Issues[0]), nil
}

// CheckAuth verifies the client can authenticate with Jira.
func (c *Client) CheckAuth(ctx context.Context) error {
	_, resp, err := c.jira.MySelf.Details(ctx, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("jira auth check failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("jira auth check failed: %w", err)
	}
	return nil
}

func convertIssue(issue *models.IssueScheme) Issue {
	if issue == nil {
		return Issue{}
	}
	out := Issue{Key: issue.Key}
	f := issue.Fields
	if f == nil {
		return out
	}
	out.Summary = f.Summary
	out.Description = ADFToText(f.Description)
	out.Labels = f.Labels
	if f.IssueType != nil {
		out.IssueType = f.IssueType.Name
	}
	if f.Priority != nil {
		out.Priority = f.Priority.Name
	}
	if f.Parent != nil {
		out.ParentKey = f.Parent.Key
	}
	for _, comp := range f.Components {
		if comp != nil && comp.Name != "" {
			out.Components = append(out.Components, comp.Name)
		}
	}
	for _, v := range f.FixVersions {
		if v != nil && v.Name != "" {
			out.FixVersions = append(out.FixVersions, v.Name)
		}
	}
	return out
}
