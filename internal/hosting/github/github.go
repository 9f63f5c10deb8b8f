// Package github implements hosting.Provider on top of go-github.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v82/github"

	"github.com/randalmurphal/autoflow/internal/hosting"
)

// Compile-time interface check.
var _ hosting.Provider = (*Provider)(nil)

func init() {
	hosting.RegisterProvider(hosting.ProviderGitHub, newProvider)
}

// Provider implements hosting.Provider for GitHub and GitHub Enterprise.
type Provider struct {
	client *gogithub.Client
	owner  string
	repo   string
	logger *slog.Logger
}

// resolveToken gets the GitHub API token from environment.
// Uses cfg.TokenEnvVar if set, otherwise defaults to GITHUB_TOKEN.
func resolveToken(cfg hosting.Config) (string, error) {
	envVar := "GITHUB_TOKEN"
	if cfg.TokenEnvVar != "" {
		envVar = cfg.TokenEnvVar
	}
	token := os.Getenv(envVar)
	if token == "" {
		return "", fmt.Errorf("%w: %s environment variable is not set", hosting.ErrAuthFailed, envVar)
	}
	return token, nil
}

func newProvider(remoteURL string, cfg hosting.Config) (hosting.Provider, error) {
	token, err := resolveToken(cfg)
	if err != nil {
		return nil, err
	}
	owner, repo := hosting.ParseOwnerRepo(remoteURL)
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("could not parse owner/repo from remote URL: %s", remoteURL)
	}
	return New(&http.Client{Transport: &tokenTransport{token: token}, Timeout: 30 * time.Second}, cfg.BaseURL, owner, repo)
}

// New creates a provider with an already authenticated HTTP client.
// baseURL selects a GitHub Enterprise instance; empty means github.com.
func New(httpClient *http.Client, baseURL, owner, repo string) (*Provider, error) {
	client := gogithub.NewClient(httpClient)
	if baseURL != "" {
		base := strings.TrimSuffix(baseURL, "/")
		var err error
		if client.BaseURL, err = client.BaseURL.Parse(base + "/api/v3/"); err != nil {
			return nil, fmt.Errorf("parse base URL %q: %w", baseURL, err)
		}
		if client.UploadURL, err = client.UploadURL.Parse(base + "/api/uploads/"); err != nil {
			return nil, fmt.Errorf("parse upload URL %q: %w", baseURL, err)
		}
	}
	return &Provider{client: client, owner: owner, repo: repo, logger: slog.Default()}, nil
}

// tokenTransport adds an Authorization header to every request.
type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req2)
}

// Name returns the provider type.
func (g *Provider) Name() hosting.ProviderType { return hosting.ProviderGitHub }

// OwnerRepo returns the owner and repository name.
func (g *Provider) OwnerRepo() (string, string) { return g.owner, g.repo }

// CheckAuth validates the token by fetching the authenticated user.
func (g *Provider) CheckAuth(ctx context.Context) error {
	if _, _, err := g.client.Users.Get(ctx, ""); err != nil {
		return fmt.Errorf("%w: %w", hosting.ErrAuthFailed, err)
	}
	return nil
}

// CreatePR opens a pull request. Labels and reviewers are best effort.
func (g *Provider) CreatePR(ctx context.Context, opts hosting.PRCreateOptions) (*hosting.PR, error) {
	created, _, err := g.client.PullRequests.Create(ctx, g.owner, g.repo, &gogithub.NewPullRequest{
		Title: gogithub.Ptr(opts.Title),
		Body:  gogithub.Ptr(opts.Body),
		Head:  gogithub.Ptr(opts.Head),
		Base:  gogithub.Ptr(opts.Base),
		Draft: gogithub.Ptr(opts.Draft),
	})
	if err != nil {
		return nil, fmt.Errorf("create PR: %w", err)
	}
	number := created.GetNumber()

	if len(opts.Labels) > 0 {
		if _, _, err := g.client.Issues.AddLabelsToIssue(ctx, g.owner, g.repo, number, opts.Labels); err != nil {
			g.logger.Warn("failed to add labels to PR", "pr", number, "labels", opts.Labels, "error", err)
		}
	}
	if len(opts.Reviewers) > 0 {
		req := gogithub.ReviewersRequest{Reviewers: opts.Reviewers}
		if _, _, err := g.client.PullRequests.RequestReviewers(ctx, g.owner, g.repo, number, req); err != nil {
			g.logger.Warn("failed to request reviewers for PR", "pr", number, "reviewers", opts.Reviewers, "error", err)
		}
	}
	return mapPR(created), nil
}

// GetPR gets a pull request by number.
func (g *Provider) GetPR(ctx context.Context, number int) (*hosting.PR, error) {
	pr, resp, err := g.client.PullRequests.Get(ctx, g.owner, g.repo, number)
	if err != nil {
		if isNotFound(resp) {
			return nil, fmt.Errorf("PR %d: %w", number, hosting.ErrNotFound)
		}
		return nil, fmt.Errorf("get PR %d: %w", number, err)
	}
	return mapPR(pr), nil
}

// MergePR merges a pull request.
func (g *Provider) MergePR(ctx context.Context, number int, opts hosting.PRMergeOptions) error {
	method := "merge"
	switch opts.Method {
	case "squash", "rebase":
		method = opts.Method
	}
	_, _, err := g.client.PullRequests.Merge(ctx, g.owner, g.repo, number, opts.CommitMessage, &gogithub.PullRequestOptions{
		MergeMethod: method,
		CommitTitle: opts.CommitTitle,
		SHA:         opts.SHA,
	})
	if err != nil {
		return fmt.Errorf("merge PR %d: %w", number, err)
	}
	if opts.DeleteBranch {
		pr, err := g.GetPR(ctx, number)
		if err == nil {
			err = g.DeleteBranch(ctx, pr.HeadBranch)
		}
		if err != nil {
			g.logger.Warn("merged PR but failed to delete head branch", "pr", number, "error", err)
		}
	}
	return nil
}

// FindPRByBranch finds the open pull request for a head branch.
func (g *Provider) FindPRByBranch(ctx context.Context, branch string) (*hosting.PR, error) {
	prs, _, err := g.client.PullRequests.List(ctx, g.owner, g.repo, &gogithub.PullRequestListOptions{
		Head:        g.owner + ":" + branch,
		State:       "open",
		ListOptions: gogithub.ListOptions{PerPage: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("find PR by branch %q: %w", branch, err)
	}
	if len(prs) == 0 {
		return nil, hosting.ErrNoPRFound
	}
	return mapPR(prs[0]), nil
}

// BranchExists reports whether the branch exists on the remote.
func (g *Provider) BranchExists(ctx context.Context, branch string) (bool, error) {
	_, resp, err := g.client.Git.GetRef(ctx, g.owner, g.repo, "refs/heads/"+branch)
	if err != nil {
		if isNotFound(resp) {
			return false, nil
		}
		return false, fmt.Errorf("get branch %q: %w", branch, err)
	}
	return true, nil
}

// DeleteBranch deletes a branch from the remote.
func (g *Provider) DeleteBranch(ctx context.Context, branch string) error {
	resp, err := g.client.Git.DeleteRef(ctx, g.owner, g.repo, "refs/heads/"+branch)
	if err != nil {
		if isNotFound(resp) {
			return nil
		}
		return fmt.Errorf("delete branch %q: %w", branch, err)
	}
	return nil
}

func isNotFound(resp *gogithub.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotFound
}

// mapPR converts a go-github PullRequest to a hosting.PR.
func mapPR(pr *gogithub.PullRequest) *hosting.PR {
	state := pr.GetState()
	var mergeSHA string
	if pr.GetMerged() {
		state = "merged"
		mergeSHA = pr.GetMergeCommitSHA()
	}
	var createdAt string
	if t := pr.GetCreatedAt(); !t.IsZero() {
		createdAt = t.Format(time.RFC3339)
	}
	return &hosting.PR{
		Number:         pr.GetNumber(),
		Title:          pr.GetTitle(),
		Body:           pr.GetBody(),
		State:          state,
		HeadBranch:     pr.GetHead().GetRef(),
		BaseBranch:     pr.GetBase().GetRef(),
		HeadSHA:        pr.GetHead().GetSHA(),
		MergeCommitSHA: mergeSHA,
		HTMLURL:        pr.GetHTMLURL(),
		Draft:          pr.GetDraft(),
		Mergeable:      pr.GetMergeable(),
		CreatedAt:      createdAt,
	}
}
