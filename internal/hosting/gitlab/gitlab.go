// Package gitlab implements hosting.Provider on top of the GitLab API client.
package gitlab

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	gogitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/randalmurphal/autoflow/internal/hosting"
)

// Compile-time interface check.
var _ hosting.Provider = (*Provider)(nil)

func init() {
	hosting.RegisterProvider(hosting.ProviderGitLab, newProvider)
}

// Provider implements hosting.Provider for gitlab.com and self-hosted GitLab.
type Provider struct {
	client    *gogitlab.Client
	projectID string // "owner/repo" path used as project identifier
	owner     string
	repo      string
	logger    *slog.Logger
}

// resolveToken gets the GitLab API token from environment.
// Uses cfg.TokenEnvVar if set, otherwise tries GITLAB_TOKEN then GITLAB_PRIVATE_TOKEN.
func resolveToken(cfg hosting.Config) (string, error) {
	if cfg.TokenEnvVar != "" {
		if token := os.Getenv(cfg.TokenEnvVar); token != "" {
			return token, nil
		}
		return "", fmt.Errorf("%w: %s environment variable is not set", hosting.ErrAuthFailed, cfg.TokenEnvVar)
	}
	for _, env := range []string{"GITLAB_TOKEN", "GITLAB_PRIVATE_TOKEN"} {
		if token := os.Getenv(env); token != "" {
			return token, nil
		}
	}
	return "", fmt.Errorf("%w: GITLAB_TOKEN or GITLAB_PRIVATE_TOKEN environment variable is not set", hosting.ErrAuthFailed)
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
	return New(token, cfg.BaseURL, owner, repo)
}

// New creates a provider. baseURL selects a self-hosted instance; empty
// means gitlab.com.
func New(token, baseURL, owner, repo string) (*Provider, error) {
	opts := []gogitlab.ClientOptionFunc{
		gogitlab.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	}
	if baseURL != "" {
		opts = append(opts, gogitlab.WithBaseURL(strings.TrimSuffix(baseURL, "/")+"/api/v4"))
	}
	client, err := gogitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GitLab client: %w", err)
	}
	return &Provider{
		client:    client,
		projectID: owner + "/" + repo,
		owner:     owner,
		repo:      repo,
		logger:    slog.Default(),
	}, nil
}

// Name returns the provider type.
func (g *Provider) Name() hosting.ProviderType { return hosting.ProviderGitLab }

// OwnerRepo returns the owner and repository name.
// For nested GitLab groups, owner may be "group/subgroup".
func (g *Provider) OwnerRepo() (string, string) { return g.owner, g.repo }

// CheckAuth validates the token by fetching the authenticated user.
func (g *Provider) CheckAuth(ctx context.Context) error {
	if _, _, err := g.client.Users.CurrentUser(gogitlab.WithContext(ctx)); err != nil {
		return fmt.Errorf("%w: %w", hosting.ErrAuthFailed, err)
	}
	return nil
}

// CreatePR opens a merge request. Reviewer lookup is best effort.
func (g *Provider) CreatePR(ctx context.Context, opts hosting.PRCreateOptions) (*hosting.PR, error) {
	title := opts.Title
	if opts.Draft {
		title = "Draft: " + title
	}
	createOpts := &gogitlab.CreateMergeRequestOptions{
		Title:              gogitlab.Ptr(title),
		Description:        gogitlab.Ptr(opts.Body),
		SourceBranch:       gogitlab.Ptr(opts.Head),
		TargetBranch:       gogitlab.Ptr(opts.Base),
		RemoveSourceBranch: gogitlab.Ptr(true),
	}
	if len(opts.Labels) > 0 {
		labels := gogitlab.LabelOptions(opts.Labels)
		createOpts.Labels = &labels
	}
	if len(opts.Reviewers) > 0 {
		ids, err := g.resolveUserIDs(ctx, opts.Reviewers)
		if err != nil {
			g.logger.Warn("failed to resolve reviewer usernames to IDs", "reviewers", opts.Reviewers, "error", err)
		} else if len(ids) > 0 {
			createOpts.ReviewerIDs = &ids
		}
	}

	mr, _, err := g.client.MergeRequests.CreateMergeRequest(g.projectID, createOpts, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("create MR: %w", err)
	}
	return mapMR(mr), nil
}

// GetPR gets a merge request by IID.
func (g *Provider) GetPR(ctx context.Context, number int) (*hosting.PR, error) {
	mr, resp, err := g.client.MergeRequests.GetMergeRequest(g.projectID, int64(number), nil, gogitlab.WithContext(ctx))
	if err != nil {
		if isNotFound(resp) {
			return nil, fmt.Errorf("MR %d: %w", number, hosting.ErrNotFound)
		}
		return nil, fmt.Errorf("get MR %d: %w", number, err)
	}
	return mapMR(mr), nil
}

// MergePR accepts (merges) a merge request.
func (g *Provider) MergePR(ctx context.Context, number int, opts hosting.PRMergeOptions) error {
	accept := &gogitlab.AcceptMergeRequestOptions{}
	if opts.CommitTitle != "" {
		msg := opts.CommitTitle
		if opts.CommitMessage != "" {
			msg += "\n\n" + opts.CommitMessage
		}
		accept.MergeCommitMessage = gogitlab.Ptr(msg)
	}
	if opts.Method == "squash" {
		accept.Squash = gogitlab.Ptr(true)
		if opts.CommitTitle != "" {
			accept.SquashCommitMessage = gogitlab.Ptr(opts.CommitTitle)
		}
	}
	if opts.SHA != "" {
		accept.SHA = gogitlab.Ptr(opts.SHA)
	}
	if opts.DeleteBranch {
		accept.ShouldRemoveSourceBranch = gogitlab.Ptr(true)
	}
	if _, _, err := g.client.MergeRequests.AcceptMergeRequest(g.projectID, int64(number), accept, gogitlab.WithContext(ctx)); err != nil {
		return fmt.Errorf("merge MR %d: %w", number, err)
	}
	return nil
}

// FindPRByBranch finds an open merge request for a given source branch.
func (g *Provider) FindPRByBranch(ctx context.Context, branch string) (*hosting.PR, error) {
	mrs, _, err := g.client.MergeRequests.ListProjectMergeRequests(g.projectID, &gogitlab.ListProjectMergeRequestsOptions{
		SourceBranch: gogitlab.Ptr(branch),
		State:        gogitlab.Ptr("opened"),
		ListOptions:  gogitlab.ListOptions{PerPage: 1},
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("find MR by branch %q: %w", branch, err)
	}
	if len(mrs) == 0 {
		return nil, hosting.ErrNoPRFound
	}
	return mapBasicMR(mrs[0]), nil
}

// BranchExists reports whether the branch exists on the remote.
func (g *Provider) BranchExists(ctx context.Context, branch string) (bool, error) {
	_, resp, err := g.client.Branches.GetBranch(g.projectID, branch, gogitlab.WithContext(ctx))
	if err != nil {
		if isNotFound(resp) {
			return false, nil
		}
		return false, fmt.Errorf("get branch %q: %w", branch, err)
	}
	return true, nil
}

// DeleteBranch deletes a branch from the remote. A missing branch is not an error.
func (g *Provider) DeleteBranch(ctx context.Context, branch string) error {
	resp, err := g.client.Branches.DeleteBranch(g.projectID, branch, gogitlab.WithContext(ctx))
	if err != nil && !isNotFound(resp) {
		return fmt.Errorf("delete branch %q: %w", branch, err)
	}
	return nil
}

// resolveUserIDs converts a list of usernames to GitLab user IDs.
func (g *Provider) resolveUserIDs(ctx context.Context, usernames []string) ([]int64, error) {
	var ids []int64
	for _, username := range usernames {
		users, _, err := g.client.Users.ListUsers(&gogitlab.ListUsersOptions{
			Username: gogitlab.Ptr(username),
		}, gogitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("lookup user %q: %w", username, err)
		}
		if len(users) > 0 {
			ids = append(ids, users[0].ID)
		}
	}
	return ids, nil
}

func isNotFound(resp *gogitlab.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotFound
}

func normalizeState(state string) string {
	if state == "opened" {
		return "open"
	}
	return state
}

// mapMR converts a MergeRequest to a hosting.PR.
func mapMR(mr *gogitlab.MergeRequest) *hosting.PR {
	pr := mapBasicMR(&mr.BasicMergeRequest)
	pr.HeadSHA = mr.SHA
	return pr
}

// mapBasicMR converts a BasicMergeRequest to a hosting.PR.
func mapBasicMR(mr *gogitlab.BasicMergeRequest) *hosting.PR {
	var createdAt string
	if mr.CreatedAt != nil {
		createdAt = mr.CreatedAt.Format(time.RFC3339)
	}
	return &hosting.PR{
		Number:         int(mr.IID),
		Title:          mr.Title,
		Body:           mr.Description,
		State:          normalizeState(mr.State),
		HeadBranch:     mr.SourceBranch,
		BaseBranch:     mr.TargetBranch,
		HeadSHA:        mr.SHA,
		MergeCommitSHA: mr.MergeCommitSHA,
		HTMLURL:        mr.WebURL,
		Draft:          mr.Draft,
		Mergeable:      mr.DetailedMergeStatus == "mergeable",
		CreatedAt:      createdAt,
	}
}
