package hosting

import (
	"regexp"
	"strings"
)

// hostPatterns match the host part of a remote URL. The second pattern of
// each pair covers self-hosted instances (github.company.com).
var hostPatterns = []struct {
	provider ProviderType
	re       *regexp.Regexp
}{
	{ProviderGitHub, regexp.MustCompile(`github\.com[:/]`)},
	{ProviderGitHub, regexp.MustCompile(`github\.[a-z0-9-]+\.[a-z]+[:/]`)},
	{ProviderGitLab, regexp.MustCompile(`gitlab\.com[:/]`)},
	{ProviderGitLab, regexp.MustCompile(`gitlab\.[a-z0-9-]+\.[a-z]+[:/]`)},
}

// DetectProvider determines the hosting provider from a git remote URL.
// SCP-style (git@host:owner/repo), https and ssh:// URLs are recognised.
func DetectProvider(remoteURL string) ProviderType {
	url := strings.ToLower(strings.TrimSpace(remoteURL))
	for _, p := range hostPatterns {
		if p.re.MatchString(url) {
			return p.provider
		}
	}
	return ProviderUnknown
}

// ParseOwnerRepo extracts owner and repo from a git remote URL. For nested
// GitLab groups the owner is the full group path.
//
//	git@github.com:owner/repo.git          -> (owner, repo)
//	ssh://git@host:22/group/sub/repo.git   -> (group/sub, repo)
func ParseOwnerRepo(remoteURL string) (owner, repo string) {
	raw := strings.TrimSuffix(strings.TrimSpace(remoteURL), ".git")

	switch {
	case strings.HasPrefix(raw, "ssh://"), strings.HasPrefix(raw, "https://"), strings.HasPrefix(raw, "http://"):
		_, rest, _ := strings.Cut(raw, "://")
		if _, path, ok := strings.Cut(rest, "/"); ok {
			raw = strings.TrimLeft(path, "/")
		} else {
			raw = ""
		}
	default:
		if _, path, ok := strings.Cut(raw, ":"); ok {
			raw = path
		}
	}

	idx := strings.LastIndex(raw, "/")
	if idx < 0 {
		return raw, ""
	}
	return raw[:idx], raw[idx+1:]
}
