package hosting

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
)

// Config holds hosting provider configuration.
type Config struct {
	// Provider type: "github", "gitlab", "none", or "auto" (default).
	// When "auto", the provider is detected from the git remote URL.
	Provider string `yaml:"provider" json:"provider"`

	// BaseURL for self-hosted instances (e.g., "https://gitlab.company.com").
	// Leave empty for github.com / gitlab.com.
	BaseURL string `yaml:"base_url" json:"base_url,omitempty"`

	// TokenEnvVar overrides the default token environment variable name.
	// Default: GITHUB_TOKEN for GitHub, GITLAB_TOKEN for GitLab.
	TokenEnvVar string `yaml:"token_env_var" json:"token_env_var,omitempty"`
}

// Disabled reports whether hosting integration is turned off.
func (c Config) Disabled() bool { return c.Provider == "none" }

// NewProviderFunc is a constructor function for creating a hosting provider
// for the repository with the given remote URL. Constructors are registered
// at init time by the provider packages to avoid import cycles.
type NewProviderFunc func(remoteURL string, cfg Config) (Provider, error)

var (
	registryMu           sync.RWMutex
	providerConstructors = map[ProviderType]NewProviderFunc{}
)

// RegisterProvider registers a provider constructor.
// Called from init() in provider packages (github/, gitlab/).
func RegisterProvider(providerType ProviderType, constructor NewProviderFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	providerConstructors[providerType] = constructor
}

// NewProvider creates a hosting provider for the repository at workDir.
// If cfg.Provider is "auto" or empty, the provider is detected from the
// origin remote URL.
func NewProvider(ctx context.Context, workDir string, cfg Config) (Provider, error) {
	remoteURL, err := getRemoteURL(ctx, workDir)
	if err != nil {
		return nil, err
	}
	return NewProviderForRemote(remoteURL, cfg)
}

// NewProviderForRemote creates a hosting provider for a known remote URL.
func NewProviderForRemote(remoteURL string, cfg Config) (Provider, error) {
	providerType, err := resolveProviderType(remoteURL, cfg)
	if err != nil {
		return nil, err
	}

	registryMu.RLock()
	constructor, ok := providerConstructors[providerType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no provider registered for %q (registered: %v)", providerType, registeredProviders())
	}

	return constructor(remoteURL, cfg)
}

// resolveProviderType determines which provider to use.
func resolveProviderType(remoteURL string, cfg Config) (ProviderType, error) {
	if cfg.Provider != "" && cfg.Provider != "auto" {
		pt := ProviderType(cfg.Provider)
		if pt != ProviderGitHub && pt != ProviderGitLab {
			return "", fmt.Errorf("unknown provider %q (supported: github, gitlab)", cfg.Provider)
		}
		return pt, nil
	}

	detected := DetectProvider(remoteURL)
	if detected == ProviderUnknown {
		return "", fmt.Errorf("cannot detect hosting provider from remote URL %q (set provider explicitly in config)", remoteURL)
	}
	return detected, nil
}

// getRemoteURL gets the origin remote URL for the repo at workDir.
func getRemoteURL(ctx context.Context, workDir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "remote", "get-url", "origin")
	cmd.Dir = workDir
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("get remote URL: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

func registeredProviders() []ProviderType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var providers []ProviderType
	for pt := range providerConstructors {
		providers = append(providers, pt)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers
}
