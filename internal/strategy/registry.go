package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/randalmurphal/autoflow/internal/task"
)

// Registry maps task types to strategies.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	byType     map[task.Type]string
	fallback   string
}

// Config configures the default registry.
type Config struct {
	// HotfixBase overrides the base branch of hotfix branches.
	HotfixBase string
}

// NewRegistry creates a registry with the feature, hotfix and release
// strategies and the default type mapping.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{
		strategies: make(map[string]Strategy),
		byType:     make(map[task.Type]string),
		fallback:   NameFeature,
	}
	r.Register(NewFeature())
	r.Register(NewHotfix(cfg.HotfixBase))
	r.Register(NewRelease())
	for _, t := range []task.Type{task.TypeBug, task.TypeHotfix, task.TypeSecurity} {
		r.byType[t] = NameHotfix
	}
	r.byType[task.TypeRelease] = NameRelease
	return r
}

// Register adds or replaces a strategy by name.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Map routes a task type to a registered strategy.
func (r *Registry) Map(t task.Type, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[name]; !ok {
		return fmt.Errorf("unknown strategy %q", name)
	}
	r.byType[t] = name
	return nil
}

// For returns the strategy for a task type. Unmapped types get the
// feature strategy.
func (r *Registry) For(t task.Type) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name, ok := r.byType[t]; ok {
		if s, ok := r.strategies[name]; ok {
			return s
		}
	}
	return r.strategies[r.fallback]
}

// Get returns a strategy by name.
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// Names lists registered strategies.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
