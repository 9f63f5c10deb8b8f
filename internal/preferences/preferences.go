// Package preferences provides per-user and per-project automation level
// defaults and reviewer lists.
package preferences

import (
	"path/filepath"
	"slices"

	"github.com/randalmurphal/autoflow/internal/automation"
)

// Store answers preference lookups.
type Store interface {
	// Lookup returns the merged preferences of a user working on a
	// project. The user's level wins over the project's; reviewer lists
	// are combined, project reviewers first.
	Lookup(user, projectPath string) automation.Preferences
}

// Document is the on-disk preference file.
type Document struct {
	Users    map[string]automation.Preferences `yaml:"users,omitempty"`
	Projects map[string]automation.Preferences `yaml:"projects,omitempty"`
}

// Lookup implements the merge rules of Store.
func (d *Document) Lookup(user, projectPath string) automation.Preferences {
	var out automation.Preferences
	if d == nil {
		return out
	}
	if p, ok := d.project(projectPath); ok {
		out.Level = p.Level
		out.Reviewers = slices.Clone(p.Reviewers)
	}
	if u, ok := d.Users[user]; ok && user != "" {
		if u.Level != "" {
			out.Level = u.Level
		}
		for _, r := range u.Reviewers {
			if !slices.Contains(out.Reviewers, r) {
				out.Reviewers = append(out.Reviewers, r)
			}
		}
	}
	return out
}

func (d *Document) project(path string) (automation.Preferences, bool) {
	if p, ok := d.Projects[path]; ok {
		return p, true
	}
	clean := filepath.Clean(path)
	for k, p := range d.Projects {
		if filepath.Clean(k) == clean {
			return p, true
		}
	}
	return automation.Preferences{}, false
}

// Static is an in-memory Store.
type Static struct {
	Doc Document
}

func (s *Static) Lookup(user, projectPath string) automation.Preferences {
	return s.Doc.Lookup(user, projectPath)
}
