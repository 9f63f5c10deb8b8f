// Package task defines the unit of work a git workflow is run for.
package task

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Type classifies a task and drives branch/merge strategy selection.
type Type string

const (
	TypeFeature       Type = "feature"
	TypeBug           Type = "bug"
	TypeHotfix        Type = "hotfix"
	TypeRelease       Type = "release"
	TypeRefactor      Type = "refactor"
	TypeAnalysis      Type = "analysis"
	TypeTesting       Type = "testing"
	TypeDocumentation Type = "documentation"
	TypeDeployment    Type = "deployment"
	TypeSecurity      Type = "security"
)

// AllTypes returns every known task type.
func AllTypes() []Type {
	return []Type{
		TypeFeature, TypeBug, TypeHotfix, TypeRelease, TypeRefactor,
		TypeAnalysis, TypeTesting, TypeDocumentation, TypeDeployment, TypeSecurity,
	}
}

// IsValidType reports whether t is a known task type.
func IsValidType(t Type) bool {
	return slices.Contains(AllTypes(), t)
}

// Priority is the urgency of a task.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// IsValidPriority reports whether p is a known priority.
func IsValidPriority(p Priority) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Metadata keys with meaning to the workflow engine.
const (
	// MetaAutomationLevel overrides the resolved automation level.
	MetaAutomationLevel = "automation_level"
	// MetaVersion is the release version used for tagging.
	MetaVersion = "version"
	// MetaBaseBranch overrides the branch the work is based on.
	MetaBaseBranch = "base_branch"
)

// Task is the input to a git workflow. It must not be modified once
// execution starts; the workflow holds its own copy.
type Task struct {
	ID          string            `yaml:"id" json:"id"`
	Type        Type              `yaml:"type" json:"type"`
	Title       string            `yaml:"title" json:"title"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Priority    Priority          `yaml:"priority,omitempty" json:"priority,omitempty"`
	Tags        []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	Metadata    map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Tags = slices.Clone(t.Tags)
	c.Metadata = maps.Clone(t.Metadata)
	return &c
}

// Meta returns a metadata value or "".
func (t *Task) Meta(key string) string {
	if t == nil || t.Metadata == nil {
		return ""
	}
	return t.Metadata[key]
}

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: %s (got %q)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks that the task carries everything a workflow needs.
func (t *Task) Validate() []ValidationError {
	var errs []ValidationError
	if t.ID == "" {
		errs = append(errs, ValidationError{Field: "id", Message: "is required"})
	}
	if t.Title == "" {
		errs = append(errs, ValidationError{Field: "title", Message: "is required"})
	}
	if t.Type == "" {
		errs = append(errs, ValidationError{Field: "type", Message: "is required"})
	} else if !IsValidType(t.Type) {
		errs = append(errs, ValidationError{Field: "type", Value: string(t.Type), Message: "unknown task type"})
	}
	if t.Priority != "" && !IsValidPriority(t.Priority) {
		errs = append(errs, ValidationError{Field: "priority", Value: string(t.Priority), Message: "invalid priority"})
	}
	return errs
}

// File is the on-disk task definition used by the CLI: a task plus the
// shell commands to run as workflow steps.
type File struct {
	Task  Task       `yaml:"task"`
	Steps []StepSpec `yaml:"steps"`
	// Strategy names the engine optimization strategy, "" for the default.
	Strategy string `yaml:"strategy,omitempty"`
}

// StepSpec describes one command-backed workflow step.
type StepSpec struct {
	ID          string   `yaml:"id"`
	Kind        string   `yaml:"kind"`
	Run         string   `yaml:"run"`
	Undo        string   `yaml:"undo,omitempty"`
	Group       string   `yaml:"group,omitempty"`
	After       []string `yaml:"after,omitempty"`
	Critical    *bool    `yaml:"critical,omitempty"`
	Independent bool     `yaml:"independent,omitempty"`
	Timeout     string   `yaml:"timeout,omitempty"`
	Priority    int      `yaml:"priority,omitempty"`
	// When is a condition of the form "<step>.<json path> == <value>" or
	// "<step>" (output exists).
	When string `yaml:"when,omitempty"`
}

// LoadFile reads a task file from disk.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse task file %s: %w", path, err)
	}
	if f.Task.Priority == "" {
		f.Task.Priority = PriorityNormal
	}
	return &f, nil
}
