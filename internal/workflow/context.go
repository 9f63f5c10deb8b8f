// Package workflow holds the per-execution state of a git workflow and the
// building blocks (steps, conditions, composed workflows) executed against it.
package workflow

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/autoflow/internal/automation"
	"github.com/randalmurphal/autoflow/internal/task"
)

// Snapshot is a copy of the mutable context fields at a point in time.
// Output values are copied by reference and must be treated as immutable.
type Snapshot struct {
	ProjectPath string           `json:"project_path"`
	Branch      string           `json:"branch,omitempty"`
	BaseBranch  string           `json:"base_branch,omitempty"`
	Level       automation.Level `json:"automation_level"`
	Reviewers   []string         `json:"reviewers,omitempty"`
	Outputs     map[string]any   `json:"outputs,omitempty"`
}

// Checkpoint is one entry in the execution history.
type Checkpoint struct {
	Index     int        `json:"index"`
	StepID    string     `json:"step_id"`
	Result    StepResult `json:"result"`
	Timestamp time.Time  `json:"timestamp"`
	Snapshot  Snapshot   `json:"snapshot"`
}

// State is the append-only checkpoint history of a workflow execution.
// Entries are never modified or removed.
type State struct {
	history []Checkpoint
}

// Context is the mutable execution context of one workflow run. It is safe
// for concurrent use by steps in the same parallel group.
type Context struct {
	mu sync.RWMutex

	id          string
	task        *task.Task
	projectPath string
	branch      string
	baseBranch  string
	level       automation.Level
	reviewers   []string
	outputs     map[string]any
	state       State

	now func() time.Time
}

// NewContext creates a context for a workflow run. The task is copied so
// later changes by the caller are not observed.
func NewContext(id string, t *task.Task, projectPath string) *Context {
	return &Context{
		id:          id,
		task:        t.Clone(),
		projectPath: projectPath,
		level:       automation.LevelManual,
		outputs:     make(map[string]any),
		now:         time.Now,
	}
}

// ID returns the workflow id.
func (c *Context) ID() string { return c.id }

// Task returns a copy of the workflow's task.
func (c *Context) Task() *task.Task { return c.task.Clone() }

// TaskType returns the task type without copying the task.
func (c *Context) TaskType() task.Type { return c.task.Type }

// TaskID returns the task id.
func (c *Context) TaskID() string { return c.task.ID }

func (c *Context) ProjectPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.projectPath
}

func (c *Context) Branch() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.branch
}

func (c *Context) SetBranch(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.branch = name
}

func (c *Context) BaseBranch() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseBranch
}

func (c *Context) SetBaseBranch(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseBranch = name
}

func (c *Context) Level() automation.Level {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.level
}

func (c *Context) SetLevel(l automation.Level) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = l
}

func (c *Context) Reviewers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.reviewers)
}

func (c *Context) SetReviewers(r []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reviewers = slices.Clone(r)
}

// SetOutput records the output of a step.
func (c *Context) SetOutput(stepID string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[stepID] = v
}

// Output returns the recorded output of a step.
func (c *Context) Output(stepID string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.outputs[stepID]
	return v, ok
}

// Outputs returns a copy of all step outputs.
func (c *Context) Outputs() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.outputs)
}

// Snapshot captures the current mutable fields.
func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Context) snapshotLocked() Snapshot {
	return Snapshot{
		ProjectPath: c.projectPath,
		Branch:      c.branch,
		BaseBranch:  c.baseBranch,
		Level:       c.level,
		Reviewers:   slices.Clone(c.reviewers),
		Outputs:     maps.Clone(c.outputs),
	}
}

// Restore sets the mutable fields to the values of a snapshot. History is
// left untouched.
func (c *Context) Restore(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.projectPath = s.ProjectPath
	c.branch = s.Branch
	c.baseBranch = s.BaseBranch
	c.level = s.Level
	c.reviewers = slices.Clone(s.Reviewers)
	c.outputs = maps.Clone(s.Outputs)
	if c.outputs == nil {
		c.outputs = make(map[string]any)
	}
}

// Checkpoint appends a history entry for a finished step and returns it.
func (c *Context) Checkpoint(stepID string, result StepResult) Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := Checkpoint{
		Index:     len(c.state.history),
		StepID:    stepID,
		Result:    result,
		Timestamp: c.now(),
		Snapshot:  c.snapshotLocked(),
	}
	c.state.history = append(c.state.history, cp)
	return cp
}

// History returns a copy of the checkpoint history.
func (c *Context) History() []Checkpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.state.history)
}

// HistoryLen returns the number of checkpoints.
func (c *Context) HistoryLen() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.state.history)
}

// Rollback restores the context fields recorded at a checkpoint index.
func (c *Context) Rollback(index int) error {
	c.mu.RLock()
	if index < 0 || index >= len(c.state.history) {
		n := len(c.state.history)
		c.mu.RUnlock()
		return fmt.Errorf("checkpoint %d out of range [0,%d)", index, n)
	}
	snap := c.state.history[index].Snapshot
	c.mu.RUnlock()
	c.Restore(snap)
	return nil
}
