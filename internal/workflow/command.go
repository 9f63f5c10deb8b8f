package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/randalmurphal/autoflow/internal/git"
	"github.com/randalmurphal/autoflow/internal/task"
)

// CommandWorker runs a shell command in the project directory. The step
// context is passed as AUTOFLOW_* environment variables; stdout is the
// step output.
type CommandWorker struct {
	Runner  git.CommandRunner
	Command string
	// Shell defaults to "sh".
	Shell string
}

// NewCommandWorker creates a CommandWorker using runner, or the exec
// runner when runner is nil.
func NewCommandWorker(runner git.CommandRunner, command string) *CommandWorker {
	if runner == nil {
		runner = git.NewExecRunner()
	}
	return &CommandWorker{Runner: runner, Command: command}
}

func (w *CommandWorker) Do(ctx context.Context, req Request) (any, error) {
	return w.run(ctx, req, w.Command)
}

// Fingerprint identifies the command for output caching.
func (w *CommandWorker) Fingerprint() string { return w.Shell + "\x00" + w.Command }

// Undo runs the same command with AUTOFLOW_UNDO=1 set. Use UndoCommand
// for a dedicated undo command.
func (w *CommandWorker) Undo(ctx context.Context, req Request) error {
	_, err := w.run(ctx, req, w.Command, "AUTOFLOW_UNDO=1")
	return err
}

// UndoCommand returns an Undoer running command.
func (w *CommandWorker) UndoCommand(command string) Undoer {
	return UndoFunc(func(ctx context.Context, req Request) error {
		_, err := w.run(ctx, req, command, "AUTOFLOW_UNDO=1")
		return err
	})
}

func (w *CommandWorker) run(ctx context.Context, req Request, command string, extra ...string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("step %s: empty command", req.StepID)
	}
	shell := w.Shell
	if shell == "" {
		shell = "sh"
	}
	args := append([]string{
		"AUTOFLOW_STEP=" + req.StepID,
		"AUTOFLOW_KIND=" + string(req.Kind),
		"AUTOFLOW_BRANCH=" + req.Branch,
		"AUTOFLOW_TARGET=" + req.Target,
		"AUTOFLOW_PROJECT=" + req.ProjectPath,
	}, extra...)
	args = append(args, shell, "-c", command)
	out, err := w.Runner.Run(ctx, req.ProjectPath, "env", args...)
	if err != nil {
		return out, fmt.Errorf("step %s: %w", req.StepID, err)
	}
	return out, nil
}

// FromFile composes the command steps of a task file. Steps run through
// runner; nil uses the exec runner.
func FromFile(f *task.File, runner git.CommandRunner) (*Composed, error) {
	name := f.Task.ID
	if name == "" {
		name = "task"
	}
	b := NewBuilder(name).WithStrategy(f.Strategy)
	for i, spec := range f.Steps {
		step, add, err := specStep(spec, runner)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, spec.ID, err)
		}
		b.AddStep(step, add...)
	}
	return b.Build()
}

func specStep(spec task.StepSpec, runner git.CommandRunner) (*WorkStep, []AddOption, error) {
	kind := KindAnalysis
	if spec.Kind != "" {
		k, err := ParseKind(spec.Kind)
		if err != nil {
			return nil, nil, err
		}
		kind = k
	}
	w := NewCommandWorker(runner, spec.Run)

	var opts []StepOption
	if spec.Undo != "" {
		opts = append(opts, WithUndo(w.UndoCommand(spec.Undo)))
	}
	if spec.Critical != nil {
		opts = append(opts, Critical(*spec.Critical))
	}
	if spec.Timeout != "" {
		d, err := time.ParseDuration(spec.Timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("timeout: %w", err)
		}
		opts = append(opts, WithTimeout(d))
	}

	var add []AddOption
	if spec.Group != "" {
		add = append(add, InGroup(spec.Group))
	}
	if len(spec.After) > 0 {
		add = append(add, After(spec.After...))
	}
	if spec.When != "" {
		add = append(add, When(ParseCondition(spec.When)))
	}
	if spec.Independent {
		add = append(add, Independent())
	}
	if spec.Priority != 0 {
		add = append(add, Priority(spec.Priority))
	}
	return NewStep(spec.ID, kind, w, opts...), add, nil
}
