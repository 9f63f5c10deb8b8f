package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// ErrNoRunner is returned when a composed workflow has no runner attached.
var ErrNoRunner = errors.New("workflow has no runner")

// Unit is a step together with its placement in a composed workflow.
type Unit struct {
	Step Step
	// Group is the parallel group name, "" for sequential steps.
	Group     string
	Condition Condition
	// After lists explicit dependencies on earlier steps.
	After []string
	// Independent marks sequential steps that may be reordered or combined
	// with neighbouring independent steps.
	Independent bool
	Priority    int
	// Seq is the declaration index.
	Seq int
}

// ID returns the step id.
func (u *Unit) ID() string { return u.Step.ID() }

// Stage is either one sequential unit or all units of a parallel group.
type Stage struct {
	Group string
	Units []*Unit
}

// Parallel reports whether the stage is a parallel group.
func (s Stage) Parallel() bool { return s.Group != "" }

// Runner executes a composed workflow.
type Runner interface {
	Run(ctx context.Context, wf *Composed, wctx *Context) *Result
}

// AddOption configures how a step is placed in the workflow.
type AddOption func(*Unit)

// InGroup places the step in a parallel group. Group members must be
// added contiguously.
func InGroup(name string) AddOption { return func(u *Unit) { u.Group = name } }

// When makes the step conditional. The condition is evaluated right
// before the step would run.
func When(c Condition) AddOption { return func(u *Unit) { u.Condition = c } }

// After declares dependencies on previously added steps.
func After(ids ...string) AddOption {
	return func(u *Unit) { u.After = append(u.After, ids...) }
}

// Independent marks a sequential step as free to reorder or batch.
func Independent() AddOption { return func(u *Unit) { u.Independent = true } }

// Priority sets the dispatch priority inside a parallel group. Higher runs first.
func Priority(p int) AddOption { return func(u *Unit) { u.Priority = p } }

// Builder composes steps into a workflow.
type Builder struct {
	name     string
	units    []*Unit
	strategy string
	runner   Runner
}

// NewBuilder creates a builder for a named workflow.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// AddStep appends a step.
func (b *Builder) AddStep(s Step, opts ...AddOption) *Builder {
	u := &Unit{Step: s, Seq: len(b.units)}
	for _, opt := range opts {
		opt(u)
	}
	b.units = append(b.units, u)
	return b
}

// WithStrategy selects the engine optimization strategy by name.
func (b *Builder) WithStrategy(name string) *Builder {
	b.strategy = name
	return b
}

// WithRunner attaches the runner used by Execute.
func (b *Builder) WithRunner(r Runner) *Builder {
	b.runner = r
	return b
}

// Build validates the workflow and groups it into stages.
func (b *Builder) Build() (*Composed, error) {
	if len(b.units) == 0 {
		return nil, errors.New("workflow has no steps")
	}
	seen := make(map[string]*Unit, len(b.units))
	closed := make(map[string]bool)
	var stages []Stage
	for _, u := range b.units {
		if u.Step == nil {
			return nil, fmt.Errorf("step %d is nil", u.Seq)
		}
		id := u.ID()
		if id == "" {
			return nil, fmt.Errorf("step %d has no id", u.Seq)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate step id %q", id)
		}
		for _, dep := range u.After {
			d, ok := seen[dep]
			if !ok {
				return nil, fmt.Errorf("step %q depends on %q which is not declared before it", id, dep)
			}
			if u.Group != "" && d.Group == u.Group {
				return nil, fmt.Errorf("step %q depends on %q in the same parallel group", id, dep)
			}
		}
		seen[id] = u

		last := len(stages) - 1
		switch {
		case u.Group != "" && last >= 0 && stages[last].Group == u.Group:
			stages[last].Units = append(stages[last].Units, u)
		case u.Group != "":
			if closed[u.Group] {
				return nil, fmt.Errorf("parallel group %q is not contiguous", u.Group)
			}
			stages = append(stages, Stage{Group: u.Group, Units: []*Unit{u}})
		default:
			stages = append(stages, Stage{Units: []*Unit{u}})
		}
		if last >= 0 && stages[last].Group != "" && stages[last].Group != u.Group {
			closed[stages[last].Group] = true
		}
	}
	return &Composed{
		name:     b.name,
		units:    slices.Clone(b.units),
		stages:   stages,
		strategy: b.strategy,
		runner:   b.runner,
	}, nil
}

// Composed is a validated, immutable workflow.
type Composed struct {
	name     string
	units    []*Unit
	stages   []Stage
	strategy string
	runner   Runner
}

func (w *Composed) Name() string     { return w.name }
func (w *Composed) Strategy() string { return w.strategy }

// Units returns the units in declaration order.
func (w *Composed) Units() []*Unit { return slices.Clone(w.units) }

// Stages returns the stages in declaration order.
func (w *Composed) Stages() []Stage {
	out := make([]Stage, len(w.stages))
	for i, s := range w.stages {
		out[i] = Stage{Group: s.Group, Units: slices.Clone(s.Units)}
	}
	return out
}

// Execute runs the workflow with the attached runner.
func (w *Composed) Execute(ctx context.Context, wctx *Context) (*Result, error) {
	if w.runner == nil {
		return nil, ErrNoRunner
	}
	res := w.runner.Run(ctx, w, wctx)
	return res, res.Err
}

// WithRunner returns a copy of the workflow bound to another runner.
func (w *Composed) WithRunner(r Runner) *Composed {
	c := *w
	c.runner = r
	return &c
}
