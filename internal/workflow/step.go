package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Kind is the step variant.
type Kind string

const (
	KindAnalysis      Kind = "analysis"
	KindRefactoring   Kind = "refactoring"
	KindTesting       Kind = "testing"
	KindDocumentation Kind = "documentation"
)

// ParseKind returns the kind named s.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindAnalysis, KindRefactoring, KindTesting, KindDocumentation:
		return k, nil
	}
	return "", errors.New("unknown step kind " + s)
}

// Step is a unit of work executed against a workflow context.
type Step interface {
	ID() string
	Kind() Kind
	// Critical steps abort the workflow when they fail.
	Critical() bool
	// Reversible steps can undo their effects via Rollback.
	Reversible() bool
	CanExecute(wctx *Context) bool
	Execute(ctx context.Context, wctx *Context) (any, error)
	Rollback(ctx context.Context, wctx *Context) error
}

// Timed is implemented by steps with their own time budget.
type Timed interface {
	Timeout() time.Duration
}

// Cacheable is implemented by steps whose output depends only on their
// input. ok is false when the step must always run.
type Cacheable interface {
	CacheInput(wctx *Context) (input any, ok bool)
}

// Batchable is implemented by steps that can be combined with other steps
// sharing the same batch key into one BatchWorker call.
type Batchable interface {
	BatchKey() string
	Batcher() BatchWorker
	Request(wctx *Context) Request
}

// Costed is implemented by steps with a static cost estimate, in seconds.
type Costed interface {
	Cost() float64
}

// Request is what a step hands to its worker.
type Request struct {
	StepID      string
	Kind        Kind
	ProjectPath string
	Branch      string
	Target      string
	Input       map[string]any
	Outputs     map[string]any
}

// Worker performs the actual work of a step.
type Worker interface {
	Do(ctx context.Context, req Request) (any, error)
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, req Request) (any, error)

func (f WorkerFunc) Do(ctx context.Context, req Request) (any, error) { return f(ctx, req) }

// Fingerprinter is implemented by workers that can describe what they do.
// Cached outputs are shared only between steps with equal fingerprints.
type Fingerprinter interface {
	Fingerprint() string
}

// Undoer reverses the effects of a step.
type Undoer interface {
	Undo(ctx context.Context, req Request) error
}

// UndoFunc adapts a function to Undoer.
type UndoFunc func(ctx context.Context, req Request) error

func (f UndoFunc) Undo(ctx context.Context, req Request) error { return f(ctx, req) }

// BatchWorker performs several requests in one call. Results are returned
// in request order.
type BatchWorker interface {
	DoBatch(ctx context.Context, reqs []Request) ([]any, error)
}

// WorkStep is the concrete step used for all kinds. The kind decides the
// defaults; options override them.
type WorkStep struct {
	id        string
	kind      Kind
	critical  bool
	cacheable bool
	worker    Worker
	undo      Undoer
	batch     BatchWorker
	batchGlob string
	target    string
	input     map[string]any
	timeout   time.Duration
	cost      float64
	guard     func(*Context) bool
}

// StepOption configures a WorkStep.
type StepOption func(*WorkStep)

// Critical overrides the kind's criticality default.
func Critical(v bool) StepOption { return func(s *WorkStep) { s.critical = v } }

// WithUndo makes the step reversible.
func WithUndo(u Undoer) StepOption { return func(s *WorkStep) { s.undo = u } }

// WithBatch lets the step be combined with others. When glob is set, only
// steps whose target matches it share a batch.
func WithBatch(b BatchWorker, glob string) StepOption {
	return func(s *WorkStep) {
		s.batch = b
		s.batchGlob = glob
	}
}

// WithTarget sets the file or path the step operates on.
func WithTarget(target string) StepOption { return func(s *WorkStep) { s.target = target } }

// WithInput sets the step's input parameters.
func WithInput(in map[string]any) StepOption { return func(s *WorkStep) { s.input = in } }

// WithTimeout sets the step's time budget.
func WithTimeout(d time.Duration) StepOption { return func(s *WorkStep) { s.timeout = d } }

// WithCost sets the step's cost estimate in seconds.
func WithCost(seconds float64) StepOption { return func(s *WorkStep) { s.cost = seconds } }

// WithCache overrides whether results may be cached.
func WithCache(v bool) StepOption { return func(s *WorkStep) { s.cacheable = v } }

// WithGuard sets the CanExecute precondition.
func WithGuard(fn func(*Context) bool) StepOption { return func(s *WorkStep) { s.guard = fn } }

func newStep(id string, kind Kind, w Worker, critical, cacheable bool, opts []StepOption) *WorkStep {
	s := &WorkStep{id: id, kind: kind, worker: w, critical: critical, cacheable: cacheable}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewAnalysis creates a read-only analysis step. Critical and cacheable by default.
func NewAnalysis(id string, w Worker, opts ...StepOption) *WorkStep {
	return newStep(id, KindAnalysis, w, true, true, opts)
}

// NewRefactoring creates a code-changing step. Critical by default.
func NewRefactoring(id string, w Worker, opts ...StepOption) *WorkStep {
	return newStep(id, KindRefactoring, w, true, false, opts)
}

// NewTesting creates a test generation or execution step. Critical by default.
func NewTesting(id string, w Worker, opts ...StepOption) *WorkStep {
	return newStep(id, KindTesting, w, true, false, opts)
}

// NewDocumentation creates a documentation step. Not critical by default.
func NewDocumentation(id string, w Worker, opts ...StepOption) *WorkStep {
	return newStep(id, KindDocumentation, w, false, false, opts)
}

// NewStep creates a step of the given kind with that kind's defaults.
func NewStep(id string, kind Kind, w Worker, opts ...StepOption) *WorkStep {
	switch kind {
	case KindRefactoring:
		return NewRefactoring(id, w, opts...)
	case KindTesting:
		return NewTesting(id, w, opts...)
	case KindDocumentation:
		return NewDocumentation(id, w, opts...)
	default:
		return NewAnalysis(id, w, opts...)
	}
}

func (s *WorkStep) ID() string             { return s.id }
func (s *WorkStep) Kind() Kind             { return s.kind }
func (s *WorkStep) Critical() bool         { return s.critical }
func (s *WorkStep) Reversible() bool       { return s.undo != nil }
func (s *WorkStep) Timeout() time.Duration { return s.timeout }
func (s *WorkStep) Cost() float64          { return s.cost }
func (s *WorkStep) Target() string         { return s.target }

func (s *WorkStep) CanExecute(wctx *Context) bool {
	if s.worker == nil {
		return false
	}
	if s.guard != nil {
		return s.guard(wctx)
	}
	return true
}

// Request builds the worker request from the context.
func (s *WorkStep) Request(wctx *Context) Request {
	return Request{
		StepID:      s.id,
		Kind:        s.kind,
		ProjectPath: wctx.ProjectPath(),
		Branch:      wctx.Branch(),
		Target:      s.target,
		Input:       s.input,
		Outputs:     wctx.Outputs(),
	}
}

func (s *WorkStep) Execute(ctx context.Context, wctx *Context) (any, error) {
	return s.worker.Do(ctx, s.Request(wctx))
}

func (s *WorkStep) Rollback(ctx context.Context, wctx *Context) error {
	if s.undo == nil {
		return nil
	}
	return s.undo.Undo(ctx, s.Request(wctx))
}

func (s *WorkStep) CacheInput(wctx *Context) (any, bool) {
	if !s.cacheable {
		return nil, false
	}
	var work string
	if f, ok := s.worker.(Fingerprinter); ok {
		work = f.Fingerprint()
	}
	return struct {
		Step   string         `json:"step"`
		Work   string         `json:"work,omitempty"`
		Path   string         `json:"path"`
		Branch string         `json:"branch"`
		Target string         `json:"target"`
		Input  map[string]any `json:"input"`
	}{s.id, work, wctx.ProjectPath(), wctx.Branch(), s.target, s.input}, true
}

// BatchKey returns "" when the step cannot be batched.
func (s *WorkStep) BatchKey() string {
	if s.batch == nil {
		return ""
	}
	if s.batchGlob == "" {
		return string(s.kind)
	}
	if ok, err := doublestar.Match(s.batchGlob, s.target); err != nil || !ok {
		return ""
	}
	return string(s.kind) + ":" + s.batchGlob
}

func (s *WorkStep) Batcher() BatchWorker { return s.batch }
