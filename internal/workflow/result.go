package workflow

import "time"

// StepResult is the outcome of one step. A skipped step is successful.
type StepResult struct {
	StepID     string        `json:"step_id"`
	Kind       Kind          `json:"kind"`
	Success    bool          `json:"success"`
	Skipped    bool          `json:"skipped,omitempty"`
	SkipReason string        `json:"skip_reason,omitempty"`
	Payload    any           `json:"payload,omitempty"`
	Duration   time.Duration `json:"duration"`
	Cached     bool          `json:"cached,omitempty"`
	Batched    bool          `json:"batched,omitempty"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Critical   bool          `json:"critical,omitempty"`
	Error      string        `json:"error,omitempty"`
	Err        error         `json:"-"`
}

// Failed reports whether the step ran and did not succeed.
func (r StepResult) Failed() bool { return !r.Success }

// Fatal reports whether the failure must abort the workflow. Timeouts are
// always fatal.
func (r StepResult) Fatal() bool { return !r.Success && (r.Critical || r.TimedOut) }

// Result is the outcome of executing a composed workflow.
type Result struct {
	Success bool         `json:"success"`
	Steps   []StepResult `json:"steps"`
	// Failed is the step that aborted the workflow, if any.
	Failed     string        `json:"failed,omitempty"`
	RolledBack []string      `json:"rolled_back,omitempty"`
	Cancelled  bool          `json:"cancelled,omitempty"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
}

// Step returns the result for a step id.
func (r *Result) Step(id string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.StepID == id {
			return s, true
		}
	}
	return StepResult{}, false
}

// Errors returns the results of failed steps.
func (r *Result) Errors() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if !s.Success {
			out = append(out, s)
		}
	}
	return out
}
