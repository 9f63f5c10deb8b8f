// Package errors provides structured error types for autoflow.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// Code represents a unique error code.
type Code string

// Error codes for autoflow.
const (
	// Pre-flight errors
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeConfigInvalid    Code = "CONFIG_INVALID"

	// Step errors
	CodeStepExecutionFailed Code = "STEP_EXECUTION_FAILED"
	CodeStepTimeout         Code = "STEP_TIMEOUT"
	CodeWorkflowCancelled   Code = "WORKFLOW_CANCELLED"

	// Git errors
	CodeGitOperationFailed Code = "GIT_OPERATION_FAILED"
	CodeMergeConflict      Code = "MERGE_CONFLICT"
	CodePullRequestFailed  Code = "PULL_REQUEST_FAILED"
	CodeReleaseTagFailed   Code = "RELEASE_TAG_FAILED"

	// Gate errors
	CodeReviewFailed         Code = "REVIEW_FAILED"
	CodeReviewGateBlocked    Code = "REVIEW_GATE_BLOCKED"
	CodeConfirmationRequired Code = "CONFIRMATION_REQUIRED"
)

// Category groups error codes for exit code and status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryTimeout
	CategoryCancelled
	CategoryBlocked
)

var codeCategories = map[Code]Category{
	CodeValidationFailed:     CategoryBadRequest,
	CodeConfigInvalid:        CategoryBadRequest,
	CodeStepExecutionFailed:  CategoryInternal,
	CodeStepTimeout:          CategoryTimeout,
	CodeWorkflowCancelled:    CategoryCancelled,
	CodeGitOperationFailed:   CategoryInternal,
	CodeMergeConflict:        CategoryConflict,
	CodePullRequestFailed:    CategoryInternal,
	CodeReleaseTagFailed:     CategoryInternal,
	CodeReviewFailed:         CategoryInternal,
	CodeReviewGateBlocked:    CategoryBlocked,
	CodeConfirmationRequired: CategoryBlocked,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryBlocked:
		return 412
	case CategoryCancelled:
		return 499
	case CategoryTimeout:
		return 504
	default:
		return 500
	}
}

// ExitCode returns the process exit code used by the CLI for a category.
func (c Category) ExitCode() int {
	switch c {
	case CategoryBadRequest:
		return 2
	case CategoryConflict:
		return 3
	case CategoryBlocked:
		return 4
	case CategoryTimeout:
		return 5
	case CategoryCancelled:
		return 130
	default:
		return 1
	}
}

// FlowError is the structured error type for autoflow.
//
// Stage names the workflow stage the error surfaced in, when known.
// Recoverable marks errors a human can resolve before resuming the
// workflow from the failed stage.
type FlowError struct {
	Code        Code   `json:"code"`
	What        string `json:"what"`
	Why         string `json:"why,omitempty"`
	Fix         string `json:"fix,omitempty"`
	Stage       string `json:"stage,omitempty"`
	Recoverable bool   `json:"recoverable"`
	// Files lists conflicting paths for merge conflicts.
	Files []string `json:"files,omitempty"`
	Cause error    `json:"-"`
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *FlowError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *FlowError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if len(e.Files) > 0 {
		b.WriteString("\n\nFiles:\n  ")
		b.WriteString(strings.Join(e.Files, "\n  "))
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the error category.
func (e *FlowError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *FlowError) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// MarshalJSON implements json.Marshaler.
func (e *FlowError) MarshalJSON() ([]byte, error) {
	type alias FlowError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a FlowError with the same code.
func (e *FlowError) Is(target error) bool {
	t, ok := target.(*FlowError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *FlowError) WithCause(err error) *FlowError {
	c := *e
	c.Cause = err
	return &c
}

// AtStage returns a copy of the error tagged with the workflow stage.
func (e *FlowError) AtStage(stage string) *FlowError {
	c := *e
	c.Stage = stage
	return &c
}

// --- Error constructors ---

// ErrValidation returns an error for failed pre-flight validation.
func ErrValidation(problems []string) *FlowError {
	return &FlowError{
		Code: CodeValidationFailed,
		What: "workflow validation failed",
		Why:  strings.Join(problems, "; "),
		Fix:  "Fix the reported problems; no git state was changed",
	}
}

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(field, reason string) *FlowError {
	return &FlowError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check .autoflow/config.yaml and fix the invalid field",
	}
}

// ErrStepExecution returns an error for a failed workflow step.
func ErrStepExecution(stepID string, cause error) *FlowError {
	return &FlowError{
		Code:  CodeStepExecutionFailed,
		What:  fmt.Sprintf("step %s failed", stepID),
		Fix:   "Inspect the step output, fix the cause and run the workflow again",
		Cause: cause,
	}
}

// ErrTimeout returns an error for a step that exceeded its time budget.
func ErrTimeout(stepID string, budget time.Duration) *FlowError {
	return &FlowError{
		Code: CodeStepTimeout,
		What: fmt.Sprintf("step %s timed out", stepID),
		Why:  fmt.Sprintf("no result after %s", budget),
		Fix:  "Increase the step timeout or engine.step_timeout in config",
	}
}

// ErrCancelled returns an error for a workflow cancelled by its caller.
func ErrCancelled(cause error) *FlowError {
	return &FlowError{
		Code:  CodeWorkflowCancelled,
		What:  "workflow cancelled",
		Cause: cause,
	}
}

// ErrGitOperation returns an error for a failed git operation.
func ErrGitOperation(op string, cause error) *FlowError {
	return &FlowError{
		Code:  CodeGitOperationFailed,
		What:  fmt.Sprintf("git %s failed", op),
		Cause: cause,
	}
}

// ErrMergeConflict returns an error describing a merge conflict.
// Merge conflicts are never retried automatically.
func ErrMergeConflict(source, target string, files []string) *FlowError {
	return &FlowError{
		Code:        CodeMergeConflict,
		What:        fmt.Sprintf("merging %s into %s produced conflicts", source, target),
		Why:         fmt.Sprintf("%d conflicting file(s)", len(files)),
		Fix:         fmt.Sprintf("Resolve the conflicts on %s, then resume the workflow", source),
		Recoverable: true,
		Files:       files,
	}
}

// ErrPullRequest returns an error for a pull request that could not be created.
func ErrPullRequest(branch string, cause error) *FlowError {
	return &FlowError{
		Code:        CodePullRequestFailed,
		What:        fmt.Sprintf("could not open pull request for %s", branch),
		Fix:         "Open the pull request manually, then resume the workflow",
		Recoverable: true,
		Cause:       cause,
	}
}

// ErrReleaseTag returns an error for a merge that completed but could not
// be tagged. Resuming retries only the tag.
func ErrReleaseTag(tag string, cause error) *FlowError {
	return &FlowError{
		Code:        CodeReleaseTagFailed,
		What:        fmt.Sprintf("release tag %s was not created", tag),
		Why:         "the merge completed; only tagging failed",
		Fix:         "Fix the tag problem, then resume the workflow to retry tagging",
		Recoverable: true,
		Cause:       cause,
	}
}

// ErrReview returns an error for an automated review that could not run.
func ErrReview(cause error) *FlowError {
	return &FlowError{
		Code:        CodeReviewFailed,
		What:        "automated review failed",
		Fix:         "Check the review analyzers, then resume the workflow",
		Recoverable: true,
		Cause:       cause,
	}
}

// ErrReviewGate returns an error for a review score below the merge threshold.
func ErrReviewGate(score, threshold float64) *FlowError {
	return &FlowError{
		Code:        CodeReviewGateBlocked,
		What:        "review score below merge threshold",
		Why:         fmt.Sprintf("score %.1f < threshold %.1f", score, threshold),
		Fix:         "Address the review recommendations, then resume from the merge stage",
		Recoverable: true,
	}
}

// ErrConfirmationRequired returns an error for a merge awaiting human confirmation.
func ErrConfirmationRequired(reason string) *FlowError {
	return &FlowError{
		Code:        CodeConfirmationRequired,
		What:        "merge requires confirmation",
		Why:         reason,
		Fix:         "Approve the pending decision, then resume from the merge stage",
		Recoverable: true,
	}
}

// AsFlowError attempts to convert an error to a FlowError.
// Returns nil if the error is not a FlowError.
func AsFlowError(err error) *FlowError {
	var flowErr *FlowError
	if stderrors.As(err, &flowErr) {
		return flowErr
	}
	return nil
}

// IsRecoverable reports whether err carries a recoverable FlowError.
func IsRecoverable(err error) bool {
	fe := AsFlowError(err)
	return fe != nil && fe.Recoverable
}

// Wrap wraps a generic error into a FlowError with unknown code.
func Wrap(err error, what string) *FlowError {
	return &FlowError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
