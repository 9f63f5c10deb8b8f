// Package gate delivers merge confirmation signals to a workflow. The
// signal is a typed callback; nothing here parses free text produced by
// the workflow itself.
package gate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/randalmurphal/autoflow/internal/automation"
)

// Request describes a merge waiting for confirmation.
type Request struct {
	WorkflowID  string
	TaskID      string
	TaskTitle   string
	Source      string
	Target      string
	Level       automation.Level
	ReviewScore float64
	Threshold   float64
	PRURL       string
}

// Decision is the answer to a Request.
type Decision struct {
	Approved   bool
	Reason     string
	ResolvedBy string
	// Pending is true when no answer is available yet (headless mode).
	Pending    bool
	DecisionID string
}

// Confirmer is asked before a gated merge.
type Confirmer interface {
	Confirm(ctx context.Context, req Request) (*Decision, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, req Request) (*Decision, error)

func (f ConfirmFunc) Confirm(ctx context.Context, req Request) (*Decision, error) { return f(ctx, req) }

// AutoApprove approves every request.
type AutoApprove struct{}

func (AutoApprove) Confirm(context.Context, Request) (*Decision, error) {
	return &Decision{Approved: true, Reason: "auto-approved", ResolvedBy: "auto"}, nil
}

// Prompt asks on a terminal.
type Prompt struct {
	In  io.Reader
	Out io.Writer
}

// Confirm prints the request and reads a y/n answer.
func (p Prompt) Confirm(ctx context.Context, req Request) (*Decision, error) {
	fmt.Fprintf(p.Out, "\nMerge %s into %s", req.Source, req.Target)
	if req.PRURL != "" {
		fmt.Fprintf(p.Out, " (%s)", req.PRURL)
	}
	fmt.Fprintf(p.Out, "\nReview score: %.1f (threshold %.1f)\n", req.ReviewScore, req.Threshold)
	fmt.Fprint(p.Out, "Approve? [y/n]: ")

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(p.In).ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.line == "" {
			return nil, fmt.Errorf("read confirmation: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return &Decision{Approved: true, Reason: "approved at prompt", ResolvedBy: "prompt"}, nil
		default:
			return &Decision{Approved: false, Reason: "rejected at prompt", ResolvedBy: "prompt"}, nil
		}
	}
}
