package gate

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/autoflow/internal/events"
)

func TestAutoApprove(t *testing.T) {
	d, err := AutoApprove{}.Confirm(context.Background(), Request{})
	require.NoError(t, err)
	assert.True(t, d.Approved)
}

func TestPrompt(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			p := Prompt{In: strings.NewReader(tt.input), Out: &out}
			d, err := p.Confirm(context.Background(), Request{Source: "feature/x", Target: "main", ReviewScore: 82, Threshold: 70})
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Approved)
			assert.Contains(t, out.String(), "Merge feature/x into main")
			assert.Contains(t, out.String(), "82.0")
		})
	}
}

func TestPending_Flow(t *testing.T) {
	pub := events.NewMemoryPublisher()
	defer pub.Close()
	ch := pub.Subscribe("wf-1")
	p := NewPending(pub)
	ctx := context.Background()
	req := Request{WorkflowID: "wf-1", Source: "feature/x", Target: "main"}

	d, err := p.Confirm(ctx, req)
	require.NoError(t, err)
	assert.True(t, d.Pending)
	assert.False(t, d.Approved)
	require.Len(t, p.List(), 1)

	ev := <-ch
	assert.Equal(t, events.EventDecisionRequired, ev.Type)

	// asking again does not create a second decision
	again, err := p.Confirm(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, d.DecisionID, again.DecisionID)
	assert.Len(t, p.List(), 1)

	require.NoError(t, p.Resolve(ctx, d.DecisionID, true, "alice", "looks good"))
	assert.Empty(t, p.List())
	assert.Equal(t, events.EventDecisionResolved, (<-ch).Type)

	final, err := p.Confirm(ctx, req)
	require.NoError(t, err)
	assert.True(t, final.Approved)
	assert.Equal(t, "alice", final.ResolvedBy)

	assert.ErrorIs(t, p.Resolve(ctx, "missing", true, "", ""), ErrDecisionNotFound)
}
