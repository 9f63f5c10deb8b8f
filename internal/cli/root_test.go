package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/randalmurphal/autoflow/internal/errors"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("boom"), 1},
		{"validation", flowerrors.ErrValidation([]string{"x"}), 2},
		{"conflict", flowerrors.ErrMergeConflict("a", "b", nil), 3},
		{"review gate", flowerrors.ErrReviewGate(50, 70), 4},
		{"cancelled", flowerrors.ErrCancelled(context.Canceled), 130},
		{"wrapped", errors.Join(errors.New("ctx"), flowerrors.ErrConfirmationRequired("pending")), 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Cleanup(func() { verbose, quiet, jsonOut = false, false, false })

	var buf bytes.Buffer
	newLogger(&buf).Debug("hidden")
	assert.Empty(t, buf.String())

	verbose = true
	newLogger(&buf).Debug("shown", "workflow_id", "wf-1")
	assert.Contains(t, buf.String(), "workflow_id=wf-1")

	buf.Reset()
	verbose, jsonOut = false, true
	newLogger(&buf).Info("json")
	assert.Contains(t, buf.String(), `"msg":"json"`)

	buf.Reset()
	jsonOut, quiet = false, true
	l := newLogger(&buf)
	l.Info("quiet")
	assert.Empty(t, buf.String())
	require.True(t, l.Enabled(context.Background(), slog.LevelWarn))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, newVersionCmd())
	require.NoError(t, err)
	assert.Equal(t, "autoflow version "+Version+"\n", out)
}
