package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/autoflow/internal/config"
	"github.com/randalmurphal/autoflow/internal/git"
	"github.com/randalmurphal/autoflow/internal/git/gittest"
)

const testConfig = `git:
  base_branch: main
  lock_mode: solo
hosting:
  provider: none
review:
  depth: basic
  threshold: 70
  analyzers:
    - kind: quality
      command: echo
      args: ['{"score": 95, "recommendations": ["ship it"]}']
observability:
  db_dsn: .autoflow/events.db
`

const testTask = `task:
  id: T-1
  type: feature
  title: Add the thing
steps:
  - id: analyze
    run: "echo '{\"ok\": true}'"
  - id: test
    kind: testing
    run: "true"
    after: [analyze]
    when: analyze.ok == true
`

// setupProject creates a project with a config and a task file, points
// AUTOFLOW_PROJECT at it and replaces git with an in-memory service.
func setupProject(t *testing.T) (dir, taskFile string, svc *gittest.Service) {
	t.Helper()
	dir = t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("AUTOFLOW_PROJECT", dir)
	t.Setenv("AUTOFLOW_USER", "")

	cfgPath := filepath.Join(dir, config.Dir, config.FileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfgPath), 0o755))
	require.NoError(t, os.WriteFile(cfgPath, []byte(testConfig), 0o644))
	taskFile = filepath.Join(dir, "task.yaml")
	require.NoError(t, os.WriteFile(taskFile, []byte(testTask), 0o644))

	svc = gittest.New("main")
	prev := openGit
	openGit = func(context.Context, *config.Config, string, *slog.Logger) git.Service { return svc }
	t.Cleanup(func() { openGit = prev })
	return dir, taskFile, svc
}

func withJSON(t *testing.T) {
	t.Helper()
	jsonOut = true
	t.Cleanup(func() { jsonOut = false })
}

// execute runs cmd with args and returns its stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(&bytes.Buffer{})
	err := cmd.Execute()
	return out.String(), err
}
