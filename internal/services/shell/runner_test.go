package shell

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/interfaces"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	runner, err := NewRunner(&common.ShellConfig{
		WorkRoot:       t.TempDir(),
		CommandTimeout: "30s",
	}, arbor.NewLogger())
	require.NoError(t, err)
	return runner
}

func TestWorkspaceIDDeterministic(t *testing.T) {
	a := WorkspaceID("tenant_1", "job_1", 0)
	b := WorkspaceID("tenant_1", "job_1", 0)
	c := WorkspaceID("tenant_1", "job_1", 1)
	d := WorkspaceID("tenant_2", "job_1", 0)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.True(t, strings.HasPrefix(a, "ws-"))
	assert.Len(t, a, len("ws-")+32)
}

func TestResetClearsWorkspace(t *testing.T) {
	runner := newTestRunner(t)
	ctx := context.Background()
	wsID := WorkspaceID("tenant_1", "job_1", 0)

	require.NoError(t, runner.Reset(ctx, wsID))
	path := filepath.Join(runner.workRoot, wsID)
	require.NoError(t, os.WriteFile(filepath.Join(path, "leftover.txt"), []byte("old"), 0644))

	require.NoError(t, runner.Reset(ctx, wsID))
	_, err := os.Stat(filepath.Join(path, "leftover.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestResetRejectsUnsafeWorkspaceID(t *testing.T) {
	runner := newTestRunner(t)

	assert.Error(t, runner.Reset(context.Background(), "../escape"))
	assert.Error(t, runner.Reset(context.Background(), "a/b"))
	assert.Error(t, runner.Reset(context.Background(), ""))
}

func TestExecuteRunsCommandsSequentially(t *testing.T) {
	runner := newTestRunner(t)
	ctx := context.Background()
	wsID := WorkspaceID("tenant_1", "job_1", 0)
	require.NoError(t, runner.Reset(ctx, wsID))

	results, err := runner.Execute(ctx, wsID, interfaces.ShellRequest{
		Commands: []string{
			"echo hello > out.txt",
			"cat out.txt",
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "success", results[0].Outcome)
	assert.Equal(t, "success", results[1].Outcome)
	assert.Equal(t, "hello\n", results[1].Stdout)
}

func TestExecuteFailureDoesNotStopBatch(t *testing.T) {
	runner := newTestRunner(t)
	ctx := context.Background()
	wsID := WorkspaceID("tenant_1", "job_1", 1)
	require.NoError(t, runner.Reset(ctx, wsID))

	results, err := runner.Execute(ctx, wsID, interfaces.ShellRequest{
		Commands: []string{
			"exit 3",
			"echo still-running",
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "failure", results[0].Outcome)
	assert.Equal(t, "success", results[1].Outcome)
	assert.Contains(t, results[1].Stdout, "still-running")
}

func TestExecuteTruncatesOutput(t *testing.T) {
	runner := newTestRunner(t)
	ctx := context.Background()
	wsID := WorkspaceID("tenant_1", "job_1", 2)
	require.NoError(t, runner.Reset(ctx, wsID))

	results, err := runner.Execute(ctx, wsID, interfaces.ShellRequest{
		Commands:        []string{"yes x | head -c 200"},
		MaxOutputLength: 50,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Stdout, "(output truncated)")
	assert.LessOrEqual(t, len(results[0].Stdout), 50+len("\n... (output truncated)"))
}

func TestRewriteWorkPaths(t *testing.T) {
	got := rewriteWorkPaths("cat /work/data.txt", "/work", "/work/ws-abc")
	assert.Equal(t, "cat /work/ws-abc/data.txt", got)

	// Commands without work-root references pass through.
	assert.Equal(t, "ls -la", rewriteWorkPaths("ls -la", "/work", "/work/ws-abc"))
}
