// -----------------------------------------------------------------------
// Shell Runner
// Executes model-issued command batches in per-step workspaces
// -----------------------------------------------------------------------

package shell

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/interfaces"
)

// DefaultMaxOutputLength caps command output when the tool call does not
// set one, preventing context-window blow-up.
const DefaultMaxOutputLength = 4096

// WorkspaceID derives the deterministic workspace identifier for a step:
// hex sha256 of tenant|job|step_index, prefixed to stay a safe path
// component.
func WorkspaceID(tenantID, jobID string, stepIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", tenantID, jobID, stepIndex)))
	return "ws-" + hex.EncodeToString(sum[:])[:32]
}

// Runner implements interfaces.ShellRunner over a persistent work root.
type Runner struct {
	workRoot       string
	commandTimeout time.Duration
	logger         arbor.ILogger
}

// NewRunner creates a runner rooted at config.WorkRoot.
func NewRunner(config *common.ShellConfig, logger arbor.ILogger) (*Runner, error) {
	if config.WorkRoot == "" {
		return nil, fmt.Errorf("shell work root is required")
	}
	if err := os.MkdirAll(config.WorkRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create shell work root: %w", err)
	}
	return &Runner{
		workRoot:       config.WorkRoot,
		commandTimeout: common.ParseDurationOr(config.CommandTimeout, 15*time.Minute),
		logger:         logger,
	}, nil
}

// workspacePath maps a workspace ID onto the work root, rejecting IDs that
// are not safe path components.
func (r *Runner) workspacePath(workspaceID string) (string, error) {
	if workspaceID == "" || strings.ContainsAny(workspaceID, "/\\") || strings.Contains(workspaceID, "..") {
		return "", fmt.Errorf("invalid workspace id: %s", workspaceID)
	}
	return filepath.Join(r.workRoot, workspaceID), nil
}

// Reset clears and recreates the workspace directory.
func (r *Runner) Reset(ctx context.Context, workspaceID string) error {
	path, err := r.workspacePath(workspaceID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to clear workspace: %w", err)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	r.logger.Debug().Str("workspace", workspaceID).Msg("Workspace reset")
	return nil
}

// Execute runs a command batch sequentially in the workspace. A failing
// command does not stop the batch; its result carries outcome=failure and
// the model decides what to do next.
func (r *Runner) Execute(ctx context.Context, workspaceID string, req interfaces.ShellRequest) ([]interfaces.ShellCommandResult, error) {
	path, err := r.workspacePath(workspaceID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure workspace: %w", err)
	}

	timeout := r.commandTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	maxOutput := req.MaxOutputLength
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutputLength
	}

	results := make([]interfaces.ShellCommandResult, 0, len(req.Commands))
	for _, command := range req.Commands {
		results = append(results, r.runCommand(ctx, path, command, timeout, maxOutput))
	}
	return results, nil
}

func (r *Runner) runCommand(ctx context.Context, dir, command string, timeout time.Duration, maxOutput int) interfaces.ShellCommandResult {
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Absolute user paths are rewritten into the workspace so batches
	// cannot escape it by naming the work root directly.
	command = rewriteWorkPaths(command, r.workRoot, dir)

	cmd := exec.CommandContext(cmdCtx, "/bin/sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "HOME="+dir)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := interfaces.ShellCommandResult{
		Stdout:  truncateOutput(stdout.String(), maxOutput),
		Stderr:  truncateOutput(stderr.String(), maxOutput),
		Outcome: "success",
	}
	switch {
	case cmdCtx.Err() == context.DeadlineExceeded:
		result.Outcome = "timeout"
	case err != nil:
		result.Outcome = "failure"
		if result.Stderr == "" {
			result.Stderr = err.Error()
		}
	}

	r.logger.Debug().
		Str("outcome", result.Outcome).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("Shell command completed")

	return result
}

// rewriteWorkPaths redirects bare work-root references to the workspace.
func rewriteWorkPaths(command, workRoot, workspace string) string {
	if workRoot == "" || workRoot == workspace {
		return command
	}
	root := strings.TrimSuffix(workRoot, "/")
	return strings.ReplaceAll(command, root+"/", workspace+"/")
}

func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... (output truncated)"
}
