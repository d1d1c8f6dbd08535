package interfaces

import "context"

// ShellRequest is one command batch extracted from a shell tool call.
type ShellRequest struct {
	Commands        []string `json:"commands"`
	TimeoutMS       int      `json:"timeout_ms,omitempty"`
	MaxOutputLength int      `json:"max_output_length,omitempty"`
}

// ShellCommandResult is the result of one command in a batch.
type ShellCommandResult struct {
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	Outcome string `json:"outcome,omitempty"` // "success" | "failure" | "timeout"
}

// ShellRunner executes command batches in a persistent per-step workspace.
// The workspace ID is sha256(tenant|job|step_index) hex-prefixed; exactly
// one step owns a workspace.
type ShellRunner interface {
	// Reset clears the workspace. Called exactly once at loop start to
	// defeat stale state across retries.
	Reset(ctx context.Context, workspaceID string) error

	Execute(ctx context.Context, workspaceID string, req ShellRequest) ([]ShellCommandResult, error)
}
