// -----------------------------------------------------------------------
// Shell Loop
// Model call / command batch / output submission cycle
// -----------------------------------------------------------------------

package loops

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/models"
)

// ShellLoop drives the shell tool cycle for one step. The workspace is
// reset exactly once at loop start.
type ShellLoop struct {
	Provider      interfaces.ModelProvider
	Runner        interfaces.ShellRunner
	Events        interfaces.EventService
	WorkspaceID   string
	MaxIterations int
	Timeout       time.Duration
	Logger        arbor.ILogger
}

// Run executes the loop until the model stops issuing shell calls.
func (l *ShellLoop) Run(ctx context.Context, jobID string, stepIndex int, req *interfaces.ModelRequest) (*LoopResult, error) {
	maxIterations := l.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 50
	}
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	deadline := time.Now().Add(timeout)

	if err := l.Runner.Reset(ctx, l.WorkspaceID); err != nil {
		return nil, fmt.Errorf("failed to reset shell workspace: %w", err)
	}

	result := &LoopResult{Reason: ReasonCompleted}

	resp, err := l.Provider.CreateResponse(ctx, req)
	if err != nil {
		result.Reason = ReasonError
		return result, fmt.Errorf("shell model call failed: %w", err)
	}
	result.Usage.Add(resp.Usage)
	result.LastResponseID = resp.ID

	for iteration := 1; iteration <= maxIterations; iteration++ {
		result.Iterations = iteration

		if time.Now().After(deadline) {
			result.Reason = ReasonTimeout
			result.OutputText = resp.Text()
			return result, nil
		}

		call := firstShellCall(resp)
		if call == nil {
			result.OutputText = resp.Text()
			l.emit(ctx, interfaces.EventLoopComplete, jobID, stepIndex, map[string]interface{}{"reason": string(ReasonCompleted)})
			return result, nil
		}

		shellReq, err := extractShellRequest(call)
		if err != nil {
			result.Reason = ReasonError
			return result, fmt.Errorf("invalid shell call: %w", err)
		}

		l.emit(ctx, interfaces.EventLoopActionCall, jobID, stepIndex, map[string]interface{}{
			"call_id":  call.CallID,
			"commands": len(shellReq.Commands),
		})

		results, err := l.Runner.Execute(ctx, l.WorkspaceID, shellReq)
		if err != nil {
			result.Reason = ReasonError
			return result, fmt.Errorf("shell execution failed: %w", err)
		}
		l.emit(ctx, interfaces.EventLoopActionExecuted, jobID, stepIndex, map[string]interface{}{"commands": len(shellReq.Commands)})

		outputs := make([]interfaces.ShellCommandOutput, 0, len(results))
		for _, r := range results {
			outputs = append(outputs, interfaces.ShellCommandOutput{
				Stdout:  r.Stdout,
				Stderr:  r.Stderr,
				Outcome: r.Outcome,
			})
		}

		submission := interfaces.ShellCallOutput{
			Type:            "shell_call_output",
			CallID:          call.CallID,
			MaxOutputLength: shellReq.MaxOutputLength,
			Output:          outputs,
		}

		// tool_choice=required would livelock the loop on tool-only
		// turns; follow-ups always relax to auto.
		next := &interfaces.ModelRequest{
			Model:              req.Model,
			Tools:              req.Tools,
			ToolChoice:         models.ToolChoiceAuto,
			PreviousResponseID: resp.ID,
			Input:              []interface{}{submission},
		}

		resp, err = l.Provider.CreateResponse(ctx, next)
		if err != nil {
			result.Reason = ReasonError
			return result, fmt.Errorf("shell model call failed: %w", err)
		}
		result.Usage.Add(resp.Usage)
		result.LastResponseID = resp.ID
	}

	result.Reason = ReasonTimeout
	result.OutputText = resp.Text()
	return result, nil
}

func (l *ShellLoop) emit(ctx context.Context, eventType interfaces.EventType, jobID string, stepIndex int, payload map[string]interface{}) {
	if l.Events == nil {
		return
	}
	_ = l.Events.Publish(ctx, interfaces.Event{
		Type:      eventType,
		JobID:     jobID,
		StepIndex: stepIndex,
		Payload:   payload,
	})
}

// firstShellCall matches shell_call items plus the tool_call/function_call
// variants naming the shell tool.
func firstShellCall(resp *interfaces.ModelResponse) *interfaces.OutputItem {
	for i := range resp.Output {
		item := &resp.Output[i]
		switch item.Type {
		case "shell_call":
			return item
		case "tool_call", "function_call":
			if item.Name == "shell" {
				return item
			}
		}
	}
	return nil
}

// extractShellRequest pulls {commands, timeout_ms, max_output_length} out
// of a shell call, reading the typed action map first and the arguments
// JSON string second.
func extractShellRequest(call *interfaces.OutputItem) (interfaces.ShellRequest, error) {
	var req interfaces.ShellRequest

	source := call.Action
	if source == nil && call.Raw != nil {
		if action, ok := call.Raw["action"].(map[string]interface{}); ok {
			source = action
		}
	}

	if source != nil {
		if cmds, ok := source["commands"].([]interface{}); ok {
			for _, c := range cmds {
				if s, ok := c.(string); ok {
					req.Commands = append(req.Commands, s)
				}
			}
		}
		req.TimeoutMS = intField(source, "timeout_ms", 0)
		req.MaxOutputLength = intField(source, "max_output_length", 0)
	}

	if len(req.Commands) == 0 && call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &req); err != nil {
			return req, fmt.Errorf("failed to parse shell arguments: %w", err)
		}
	}

	if len(req.Commands) == 0 {
		return req, fmt.Errorf("shell call carries no commands")
	}
	return req, nil
}
