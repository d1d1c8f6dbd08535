// -----------------------------------------------------------------------
// Shell Step Handler
// Model-driven or direct command batches in the step workspace
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/jobs/loops"
	"github.com/ternarybob/magnet/internal/models"
	"github.com/ternarybob/magnet/internal/services/llm"
	"github.com/ternarybob/magnet/internal/services/shell"
)

// ShellHandler executes shell steps. Steps naming a model run the shell
// tool loop; pure-shell steps run their instruction lines directly.
type ShellHandler struct {
	deps *Deps
}

func (h *ShellHandler) Execute(ctx context.Context, ec *ExecContext, stepIndex int) (*models.StepOutput, error) {
	step := ec.Workflow.Steps[stepIndex]
	started := time.Now()
	workspaceID := shell.WorkspaceID(ec.Job.TenantID, ec.Job.ID, stepIndex)

	var outputText string
	var usage models.Usage
	var err error

	if step.Model != "" {
		outputText, usage, err = h.runLoop(ctx, ec, stepIndex, step, workspaceID)
	} else {
		outputText, err = h.runDirect(ctx, step, workspaceID)
	}

	record := newRecord(step, stepIndex, started)
	record.Input = map[string]interface{}{"workspace_id": workspaceID, "model": step.Model}
	record.DurationMS = time.Since(started).Milliseconds()

	if err != nil {
		record.Success = false
		record.Error = common.RedactSecrets(err.Error())
		if recErr := recordStep(ctx, h.deps, ec, record); recErr != nil {
			h.deps.Logger.Warn().Err(recErr).Msg("Failed to persist failed step record")
		}
		return nil, fmt.Errorf("shell step %q failed: %w", step.Name, err)
	}

	extras := map[string]interface{}{"workspace_id": workspaceID}
	if uploaded, upErr := h.deps.ShellUploader.UploadOutputs(ctx, workspaceID, ec.Job.TenantID, ec.Job.ID); upErr != nil {
		h.deps.Logger.Warn().Err(upErr).Msg("Failed to upload shell outputs")
	} else if len(uploaded) > 0 {
		urls := make([]string, 0, len(uploaded))
		for _, f := range uploaded {
			urls = append(urls, f.PublicURL)
		}
		extras["uploaded_files"] = urls
	}

	if step.Model != "" {
		h.deps.Usage.Record(ctx, ec.Job.TenantID, ec.Job.ID, step.Model, "shell", usage)
		record.Usage = &usage
	}

	record.Success = true
	record.Output = outputText
	if recErr := recordStep(ctx, h.deps, ec, record); recErr != nil {
		return nil, recErr
	}

	return &models.StepOutput{
		StepName:  step.Name,
		StepIndex: stepIndex,
		Output:    outputText,
		Extras:    extras,
	}, nil
}

func (h *ShellHandler) runLoop(ctx context.Context, ec *ExecContext, stepIndex int, step models.Step, workspaceID string) (string, models.Usage, error) {
	tools := step.Tools
	if !step.HasTool(llm.ToolShell) {
		tools = append(append([]models.Tool{}, tools...), models.NewTool(llm.ToolShell))
	}

	req := &interfaces.ModelRequest{
		Model:      step.Model,
		Input:      llm.BuildTextInput(ec.PreviousContext(stepIndex), step.Instructions),
		Tools:      tools,
		ToolChoice: step.ToolChoice,
	}
	llm.NormalizeRequest(req)

	loop := &loops.ShellLoop{
		Provider:    h.deps.Provider,
		Runner:      h.deps.ShellRunner,
		Events:      h.deps.Events,
		WorkspaceID: workspaceID,
		Logger:      h.deps.Logger,
	}
	result, err := loop.Run(ctx, ec.Job.ID, stepIndex, req)
	if err != nil {
		return "", models.Usage{}, err
	}
	return result.OutputText, result.Usage, nil
}

// runDirect treats each non-empty instruction line as one command.
func (h *ShellHandler) runDirect(ctx context.Context, step models.Step, workspaceID string) (string, error) {
	var commands []string
	for _, line := range strings.Split(step.Instructions, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			commands = append(commands, trimmed)
		}
	}
	if len(commands) == 0 {
		return "", fmt.Errorf("no commands in step instructions")
	}

	if err := h.deps.ShellRunner.Reset(ctx, workspaceID); err != nil {
		return "", err
	}

	results, err := h.deps.ShellRunner.Execute(ctx, workspaceID, interfaces.ShellRequest{Commands: commands})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "$ %s\n", commands[i])
		if r.Stdout != "" {
			b.WriteString(r.Stdout)
			if !strings.HasSuffix(r.Stdout, "\n") {
				b.WriteString("\n")
			}
		}
		if r.Stderr != "" {
			fmt.Fprintf(&b, "[stderr] %s\n", r.Stderr)
		}
		if r.Outcome != "success" {
			fmt.Fprintf(&b, "[%s]\n", r.Outcome)
		}
	}
	return b.String(), nil
}
