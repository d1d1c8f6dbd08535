// -----------------------------------------------------------------------
// Workflow Handoff Handler
// Triggers another workflow via the public trigger endpoint
// -----------------------------------------------------------------------

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/jobs/contextbuild"
	"github.com/ternarybob/magnet/internal/models"
)

// HandoffHandler executes workflow_handoff steps. The child job is
// independent: the parent never awaits it.
type HandoffHandler struct {
	deps *Deps
}

func (h *HandoffHandler) Execute(ctx context.Context, ec *ExecContext, stepIndex int) (*models.StepOutput, error) {
	step := ec.Workflow.Steps[stepIndex]
	started := time.Now()

	if step.Handoff == nil || step.Handoff.TargetWorkflowID == "" {
		return nil, fmt.Errorf("handoff step %q has no target workflow", step.Name)
	}
	cfg := step.Handoff

	if cfg.TargetWorkflowID == ec.Job.WorkflowID {
		return nil, fmt.Errorf("handoff step %q targets its own workflow", step.Name)
	}

	target, err := h.deps.Storage.WorkflowStorage().GetWorkflow(ctx, cfg.TargetWorkflowID)
	if err != nil {
		return nil, fmt.Errorf("handoff target workflow not found: %s", cfg.TargetWorkflowID)
	}
	if target.TenantID != ec.Job.TenantID {
		return nil, fmt.Errorf("handoff target workflow belongs to another tenant")
	}

	payload := h.buildPayload(ec, stepIndex, cfg)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode handoff payload: %w", err)
	}

	endpoint := h.deps.Config.Engine.TriggerEndpoint
	if endpoint == "" {
		return nil, fmt.Errorf("trigger endpoint is not configured")
	}

	triggeredJobID, status, sendErr := h.post(ctx, endpoint, body)

	record := newRecord(step, stepIndex, started)
	record.Input = map[string]interface{}{
		"target_workflow_id": cfg.TargetWorkflowID,
		"payload_mode":       string(cfg.PayloadMode),
	}
	record.DurationMS = time.Since(started).Milliseconds()

	if sendErr != nil {
		record.Success = false
		record.Error = common.RedactSecrets(sendErr.Error())
		if recErr := recordStep(ctx, h.deps, ec, record); recErr != nil {
			h.deps.Logger.Warn().Err(recErr).Msg("Failed to persist failed step record")
		}
		return nil, fmt.Errorf("handoff step %q failed: %w", step.Name, sendErr)
	}

	outputText := fmt.Sprintf("Triggered workflow %s", cfg.TargetWorkflowID)
	if triggeredJobID != "" {
		outputText = fmt.Sprintf("Triggered workflow %s as job %s", cfg.TargetWorkflowID, triggeredJobID)
	}

	record.Success = true
	record.Output = outputText
	if err := recordStep(ctx, h.deps, ec, record); err != nil {
		return nil, err
	}

	return &models.StepOutput{
		StepName:  step.Name,
		StepIndex: stepIndex,
		Output:    outputText,
		Extras: map[string]interface{}{
			"triggered_job_id": triggeredJobID,
			"response_status":  status,
			"success":          true,
		},
	}, nil
}

// buildPayload projects the submission per the configured payload mode
// and attaches handoff metadata.
func (h *HandoffHandler) buildPayload(ec *ExecContext, stepIndex int, cfg *models.HandoffConfig) map[string]interface{} {
	submission := map[string]interface{}{}

	mode := cfg.PayloadMode
	if mode == "" {
		mode = models.HandoffPreviousStepOutput
	}

	switch mode {
	case models.HandoffSubmissionOnly:
		if ec.Submission != nil {
			submission = ec.Submission.Data
		}
	case models.HandoffFullContext:
		submission["context"] = contextbuild.Accumulated(ec.Submission, ec.StepOutputs)
		if ec.Submission != nil {
			for k, v := range ec.Submission.Data {
				submission[k] = v
			}
		}
	case models.HandoffDeliverableOutput:
		deliverable, _ := contextbuild.Deliverable(ec.Submission, ec.Workflow.Steps, ec.StepOutputs)
		submission["deliverable"] = deliverable
	default: // previous_step_output
		for _, depIdx := range ec.Dependencies[stepIndex] {
			if out, ok := ec.StepOutputs[depIdx]; ok {
				submission["previous_output"] = out.Output
			}
		}
	}

	return map[string]interface{}{
		"workflow_id": cfg.TargetWorkflowID,
		"tenant_id":   ec.Job.TenantID,
		"submission":  submission,
		"handoff_metadata": map[string]interface{}{
			"source_job_id":          ec.Job.ID,
			"source_workflow_id":     ec.Job.WorkflowID,
			"source_step_index":      stepIndex,
			"bypass_required_inputs": cfg.BypassRequiredInputs,
			"timestamp":              time.Now().UTC().Format(time.RFC3339),
		},
	}
}

func (h *HandoffHandler) post(ctx context.Context, endpoint string, body []byte) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("invalid trigger endpoint: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("trigger call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", resp.StatusCode, fmt.Errorf("trigger endpoint returned status %d", resp.StatusCode)
	}

	var parsed struct {
		JobID string `json:"job_id"`
	}
	_ = json.Unmarshal(respBody, &parsed)
	return parsed.JobID, resp.StatusCode, nil
}
