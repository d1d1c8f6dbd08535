// -----------------------------------------------------------------------
// Webhook Handler
// Posts step payloads to external endpoints
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/jobs/contextbuild"
	"github.com/ternarybob/magnet/internal/models"
	"github.com/ternarybob/magnet/internal/services/delivery"
)

// WebhookHandler executes webhook steps.
type WebhookHandler struct {
	deps *Deps
}

func (h *WebhookHandler) Execute(ctx context.Context, ec *ExecContext, stepIndex int) (*models.StepOutput, error) {
	step := ec.Workflow.Steps[stepIndex]
	started := time.Now()

	if step.Webhook == nil || step.Webhook.URL == "" {
		return nil, fmt.Errorf("webhook step %q has no webhook config", step.Name)
	}
	cfg := step.Webhook

	body, contentType, err := h.buildBody(ctx, ec, stepIndex, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook payload: %w", err)
	}

	result, sendErr := h.deps.Webhooks.Send(ctx, &delivery.WebhookRequest{
		URL:         cfg.URL,
		Method:      cfg.Method,
		Headers:     cfg.Headers,
		QueryParams: cfg.QueryParams,
		Body:        body,
		ContentType: contentType,
		WebhookType: cfg.WebhookType,
	})

	record := newRecord(step, stepIndex, started)
	record.Input = map[string]interface{}{"url": cfg.URL, "method": cfg.Method}
	record.DurationMS = time.Since(started).Milliseconds()

	extras := map[string]interface{}{}
	outputText := ""
	if result != nil {
		extras["response_status"] = result.ResponseStatus
		extras["success"] = result.Success
		extras["duration_ms"] = result.DurationMS
		outputText = fmt.Sprintf("Webhook %s responded with status %d", cfg.URL, result.ResponseStatus)
	}

	if sendErr != nil {
		record.Success = false
		record.Error = common.RedactSecrets(sendErr.Error())
		if recErr := recordStep(ctx, h.deps, ec, record); recErr != nil {
			h.deps.Logger.Warn().Err(recErr).Msg("Failed to persist failed step record")
		}
		return nil, fmt.Errorf("webhook step %q failed: %w", step.Name, sendErr)
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
		Extras:    extras,
	}, nil
}

// buildBody renders the custom template when configured, else assembles
// the auto payload.
func (h *WebhookHandler) buildBody(ctx context.Context, ec *ExecContext, stepIndex int, cfg *models.WebhookConfig) ([]byte, string, error) {
	if cfg.BodyTemplate != "" {
		return h.renderTemplate(ctx, ec, cfg)
	}
	payload, err := h.autoPayload(ctx, ec, stepIndex, cfg)
	if err != nil {
		return nil, "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode webhook payload: %w", err)
	}
	return body, "application/json", nil
}

var templateVarPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.\[\]]+)\s*\}\}`)

// renderTemplate substitutes {{dotted.path}} variables against the job
// context. JSON content types get the rendered text as-is; anything else
// is wrapped as {"raw_body": "..."}.
func (h *WebhookHandler) renderTemplate(ctx context.Context, ec *ExecContext, cfg *models.WebhookConfig) ([]byte, string, error) {
	tmplCtx := h.templateContext(ctx, ec)

	rendered := templateVarPattern.ReplaceAllStringFunc(cfg.BodyTemplate, func(match string) string {
		path := templateVarPattern.FindStringSubmatch(match)[1]
		value, ok := resolvePath(tmplCtx, path)
		if !ok {
			return ""
		}
		return stringify(value)
	})

	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	if strings.Contains(contentType, "json") {
		return []byte(rendered), contentType, nil
	}
	wrapped, err := json.Marshal(map[string]string{"raw_body": rendered})
	if err != nil {
		return nil, "", err
	}
	return wrapped, "application/json", nil
}

// templateContext exposes job, submission, step outputs, deliverable
// projection and artifacts to templates.
func (h *WebhookHandler) templateContext(ctx context.Context, ec *ExecContext) map[string]interface{} {
	deliverableContext, deliverableIndices := contextbuild.Deliverable(ec.Submission, ec.Workflow.Steps, ec.StepOutputs)

	stepOutputs := map[string]interface{}{}
	for idx, out := range ec.StepOutputs {
		stepOutputs[fmt.Sprintf("step_%d", idx+1)] = map[string]interface{}{
			"step_name":  out.StepName,
			"step_index": out.StepIndex,
			"output":     out.Output,
			"image_urls": out.ImageURLs,
		}
	}

	submissionData := map[string]interface{}{}
	submissionMeta := map[string]interface{}{}
	if ec.Submission != nil {
		submissionData = ec.Submission.Data
		submissionMeta["submission_id"] = ec.Submission.ID
		submissionMeta["form_id"] = ec.Submission.FormID
	}

	return map[string]interface{}{
		"job": map[string]interface{}{
			"job_id":      ec.Job.ID,
			"tenant_id":   ec.Job.TenantID,
			"workflow_id": ec.Job.WorkflowID,
			"status":      string(ec.Job.Status),
			"output_url":  ec.Job.OutputURL,
		},
		"submission":          submissionData,
		"submission_meta":     submissionMeta,
		"step_outputs":        stepOutputs,
		"deliverable_context": deliverableContext,
		"deliverable_steps":   deliverableIndices,
		"artifacts":           h.artifactList(ctx, ec),
	}
}

// autoPayload builds the structured payload with include flags and
// exclusion filters applied. exclude_step_indices is a pure filter:
// indices beyond the current step simply match nothing.
func (h *WebhookHandler) autoPayload(ctx context.Context, ec *ExecContext, stepIndex int, cfg *models.WebhookConfig) (map[string]interface{}, error) {
	excluded := make(map[int]bool, len(cfg.ExcludeStepIndices))
	for _, idx := range cfg.ExcludeStepIndices {
		excluded[idx] = true
	}

	payload := map[string]interface{}{
		"job_info": map[string]interface{}{
			"job_id":      ec.Job.ID,
			"workflow_id": ec.Job.WorkflowID,
			"status":      string(ec.Job.Status),
			"created_at":  ec.Job.CreatedAt,
		},
	}

	if cfg.IncludeSubmission && ec.Submission != nil {
		payload["submission_data"] = ec.Submission.Data
	}

	if cfg.IncludeStepOutputs {
		stepOutputs := map[string]interface{}{}
		for idx, out := range ec.StepOutputs {
			if excluded[idx] {
				continue
			}
			stepOutputs[fmt.Sprintf("step_%d", idx+1)] = map[string]interface{}{
				"step_name":   out.StepName,
				"step_index":  out.StepIndex,
				"output":      out.Output,
				"artifact_id": out.ArtifactID,
				"image_urls":  out.ImageURLs,
			}
		}
		payload["step_outputs"] = stepOutputs
	}

	if cfg.IncludeDeliverables {
		deliverableContext, deliverableIndices := contextbuild.Deliverable(ec.Submission, ec.Workflow.Steps, ec.StepOutputs)
		payload["deliverable_context"] = deliverableContext
		payload["deliverable_steps"] = deliverableIndices
	}

	if cfg.IncludeArtifacts {
		artifacts := h.artifactList(ctx, ec)
		payload["artifacts"] = artifacts

		var imageURLs, htmlFiles, markdownFiles []string
		for _, a := range artifacts {
			switch {
			case a.IsImage():
				imageURLs = append(imageURLs, a.PublicURL)
			case a.IsHTML():
				htmlFiles = append(htmlFiles, a.PublicURL)
			case a.IsMarkdown():
				markdownFiles = append(markdownFiles, a.PublicURL)
			}
		}
		payload["images"] = imageURLs
		payload["html_files"] = htmlFiles
		payload["markdown_files"] = markdownFiles
	}

	return payload, nil
}

func (h *WebhookHandler) artifactList(ctx context.Context, ec *ExecContext) []*models.Artifact {
	artifacts, err := h.deps.Storage.ArtifactStorage().ListArtifactsByJob(ctx, ec.Job.ID)
	if err != nil {
		h.deps.Logger.Warn().Err(err).Msg("Failed to list artifacts for webhook payload")
		return nil
	}
	return artifacts
}

// resolvePath walks a dotted path through nested maps.
func resolvePath(root map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = root
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
