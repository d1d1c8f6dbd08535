// -----------------------------------------------------------------------
// Job Finalizer
// Chooses and stores the deliverable, then dispatches delivery
// -----------------------------------------------------------------------

package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/jobs/contextbuild"
	"github.com/ternarybob/magnet/internal/jobs/handlers"
	"github.com/ternarybob/magnet/internal/jobs/trace"
	"github.com/ternarybob/magnet/internal/models"
	"github.com/ternarybob/magnet/internal/services/delivery"
	"github.com/ternarybob/magnet/internal/services/llm"
	"github.com/yuin/goldmark"
)

// finalStepName labels the trace record the finalizer appends.
const finalStepName = "Final Output"

// Finalizer completes a job: deliverable selection, final artifact,
// delivery and notification. Delivery and notification failures never
// fail the job.
type Finalizer struct {
	storage   interfaces.StorageManager
	trace     *trace.Store
	artifacts interfaces.ArtifactService
	provider  interfaces.ModelProvider
	injector  interfaces.TrackingInjector
	webhooks  *delivery.Sender
	sms       *delivery.SMSService
	config    *common.Config
	logger    arbor.ILogger
}

// NewFinalizer creates the finalizer. sms may be nil when unconfigured.
func NewFinalizer(storage interfaces.StorageManager, traceStore *trace.Store, artifacts interfaces.ArtifactService, provider interfaces.ModelProvider, injector interfaces.TrackingInjector, webhooks *delivery.Sender, sms *delivery.SMSService, config *common.Config, logger arbor.ILogger) *Finalizer {
	return &Finalizer{
		storage:   storage,
		trace:     traceStore,
		artifacts: artifacts,
		provider:  provider,
		injector:  injector,
		webhooks:  webhooks,
		sms:       sms,
		config:    config,
		logger:    logger,
	}
}

// Finalize completes the job on normal step completion.
func (f *Finalizer) Finalize(ctx context.Context, ec *handlers.ExecContext) error {
	job := ec.Job
	started := time.Now()

	content, kind, err := f.buildDeliverable(ctx, ec)
	if err != nil {
		return fmt.Errorf("failed to build deliverable: %w", err)
	}

	if kind == models.ArtifactKindHTMLFinal {
		content = f.injector.Inject(content)
	}

	artifact, err := f.artifacts.UploadText(ctx, job.TenantID, job.ID, finalFilename(kind), content, kind)
	if err != nil {
		return fmt.Errorf("failed to store final artifact: %w", err)
	}
	job.AppendArtifact(artifact.ID)

	if ec.Workflow.PDFEnabled {
		if pdfArtifact, pdfErr := f.renderPDF(ctx, ec, content, kind); pdfErr != nil {
			f.logger.Warn().Err(pdfErr).Msg("Failed to render PDF deliverable")
		} else {
			job.AppendArtifact(pdfArtifact.ID)
		}
	}

	// The trace is re-read inside Append; entries written by parallel
	// siblings since this frame loaded are preserved.
	finalRecord := models.ExecutionStep{
		StepName:   finalStepName,
		StepOrder:  len(ec.Workflow.Steps) + 1,
		StepType:   "final_output",
		Output:     content,
		ArtifactID: artifact.ID,
		Timestamp:  started.UTC(),
		DurationMS: time.Since(started).Milliseconds(),
		Success:    true,
	}
	if err := f.trace.Append(ctx, job, finalRecord); err != nil {
		return err
	}

	job.MarkCompleted(artifact.PublicURL)
	if err := f.storage.JobStorage().UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	f.deliver(ctx, ec, content, artifact.PublicURL)
	f.notify(ctx, job)

	return nil
}

// buildDeliverable picks the deliverable content: template-driven HTML
// when enabled, else the last textual step output, else a key/value dump
// of the submission.
func (f *Finalizer) buildDeliverable(ctx context.Context, ec *handlers.ExecContext) (string, models.ArtifactKind, error) {
	if ec.Workflow.HTMLEnabled && ec.Workflow.TemplateID != "" {
		html, err := f.generateHTML(ctx, ec)
		if err != nil {
			return "", "", err
		}
		return html, models.ArtifactKindHTMLFinal, nil
	}

	deliverableText, indices := contextbuild.Deliverable(ec.Submission, ec.Workflow.Steps, ec.StepOutputs)
	if len(indices) > 0 && deliverableText != "" {
		if ec.Workflow.HTMLEnabled {
			var buf bytes.Buffer
			if err := goldmark.Convert([]byte(deliverableOnly(ec, indices)), &buf); err == nil {
				return wrapHTMLDocument(ec.Workflow.Name, buf.String()), models.ArtifactKindHTMLFinal, nil
			}
		}
		return deliverableOnly(ec, indices), models.ArtifactKindMarkdownFinal, nil
	}

	// No step output at all: dump the submission.
	if ec.Submission != nil && len(ec.Submission.Data) > 0 {
		return contextbuild.SubmissionBlock(ec.Submission), models.ArtifactKindTextFinal, nil
	}
	return "", "", fmt.Errorf("job produced no deliverable content")
}

// deliverableOnly concatenates the raw outputs of the deliverable steps
// in ascending step_order, without the context framing.
func deliverableOnly(ec *handlers.ExecContext, indices []int) string {
	sorted := append([]int{}, indices...)
	sort.Slice(sorted, func(a, b int) bool {
		return ec.Workflow.Steps[sorted[a]].StepOrder < ec.Workflow.Steps[sorted[b]].StepOrder
	})
	var parts []string
	for _, idx := range sorted {
		if out, ok := ec.StepOutputs[idx]; ok && out.Output != "" {
			parts = append(parts, out.Output)
		}
	}
	return strings.Join(parts, "\n\n")
}

// generateHTML runs the final model call seeded with the accumulated
// context, the template HTML and the submission data.
func (f *Finalizer) generateHTML(ctx context.Context, ec *handlers.ExecContext) (string, error) {
	tpl, err := f.storage.TemplateStorage().GetTemplate(ctx, ec.Workflow.TemplateID)
	if err != nil {
		return "", fmt.Errorf("template not found: %s", ec.Workflow.TemplateID)
	}

	accumulated := contextbuild.Accumulated(ec.Submission, ec.StepOutputs)
	submissionJSON := "{}"
	if ec.Submission != nil {
		if data, jerr := json.Marshal(ec.Submission.Data); jerr == nil {
			submissionJSON = string(data)
		}
	}

	req := &interfaces.ModelRequest{
		Model: defaultFinalizerModel(ec.Workflow),
		Instructions: "Fill the provided HTML template with the generated content. " +
			"Keep the template's structure, styles and scripts intact. " +
			"Respond with the complete HTML document only.",
		Input: fmt.Sprintf("Generated content:\n%s\n\nSubmission data:\n%s\n\nHTML template:\n%s",
			accumulated, submissionJSON, tpl.HTML),
	}
	llm.NormalizeRequest(req)

	resp, err := f.provider.CreateResponse(ctx, req)
	if err != nil {
		return "", fmt.Errorf("final HTML generation failed: %w", err)
	}

	html := stripCodeFence(resp.Text())
	if html == "" {
		return "", fmt.Errorf("final HTML generation returned empty output")
	}
	return html, nil
}

// renderPDF renders the deliverable text into a PDF artifact.
func (f *Finalizer) renderPDF(ctx context.Context, ec *handlers.ExecContext, content string, kind models.ArtifactKind) (*models.Artifact, error) {
	text := content
	if kind == models.ArtifactKindHTMLFinal {
		text = contextbuild.HTMLToMarkdown(content)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(0, 5.5, text, "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf render failed: %w", err)
	}

	return f.artifacts.Upload(ctx, &interfaces.UploadRequest{
		TenantID:    ec.Job.TenantID,
		JobID:       ec.Job.ID,
		Name:        "final_output.pdf",
		Data:        buf.Bytes(),
		Kind:        models.ArtifactKindPDFFinal,
		ContentType: "application/pdf",
		IsPublic:    true,
	})
}

// deliver dispatches the deliverable per workflow config. Failures are
// logged, never propagated.
func (f *Finalizer) deliver(ctx context.Context, ec *handlers.ExecContext, content, outputURL string) {
	cfg := ec.Workflow.Delivery
	switch cfg.Mode {
	case models.DeliveryWebhook:
		if cfg.Webhook == nil || cfg.Webhook.URL == "" {
			f.logger.Warn().Str("job_id", ec.Job.ID).Msg("Webhook delivery configured without a URL")
			return
		}
		payload, err := json.Marshal(f.deliveryPayload(ctx, ec, outputURL))
		if err != nil {
			f.logger.Warn().Err(err).Msg("Failed to encode delivery payload")
			return
		}
		deliveryCtx, cancel := context.WithTimeout(ctx, common.ParseDurationOr(f.config.Engine.DeliveryTimeout, 180*time.Second))
		defer cancel()
		if _, err := f.webhooks.Send(deliveryCtx, &delivery.WebhookRequest{
			URL:         cfg.Webhook.URL,
			Method:      cfg.Webhook.Method,
			Headers:     cfg.Webhook.Headers,
			Body:        payload,
			WebhookType: cfg.Webhook.WebhookType,
		}); err != nil {
			f.logger.Warn().Err(err).Str("job_id", ec.Job.ID).Msg("Delivery webhook failed")
		}

	case models.DeliverySMS:
		if f.sms == nil {
			f.logger.Warn().Str("job_id", ec.Job.ID).Msg("SMS delivery configured but SMS service unavailable")
			return
		}
		deliverable, _ := contextbuild.Deliverable(ec.Submission, ec.Workflow.Steps, ec.StepOutputs)
		if err := f.sms.Deliver(ctx, cfg.SMSNumber, cfg.SMSInstructions, deliverable, outputURL); err != nil {
			f.logger.Warn().Err(err).Str("job_id", ec.Job.ID).Msg("SMS delivery failed")
		}
	}
}

// deliveryPayload is the artifact-enriched payload delivery webhooks
// receive.
func (f *Finalizer) deliveryPayload(ctx context.Context, ec *handlers.ExecContext, outputURL string) map[string]interface{} {
	payload := map[string]interface{}{
		"job_id":      ec.Job.ID,
		"workflow_id": ec.Job.WorkflowID,
		"status":      string(models.JobStatusCompleted),
		"output_url":  outputURL,
	}
	if ec.Submission != nil {
		payload["submission_data"] = ec.Submission.Data
	}
	if artifacts, err := f.storage.ArtifactStorage().ListArtifactsByJob(ctx, ec.Job.ID); err == nil {
		payload["artifacts"] = artifacts
	}
	return payload
}

// notify writes a tenant notification row. Best-effort.
func (f *Finalizer) notify(ctx context.Context, job *models.Job) {
	n := &models.Notification{
		ID:        common.NewNotificationID(),
		TenantID:  job.TenantID,
		JobID:     job.ID,
		Level:     "info",
		Message:   fmt.Sprintf("Job %s completed", job.ID),
		CreatedAt: time.Now().UTC(),
	}
	if err := f.storage.NotificationStorage().SaveNotification(ctx, n); err != nil {
		f.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to write completion notification")
	}
}

func defaultFinalizerModel(workflow *models.Workflow) string {
	for _, step := range workflow.Steps {
		if step.Model != "" {
			return step.Model
		}
	}
	return "gpt-5"
}

func finalFilename(kind models.ArtifactKind) string {
	switch kind {
	case models.ArtifactKindHTMLFinal:
		return "final_output.html"
	case models.ArtifactKindMarkdownFinal:
		return "final_output.md"
	default:
		return "final_output.txt"
	}
}

// stripCodeFence removes a wrapping markdown code fence from model HTML
// output.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```html")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func wrapHTMLDocument(title, body string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
</head>
<body>
%s</body>
</html>
`, title, body)
}
