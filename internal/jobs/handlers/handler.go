// -----------------------------------------------------------------------
// Step Handlers
// Shared contract and dependencies for workflow step execution
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/jobs/contextbuild"
	"github.com/ternarybob/magnet/internal/jobs/trace"
	"github.com/ternarybob/magnet/internal/models"
	"github.com/ternarybob/magnet/internal/services/delivery"
	"github.com/ternarybob/magnet/internal/services/images"
	"github.com/ternarybob/magnet/internal/services/llm"
	"github.com/ternarybob/magnet/internal/services/shell"
)

// ExecContext is the per-job frame handlers execute against. StepOutputs
// accumulates as groups complete; the orchestrator guards concurrent
// access between parallel siblings.
type ExecContext struct {
	Job        *models.Job
	Workflow   *models.Workflow
	Submission *models.Submission

	// Dependencies holds the normalized dependency indices per step.
	Dependencies map[int][]int

	// StepOutputs maps completed step index to its output.
	StepOutputs map[int]*models.StepOutput

	// Rerun marks single-step rerun mode: the trace record is replaced
	// in place instead of appended.
	Rerun bool
}

// PreviousContext builds the dependency-filtered context for a step.
func (ec *ExecContext) PreviousContext(stepIndex int) string {
	return contextbuild.ForStep(ec.Submission, ec.Dependencies[stepIndex], ec.StepOutputs)
}

// Handler executes one workflow step kind.
type Handler interface {
	Execute(ctx context.Context, ec *ExecContext, stepIndex int) (*models.StepOutput, error)
}

// Deps bundles the services handlers draw on.
type Deps struct {
	Provider  interfaces.ModelProvider
	Artifacts interfaces.ArtifactService
	Pipeline  *images.Pipeline
	Trace     *trace.Store
	Usage     *llm.UsageAuditor
	Events    interfaces.EventService
	Store     interfaces.ObjectStore
	Storage   interfaces.StorageManager

	Webhooks *delivery.Sender

	Drivers       interfaces.ComputerDriverProvider
	ShellRunner   interfaces.ShellRunner
	ShellUploader *shell.Uploader

	Config *common.Config
	Logger arbor.ILogger
}

// Registry maps step kinds to handlers.
type Registry struct {
	handlers map[models.StepKind]Handler
}

// NewRegistry wires the five step handlers.
func NewRegistry(deps *Deps) *Registry {
	return &Registry{
		handlers: map[models.StepKind]Handler{
			models.StepKindAIGeneration:    &AIGenerationHandler{deps},
			models.StepKindWebhook:         &WebhookHandler{deps},
			models.StepKindWorkflowHandoff: &HandoffHandler{deps},
			models.StepKindS3Upload:        &S3UploadHandler{deps},
			models.StepKindShell:           &ShellHandler{deps},
		},
	}
}

// Execute dispatches a step to its handler.
func (r *Registry) Execute(ctx context.Context, ec *ExecContext, stepIndex int) (*models.StepOutput, error) {
	step := ec.Workflow.Steps[stepIndex]
	handler, ok := r.handlers[step.Kind]
	if !ok {
		return nil, fmt.Errorf("no handler for step type %q", step.Kind)
	}
	return handler.Execute(ctx, ec, stepIndex)
}

// recordStep appends (or, in rerun mode, replaces) the trace record and
// persists it. The Input map is redacted before storage.
func recordStep(ctx context.Context, deps *Deps, ec *ExecContext, record models.ExecutionStep) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	record.Input = common.RedactMap(record.Input)

	if ec.Rerun {
		return deps.Trace.ReplaceByOrder(ctx, ec.Job, record)
	}
	return deps.Trace.Append(ctx, ec.Job, record)
}

// newRecord seeds a trace record for a step. Trace step_order is the
// 1-based execution position (step index + 1); the final-output record
// takes total+1.
func newRecord(step models.Step, stepIndex int, started time.Time) models.ExecutionStep {
	return models.ExecutionStep{
		StepName:   step.Name,
		StepOrder:  stepIndex + 1,
		StepType:   string(step.Kind),
		Timestamp:  started.UTC(),
		DurationMS: time.Since(started).Milliseconds(),
	}
}
