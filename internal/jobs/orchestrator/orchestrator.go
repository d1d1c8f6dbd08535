// -----------------------------------------------------------------------
// Workflow Orchestrator
// Drives execution groups and single-step reruns for one job
// -----------------------------------------------------------------------

package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/jobs/dag"
	"github.com/ternarybob/magnet/internal/jobs/handlers"
	"github.com/ternarybob/magnet/internal/jobs/trace"
	"github.com/ternarybob/magnet/internal/models"
	"golang.org/x/sync/errgroup"
)

// Orchestrator processes trigger messages end to end.
type Orchestrator struct {
	storage   interfaces.StorageManager
	trace     *trace.Store
	registry  *handlers.Registry
	finalizer *Finalizer
	events    interfaces.EventService
	config    *common.Config
	logger    arbor.ILogger
}

// New creates the orchestrator.
func New(storage interfaces.StorageManager, traceStore *trace.Store, registry *handlers.Registry, finalizer *Finalizer, events interfaces.EventService, config *common.Config, logger arbor.ILogger) *Orchestrator {
	return &Orchestrator{
		storage:   storage,
		trace:     traceStore,
		registry:  registry,
		finalizer: finalizer,
		events:    events,
		config:    config,
		logger:    logger,
	}
}

// ProcessTrigger validates the trigger and dispatches it to the batch or
// single-step drive mode.
func (o *Orchestrator) ProcessTrigger(ctx context.Context, trigger *models.TriggerMessage) error {
	if err := trigger.Validate(); err != nil {
		return fmt.Errorf("invalid trigger: %w", err)
	}

	log := o.logger.WithCorrelationId(trigger.JobID)

	job, err := o.storage.JobStorage().GetJob(ctx, trigger.JobID)
	if err != nil {
		return fmt.Errorf("job not found: %s", trigger.JobID)
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("job %s is not runnable: %w", job.ID, err)
	}

	workflow, err := o.storage.WorkflowStorage().GetWorkflow(ctx, job.WorkflowID)
	if err != nil {
		return o.failJob(ctx, job, models.NewValidationError(fmt.Sprintf("workflow not found: %s", job.WorkflowID)))
	}

	submission, err := o.storage.SubmissionStorage().GetSubmission(ctx, job.SubmissionID)
	if err != nil {
		return o.failJob(ctx, job, models.NewValidationError(fmt.Sprintf("submission not found: %s", job.SubmissionID)))
	}

	if trigger.Action == models.ActionProcessSingleStep {
		return o.processSingleStep(ctx, log, job, workflow, submission, *trigger.StepIndex)
	}
	return o.processJob(ctx, log, job, workflow, submission)
}

// processJob runs all execution groups in order, barrier-synchronizing
// between groups, then finalizes.
func (o *Orchestrator) processJob(ctx context.Context, log arbor.ILogger, job *models.Job, workflow *models.Workflow, submission *models.Submission) error {
	plan, err := dag.Resolve(workflow.Steps)
	if err != nil {
		return o.failJob(ctx, job, models.NewValidationError(err.Error()))
	}

	if err := job.MarkProcessing(); err != nil {
		return err
	}
	if err := o.storage.JobStorage().UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}

	o.publish(ctx, interfaces.EventJobStarted, job.ID, 0, nil)
	log.Info().
		Str("workflow_id", workflow.ID).
		Int("steps", plan.TotalSteps).
		Int("groups", len(plan.ExecutionGroups)).
		Msg("Job started")

	ec := &handlers.ExecContext{
		Job:          job,
		Workflow:     workflow,
		Submission:   submission,
		Dependencies: plan.Dependencies,
		StepOutputs:  make(map[int]*models.StepOutput),
	}

	for _, group := range plan.ExecutionGroups {
		if err := o.runGroup(ctx, log, ec, group); err != nil {
			return o.failJob(ctx, job, err)
		}
	}

	if err := o.finalizer.Finalize(ctx, ec); err != nil {
		return o.failJob(ctx, job, err)
	}

	o.publish(ctx, interfaces.EventJobCompleted, job.ID, 0, map[string]interface{}{"output_url": job.OutputURL})
	log.Info().Str("output_url", job.OutputURL).Msg("Job completed")
	return nil
}

// runGroup executes one group, concurrently when the plan allows it.
// A step failure fails the group unless the step is continue_on_error.
func (o *Orchestrator) runGroup(ctx context.Context, log arbor.ILogger, ec *handlers.ExecContext, group dag.ExecutionGroup) error {
	if len(group.StepIndices) == 1 || !group.CanRunInParallel {
		for _, stepIndex := range group.StepIndices {
			if err := o.runStep(ctx, log, ec, stepIndex, nil); err != nil {
				return err
			}
		}
		return nil
	}

	limit := o.config.Engine.ParallelLimit
	if limit < 1 {
		limit = 1
	}
	if len(group.StepIndices) < limit {
		limit = len(group.StepIndices)
	}

	var mu sync.Mutex
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, stepIndex := range group.StepIndices {
		g.Go(func() error {
			return o.runStep(groupCtx, log, ec, stepIndex, &mu)
		})
	}
	return g.Wait()
}

// runStep executes one step and records its output. mu guards the shared
// StepOutputs map between parallel siblings.
func (o *Orchestrator) runStep(ctx context.Context, log arbor.ILogger, ec *handlers.ExecContext, stepIndex int, mu *sync.Mutex) error {
	step := ec.Workflow.Steps[stepIndex]
	o.publish(ctx, interfaces.EventStepStarted, ec.Job.ID, stepIndex, map[string]interface{}{"step_name": step.Name})
	log.Info().Int("step_index", stepIndex).Str("step_name", step.Name).Msg("Step started")

	output, err := o.registry.Execute(ctx, ec, stepIndex)
	if err != nil {
		if step.ContinueOnError {
			log.Warn().Err(err).
				Int("step_index", stepIndex).
				Msg("Step failed, continuing per step config")
			return nil
		}
		return err
	}

	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	ec.StepOutputs[stepIndex] = output

	o.publish(ctx, interfaces.EventStepCompleted, ec.Job.ID, stepIndex, map[string]interface{}{"step_name": step.Name})
	log.Info().Int("step_index", stepIndex).Str("step_name", step.Name).Msg("Step completed")
	return nil
}

// processSingleStep reruns exactly one step against the outputs already
// in the trace. Later steps and the finalizer are not touched.
func (o *Orchestrator) processSingleStep(ctx context.Context, log arbor.ILogger, job *models.Job, workflow *models.Workflow, submission *models.Submission, stepIndex int) error {
	if stepIndex < 0 || stepIndex >= len(workflow.Steps) {
		return fmt.Errorf("step_index %d out of range for workflow with %d steps", stepIndex, len(workflow.Steps))
	}

	plan, err := dag.Resolve(workflow.Steps)
	if err != nil {
		return fmt.Errorf("workflow is invalid: %w", err)
	}

	steps, err := o.trace.Load(ctx, job)
	if err != nil {
		return err
	}

	ec := &handlers.ExecContext{
		Job:          job,
		Workflow:     workflow,
		Submission:   submission,
		Dependencies: plan.Dependencies,
		StepOutputs:  outputsFromTrace(workflow, steps),
		Rerun:        true,
	}

	log.Info().
		Int("step_index", stepIndex).
		Str("step_name", workflow.Steps[stepIndex].Name).
		Msg("Rerunning single step")

	if _, err := o.registry.Execute(ctx, ec, stepIndex); err != nil {
		return fmt.Errorf("single-step rerun failed: %w", err)
	}
	return nil
}

// outputsFromTrace rebuilds the StepOutputs map from persisted records.
// Trace step_order is the 1-based execution position; the final-output
// record (position > step count) is skipped.
func outputsFromTrace(workflow *models.Workflow, steps []models.ExecutionStep) map[int]*models.StepOutput {
	outputs := make(map[int]*models.StepOutput, len(steps))
	for _, record := range steps {
		idx := record.StepOrder - 1
		if idx < 0 || idx >= len(workflow.Steps) || !record.Success {
			continue
		}
		outputs[idx] = &models.StepOutput{
			StepName:   record.StepName,
			StepIndex:  idx,
			Output:     record.Output,
			ArtifactID: record.ArtifactID,
			ImageURLs:  record.ImageURLs,
		}
	}
	return outputs
}

// failJob classifies the error, redacts the message and marks the job
// failed. Terminal jobs are never re-marked.
func (o *Orchestrator) failJob(ctx context.Context, job *models.Job, cause error) error {
	errType := models.ClassifyError(cause)
	message := common.RedactSecrets(cause.Error())

	if !job.IsTerminal() {
		job.MarkFailed(errType, message)
		if err := o.storage.JobStorage().UpdateJob(ctx, job); err != nil {
			o.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist job failure")
		}
	}

	o.publish(ctx, interfaces.EventJobFailed, job.ID, 0, map[string]interface{}{
		"error_type":    string(errType),
		"error_message": message,
	})
	o.logger.Warn().
		Str("job_id", job.ID).
		Str("error_type", string(errType)).
		Msg("Job failed")

	return fmt.Errorf("job %s failed: %s", job.ID, message)
}

func (o *Orchestrator) publish(ctx context.Context, eventType interfaces.EventType, jobID string, stepIndex int, payload map[string]interface{}) {
	_ = o.events.Publish(ctx, interfaces.Event{
		Type:      eventType,
		JobID:     jobID,
		StepIndex: stepIndex,
		Payload:   payload,
	})
}
