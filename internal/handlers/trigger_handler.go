// -----------------------------------------------------------------------
// Trigger Handler
// Public entry point: form submissions and workflow handoffs become jobs
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/jobs/orchestrator"
	"github.com/ternarybob/magnet/internal/models"
)

// TriggerRequest is the inbound trigger payload. Handoff steps in other
// jobs post the same shape with handoff_metadata attached.
type TriggerRequest struct {
	WorkflowID      string                 `json:"workflow_id"`
	TenantID        string                 `json:"tenant_id"`
	Submission      map[string]interface{} `json:"submission"`
	FieldLabels     map[string]string      `json:"field_labels,omitempty"`
	HandoffMetadata map[string]interface{} `json:"handoff_metadata,omitempty"`
}

type TriggerHandler struct {
	storage      interfaces.StorageManager
	orchestrator *orchestrator.Orchestrator
	logger       arbor.ILogger
}

func NewTriggerHandler(storage interfaces.StorageManager, orch *orchestrator.Orchestrator, logger arbor.ILogger) *TriggerHandler {
	return &TriggerHandler{
		storage:      storage,
		orchestrator: orch,
		logger:       logger,
	}
}

// TriggerWorkflowHandler accepts a trigger payload, persists the
// submission and a pending job, and starts orchestration in the
// background. The response carries the new job ID immediately.
func (h *TriggerHandler) TriggerWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.WorkflowID == "" {
		WriteError(w, http.StatusBadRequest, "workflow_id is required")
		return
	}

	ctx := r.Context()
	workflow, err := h.storage.WorkflowStorage().GetWorkflow(ctx, req.WorkflowID)
	if err != nil {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("workflow not found: %s", req.WorkflowID))
		return
	}
	if req.TenantID == "" {
		req.TenantID = workflow.TenantID
	}
	if req.TenantID != workflow.TenantID {
		WriteError(w, http.StatusForbidden, "workflow belongs to another tenant")
		return
	}

	submission := &models.Submission{
		ID:          common.NewSubmissionID(),
		TenantID:    req.TenantID,
		Data:        req.Submission,
		FieldLabels: req.FieldLabels,
		CreatedAt:   time.Now().UTC(),
	}
	if submission.Data == nil {
		submission.Data = map[string]interface{}{}
	}
	if err := h.storage.SubmissionStorage().SaveSubmission(ctx, submission); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to persist submission")
		return
	}

	job := models.NewJob(common.NewJobID(), req.TenantID, workflow.ID, submission.ID)
	if err := h.storage.JobStorage().SaveJob(ctx, job); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to persist job")
		return
	}

	log := h.logger.WithCorrelationId(job.ID)
	if source, ok := req.HandoffMetadata["source_job_id"].(string); ok && source != "" {
		log.Info().Str("source_job_id", source).Msg("Job triggered via handoff")
	} else {
		log.Info().Str("workflow_id", workflow.ID).Msg("Job triggered")
	}

	h.dispatch(&models.TriggerMessage{
		JobID:        job.ID,
		TenantID:     job.TenantID,
		WorkflowID:   job.WorkflowID,
		SubmissionID: job.SubmissionID,
		Action:       models.ActionProcessJob,
	})

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

// RerunStepHandler reruns a single step of an existing job.
// POST /api/v1/jobs/{id}/steps/{index}/rerun
func (h *TriggerHandler) RerunStepHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	jobID, stepIndex, err := parseRerunPath(r.URL.Path)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.storage.JobStorage().GetJob(r.Context(), jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("job not found: %s", jobID))
		return
	}

	h.dispatch(&models.TriggerMessage{
		JobID:        job.ID,
		TenantID:     job.TenantID,
		WorkflowID:   job.WorkflowID,
		SubmissionID: job.SubmissionID,
		Action:       models.ActionProcessSingleStep,
		StepIndex:    &stepIndex,
	})

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":     job.ID,
		"step_index": stepIndex,
		"status":     "rerun_started",
	})
}

// dispatch hands the trigger to the orchestrator off the request goroutine.
func (h *TriggerHandler) dispatch(trigger *models.TriggerMessage) {
	common.SafeGo(h.logger, "process-trigger", func() {
		if err := h.orchestrator.ProcessTrigger(context.Background(), trigger); err != nil {
			h.logger.Warn().Err(err).Str("job_id", trigger.JobID).Msg("Trigger processing ended with error")
		}
	})
}

// parseRerunPath extracts job ID and step index from
// /api/v1/jobs/{id}/steps/{index}/rerun.
func parseRerunPath(path string) (string, int, error) {
	trimmed := strings.TrimPrefix(path, "/api/v1/jobs/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) != 4 || parts[1] != "steps" || parts[3] != "rerun" {
		return "", 0, fmt.Errorf("expected /api/v1/jobs/{id}/steps/{index}/rerun")
	}
	stepIndex, err := strconv.Atoi(parts[2])
	if err != nil || stepIndex < 0 {
		return "", 0, fmt.Errorf("step index must be a non-negative integer")
	}
	return parts[0], stepIndex, nil
}
