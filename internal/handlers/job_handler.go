// -----------------------------------------------------------------------
// Job Handler
// Read-side API for jobs, traces, artifacts and usage
// -----------------------------------------------------------------------

package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/jobs/trace"
	"github.com/ternarybob/magnet/internal/models"
)

type JobHandler struct {
	storage interfaces.StorageManager
	trace   *trace.Store
	logger  arbor.ILogger
}

func NewJobHandler(storage interfaces.StorageManager, traceStore *trace.Store, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		storage: storage,
		trace:   traceStore,
		logger:  logger,
	}
}

// ListJobsHandler returns jobs filtered by status and tenant.
// GET /api/v1/jobs?status=pending&tenant_id=...&limit=50
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	opts := &interfaces.JobListOptions{
		Status:   models.JobStatus(r.URL.Query().Get("status")),
		TenantID: r.URL.Query().Get("tenant_id"),
		Limit:    QueryInt(r, "limit", 50),
		Offset:   QueryInt(r, "offset", 0),
	}

	jobs, err := h.storage.JobStorage().ListJobs(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJobHandler returns one job record. GET /api/v1/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobID := pathSegment(r.URL.Path, "/api/v1/jobs/", 0)
	job, err := h.storage.JobStorage().GetJob(r.Context(), jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("job not found: %s", jobID))
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// GetJobStepsHandler returns the persisted execution trace.
// GET /api/v1/jobs/{id}/steps
func (h *JobHandler) GetJobStepsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobID := pathSegment(r.URL.Path, "/api/v1/jobs/", 0)
	job, err := h.storage.JobStorage().GetJob(r.Context(), jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("job not found: %s", jobID))
		return
	}

	steps, err := h.trace.Load(r.Context(), job)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to load execution trace")
		WriteError(w, http.StatusInternalServerError, "failed to load execution trace")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": job.ID,
		"steps":  steps,
		"count":  len(steps),
	})
}

// GetJobArtifactsHandler returns artifact index rows for a job.
// GET /api/v1/jobs/{id}/artifacts
func (h *JobHandler) GetJobArtifactsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobID := pathSegment(r.URL.Path, "/api/v1/jobs/", 0)
	artifacts, err := h.storage.ArtifactStorage().ListArtifactsByJob(r.Context(), jobID)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to list artifacts")
		WriteError(w, http.StatusInternalServerError, "failed to list artifacts")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":    jobID,
		"artifacts": artifacts,
		"count":     len(artifacts),
	})
}

// GetJobUsageHandler returns usage accounting rows for a job.
// GET /api/v1/jobs/{id}/usage
func (h *JobHandler) GetJobUsageHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobID := pathSegment(r.URL.Path, "/api/v1/jobs/", 0)
	records, err := h.storage.UsageStorage().ListUsageByJob(r.Context(), jobID)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to list usage records")
		WriteError(w, http.StatusInternalServerError, "failed to list usage records")
		return
	}

	var totalCost float64
	for _, rec := range records {
		totalCost += rec.CostUSD
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":         jobID,
		"records":        records,
		"total_cost_usd": totalCost,
	})
}

// ListNotificationsHandler returns recent tenant notifications.
// GET /api/v1/notifications?tenant_id=...&limit=20
func (h *JobHandler) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		WriteError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	notifications, err := h.storage.NotificationStorage().ListNotifications(r.Context(), tenantID, QueryInt(r, "limit", 20))
	if err != nil {
		h.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("Failed to list notifications")
		WriteError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifications,
		"count":         len(notifications),
	})
}

// pathSegment returns the nth slash-separated segment after the prefix.
func pathSegment(path, prefix string, n int) string {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, prefix), "/"), "/")
	if n < len(parts) {
		return parts[n]
	}
	return ""
}
