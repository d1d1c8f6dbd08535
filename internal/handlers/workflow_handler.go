// -----------------------------------------------------------------------
// Workflow Handler
// Workflow and template management API
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/jobs/dag"
	"github.com/ternarybob/magnet/internal/models"
)

type WorkflowHandler struct {
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

func NewWorkflowHandler(storage interfaces.StorageManager, logger arbor.ILogger) *WorkflowHandler {
	return &WorkflowHandler{
		storage: storage,
		logger:  logger,
	}
}

// CreateWorkflowHandler persists a workflow definition. The step graph is
// resolved up front so cyclic or malformed workflows are rejected before
// any job runs against them.
func (h *WorkflowHandler) CreateWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var workflow models.Workflow
	if err := json.NewDecoder(r.Body).Decode(&workflow); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if workflow.TenantID == "" {
		WriteError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	if len(workflow.Steps) == 0 {
		WriteError(w, http.StatusBadRequest, "workflow has no steps")
		return
	}
	if _, err := dag.Resolve(workflow.Steps); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if workflow.ID == "" {
		workflow.ID = "wf_" + uuid.New().String()
	}

	if err := h.storage.WorkflowStorage().SaveWorkflow(r.Context(), &workflow); err != nil {
		h.logger.Error().Err(err).Msg("Failed to save workflow")
		WriteError(w, http.StatusInternalServerError, "failed to save workflow")
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]string{
		"workflow_id": workflow.ID,
	})
}

// ListWorkflowsHandler returns workflow definitions for a tenant.
// GET /api/v1/workflows?tenant_id=...
func (h *WorkflowHandler) ListWorkflowsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		WriteError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	workflows, err := h.storage.WorkflowStorage().ListWorkflows(r.Context(), tenantID)
	if err != nil {
		h.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("Failed to list workflows")
		WriteError(w, http.StatusInternalServerError, "failed to list workflows")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

// GetWorkflowHandler returns one workflow. GET /api/v1/workflows/{id}
func (h *WorkflowHandler) GetWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	workflowID := pathSegment(r.URL.Path, "/api/v1/workflows/", 0)
	workflow, err := h.storage.WorkflowStorage().GetWorkflow(r.Context(), workflowID)
	if err != nil {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("workflow not found: %s", workflowID))
		return
	}

	WriteJSON(w, http.StatusOK, workflow)
}

// CreateTemplateHandler persists an HTML deliverable template.
// POST /api/v1/templates
func (h *WorkflowHandler) CreateTemplateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var template models.Template
	if err := json.NewDecoder(r.Body).Decode(&template); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if template.HTML == "" {
		WriteError(w, http.StatusBadRequest, "html is required")
		return
	}
	if template.ID == "" {
		template.ID = "tpl_" + uuid.New().String()
	}

	if err := h.storage.TemplateStorage().SaveTemplate(r.Context(), &template); err != nil {
		h.logger.Error().Err(err).Msg("Failed to save template")
		WriteError(w, http.StatusInternalServerError, "failed to save template")
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]string{
		"template_id": template.ID,
	})
}
