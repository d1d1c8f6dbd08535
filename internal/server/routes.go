package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (engine event stream)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Public trigger endpoint (form submissions and workflow handoffs)
	mux.HandleFunc("/api/v1/trigger", s.app.TriggerHandler.TriggerWorkflowHandler)

	// API routes - Workflows and templates
	mux.HandleFunc("/api/v1/workflows", s.handleWorkflowsRoute)
	mux.HandleFunc("/api/v1/workflows/", s.app.WorkflowHandler.GetWorkflowHandler)
	mux.HandleFunc("/api/v1/templates", s.app.WorkflowHandler.CreateTemplateHandler)

	// API routes - Jobs
	mux.HandleFunc("/api/v1/jobs", s.app.JobHandler.ListJobsHandler)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobRoutes) // Handles /api/v1/jobs/{id} and subpaths

	// API routes - Notifications
	mux.HandleFunc("/api/v1/notifications", s.app.JobHandler.ListNotificationsHandler)

	// Blob serving when no CDN fronts the object store
	mux.HandleFunc("/objects/", s.app.ObjectHandler.ServeObjectHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/status", s.app.APIHandler.StatusHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleWorkflowsRoute routes /api/v1/workflows requests (list and create)
func (s *Server) handleWorkflowsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.app.WorkflowHandler.ListWorkflowsHandler(w, r)
	case "POST":
		s.app.WorkflowHandler.CreateWorkflowHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobRoutes routes job-related requests to the appropriate handler
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// POST /api/v1/jobs/{id}/steps/{index}/rerun
	if r.Method == "POST" && strings.HasSuffix(path, "/rerun") {
		s.app.TriggerHandler.RerunStepHandler(w, r)
		return
	}

	if r.Method == "GET" {
		switch {
		case strings.HasSuffix(path, "/steps"):
			s.app.JobHandler.GetJobStepsHandler(w, r)
		case strings.HasSuffix(path, "/artifacts"):
			s.app.JobHandler.GetJobArtifactsHandler(w, r)
		case strings.HasSuffix(path, "/usage"):
			s.app.JobHandler.GetJobUsageHandler(w, r)
		default:
			s.app.JobHandler.GetJobHandler(w, r)
		}
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
