// -----------------------------------------------------------------------
// Job - Persistent record for a single lead-magnet job run
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job is the persistent record for one execution of a workflow against a
// submission. Jobs are created externally in "pending" and transition to
// "processing" on orchestrator pickup, then exactly once to "completed" or
// "failed".
//
// The execution trace is never stored inline: ExecutionStepsBlobKey holds
// the object-store key of the canonical trace JSON (per-record size limits
// forbid inline storage).
type Job struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	WorkflowID   string    `json:"workflow_id"`
	SubmissionID string    `json:"submission_id"`
	Status       JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// OutputURL is the public URL of the final deliverable artifact.
	OutputURL string `json:"output_url,omitempty"`

	// Artifacts holds artifact IDs in creation order.
	Artifacts []string `json:"artifacts,omitempty"`

	// ExecutionStepsBlobKey points at jobs/{job_id}/execution_steps.json.
	ExecutionStepsBlobKey string `json:"execution_steps_blob_key,omitempty"`

	ErrorType    ErrorType `json:"error_type,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// NewJob creates a pending job for the given workflow and submission.
func NewJob(id, tenantID, workflowID, submissionID string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:           id,
		TenantID:     tenantID,
		WorkflowID:   workflowID,
		SubmissionID: submissionID,
		Status:       JobStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsTerminal returns true once the job has reached completed or failed.
// Terminal jobs never change status again.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// MarkProcessing transitions the job to processing.
func (j *Job) MarkProcessing() error {
	if j.IsTerminal() {
		return fmt.Errorf("job %s is terminal (%s) and cannot be reprocessed", j.ID, j.Status)
	}
	now := time.Now().UTC()
	j.Status = JobStatusProcessing
	j.StartedAt = &now
	j.UpdatedAt = now
	return nil
}

// MarkCompleted transitions the job to completed with its deliverable URL.
func (j *Job) MarkCompleted(outputURL string) {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.OutputURL = outputURL
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// MarkFailed transitions the job to failed with a classified error.
func (j *Job) MarkFailed(errType ErrorType, message string) {
	now := time.Now().UTC()
	j.Status = JobStatusFailed
	j.ErrorType = errType
	j.ErrorMessage = message
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// AppendArtifact records an artifact ID in creation order.
func (j *Job) AppendArtifact(artifactID string) {
	j.Artifacts = append(j.Artifacts, artifactID)
	j.UpdatedAt = time.Now().UTC()
}

// Validate checks required fields before the job can be orchestrated.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if j.WorkflowID == "" {
		return fmt.Errorf("workflow ID is required")
	}
	if j.SubmissionID == "" {
		return fmt.Errorf("submission ID is required")
	}
	return nil
}

// ToJSON serializes the job for storage or webhook payloads.
func (j *Job) ToJSON() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return data, nil
}

// JobFromJSON deserializes a job record.
func JobFromJSON(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}
