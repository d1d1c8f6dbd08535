package models

import "fmt"

// Trigger actions.
const (
	ActionProcessJob        = "process_job"
	ActionProcessSingleStep = "process_single_step"
)

// TriggerMessage is the inbound message that starts orchestration. The core
// does not own the queue; this is the contract with whatever enqueues jobs.
type TriggerMessage struct {
	JobID        string `json:"job_id"`
	TenantID     string `json:"tenant_id"`
	WorkflowID   string `json:"workflow_id"`
	SubmissionID string `json:"submission_id"`
	Action       string `json:"action"`
	StepIndex    *int   `json:"step_index,omitempty"`
}

// Validate checks the trigger before orchestration starts.
func (t *TriggerMessage) Validate() error {
	if t.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	switch t.Action {
	case "", ActionProcessJob:
		// default action
	case ActionProcessSingleStep:
		if t.StepIndex == nil {
			return fmt.Errorf("step_index is required for %s", ActionProcessSingleStep)
		}
		if *t.StepIndex < 0 {
			return fmt.Errorf("step_index must be non-negative, got %d", *t.StepIndex)
		}
	default:
		return fmt.Errorf("unknown trigger action: %s", t.Action)
	}
	return nil
}
