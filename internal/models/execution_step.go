// -----------------------------------------------------------------------
// Execution Step - One trace record per executed workflow step
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Usage holds token counts for one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates another usage into this one.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// ExecutionStep is one record of the per-job execution trace. The trace is
// append-only within a run and rewritten atomically as a whole JSON array to
// blob storage (see the trace store).
//
// Input carries the redacted provider request; secrets never reach storage.
type ExecutionStep struct {
	StepName  string                 `json:"step_name"`
	StepOrder int                    `json:"step_order"`
	StepType  string                 `json:"step_type"`
	Input     map[string]interface{} `json:"input,omitempty"`
	Output    string                 `json:"output,omitempty"`
	ImageURLs []string               `json:"image_urls,omitempty"`
	Usage     *Usage                 `json:"usage,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	DurationMS int64                 `json:"duration_ms"`
	ArtifactID string                `json:"artifact_id,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
}

// StepOutput is the runtime result a handler returns for one step. It feeds
// the context builder for dependent steps and webhook/handoff payloads.
type StepOutput struct {
	StepName         string                 `json:"step_name"`
	StepIndex        int                    `json:"step_index"`
	Output           string                 `json:"output"`
	ArtifactID       string                 `json:"artifact_id,omitempty"`
	ImageURLs        []string               `json:"image_urls,omitempty"`
	ImageArtifactIDs []string               `json:"image_artifact_ids,omitempty"`
	Extras           map[string]interface{} `json:"extras,omitempty"`
}

// MarshalTrace serializes a full trace for blob storage.
func MarshalTrace(steps []ExecutionStep) ([]byte, error) {
	if steps == nil {
		steps = []ExecutionStep{}
	}
	data, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution trace: %w", err)
	}
	return data, nil
}

// UnmarshalTrace deserializes a trace blob.
func UnmarshalTrace(data []byte) ([]ExecutionStep, error) {
	var steps []ExecutionStep
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution trace: %w", err)
	}
	return steps, nil
}
