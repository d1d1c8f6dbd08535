// -----------------------------------------------------------------------
// Workflow - User-authored multi-step process definition
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// StepKind identifies what a workflow step executes.
type StepKind string

const (
	StepKindAIGeneration    StepKind = "ai_generation"
	StepKindWebhook         StepKind = "webhook"
	StepKindWorkflowHandoff StepKind = "workflow_handoff"
	StepKindShell           StepKind = "shell"
	StepKindS3Upload        StepKind = "s3_upload"
)

// Tool choice modes passed through to the model provider.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceRequired = "required"
	ToolChoiceNone     = "none"
)

// Tool is a provider tool definition. The wire encoding is either a bare
// string type ("web_search") or an object {type, ...extras}; both normalize
// to this map form with at least a "type" key.
type Tool map[string]interface{}

// NewTool creates a tool with only its type set.
func NewTool(toolType string) Tool {
	return Tool{"type": toolType}
}

// Type returns the tool's type string, or "" when malformed.
func (t Tool) Type() string {
	if v, ok := t["type"].(string); ok {
		return v
	}
	return ""
}

// Clone returns a shallow copy of the tool map.
func (t Tool) Clone() Tool {
	c := make(Tool, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

// UnmarshalJSON accepts both the string shorthand and the object form.
func (t *Tool) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Tool{"type": s}
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("tool must be a string or an object: %w", err)
	}
	*t = Tool(m)
	return nil
}

// WebhookConfig configures a webhook step or delivery webhook.
type WebhookConfig struct {
	URL         string            `json:"url" validate:"required,url"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	QueryParams map[string]string `json:"query_params,omitempty"`

	// WebhookType selects an adapter explicitly ("slack", "generic").
	// Empty means adapter dispatch by URL heuristic.
	WebhookType string `json:"webhook_type,omitempty"`

	// BodyTemplate is a {{dotted.path}} template rendered against the job
	// context. When empty the auto payload is built instead.
	BodyTemplate string `json:"body_template,omitempty"`
	ContentType  string `json:"content_type,omitempty"`

	// Auto-payload include flags and filters.
	IncludeSubmission   bool  `json:"include_submission,omitempty"`
	IncludeStepOutputs  bool  `json:"include_step_outputs,omitempty"`
	IncludeArtifacts    bool  `json:"include_artifacts,omitempty"`
	IncludeDeliverables bool  `json:"include_deliverables,omitempty"`
	ExcludeStepIndices  []int `json:"exclude_step_indices,omitempty"`
}

// HandoffPayloadMode selects what submission projection a handoff carries.
type HandoffPayloadMode string

const (
	HandoffPreviousStepOutput HandoffPayloadMode = "previous_step_output"
	HandoffSubmissionOnly     HandoffPayloadMode = "submission_only"
	HandoffFullContext        HandoffPayloadMode = "full_context"
	HandoffDeliverableOutput  HandoffPayloadMode = "deliverable_output"
)

// HandoffConfig configures a workflow_handoff step.
type HandoffConfig struct {
	TargetWorkflowID     string             `json:"target_workflow_id" validate:"required"`
	PayloadMode          HandoffPayloadMode `json:"payload_mode,omitempty"`
	BypassRequiredInputs bool               `json:"bypass_required_inputs,omitempty"`
}

// OutputConfig configures an s3_upload step explicitly.
type OutputConfig struct {
	SourceType      string `json:"source_type"` // text_content | file
	SourcePath      string `json:"source_path,omitempty"`
	Bucket          string `json:"bucket,omitempty"`
	Region          string `json:"region,omitempty"`
	DestinationPath string `json:"destination_path,omitempty"` // template, may reference {job_id}
	ContentType     string `json:"content_type,omitempty"`
}

// Step is one node of a workflow. StepOrder is author-assigned and not
// necessarily dense; DependsOn entries may be step orders, array indices, or
// numeric strings and are normalized by the dependency resolver.
type Step struct {
	Name      string   `json:"name" validate:"required"`
	StepOrder int      `json:"step_order"`
	Kind      StepKind `json:"type" validate:"required"`

	DependsOn []interface{} `json:"depends_on,omitempty"`

	Model        string `json:"model,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Tools        []Tool `json:"tools,omitempty"`
	ToolChoice   string `json:"tool_choice,omitempty"`

	ContinueOnError bool `json:"continue_on_error,omitempty"`

	// Deliverable tags this step's output for the deliverable projection.
	Deliverable bool `json:"deliverable,omitempty"`

	Webhook *WebhookConfig `json:"webhook,omitempty"`
	Handoff *HandoffConfig `json:"handoff,omitempty"`
	Output  *OutputConfig  `json:"output_config,omitempty"`
}

// HasTool reports whether the step advertises a tool of the given type.
func (s *Step) HasTool(toolType string) bool {
	for _, t := range s.Tools {
		if t.Type() == toolType {
			return true
		}
	}
	return false
}

// DeliveryMode selects how the finalizer dispatches the deliverable.
type DeliveryMode string

const (
	DeliveryNone    DeliveryMode = "none"
	DeliveryWebhook DeliveryMode = "webhook"
	DeliverySMS     DeliveryMode = "sms"
)

// DeliveryConfig is the workflow-level delivery configuration.
type DeliveryConfig struct {
	Mode    DeliveryMode   `json:"mode,omitempty"`
	Webhook *WebhookConfig `json:"webhook,omitempty"`

	SMSNumber       string `json:"sms_number,omitempty"`
	SMSInstructions string `json:"sms_instructions,omitempty"`
}

// Workflow is the user-authored definition of a multi-step process executed
// once per submission. Workflows are shared and immutable relative to a job.
type Workflow struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name" validate:"required"`

	Steps []Step `json:"steps" validate:"required,min=1,dive"`

	Delivery DeliveryConfig `json:"delivery,omitempty"`

	// TemplateID references an HTML template; when set together with
	// HTMLEnabled the finalizer generates an HTML deliverable.
	TemplateID  string `json:"template_id,omitempty"`
	HTMLEnabled bool   `json:"html_enabled,omitempty"`

	// PDFEnabled additionally renders the deliverable to a PDF artifact.
	PDFEnabled bool `json:"pdf_enabled,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StepsByOrder returns steps sorted by StepOrder preserving array position
// for ties. The stored order is authoritative; this is a projection helper.
func (w *Workflow) StepsByOrder() []Step {
	out := make([]Step, len(w.Steps))
	copy(out, w.Steps)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].StepOrder > out[j].StepOrder; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// ToJSON serializes the workflow definition.
func (w *Workflow) ToJSON() ([]byte, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow: %w", err)
	}
	return data, nil
}

// WorkflowFromJSON deserializes a workflow definition.
func WorkflowFromJSON(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}
	return &wf, nil
}

// Template is a shared HTML template used for final deliverable generation.
type Template struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	HTML      string    `json:"html"`
	CreatedAt time.Time `json:"created_at"`
}
