package interfaces

import (
	"context"
	"encoding/json"

	"github.com/ternarybob/magnet/internal/models"
)

// Responses-API request/response shapes. The provider's output[] carries
// multiple overlapping item shapes (legacy and modern); parsing is lenient:
// unknown types are ignored and missing fields fall through alternative
// extractors.

// Reasoning configures model reasoning effort.
type Reasoning struct {
	Effort string `json:"effort,omitempty"`
}

// TextFormat selects structured output: "text", "json_object" or
// "json_schema".
type TextFormat struct {
	Type   string                 `json:"type"`
	Name   string                 `json:"name,omitempty"`
	Schema map[string]interface{} `json:"schema,omitempty"`
}

// TextOptions carries output formatting options.
type TextOptions struct {
	Format    *TextFormat `json:"format,omitempty"`
	Verbosity string      `json:"verbosity,omitempty"`
}

// InputContent is one content item of an input message.
type InputContent struct {
	Type     string `json:"type"` // input_text | input_image
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// InputMessage is a {role, content[]} input element.
type InputMessage struct {
	Role    string         `json:"role"`
	Content []InputContent `json:"content"`
}

// SafetyCheck is a pending or acknowledged computer-use safety check.
type SafetyCheck struct {
	ID      string `json:"id"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ComputerScreenshotOutput is the payload of a computer_call_output item.
type ComputerScreenshotOutput struct {
	Type     string `json:"type"` // always "input_image"
	ImageURL string `json:"image_url"`
}

// ComputerCallOutput is the tool-output item submitted after executing a
// computer action.
type ComputerCallOutput struct {
	Type                     string                   `json:"type"` // "computer_call_output"
	CallID                   string                   `json:"call_id"`
	Output                   ComputerScreenshotOutput `json:"output"`
	AcknowledgedSafetyChecks []SafetyCheck            `json:"acknowledged_safety_checks,omitempty"`
}

// ShellCommandOutput is one command result inside a shell_call_output item.
type ShellCommandOutput struct {
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	Outcome string `json:"outcome,omitempty"`
}

// ShellCallOutput is the tool-output item submitted after a shell batch.
type ShellCallOutput struct {
	Type            string               `json:"type"` // "shell_call_output"
	CallID          string               `json:"call_id"`
	MaxOutputLength int                  `json:"max_output_length,omitempty"`
	Output          []ShellCommandOutput `json:"output"`
}

// ModelRequest is the Responses-API-shaped request. Input is either a plain
// string or a []interface{} of InputMessage / ComputerCallOutput /
// ShellCallOutput items.
type ModelRequest struct {
	Model              string        `json:"model"`
	Instructions       string        `json:"instructions,omitempty"`
	Input              interface{}   `json:"input"`
	Tools              []models.Tool `json:"tools,omitempty"`
	ToolChoice         string        `json:"tool_choice,omitempty"`
	Reasoning          *Reasoning    `json:"reasoning,omitempty"`
	ServiceTier        string        `json:"service_tier,omitempty"`
	Text               *TextOptions  `json:"text,omitempty"`
	MaxOutputTokens    int           `json:"max_output_tokens,omitempty"`
	Truncation         string        `json:"truncation,omitempty"`
	PreviousResponseID string        `json:"previous_response_id,omitempty"`
}

// OutputContent is one content item of a message output item.
type OutputContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	URL      string `json:"url,omitempty"`
}

// OutputItem is the tagged variant over the provider's output[] shapes:
// reasoning | message/text | image | image_generation_call | tool_call |
// function_call | computer_call | computer_screenshot | shell_call.
// Raw preserves the full decoded object for fallback extractors.
type OutputItem struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	CallID string `json:"call_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`

	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	ImageURL string `json:"image_url,omitempty"`

	// Result carries base64 image data on image_generation_call items.
	Result string `json:"result,omitempty"`

	// Arguments carries the JSON argument string of function/tool calls.
	Arguments string `json:"arguments,omitempty"`

	Action  map[string]interface{} `json:"action,omitempty"`
	Content []OutputContent        `json:"content,omitempty"`

	PendingSafetyChecks []SafetyCheck `json:"pending_safety_checks,omitempty"`

	Raw map[string]interface{} `json:"-"`
}

// UnmarshalJSON decodes the typed fields and retains the raw object so
// fallback extractors can probe shapes the typed struct does not model.
func (o *OutputItem) UnmarshalJSON(data []byte) error {
	type alias OutputItem
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = OutputItem(a)
	o.Raw = raw
	return nil
}

// ModelResponse is the Responses-API-shaped response.
type ModelResponse struct {
	ID         string       `json:"id"`
	Output     []OutputItem `json:"output"`
	OutputText string       `json:"output_text,omitempty"`
	Usage      models.Usage `json:"usage"`
	Error      *struct {
		Code    string `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error,omitempty"`
}

// Text returns output_text, falling back to concatenating text content of
// message items when the convenience field is absent.
func (r *ModelResponse) Text() string {
	if r.OutputText != "" {
		return r.OutputText
	}
	var out string
	for _, item := range r.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				if c.Type == "output_text" || c.Type == "text" {
					out += c.Text
				}
			}
		case "text":
			out += item.Text
		}
	}
	return out
}

// ModelProvider is the Responses-API-shaped client the engine calls.
type ModelProvider interface {
	CreateResponse(ctx context.Context, req *ModelRequest) (*ModelResponse, error)
	Close() error
}
