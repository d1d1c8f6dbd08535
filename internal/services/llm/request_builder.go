// -----------------------------------------------------------------------
// Model Request Builder
// Normalizes Responses-API requests before dispatch
// -----------------------------------------------------------------------

package llm

import (
	"strings"

	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/models"
)

// Tool type identifiers on the Responses API surface.
const (
	ToolWebSearch          = "web_search"
	ToolFileSearch         = "file_search"
	ToolMCP                = "mcp"
	ToolCodeInterpreter    = "code_interpreter"
	ToolComputerUsePreview = "computer_use_preview"
	ToolImageGeneration    = "image_generation"
	ToolShell              = "shell"
)

// autonomousPreamble is prepended to instructions so the model completes
// the task without asking the user questions mid-run.
const autonomousPreamble = "You are executing autonomously as part of an automated workflow. " +
	"Complete the task fully without asking for clarification or confirmation. " +
	"If information is missing, make a reasonable assumption and proceed."

// researchTools satisfy the deep-research requirement.
var researchTools = map[string]bool{
	ToolWebSearch:  true,
	ToolMCP:        true,
	ToolFileSearch: true,
}

// containerTools require a container config to run.
var containerTools = map[string]bool{
	ToolCodeInterpreter:    true,
	ToolComputerUsePreview: true,
}

// NormalizeRequest applies the request invariants in place. It is
// idempotent: normalizing an already-normalized request changes nothing.
func NormalizeRequest(req *interfaces.ModelRequest) {
	applyPreamble(req)
	applyDeepResearchGuard(req)
	applyToolCompatibility(req)
	applyContainerDefaults(req)
	ClampToolChoice(req)
	applyModelDefaults(req)
	applyStructuredOutput(req)
}

func applyPreamble(req *interfaces.ModelRequest) {
	if strings.Contains(req.Instructions, autonomousPreamble) {
		return
	}
	if req.Instructions == "" {
		req.Instructions = autonomousPreamble
		return
	}
	req.Instructions = autonomousPreamble + "\n\n" + req.Instructions
}

// applyDeepResearchGuard ensures deep-research models carry at least one
// research tool; file_search is the defensive default.
func applyDeepResearchGuard(req *interfaces.ModelRequest) {
	if !IsDeepResearchModel(req.Model) {
		return
	}
	for _, t := range req.Tools {
		if researchTools[t.Type()] {
			return
		}
	}
	req.Tools = append(req.Tools, models.NewTool(ToolFileSearch))
}

// applyToolCompatibility removes tools that cannot coexist with
// computer_use_preview.
func applyToolCompatibility(req *interfaces.ModelRequest) {
	hasComputer := false
	for _, t := range req.Tools {
		if t.Type() == ToolComputerUsePreview {
			hasComputer = true
			break
		}
	}
	if !hasComputer {
		return
	}
	filtered := req.Tools[:0]
	for _, t := range req.Tools {
		if t.Type() == ToolCodeInterpreter {
			continue
		}
		filtered = append(filtered, t)
	}
	req.Tools = filtered
}

// applyContainerDefaults adds container {type: auto} to tools that need
// one. Pre-existing container configs are preserved.
func applyContainerDefaults(req *interfaces.ModelRequest) {
	for i, t := range req.Tools {
		if !containerTools[t.Type()] {
			continue
		}
		if _, ok := t["container"]; ok {
			continue
		}
		tool := t.Clone()
		tool["container"] = map[string]interface{}{"type": "auto"}
		req.Tools[i] = tool
	}
}

// ClampToolChoice downgrades tool_choice=required when no tools are
// present, inserting a default web_search tool. Called both during
// normalization and as a final clamp immediately before dispatch.
func ClampToolChoice(req *interfaces.ModelRequest) {
	if req.ToolChoice != models.ToolChoiceRequired {
		return
	}
	if len(req.Tools) > 0 {
		return
	}
	req.ToolChoice = models.ToolChoiceAuto
	req.Tools = append(req.Tools, models.NewTool(ToolWebSearch))
}

// applyModelDefaults sets reasoning effort and service tier for the
// GPT-5 family unless the caller already chose.
func applyModelDefaults(req *interfaces.ModelRequest) {
	if !IsGPT5Family(req.Model) {
		return
	}
	if req.Reasoning == nil {
		req.Reasoning = &interfaces.Reasoning{Effort: "high"}
	} else if req.Reasoning.Effort == "" {
		req.Reasoning.Effort = "high"
	}
	if req.ServiceTier == "" {
		req.ServiceTier = "priority"
	}
}

// applyStructuredOutput ensures json_object requests mention "json" in the
// instructions, which the provider requires.
func applyStructuredOutput(req *interfaces.ModelRequest) {
	if req.Text == nil || req.Text.Format == nil {
		return
	}
	if req.Text.Format.Type != "json_object" {
		return
	}
	if strings.Contains(strings.ToLower(req.Instructions), "json") {
		return
	}
	req.Instructions += "\n\nRespond with a valid JSON object."
}

// IsGPT5Family reports whether the model gets GPT-5 defaults.
func IsGPT5Family(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "gpt-5") || strings.HasPrefix(m, "gpt5")
}

// IsDeepResearchModel reports whether the model implies deep research.
func IsDeepResearchModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "deep-research")
}

// IsComputerUseModel reports whether the model is a computer-use preview
// model. Image inputs are excluded for these.
func IsComputerUseModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "computer-use")
}

// SupportsImageInput reports whether image inputs should be attached for
// this request: the model must accept them and the call must carry an
// image-generation tool.
func SupportsImageInput(model string, tools []models.Tool) bool {
	if IsComputerUseModel(model) {
		return false
	}
	for _, t := range tools {
		if t.Type() == ToolImageGeneration {
			return true
		}
	}
	return false
}

// BuildTextInput composes a plain-string input from previous context and
// step instructions.
func BuildTextInput(previousContext, instructions string) string {
	switch {
	case previousContext == "":
		return instructions
	case instructions == "":
		return previousContext
	default:
		return previousContext + "\n\n" + instructions
	}
}

// BuildMessageInput composes a {role, content[]} input carrying text plus
// image URLs as input_image items.
func BuildMessageInput(text string, imageURLs []string) []interface{} {
	content := []interfaces.InputContent{{Type: "input_text", Text: text}}
	for _, u := range imageURLs {
		content = append(content, interfaces.InputContent{Type: "input_image", ImageURL: u})
	}
	return []interface{}{interfaces.InputMessage{Role: "user", Content: content}}
}
