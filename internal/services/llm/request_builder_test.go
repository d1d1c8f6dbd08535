package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/models"
)

func TestNormalizeRequestAddsPreamble(t *testing.T) {
	req := &interfaces.ModelRequest{
		Model:        "gpt-4.1",
		Instructions: "Write a market report.",
	}
	NormalizeRequest(req)

	assert.Contains(t, req.Instructions, autonomousPreamble)
	assert.Contains(t, req.Instructions, "Write a market report.")
}

func TestNormalizeRequestIdempotent(t *testing.T) {
	req := &interfaces.ModelRequest{
		Model:        "gpt-5",
		Instructions: "Summarize the submission.",
		Tools:        []models.Tool{models.NewTool(ToolCodeInterpreter)},
		ToolChoice:   models.ToolChoiceRequired,
	}

	NormalizeRequest(req)
	first := *req
	firstTools := append([]models.Tool{}, req.Tools...)

	NormalizeRequest(req)
	assert.Equal(t, first.Instructions, req.Instructions)
	assert.Equal(t, first.ToolChoice, req.ToolChoice)
	assert.Equal(t, firstTools, req.Tools)
	assert.Equal(t, first.ServiceTier, req.ServiceTier)
}

func TestNormalizeRequestDeepResearchGuard(t *testing.T) {
	req := &interfaces.ModelRequest{Model: "o3-deep-research"}
	NormalizeRequest(req)

	require.Len(t, req.Tools, 1)
	assert.Equal(t, ToolFileSearch, req.Tools[0].Type())

	// A research tool already present satisfies the guard.
	req2 := &interfaces.ModelRequest{
		Model: "o3-deep-research",
		Tools: []models.Tool{models.NewTool(ToolWebSearch)},
	}
	NormalizeRequest(req2)
	require.Len(t, req2.Tools, 1)
	assert.Equal(t, ToolWebSearch, req2.Tools[0].Type())
}

func TestNormalizeRequestComputerUseRemovesCodeInterpreter(t *testing.T) {
	req := &interfaces.ModelRequest{
		Model: "computer-use-preview",
		Tools: []models.Tool{
			models.NewTool(ToolComputerUsePreview),
			models.NewTool(ToolCodeInterpreter),
			models.NewTool(ToolWebSearch),
		},
	}
	NormalizeRequest(req)

	var types []string
	for _, tool := range req.Tools {
		types = append(types, tool.Type())
	}
	assert.Contains(t, types, ToolComputerUsePreview)
	assert.Contains(t, types, ToolWebSearch)
	assert.NotContains(t, types, ToolCodeInterpreter)
}

func TestNormalizeRequestContainerDefaults(t *testing.T) {
	req := &interfaces.ModelRequest{
		Model: "gpt-4.1",
		Tools: []models.Tool{models.NewTool(ToolCodeInterpreter)},
	}
	NormalizeRequest(req)

	container, ok := req.Tools[0]["container"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "auto", container["type"])
}

func TestNormalizeRequestContainerPreserved(t *testing.T) {
	existing := map[string]interface{}{"type": "explicit", "file_ids": []string{"f1"}}
	tool := models.NewTool(ToolCodeInterpreter)
	tool["container"] = existing

	req := &interfaces.ModelRequest{Model: "gpt-4.1", Tools: []models.Tool{tool}}
	NormalizeRequest(req)

	assert.Equal(t, existing, req.Tools[0]["container"])
}

func TestClampToolChoiceWithoutTools(t *testing.T) {
	req := &interfaces.ModelRequest{
		Model:      "gpt-4.1",
		ToolChoice: models.ToolChoiceRequired,
	}
	ClampToolChoice(req)

	assert.Equal(t, models.ToolChoiceAuto, req.ToolChoice)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, ToolWebSearch, req.Tools[0].Type())
}

func TestClampToolChoiceWithTools(t *testing.T) {
	req := &interfaces.ModelRequest{
		Model:      "gpt-4.1",
		ToolChoice: models.ToolChoiceRequired,
		Tools:      []models.Tool{models.NewTool(ToolWebSearch)},
	}
	ClampToolChoice(req)

	assert.Equal(t, models.ToolChoiceRequired, req.ToolChoice)
	assert.Len(t, req.Tools, 1)
}

func TestNormalizeRequestGPT5Defaults(t *testing.T) {
	req := &interfaces.ModelRequest{Model: "gpt-5"}
	NormalizeRequest(req)

	require.NotNil(t, req.Reasoning)
	assert.Equal(t, "high", req.Reasoning.Effort)
	assert.Equal(t, "priority", req.ServiceTier)

	// Caller choices win.
	req2 := &interfaces.ModelRequest{
		Model:       "gpt-5-mini",
		Reasoning:   &interfaces.Reasoning{Effort: "low"},
		ServiceTier: "default",
	}
	NormalizeRequest(req2)
	assert.Equal(t, "low", req2.Reasoning.Effort)
	assert.Equal(t, "default", req2.ServiceTier)

	// Non-GPT-5 models get no defaults.
	req3 := &interfaces.ModelRequest{Model: "gpt-4.1"}
	NormalizeRequest(req3)
	assert.Nil(t, req3.Reasoning)
	assert.Empty(t, req3.ServiceTier)
}

func TestNormalizeRequestStructuredOutput(t *testing.T) {
	req := &interfaces.ModelRequest{
		Model:        "gpt-4.1",
		Instructions: "Summarize the findings.",
		Text:         &interfaces.TextOptions{Format: &interfaces.TextFormat{Type: "json_object"}},
	}
	NormalizeRequest(req)
	assert.Contains(t, req.Instructions, "JSON")

	// Instructions already naming json stay untouched beyond the preamble.
	req2 := &interfaces.ModelRequest{
		Model:        "gpt-4.1",
		Instructions: "Return a JSON summary.",
		Text:         &interfaces.TextOptions{Format: &interfaces.TextFormat{Type: "json_object"}},
	}
	NormalizeRequest(req2)
	assert.NotContains(t, req2.Instructions, "Respond with a valid JSON object.")
}

func TestSupportsImageInput(t *testing.T) {
	imageTool := []models.Tool{models.NewTool(ToolImageGeneration)}

	assert.True(t, SupportsImageInput("gpt-4.1", imageTool))
	assert.False(t, SupportsImageInput("computer-use-preview", imageTool))
	assert.False(t, SupportsImageInput("gpt-4.1", nil))
	assert.False(t, SupportsImageInput("gpt-4.1", []models.Tool{models.NewTool(ToolWebSearch)}))
}

func TestBuildTextInput(t *testing.T) {
	assert.Equal(t, "do it", BuildTextInput("", "do it"))
	assert.Equal(t, "context", BuildTextInput("context", ""))
	assert.Equal(t, "context\n\ndo it", BuildTextInput("context", "do it"))
}

func TestBuildMessageInput(t *testing.T) {
	input := BuildMessageInput("describe", []string{"https://example.com/a.png"})
	require.Len(t, input, 1)

	msg, ok := input[0].(interfaces.InputMessage)
	require.True(t, ok)
	assert.Equal(t, "user", msg.Role)
	require.Len(t, msg.Content, 2)
	assert.Equal(t, "input_text", msg.Content[0].Type)
	assert.Equal(t, "input_image", msg.Content[1].Type)
	assert.Equal(t, "https://example.com/a.png", msg.Content[1].ImageURL)
}
