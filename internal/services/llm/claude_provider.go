// -----------------------------------------------------------------------
// Claude Fallback Provider
// Text-only ModelProvider backed by the Anthropic Messages API
// -----------------------------------------------------------------------

package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/models"
)

// ClaudeProvider adapts the Anthropic Messages API to the ModelProvider
// surface. It handles text in, text out only; tool loops and image inputs
// stay on the primary provider.
type ClaudeProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    arbor.ILogger
}

// NewClaudeProvider creates the fallback provider.
func NewClaudeProvider(config *common.ClaudeConfig, logger arbor.ILogger) (*ClaudeProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("claude API key is required")
	}
	maxTokens := int64(config.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	timeout := common.ParseDurationOr(config.Timeout, 5*time.Minute)

	client := anthropic.NewClient(
		option.WithAPIKey(config.APIKey),
		option.WithRequestTimeout(timeout),
	)

	return &ClaudeProvider{
		client:    client,
		model:     config.Model,
		maxTokens: maxTokens,
		logger:    logger,
	}, nil
}

func (p *ClaudeProvider) CreateResponse(ctx context.Context, req *interfaces.ModelRequest) (*interfaces.ModelResponse, error) {
	if len(req.Tools) > 0 {
		return nil, fmt.Errorf("fallback provider does not support tools")
	}

	text, err := flattenInputText(req.Input)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	}
	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude call failed: %w", err)
	}

	var output string
	for _, block := range msg.Content {
		if block.Type == "text" {
			output += block.Text
		}
	}

	usage := models.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}

	p.logger.Debug().
		Str("model", p.model).
		Int("output_chars", len(output)).
		Int("total_tokens", usage.TotalTokens).
		Msg("Claude fallback call completed")

	return &interfaces.ModelResponse{
		ID:         msg.ID,
		OutputText: output,
		Usage:      usage,
	}, nil
}

func (p *ClaudeProvider) Close() error {
	return nil
}

// flattenInputText collapses a string or message-list input to plain text.
func flattenInputText(input interface{}) (string, error) {
	switch v := input.(type) {
	case string:
		return v, nil
	case []interface{}:
		var out string
		for _, raw := range v {
			msg, ok := raw.(interfaces.InputMessage)
			if !ok {
				continue
			}
			for _, c := range msg.Content {
				if c.Type == "input_text" {
					if out != "" {
						out += "\n"
					}
					out += c.Text
				}
			}
		}
		if out == "" {
			return "", fmt.Errorf("input carries no text content")
		}
		return out, nil
	default:
		return "", fmt.Errorf("unsupported input type %T", input)
	}
}
