// -----------------------------------------------------------------------
// SMS Delivery
// Renders the deliverable to a short message via Gemini and dispatches it
// -----------------------------------------------------------------------

package delivery

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/interfaces"
	"google.golang.org/genai"
)

// maxSMSLength caps the rendered message.
const maxSMSLength = 1600

// SMSService renders a deliverable summary with a model call and hands it
// to the gateway.
type SMSService struct {
	client  *genai.Client
	model   string
	gateway interfaces.SMSGateway
	logger  arbor.ILogger
}

// NewSMSService creates the SMS delivery service. Returns an error when
// the Gemini key is missing; callers treat SMS as unavailable.
func NewSMSService(ctx context.Context, config *common.GeminiConfig, gateway interfaces.SMSGateway, logger arbor.ILogger) (*SMSService, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required for SMS delivery")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &SMSService{
		client:  client,
		model:   config.Model,
		gateway: gateway,
		logger:  logger,
	}, nil
}

// Deliver renders and sends the deliverable as an SMS. instructions may
// steer tone and content; empty instructions get a default summary prompt.
func (s *SMSService) Deliver(ctx context.Context, to, instructions, deliverableContext, outputURL string) error {
	if to == "" {
		return fmt.Errorf("sms recipient is required")
	}

	message, err := s.render(ctx, instructions, deliverableContext, outputURL)
	if err != nil {
		return fmt.Errorf("failed to render sms: %w", err)
	}

	if err := s.gateway.Send(ctx, to, message); err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}

	s.logger.Info().
		Str("to", maskPhone(to)).
		Int("length", len(message)).
		Msg("SMS delivered")

	return nil
}

func (s *SMSService) render(ctx context.Context, instructions, deliverableContext, outputURL string) (string, error) {
	if instructions == "" {
		instructions = "Write a short, friendly SMS telling the recipient their personalized document is ready. Include the link."
	}

	prompt := fmt.Sprintf("%s\n\nDocument link: %s\n\nDocument content:\n%s\n\nRespond with the SMS text only, under 300 characters.",
		instructions, outputURL, deliverableContext)

	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}

	message := strings.TrimSpace(resp.Text())
	if message == "" {
		message = "Your personalized document is ready: " + outputURL
	}
	if len(message) > maxSMSLength {
		message = message[:maxSMSLength]
	}
	return message, nil
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// LogGateway is the SMSGateway used when no real gateway is configured;
// it records the message instead of sending it.
type LogGateway struct {
	Logger arbor.ILogger
}

func (g *LogGateway) Send(ctx context.Context, to, message string) error {
	g.Logger.Info().
		Str("to", maskPhone(to)).
		Str("message", message).
		Msg("SMS gateway not configured, message logged")
	return nil
}
