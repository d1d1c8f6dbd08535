// -----------------------------------------------------------------------
// Responses-API HTTP Provider
// Rate-limited, circuit-broken client for the model provider
// -----------------------------------------------------------------------

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/interfaces"
	"golang.org/x/time/rate"
)

// HTTPProvider implements interfaces.ModelProvider against a Responses-API
// endpoint ({base_url}/responses).
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	logger     arbor.ILogger
}

// NewHTTPProvider creates a provider from configuration.
func NewHTTPProvider(config *common.ProviderConfig, logger arbor.ILogger) (*HTTPProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("provider API key is required")
	}

	timeout := common.ParseDurationOr(config.Timeout, 5*time.Minute)
	interval := common.ParseDurationOr(config.RateLimit, time.Second)
	maxRetries := config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "model-provider",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return &HTTPProvider{
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		breaker:    breaker,
		maxRetries: maxRetries,
		logger:     logger,
	}, nil
}

// CreateResponse sends one request, retrying transient failures with
// exponential backoff. tool_choice is clamped one last time before the
// wire write.
func (p *HTTPProvider) CreateResponse(ctx context.Context, req *interfaces.ModelRequest) (*interfaces.ModelResponse, error) {
	ClampToolChoice(req)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode model request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			p.logger.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Str("model", req.Model).
				Msg("Retrying model call")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		result, err := p.breaker.Execute(func() (interface{}, error) {
			return p.doRequest(ctx, body)
		})
		if err == nil {
			return result.(*interfaces.ModelResponse), nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("model call failed after %d retries: %w", p.maxRetries, lastErr)
}

func (p *HTTPProvider) doRequest(ctx context.Context, body []byte) (*interfaces.ModelResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build model request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read model response: %w", err)
	}

	p.logger.Debug().
		Int("status", resp.StatusCode).
		Int("response_bytes", len(respBody)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("Model call completed")

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, respBody)
	}

	var modelResp interfaces.ModelResponse
	if err := json.Unmarshal(respBody, &modelResp); err != nil {
		return nil, fmt.Errorf("failed to decode model response: %w", err)
	}
	if modelResp.Error != nil && modelResp.Error.Message != "" {
		return nil, fmt.Errorf("model returned error %s: %s", modelResp.Error.Code, modelResp.Error.Message)
	}

	return &modelResp, nil
}

// Close releases client resources.
func (p *HTTPProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// statusError maps an HTTP status to an error whose message carries the
// classification cue (authentication, rate limit, not found, timeout).
func statusError(status int, body []byte) error {
	msg := providerErrorMessage(body)
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("authentication failed (status %d): %s", status, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limit exceeded (status %d): %s", status, msg)
	case http.StatusNotFound:
		return fmt.Errorf("model not found (status %d): %s", status, msg)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return fmt.Errorf("request timed out (status %d): %s", status, msg)
	default:
		return fmt.Errorf("model request failed with status %d: %s", status, msg)
	}
}

// providerErrorMessage extracts error.message from a provider error body,
// falling back to the truncated raw body.
func providerErrorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return common.RedactSecrets(envelope.Error.Message)
	}
	s := string(body)
	if len(s) > 512 {
		s = s[:512]
	}
	return common.RedactSecrets(s)
}

// isRetryable reports whether an error is transient. Authentication,
// validation and not-found failures are terminal.
func isRetryable(err error) bool {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "authentication"):
		return false
	case strings.Contains(msg, "model not found"):
		return false
	case strings.Contains(msg, "status 400"):
		return false
	}
	return true
}
