// -----------------------------------------------------------------------
// Webhook Sender
// Dispatches step and delivery webhooks with adapter-aware payloads
// -----------------------------------------------------------------------

package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

// WebhookResult records the outcome of one dispatch.
type WebhookResult struct {
	ResponseStatus int    `json:"response_status"`
	ResponseBody   string `json:"response_body"`
	Success        bool   `json:"success"`
	DurationMS     int64  `json:"duration_ms"`
	Attempts       int    `json:"attempts"`
}

// WebhookRequest is one outbound webhook call.
type WebhookRequest struct {
	URL         string
	Method      string
	Headers     map[string]string
	QueryParams map[string]string
	Body        []byte
	ContentType string
	WebhookType string // explicit adapter; "" selects by URL heuristic
}

// Sender posts webhooks with bounded retries and exponential backoff.
type Sender struct {
	client        *http.Client
	retryAttempts int
	retryBackoff  time.Duration
	logger        arbor.ILogger
}

// NewSender creates a webhook sender.
func NewSender(timeout time.Duration, retryAttempts int, retryBackoff time.Duration, logger arbor.ILogger) *Sender {
	if retryAttempts <= 0 {
		retryAttempts = 3
	}
	if retryBackoff <= 0 {
		retryBackoff = 2 * time.Second
	}
	return &Sender{
		client:        &http.Client{Timeout: timeout},
		retryAttempts: retryAttempts,
		retryBackoff:  retryBackoff,
		logger:        logger,
	}
}

// slackHosts trigger the Slack adapter when no explicit webhook type is
// set.
var slackHosts = []string{
	"hooks.slack.com",
	"slack.com",
}

// ResolveAdapter picks the payload adapter for a request: explicit
// webhook_type first, then URL heuristic.
func ResolveAdapter(req *WebhookRequest) string {
	if req.WebhookType != "" {
		return req.WebhookType
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return "generic"
	}
	host := strings.ToLower(u.Host)
	for _, h := range slackHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return "slack"
		}
	}
	return "generic"
}

// AdaptSlackPayload wraps an arbitrary JSON payload as a Slack message.
// Non-JSON bodies become the message text directly.
func AdaptSlackPayload(body []byte) []byte {
	var probe map[string]interface{}
	if err := json.Unmarshal(body, &probe); err == nil {
		if _, ok := probe["text"]; ok {
			return body
		}
		pretty, _ := json.MarshalIndent(probe, "", "  ")
		wrapped, _ := json.Marshal(map[string]string{"text": "```" + string(pretty) + "```"})
		return wrapped
	}
	wrapped, _ := json.Marshal(map[string]string{"text": string(body)})
	return wrapped
}

// Send dispatches the webhook, retrying 5xx and transport failures.
// 4xx responses are terminal.
func (s *Sender) Send(ctx context.Context, req *WebhookRequest) (*WebhookResult, error) {
	body := req.Body
	contentType := req.ContentType
	if ResolveAdapter(req) == "slack" {
		body = AdaptSlackPayload(body)
		contentType = "application/json"
	}
	if contentType == "" {
		contentType = "application/json"
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	targetURL, err := appendQueryParams(req.URL, req.QueryParams)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var lastErr error
	var result *WebhookResult

	for attempt := 1; attempt <= s.retryAttempts; attempt++ {
		if attempt > 1 {
			backoff := s.retryBackoff * time.Duration(1<<uint(attempt-2))
			s.logger.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Str("url", targetURL).
				Msg("Retrying webhook")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, lastErr = s.attempt(ctx, method, targetURL, req.Headers, contentType, body)
		if lastErr == nil && result.Success {
			result.DurationMS = time.Since(start).Milliseconds()
			result.Attempts = attempt
			return result, nil
		}
		if result != nil && result.ResponseStatus >= 400 && result.ResponseStatus < 500 {
			result.DurationMS = time.Since(start).Milliseconds()
			result.Attempts = attempt
			return result, fmt.Errorf("webhook rejected with status %d", result.ResponseStatus)
		}
	}

	if result != nil {
		result.DurationMS = time.Since(start).Milliseconds()
		result.Attempts = s.retryAttempts
		return result, fmt.Errorf("webhook failed after %d attempts: status %d", s.retryAttempts, result.ResponseStatus)
	}
	return nil, fmt.Errorf("webhook failed after %d attempts: %w", s.retryAttempts, lastErr)
}

func (s *Sender) attempt(ctx context.Context, method, targetURL string, headers map[string]string, contentType string, body []byte) (*WebhookResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("invalid webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("webhook call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	return &WebhookResult{
		ResponseStatus: resp.StatusCode,
		ResponseBody:   string(respBody),
		Success:        resp.StatusCode >= 200 && resp.StatusCode < 300,
	}, nil
}

func appendQueryParams(rawURL string, params map[string]string) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid webhook URL: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
