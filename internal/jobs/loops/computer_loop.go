// -----------------------------------------------------------------------
// Computer-Use Loop
// Model call / browser action / screenshot submission cycle
// -----------------------------------------------------------------------

package loops

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/models"
)

// Default viewport when the computer_use_preview tool does not declare
// display dimensions.
const (
	defaultDisplayWidth  = 1024
	defaultDisplayHeight = 768
)

// TerminalReason describes why a loop stopped.
type TerminalReason string

const (
	ReasonCompleted TerminalReason = "completed"
	ReasonTimeout   TerminalReason = "timeout"
	ReasonError     TerminalReason = "error"
)

// LoopResult is the outcome of a tool loop.
type LoopResult struct {
	OutputText     string
	Usage          models.Usage
	ImageURLs      []string
	Iterations     int
	Reason         TerminalReason
	LastResponseID string
}

// ScreenshotSink uploads a captured screenshot and returns its public
// URL. Bound by the caller to the job's artifact prefix.
type ScreenshotSink func(ctx context.Context, iteration int, png []byte) (string, error)

// ComputerLoop drives the computer-use tool cycle for one step.
type ComputerLoop struct {
	Provider      interfaces.ModelProvider
	Drivers       interfaces.ComputerDriverProvider
	Events        interfaces.EventService
	Screenshots   ScreenshotSink
	MaxIterations int
	Timeout       time.Duration
	Logger        arbor.ILogger
}

var initialURLPattern = regexp.MustCompile(`https?://[^\s'"<>)\]}]+`)

// Run executes the loop: initialize the driver, optionally navigate to a
// URL named in the input, then alternate model calls with action
// execution until the model stops issuing computer calls.
func (l *ComputerLoop) Run(ctx context.Context, jobID string, stepIndex int, req *interfaces.ModelRequest) (*LoopResult, error) {
	maxIterations := l.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 50
	}
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	deadline := time.Now().Add(timeout)

	driver, err := l.Drivers.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire computer driver: %w", err)
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := driver.Cleanup(cleanupCtx); err != nil {
			l.Logger.Warn().Err(err).Msg("Computer driver cleanup failed")
		}
	}()

	width, height := displayDims(req.Tools)
	if err := driver.Initialize(ctx, width, height); err != nil {
		return nil, fmt.Errorf("failed to initialize computer driver: %w", err)
	}

	if url := extractInitialURL(req.Input); url != "" {
		l.emit(ctx, interfaces.EventLoopLog, jobID, stepIndex, map[string]interface{}{"message": "navigating to " + url})
		if err := driver.ExecuteAction(ctx, interfaces.ComputerAction{Type: "navigate", URL: url}); err != nil {
			l.Logger.Warn().Err(err).Str("url", url).Msg("Initial navigation failed")
		}
	}

	result := &LoopResult{Reason: ReasonCompleted}
	req.Truncation = "auto"

	resp, err := l.Provider.CreateResponse(ctx, req)
	if err != nil {
		result.Reason = ReasonError
		return result, fmt.Errorf("computer-use model call failed: %w", err)
	}
	result.Usage.Add(resp.Usage)
	result.LastResponseID = resp.ID

	for iteration := 1; iteration <= maxIterations; iteration++ {
		result.Iterations = iteration

		if time.Now().After(deadline) {
			result.Reason = ReasonTimeout
			result.OutputText = resp.Text()
			l.emit(ctx, interfaces.EventLoopComplete, jobID, stepIndex, map[string]interface{}{"reason": string(ReasonTimeout)})
			return result, nil
		}

		l.surfaceReasoning(ctx, jobID, stepIndex, resp)

		call := firstComputerCall(resp)
		if call == nil {
			result.OutputText = resp.Text()
			l.emit(ctx, interfaces.EventLoopComplete, jobID, stepIndex, map[string]interface{}{"reason": string(ReasonCompleted)})
			return result, nil
		}

		action := NormalizeAction(call.Action)
		l.emit(ctx, interfaces.EventLoopActionCall, jobID, stepIndex, map[string]interface{}{
			"call_id": call.CallID,
			"action":  action.Type,
		})

		// Auto-approve pending safety checks; they ride along on the
		// next submission.
		acked := call.PendingSafetyChecks
		for _, check := range acked {
			l.emit(ctx, interfaces.EventLoopSafetyCheck, jobID, stepIndex, map[string]interface{}{
				"check_id": check.ID,
				"code":     check.Code,
				"message":  check.Message,
			})
		}

		// Action failures are reported to the model via the next
		// screenshot; the loop continues.
		if err := driver.ExecuteAction(ctx, action); err != nil {
			l.Logger.Warn().Err(err).
				Str("action", action.Type).
				Msg("Computer action failed")
		}
		l.emit(ctx, interfaces.EventLoopActionExecuted, jobID, stepIndex, map[string]interface{}{"action": action.Type})

		png, err := driver.Screenshot(ctx)
		if err != nil {
			result.Reason = ReasonError
			return result, fmt.Errorf("failed to capture screenshot: %w", err)
		}

		if l.Screenshots != nil {
			if url, upErr := l.Screenshots(ctx, iteration, png); upErr == nil {
				result.ImageURLs = append(result.ImageURLs, url)
				l.emit(ctx, interfaces.EventLoopScreenshot, jobID, stepIndex, map[string]interface{}{"url": url})
			} else {
				l.Logger.Warn().Err(upErr).Msg("Failed to upload screenshot")
			}
		}

		submission := interfaces.ComputerCallOutput{
			Type:   "computer_call_output",
			CallID: call.CallID,
			Output: interfaces.ComputerScreenshotOutput{
				Type:     "input_image",
				ImageURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
			},
			AcknowledgedSafetyChecks: acked,
		}

		next := &interfaces.ModelRequest{
			Model:              req.Model,
			Tools:              req.Tools,
			Truncation:         "auto",
			PreviousResponseID: resp.ID,
			Input:              []interface{}{submission},
		}

		resp, err = l.Provider.CreateResponse(ctx, next)
		if err != nil {
			result.Reason = ReasonError
			return result, fmt.Errorf("computer-use model call failed: %w", err)
		}
		result.Usage.Add(resp.Usage)
		result.LastResponseID = resp.ID
	}

	result.Reason = ReasonTimeout
	result.OutputText = resp.Text()
	l.emit(ctx, interfaces.EventLoopComplete, jobID, stepIndex, map[string]interface{}{"reason": "max_iterations"})
	return result, nil
}

func (l *ComputerLoop) surfaceReasoning(ctx context.Context, jobID string, stepIndex int, resp *interfaces.ModelResponse) {
	for _, item := range resp.Output {
		switch item.Type {
		case "reasoning":
			for _, c := range item.Content {
				if c.Text != "" {
					l.emit(ctx, interfaces.EventLoopLog, jobID, stepIndex, map[string]interface{}{"reasoning": c.Text})
				}
			}
		case "text":
			if item.Text != "" {
				l.emit(ctx, interfaces.EventLoopLog, jobID, stepIndex, map[string]interface{}{"text": item.Text})
			}
		}
	}
}

func (l *ComputerLoop) emit(ctx context.Context, eventType interfaces.EventType, jobID string, stepIndex int, payload map[string]interface{}) {
	if l.Events == nil {
		return
	}
	_ = l.Events.Publish(ctx, interfaces.Event{
		Type:      eventType,
		JobID:     jobID,
		StepIndex: stepIndex,
		Payload:   payload,
	})
}

// firstComputerCall returns the first computer_call output item, or nil.
func firstComputerCall(resp *interfaces.ModelResponse) *interfaces.OutputItem {
	for i := range resp.Output {
		if resp.Output[i].Type == "computer_call" {
			return &resp.Output[i]
		}
	}
	return nil
}

// displayDims reads display_width/display_height off the
// computer_use_preview tool.
func displayDims(tools []models.Tool) (int, int) {
	for _, t := range tools {
		if t.Type() != "computer_use_preview" {
			continue
		}
		width := intField(t, "display_width", defaultDisplayWidth)
		height := intField(t, "display_height", defaultDisplayHeight)
		return width, height
	}
	return defaultDisplayWidth, defaultDisplayHeight
}

func intField(m map[string]interface{}, key string, fallback int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// extractInitialURL pulls the first URL out of a string or message input.
func extractInitialURL(input interface{}) string {
	switch v := input.(type) {
	case string:
		return initialURLPattern.FindString(v)
	case []interface{}:
		for _, raw := range v {
			msg, ok := raw.(interfaces.InputMessage)
			if !ok {
				continue
			}
			for _, c := range msg.Content {
				if c.Type == "input_text" {
					if url := initialURLPattern.FindString(c.Text); url != "" {
						return url
					}
				}
			}
		}
	}
	return ""
}

// NormalizeAction converts the provider's action map into the driver's
// normalized form, tolerating SDK shape drift.
func NormalizeAction(raw map[string]interface{}) interfaces.ComputerAction {
	action := interfaces.ComputerAction{
		Type:       stringField(raw, "type"),
		X:          intField(raw, "x", 0),
		Y:          intField(raw, "y", 0),
		Button:     stringField(raw, "button"),
		Text:       stringField(raw, "text"),
		ScrollX:    intField(raw, "scroll_x", 0),
		ScrollY:    intField(raw, "scroll_y", 0),
		URL:        stringField(raw, "url"),
		DurationMS: intField(raw, "duration_ms", 0),
	}

	if keys, ok := raw["keys"].([]interface{}); ok {
		for _, k := range keys {
			if s, ok := k.(string); ok {
				action.Keys = append(action.Keys, s)
			}
		}
	}

	if path, ok := raw["path"].([]interface{}); ok {
		for _, p := range path {
			if point, ok := p.(map[string]interface{}); ok {
				action.Path = append(action.Path, interfaces.Point{
					X: intField(point, "x", 0),
					Y: intField(point, "y", 0),
				})
			}
		}
	}

	return action
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
