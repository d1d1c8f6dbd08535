package interfaces

import (
	"context"
	"time"
)

// EventType identifies engine events published during execution.
type EventType string

const (
	EventJobStarted    EventType = "job_started"
	EventJobCompleted  EventType = "job_completed"
	EventJobFailed     EventType = "job_failed"
	EventStepStarted   EventType = "step_started"
	EventStepCompleted EventType = "step_completed"

	// Tool-loop streaming events.
	EventLoopLog            EventType = "log"
	EventLoopActionCall     EventType = "action_call"
	EventLoopActionExecuted EventType = "action_executed"
	EventLoopScreenshot     EventType = "screenshot"
	EventLoopSafetyCheck    EventType = "safety_check"
	EventLoopComplete       EventType = "complete"
)

// Event is one published engine event.
type Event struct {
	Type      EventType              `json:"type"`
	JobID     string                 `json:"job_id,omitempty"`
	StepIndex int                    `json:"step_index,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event) error

// EventService is a process-local pub/sub bus for engine events.
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error
	Publish(ctx context.Context, event Event) error
	PublishSync(ctx context.Context, event Event) error
}
