package interfaces

import "context"

// SMSGateway sends a rendered deliverable message to a phone number.
type SMSGateway interface {
	Send(ctx context.Context, to, message string) error
}

// TrackingInjector injects the tracking script into HTML deliverables.
// Injection must be idempotent.
type TrackingInjector interface {
	Inject(html string) string
}
