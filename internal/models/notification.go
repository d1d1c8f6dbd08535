package models

import "time"

// Notification is a best-effort tenant-facing row describing a job outcome.
type Notification struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	JobID     string    `json:"job_id"`
	Level     string    `json:"level"` // "info" | "error"
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
