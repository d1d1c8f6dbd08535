package models

import "time"

// UsageRecord is one best-effort accounting row per model call. Failure to
// record usage never fails the job.
type UsageRecord struct {
	ID           string    `json:"usage_id"`
	TenantID     string    `json:"tenant_id"`
	JobID        string    `json:"job_id"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	ServiceType  string    `json:"service_type"`
	CreatedAt    time.Time `json:"created_at"`
}
