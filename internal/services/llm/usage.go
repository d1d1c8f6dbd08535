// -----------------------------------------------------------------------
// Usage Auditor
// Best-effort per-call token and cost accounting
// -----------------------------------------------------------------------

package llm

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/models"
)

// UsageAuditor records one UsageRecord per model call. Recording failures
// are logged and swallowed; usage accounting never fails a job.
type UsageAuditor struct {
	storage      interfaces.UsageStorage
	costPer1KIn  float64
	costPer1KOut float64
	logger       arbor.ILogger
}

// NewUsageAuditor creates an auditor backed by the usage store.
func NewUsageAuditor(storage interfaces.UsageStorage, config *common.ProviderConfig, logger arbor.ILogger) *UsageAuditor {
	return &UsageAuditor{
		storage:      storage,
		costPer1KIn:  config.CostPer1KIn,
		costPer1KOut: config.CostPer1KOut,
		logger:       logger,
	}
}

// Record persists one accounting row.
func (a *UsageAuditor) Record(ctx context.Context, tenantID, jobID, model, serviceType string, usage models.Usage) {
	if a == nil || a.storage == nil {
		return
	}

	record := &models.UsageRecord{
		ID:           common.NewUsageID(),
		TenantID:     tenantID,
		JobID:        jobID,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      a.cost(usage),
		ServiceType:  serviceType,
		CreatedAt:    time.Now().UTC(),
	}

	if err := a.storage.SaveUsage(ctx, record); err != nil {
		a.logger.Warn().Err(err).
			Str("job_id", jobID).
			Str("model", model).
			Msg("Failed to record usage")
	}
}

func (a *UsageAuditor) cost(usage models.Usage) float64 {
	return float64(usage.InputTokens)/1000*a.costPer1KIn +
		float64(usage.OutputTokens)/1000*a.costPer1KOut
}
