// -----------------------------------------------------------------------
// Pending-Job Sweeper
// Re-enqueues pending jobs whose trigger was lost
// -----------------------------------------------------------------------

package sweeper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/models"
)

// TriggerFunc processes one trigger message; the orchestrator provides it.
type TriggerFunc func(ctx context.Context, trigger *models.TriggerMessage) error

// Sweeper periodically scans for jobs stuck in pending and re-enqueues
// them. A job can sit in pending when its trigger was dropped between
// job creation and orchestration.
type Sweeper struct {
	storage interfaces.StorageManager
	trigger TriggerFunc
	config  *common.SweeperConfig
	cron    *cron.Cron
	logger  arbor.ILogger
}

func New(storage interfaces.StorageManager, trigger TriggerFunc, config *common.SweeperConfig, logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		storage: storage,
		trigger: trigger,
		config:  config,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start registers the sweep schedule and starts the cron runner.
func (s *Sweeper) Start() error {
	if !s.config.Enabled {
		s.logger.Info().Msg("Pending-job sweeper disabled")
		return nil
	}

	schedule := s.config.Schedule
	if schedule == "" {
		schedule = "*/5 * * * *"
	}

	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return err
	}
	s.cron.Start()

	s.logger.Info().
		Str("schedule", schedule).
		Str("max_age", s.config.MaxAge).
		Msg("Pending-job sweeper started")
	return nil
}

// Stop halts the cron runner, waiting for an in-flight sweep.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	maxAge := common.ParseDurationOr(s.config.MaxAge, 10*time.Minute)
	cutoff := time.Now().UTC().Add(-maxAge)

	jobs, err := s.storage.JobStorage().ListJobs(ctx, &interfaces.JobListOptions{
		Status: models.JobStatusPending,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Sweep failed to list pending jobs")
		return
	}

	for _, job := range jobs {
		if job.CreatedAt.After(cutoff) {
			continue
		}

		s.logger.Info().
			Str("job_id", job.ID).
			Str("created_at", job.CreatedAt.Format(time.RFC3339)).
			Msg("Re-enqueueing stale pending job")

		trigger := &models.TriggerMessage{
			JobID:        job.ID,
			TenantID:     job.TenantID,
			WorkflowID:   job.WorkflowID,
			SubmissionID: job.SubmissionID,
			Action:       models.ActionProcessJob,
		}
		common.SafeGo(s.logger, "sweeper-trigger", func() {
			if err := s.trigger(context.Background(), trigger); err != nil {
				s.logger.Warn().Err(err).Str("job_id", trigger.JobID).Msg("Swept job ended with error")
			}
		})
	}
}
