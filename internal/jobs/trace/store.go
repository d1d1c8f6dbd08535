// -----------------------------------------------------------------------
// Execution Trace Store
// Blob-backed canonical trace with re-read-before-append discipline
// -----------------------------------------------------------------------

package trace

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/models"
)

// Key returns the canonical blob key for a job's trace.
func Key(jobID string) string {
	return fmt.Sprintf("jobs/%s/execution_steps.json", jobID)
}

// Store persists execution traces. Writes always go via blob to escape
// per-record size limits; the job record only carries the blob key.
//
// The mutex serializes writers within this process. Writers must still
// re-read before rewriting: parallel siblings append between any load and
// save, and the last write wins at the blob level.
type Store struct {
	blobs  interfaces.ObjectStore
	jobs   interfaces.JobStorage
	logger arbor.ILogger

	mu sync.Mutex
}

// NewStore creates a trace store.
func NewStore(blobs interfaces.ObjectStore, jobs interfaces.JobStorage, logger arbor.ILogger) *Store {
	return &Store{blobs: blobs, jobs: jobs, logger: logger}
}

// Load fetches the current trace. A job without a blob key has an empty
// trace.
func (s *Store) Load(ctx context.Context, job *models.Job) ([]models.ExecutionStep, error) {
	if job.ExecutionStepsBlobKey == "" {
		return nil, nil
	}
	data, err := s.blobs.Get(ctx, job.ExecutionStepsBlobKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution trace: %w", err)
	}
	return models.UnmarshalTrace(data)
}

// save rewrites the whole trace blob and points the job record at it.
// The job update is a separate operation; readers tolerate the brief
// window between the two.
func (s *Store) save(ctx context.Context, job *models.Job, steps []models.ExecutionStep) error {
	data, err := models.MarshalTrace(steps)
	if err != nil {
		return err
	}

	key := Key(job.ID)
	if err := s.blobs.Put(ctx, key, data, "application/json"); err != nil {
		return fmt.Errorf("failed to store execution trace: %w", err)
	}

	if job.ExecutionStepsBlobKey != key {
		job.ExecutionStepsBlobKey = key
		if err := s.jobs.UpdateJob(ctx, job); err != nil {
			return fmt.Errorf("failed to record trace blob key: %w", err)
		}
	}

	s.logger.Debug().
		Str("job_id", job.ID).
		Int("steps", len(steps)).
		Msg("Execution trace persisted")

	return nil
}

// Append re-reads the trace and appends the given steps. The re-read is
// mandatory: an in-memory list from an earlier stage may be missing
// entries written by parallel siblings.
func (s *Store) Append(ctx context.Context, job *models.Job, steps ...models.ExecutionStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Load(ctx, job)
	if err != nil {
		return err
	}
	return s.save(ctx, job, append(current, steps...))
}

// ReplaceByOrder re-reads the trace and replaces the record whose
// step_order matches, appending when no match exists. Used by single-step
// rerun; every other record is preserved untouched.
func (s *Store) ReplaceByOrder(ctx context.Context, job *models.Job, step models.ExecutionStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Load(ctx, job)
	if err != nil {
		return err
	}

	replaced := false
	for i := range current {
		if current[i].StepOrder == step.StepOrder {
			current[i] = step
			replaced = true
			break
		}
	}
	if !replaced {
		current = append(current, step)
	}
	return s.save(ctx, job, current)
}

// Rewrite re-reads the trace and applies a merge function to it. The
// merge receives the freshly loaded trace and returns the full trace to
// persist.
func (s *Store) Rewrite(ctx context.Context, job *models.Job, merge func([]models.ExecutionStep) []models.ExecutionStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Load(ctx, job)
	if err != nil {
		return err
	}
	return s.save(ctx, job, merge(current))
}
