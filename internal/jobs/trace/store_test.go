package trace

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/models"
)

// memBlobs is an in-memory ObjectStore covering what the trace store uses.
type memBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{data: make(map[string][]byte)}
}

func (m *memBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte{}, data...)
	return nil
}

func (m *memBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", key)
	}
	return append([]byte{}, data...), nil
}

func (m *memBlobs) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *memBlobs) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memBlobs) BlobURL(key string) string   { return "storage://test/" + key }
func (m *memBlobs) PublicURL(key string) string { return "https://cdn.test/" + key }
func (m *memBlobs) PresignGet(key string, ttl time.Duration) (string, error) {
	return "https://cdn.test/" + key + "?signed", nil
}
func (m *memBlobs) IsStoreURL(url string) bool            { return false }
func (m *memBlobs) KeyFromURL(url string) (string, bool)  { return "", false }

// memJobs is an in-memory JobStorage.
type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[string]*models.Job)}
}

func (m *memJobs) SaveJob(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	m.jobs[job.ID] = &copied
	return nil
}

func (m *memJobs) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	copied := *job
	return &copied, nil
}

func (m *memJobs) UpdateJob(ctx context.Context, job *models.Job) error {
	return m.SaveJob(ctx, job)
}

func (m *memJobs) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	return nil, nil
}

func record(name string, order int, output string) models.ExecutionStep {
	return models.ExecutionStep{
		StepName:  name,
		StepOrder: order,
		StepType:  "ai_generation",
		Output:    output,
		Success:   true,
		Timestamp: time.Now().UTC(),
	}
}

func newTestStore(t *testing.T) (*Store, *memBlobs, *models.Job) {
	t.Helper()
	blobs := newMemBlobs()
	jobs := newMemJobs()
	job := models.NewJob("job_test", "tenant_1", "wf_1", "sub_1")
	require.NoError(t, jobs.SaveJob(context.Background(), job))
	return NewStore(blobs, jobs, arbor.NewLogger()), blobs, job
}

func TestAppendSetsBlobKey(t *testing.T) {
	store, blobs, job := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, job, record("research", 1, "found things")))

	assert.Equal(t, "jobs/job_test/execution_steps.json", job.ExecutionStepsBlobKey)
	exists, _ := blobs.Exists(ctx, job.ExecutionStepsBlobKey)
	assert.True(t, exists)

	steps, err := store.Load(ctx, job)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "research", steps[0].StepName)
}

func TestLoadWithoutBlobKeyIsEmpty(t *testing.T) {
	store, _, job := newTestStore(t)

	steps, err := store.Load(context.Background(), job)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestAppendReReadsBeforeWriting(t *testing.T) {
	store, _, job := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, job, record("one", 1, "a")))

	// A parallel sibling appends between this writer's earlier load and
	// its append; the append must pick it up from the blob.
	require.NoError(t, store.Append(ctx, job, record("two", 2, "b")))
	require.NoError(t, store.Append(ctx, job, record("three", 3, "c")))

	steps, err := store.Load(ctx, job)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, []string{"one", "two", "three"}, []string{steps[0].StepName, steps[1].StepName, steps[2].StepName})
}

func TestSequentialRunProducesFinalOutputRecord(t *testing.T) {
	store, _, job := newTestStore(t)
	ctx := context.Background()

	// Three steps plus the final-output record at position total+1.
	require.NoError(t, store.Append(ctx, job,
		record("research", 1, "r"),
		record("analyze", 2, "a"),
		record("write", 3, "w"),
	))
	final := record("Final Output", 4, "deliverable")
	final.StepType = "final_output"
	require.NoError(t, store.Append(ctx, job, final))

	steps, err := store.Load(ctx, job)
	require.NoError(t, err)
	require.Len(t, steps, 4)
	assert.Equal(t, "final_output", steps[3].StepType)
	assert.Equal(t, 4, steps[3].StepOrder)
}

func TestReplaceByOrderRerunIsolation(t *testing.T) {
	store, _, job := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, job,
		record("one", 1, "a"),
		record("two", 2, "b"),
		record("three", 3, "c"),
	))

	require.NoError(t, store.ReplaceByOrder(ctx, job, record("two", 2, "b-rerun")))

	steps, err := store.Load(ctx, job)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "a", steps[0].Output)
	assert.Equal(t, "b-rerun", steps[1].Output)
	assert.Equal(t, "c", steps[2].Output)
}

func TestReplaceByOrderAppendsWhenMissing(t *testing.T) {
	store, _, job := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, job, record("one", 1, "a")))
	require.NoError(t, store.ReplaceByOrder(ctx, job, record("five", 5, "e")))

	steps, err := store.Load(ctx, job)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 5, steps[1].StepOrder)
}

func TestRewriteMergesFreshTrace(t *testing.T) {
	store, _, job := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, job, record("one", 1, "a")))

	err := store.Rewrite(ctx, job, func(current []models.ExecutionStep) []models.ExecutionStep {
		for i := range current {
			current[i].Output = "merged"
		}
		return current
	})
	require.NoError(t, err)

	steps, err := store.Load(ctx, job)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "merged", steps[0].Output)
}
