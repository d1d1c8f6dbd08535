package interfaces

import (
	"context"

	"github.com/ternarybob/magnet/internal/models"
)

// JobListOptions filters job listings.
type JobListOptions struct {
	Status   models.JobStatus
	TenantID string
	Limit    int
	Offset   int
}

// JobStorage persists job records.
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)
}

// WorkflowStorage persists workflow definitions.
type WorkflowStorage interface {
	SaveWorkflow(ctx context.Context, wf *models.Workflow) error
	GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context, tenantID string) ([]*models.Workflow, error)
}

// SubmissionStorage persists form submissions.
type SubmissionStorage interface {
	SaveSubmission(ctx context.Context, sub *models.Submission) error
	GetSubmission(ctx context.Context, submissionID string) (*models.Submission, error)
}

// TemplateStorage persists HTML templates.
type TemplateStorage interface {
	SaveTemplate(ctx context.Context, tpl *models.Template) error
	GetTemplate(ctx context.Context, templateID string) (*models.Template, error)
}

// ArtifactStorage persists artifact index rows. Artifact blobs themselves
// live in the object store.
type ArtifactStorage interface {
	SaveArtifact(ctx context.Context, artifact *models.Artifact) error
	GetArtifact(ctx context.Context, artifactID string) (*models.Artifact, error)
	ListArtifactsByJob(ctx context.Context, jobID string) ([]*models.Artifact, error)
}

// UsageStorage persists best-effort model usage accounting rows.
type UsageStorage interface {
	SaveUsage(ctx context.Context, record *models.UsageRecord) error
	ListUsageByJob(ctx context.Context, jobID string) ([]*models.UsageRecord, error)
}

// NotificationStorage persists tenant-facing notifications.
type NotificationStorage interface {
	SaveNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, tenantID string, limit int) ([]*models.Notification, error)
}

// KeyValueStorage holds secrets and settings resolved at runtime
// (API keys, allow-lists). Keys are case-insensitive.
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// StorageManager aggregates the record-store surfaces the engine consumes.
type StorageManager interface {
	JobStorage() JobStorage
	WorkflowStorage() WorkflowStorage
	SubmissionStorage() SubmissionStorage
	TemplateStorage() TemplateStorage
	ArtifactStorage() ArtifactStorage
	UsageStorage() UsageStorage
	NotificationStorage() NotificationStorage
	KeyValueStorage() KeyValueStorage
	Close() error
}
