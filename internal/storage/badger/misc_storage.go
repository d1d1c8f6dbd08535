package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SubmissionStorage implements the SubmissionStorage interface for Badger
type SubmissionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSubmissionStorage creates a new SubmissionStorage instance
func NewSubmissionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SubmissionStorage {
	return &SubmissionStorage{db: db, logger: logger}
}

func (s *SubmissionStorage) SaveSubmission(ctx context.Context, sub *models.Submission) error {
	if sub.ID == "" {
		return fmt.Errorf("submission ID is required")
	}
	if err := s.db.Store().Upsert(sub.ID, sub); err != nil {
		return fmt.Errorf("failed to save submission: %w", err)
	}
	return nil
}

func (s *SubmissionStorage) GetSubmission(ctx context.Context, submissionID string) (*models.Submission, error) {
	var sub models.Submission
	if err := s.db.Store().Get(submissionID, &sub); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("submission not found: %s", submissionID)
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return &sub, nil
}

// TemplateStorage implements the TemplateStorage interface for Badger
type TemplateStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTemplateStorage creates a new TemplateStorage instance
func NewTemplateStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TemplateStorage {
	return &TemplateStorage{db: db, logger: logger}
}

func (s *TemplateStorage) SaveTemplate(ctx context.Context, tpl *models.Template) error {
	if tpl.ID == "" {
		return fmt.Errorf("template ID is required")
	}
	if err := s.db.Store().Upsert(tpl.ID, tpl); err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

func (s *TemplateStorage) GetTemplate(ctx context.Context, templateID string) (*models.Template, error) {
	var tpl models.Template
	if err := s.db.Store().Get(templateID, &tpl); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("template not found: %s", templateID)
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &tpl, nil
}

// UsageStorage implements the UsageStorage interface for Badger
type UsageStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewUsageStorage creates a new UsageStorage instance
func NewUsageStorage(db *BadgerDB, logger arbor.ILogger) interfaces.UsageStorage {
	return &UsageStorage{db: db, logger: logger}
}

func (s *UsageStorage) SaveUsage(ctx context.Context, record *models.UsageRecord) error {
	if record.ID == "" {
		return fmt.Errorf("usage record ID is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Store().Upsert(record.ID, record); err != nil {
		return fmt.Errorf("failed to save usage record: %w", err)
	}
	return nil
}

func (s *UsageStorage) ListUsageByJob(ctx context.Context, jobID string) ([]*models.UsageRecord, error) {
	var records []models.UsageRecord
	if err := s.db.Store().Find(&records, badgerhold.Where("JobID").Eq(jobID).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	result := make([]*models.UsageRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

// NotificationStorage implements the NotificationStorage interface for Badger
type NotificationStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewNotificationStorage creates a new NotificationStorage instance
func NewNotificationStorage(db *BadgerDB, logger arbor.ILogger) interfaces.NotificationStorage {
	return &NotificationStorage{db: db, logger: logger}
}

func (s *NotificationStorage) SaveNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		return fmt.Errorf("notification ID is required")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Store().Upsert(n.ID, n); err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	return nil
}

func (s *NotificationStorage) ListNotifications(ctx context.Context, tenantID string, limit int) ([]*models.Notification, error) {
	query := badgerhold.Where("TenantID").Eq(tenantID).SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	var notifications []models.Notification
	if err := s.db.Store().Find(&notifications, query); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	result := make([]*models.Notification, len(notifications))
	for i := range notifications {
		result[i] = &notifications[i]
	}
	return result, nil
}
