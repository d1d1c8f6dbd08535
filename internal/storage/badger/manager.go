package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db           *BadgerDB
	job          interfaces.JobStorage
	workflow     interfaces.WorkflowStorage
	submission   interfaces.SubmissionStorage
	template     interfaces.TemplateStorage
	artifact     interfaces.ArtifactStorage
	usage        interfaces.UsageStorage
	notification interfaces.NotificationStorage
	kv           interfaces.KeyValueStorage
	logger       arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:           db,
		job:          NewJobStorage(db, logger),
		workflow:     NewWorkflowStorage(db, logger),
		submission:   NewSubmissionStorage(db, logger),
		template:     NewTemplateStorage(db, logger),
		artifact:     NewArtifactStorage(db, logger),
		usage:        NewUsageStorage(db, logger),
		notification: NewNotificationStorage(db, logger),
		kv:           NewKVStorage(db, logger),
		logger:       logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// WorkflowStorage returns the Workflow storage interface
func (m *Manager) WorkflowStorage() interfaces.WorkflowStorage {
	return m.workflow
}

// SubmissionStorage returns the Submission storage interface
func (m *Manager) SubmissionStorage() interfaces.SubmissionStorage {
	return m.submission
}

// TemplateStorage returns the Template storage interface
func (m *Manager) TemplateStorage() interfaces.TemplateStorage {
	return m.template
}

// ArtifactStorage returns the Artifact storage interface
func (m *Manager) ArtifactStorage() interfaces.ArtifactStorage {
	return m.artifact
}

// UsageStorage returns the Usage storage interface
func (m *Manager) UsageStorage() interfaces.UsageStorage {
	return m.usage
}

// NotificationStorage returns the Notification storage interface
func (m *Manager) NotificationStorage() interfaces.NotificationStorage {
	return m.notification
}

// KeyValueStorage returns the KeyValue storage interface
func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
