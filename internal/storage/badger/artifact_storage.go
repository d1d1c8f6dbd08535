package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ArtifactStorage implements the ArtifactStorage interface for Badger
type ArtifactStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewArtifactStorage creates a new ArtifactStorage instance
func NewArtifactStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ArtifactStorage {
	return &ArtifactStorage{
		db:     db,
		logger: logger,
	}
}

// SaveArtifact writes an artifact index row. Artifacts are immutable:
// re-saving an existing ID is rejected.
func (s *ArtifactStorage) SaveArtifact(ctx context.Context, artifact *models.Artifact) error {
	if artifact.ID == "" {
		return fmt.Errorf("artifact ID is required")
	}
	if err := s.db.Store().Insert(artifact.ID, artifact); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("artifact %s already exists (artifacts are immutable)", artifact.ID)
		}
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

func (s *ArtifactStorage) GetArtifact(ctx context.Context, artifactID string) (*models.Artifact, error) {
	var artifact models.Artifact
	if err := s.db.Store().Get(artifactID, &artifact); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("artifact not found: %s", artifactID)
		}
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return &artifact, nil
}

func (s *ArtifactStorage) ListArtifactsByJob(ctx context.Context, jobID string) ([]*models.Artifact, error) {
	var artifacts []models.Artifact
	if err := s.db.Store().Find(&artifacts, badgerhold.Where("JobID").Eq(jobID).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	result := make([]*models.Artifact, len(artifacts))
	for i := range artifacts {
		result[i] = &artifacts[i]
	}
	return result, nil
}
