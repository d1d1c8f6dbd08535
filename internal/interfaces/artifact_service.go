package interfaces

import (
	"context"

	"github.com/ternarybob/magnet/internal/models"
)

// UploadRequest describes content to persist as an artifact.
type UploadRequest struct {
	TenantID    string
	JobID       string
	Name        string
	Data        []byte
	Kind        models.ArtifactKind
	ContentType string
	IsPublic    bool
}

// ArtifactService uploads content under {tenant_id}/jobs/{job_id}/{name},
// records an Artifact row and returns blob + public URLs.
type ArtifactService interface {
	Upload(ctx context.Context, req *UploadRequest) (*models.Artifact, error)
	UploadText(ctx context.Context, tenantID, jobID, name, text string, kind models.ArtifactKind) (*models.Artifact, error)

	// StoreImageFromURL persists an external image URL as an artifact.
	// URLs already pointing into the object store are reused without a
	// download.
	StoreImageFromURL(ctx context.Context, tenantID, jobID, imageURL string) (*models.Artifact, error)

	// StoreImageBytes persists raw image bytes (base64 results,
	// screenshots) as a public artifact.
	StoreImageBytes(ctx context.Context, tenantID, jobID, name string, data []byte, mime string) (*models.Artifact, error)

	GetPublicURL(ctx context.Context, artifactID string) (string, error)
}
