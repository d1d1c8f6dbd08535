// -----------------------------------------------------------------------
// Artifact Service
// Uploads job content to the object store and records artifact rows
// -----------------------------------------------------------------------

package artifacts

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/models"
	"github.com/ternarybob/magnet/internal/services/images"
)

// SharingHook is invoked asynchronously after an artifact is stored.
// Failures are logged and swallowed.
type SharingHook func(ctx context.Context, artifact *models.Artifact) error

// Service implements interfaces.ArtifactService.
type Service struct {
	store    interfaces.ObjectStore
	records  interfaces.ArtifactStorage
	pipeline *images.Pipeline
	hook     SharingHook
	logger   arbor.ILogger
}

// NewService creates the artifact service. hook may be nil.
func NewService(store interfaces.ObjectStore, records interfaces.ArtifactStorage, pipeline *images.Pipeline, hook SharingHook, logger arbor.ILogger) *Service {
	return &Service{
		store:    store,
		records:  records,
		pipeline: pipeline,
		hook:     hook,
		logger:   logger,
	}
}

// mimeByExtension maps known extensions; unknown extensions fall back to
// application/octet-stream.
var mimeByExtension = map[string]string{
	".txt":  "text/plain; charset=utf-8",
	".md":   "text/markdown; charset=utf-8",
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".json": "application/json",
	".csv":  "text/csv",
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
}

// InferMIME returns the MIME type for a filename.
func InferMIME(name string) string {
	if mime, ok := mimeByExtension[strings.ToLower(path.Ext(name))]; ok {
		return mime
	}
	return "application/octet-stream"
}

// Key assembles the object key for a job artifact.
func Key(tenantID, jobID, name string) string {
	return fmt.Sprintf("%s/jobs/%s/%s", tenantID, jobID, name)
}

// Upload stores content under {tenant_id}/jobs/{job_id}/{name} and records
// an Artifact row. The sharing hook runs asynchronously.
func (s *Service) Upload(ctx context.Context, req *interfaces.UploadRequest) (*models.Artifact, error) {
	if req.TenantID == "" || req.JobID == "" || req.Name == "" {
		return nil, fmt.Errorf("tenant_id, job_id and name are required")
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = InferMIME(req.Name)
	}

	key := Key(req.TenantID, req.JobID, req.Name)
	if err := s.store.Put(ctx, key, req.Data, contentType); err != nil {
		return nil, fmt.Errorf("failed to store artifact blob: %w", err)
	}

	artifact := &models.Artifact{
		ID:        common.NewArtifactID(),
		TenantID:  req.TenantID,
		JobID:     req.JobID,
		Kind:      req.Kind,
		Name:      req.Name,
		BlobKey:   key,
		BlobURL:   s.store.BlobURL(key),
		PublicURL: s.store.PublicURL(key),
		IsPublic:  req.IsPublic,
		Size:      int64(len(req.Data)),
		MIME:      contentType,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.records.SaveArtifact(ctx, artifact); err != nil {
		return nil, fmt.Errorf("failed to record artifact: %w", err)
	}

	s.logger.Debug().
		Str("artifact_id", artifact.ID).
		Str("key", key).
		Int64("size", artifact.Size).
		Msg("Artifact stored")

	if s.hook != nil {
		hookArtifact := *artifact
		common.SafeGo(s.logger, "artifact-sharing-hook", func() {
			hookCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.hook(hookCtx, &hookArtifact); err != nil {
				s.logger.Warn().Err(err).
					Str("artifact_id", hookArtifact.ID).
					Msg("Artifact sharing hook failed")
			}
		})
	}

	return artifact, nil
}

// UploadText stores textual content as a public artifact.
func (s *Service) UploadText(ctx context.Context, tenantID, jobID, name, text string, kind models.ArtifactKind) (*models.Artifact, error) {
	return s.Upload(ctx, &interfaces.UploadRequest{
		TenantID: tenantID,
		JobID:    jobID,
		Name:     name,
		Data:     []byte(text),
		Kind:     kind,
		IsPublic: true,
	})
}

// StoreImageFromURL persists an external image URL as an artifact. URLs
// already pointing into the object store are reused without a download;
// only a metadata row is written.
func (s *Service) StoreImageFromURL(ctx context.Context, tenantID, jobID, imageURL string) (*models.Artifact, error) {
	if key, ok := s.store.KeyFromURL(imageURL); ok {
		artifact := &models.Artifact{
			ID:        common.NewArtifactID(),
			TenantID:  tenantID,
			JobID:     jobID,
			Kind:      models.ArtifactKindImage,
			Name:      path.Base(key),
			BlobKey:   key,
			BlobURL:   s.store.BlobURL(key),
			PublicURL: s.store.PublicURL(key),
			IsPublic:  true,
			MIME:      InferMIME(key),
			CreatedAt: time.Now().UTC(),
		}
		if err := s.records.SaveArtifact(ctx, artifact); err != nil {
			return nil, fmt.Errorf("failed to record artifact: %w", err)
		}
		return artifact, nil
	}

	data, mime, err := s.pipeline.Download(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image for artifact: %w", err)
	}

	name := imageFilename(imageURL, mime)
	return s.StoreImageBytes(ctx, tenantID, jobID, name, data, mime)
}

// StoreImageBytes persists raw image bytes as a public artifact.
func (s *Service) StoreImageBytes(ctx context.Context, tenantID, jobID, name string, data []byte, mime string) (*models.Artifact, error) {
	return s.Upload(ctx, &interfaces.UploadRequest{
		TenantID:    tenantID,
		JobID:       jobID,
		Name:        name,
		Data:        data,
		Kind:        models.ArtifactKindImage,
		ContentType: mime,
		IsPublic:    true,
	})
}

// GetPublicURL resolves an artifact ID to its public URL.
func (s *Service) GetPublicURL(ctx context.Context, artifactID string) (string, error) {
	artifact, err := s.records.GetArtifact(ctx, artifactID)
	if err != nil {
		return "", fmt.Errorf("artifact not found: %s", artifactID)
	}
	if !artifact.IsPublic {
		return "", fmt.Errorf("artifact is not public: %s", artifactID)
	}
	return artifact.PublicURL, nil
}

// imageFilename derives a stable-enough filename from the source URL,
// falling back to the MIME extension.
func imageFilename(imageURL, mime string) string {
	base := path.Base(strings.SplitN(strings.SplitN(imageURL, "?", 2)[0], "#", 2)[0])
	if base != "" && base != "/" && base != "." && strings.Contains(base, ".") {
		return sanitizeFilename(base)
	}
	ext := ".png"
	switch mime {
	case "image/jpeg":
		ext = ".jpg"
	case "image/gif":
		ext = ".gif"
	case "image/webp":
		ext = ".webp"
	}
	return fmt.Sprintf("image_%d%s", time.Now().UnixNano(), ext)
}

var filenameSanitizer = strings.NewReplacer(" ", "_", "\\", "_", "/", "_", ":", "_")

func sanitizeFilename(name string) string {
	return filenameSanitizer.Replace(name)
}
