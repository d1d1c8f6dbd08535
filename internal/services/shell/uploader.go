// -----------------------------------------------------------------------
// Workspace Uploader
// Pushes declared shell-step outputs to object storage after a batch
// -----------------------------------------------------------------------

package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/interfaces"
)

// manifestName is the file a shell batch writes to declare its outputs
// under upload_mode=manifest.
const manifestName = "outputs.json"

// maxUploadFileSize caps individual uploaded files.
const maxUploadFileSize = 50 * 1024 * 1024

// UploadedFile describes one file pushed to object storage.
type UploadedFile struct {
	LocalPath string `json:"local_path"`
	Key       string `json:"key"`
	PublicURL string `json:"public_url"`
	Size      int64  `json:"size"`
}

// Uploader scans a workspace after a shell batch and uploads declared
// outputs. The upload mode selects the scan strategy:
//
//	manifest - read outputs.json ({"files": ["path", ...]})
//	dist     - upload everything under dist/
//	build    - upload everything under build/
//	all      - upload the whole workspace
type Uploader struct {
	store          interfaces.ObjectStore
	workRoot       string
	mode           string
	prefixTemplate string
	logger         arbor.ILogger
}

// NewUploader creates a workspace uploader. Returns nil when no upload
// mode is configured.
func NewUploader(store interfaces.ObjectStore, config *common.ShellConfig, logger arbor.ILogger) *Uploader {
	if config.UploadMode == "" {
		return nil
	}
	prefix := config.UploadPrefixTemplate
	if prefix == "" {
		prefix = "{tenant_id}/jobs/{job_id}/shell"
	}
	return &Uploader{
		store:          store,
		workRoot:       config.WorkRoot,
		mode:           config.UploadMode,
		prefixTemplate: prefix,
		logger:         logger,
	}
}

// UploadOutputs collects and uploads the workspace's declared outputs.
// Missing manifests or scan directories are not errors; the batch simply
// produced nothing to upload.
func (u *Uploader) UploadOutputs(ctx context.Context, workspaceID, tenantID, jobID string) ([]UploadedFile, error) {
	if u == nil {
		return nil, nil
	}

	workspace := filepath.Join(u.workRoot, workspaceID)
	files, err := u.collectFiles(workspace)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	prefix := u.keyPrefix(tenantID, jobID)
	var uploaded []UploadedFile
	for _, local := range files {
		rel, err := filepath.Rel(workspace, local)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}

		info, err := os.Stat(local)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Size() > maxUploadFileSize {
			u.logger.Warn().
				Str("file", rel).
				Int64("size", info.Size()).
				Msg("Skipping oversized shell output")
			continue
		}

		data, err := os.ReadFile(local)
		if err != nil {
			u.logger.Warn().Err(err).Str("file", rel).Msg("Failed to read shell output")
			continue
		}

		key := prefix + "/" + filepath.ToSlash(rel)
		if err := u.store.Put(ctx, key, data, ""); err != nil {
			return uploaded, fmt.Errorf("failed to upload shell output %s: %w", rel, err)
		}

		uploaded = append(uploaded, UploadedFile{
			LocalPath: rel,
			Key:       key,
			PublicURL: u.store.PublicURL(key),
			Size:      info.Size(),
		})
	}

	u.logger.Info().
		Int("files", len(uploaded)).
		Str("workspace", workspaceID).
		Msg("Shell outputs uploaded")

	return uploaded, nil
}

func (u *Uploader) keyPrefix(tenantID, jobID string) string {
	prefix := strings.ReplaceAll(u.prefixTemplate, "{tenant_id}", tenantID)
	prefix = strings.ReplaceAll(prefix, "{job_id}", jobID)
	return strings.Trim(prefix, "/")
}

func (u *Uploader) collectFiles(workspace string) ([]string, error) {
	switch u.mode {
	case "manifest":
		return u.readManifest(workspace)
	case "dist", "build":
		return walkDir(filepath.Join(workspace, u.mode))
	case "all":
		return walkDir(workspace)
	default:
		return nil, fmt.Errorf("unknown upload mode: %s", u.mode)
	}
}

// readManifest parses outputs.json and resolves declared paths against
// the workspace.
func (u *Uploader) readManifest(workspace string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(workspace, manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read output manifest: %w", err)
	}

	var manifest struct {
		Files []string `json:"files"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("invalid output manifest: %w", err)
	}

	var files []string
	for _, f := range manifest.Files {
		clean := filepath.Clean("/" + f)
		files = append(files, filepath.Join(workspace, clean))
	}
	return files, nil
}

func walkDir(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
