// -----------------------------------------------------------------------
// S3 Upload Handler
// Pushes a prior step's content to an external bucket
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/models"
)

// S3UploadHandler executes s3_upload steps. It runs after a step that
// produced content; source resolution prefers the explicit output_config
// and falls back to a heuristic parse of the step instructions.
type S3UploadHandler struct {
	deps *Deps
}

// placeholderBuckets are rejected when parsed out of instructions; they
// are documentation examples, not real buckets.
var placeholderBuckets = map[string]bool{
	"bucket":         true,
	"my-bucket":      true,
	"mybucket":       true,
	"example-bucket": true,
	"your-bucket":    true,
	"bucket-name":    true,
	"test-bucket":    true,
}

var (
	s3URIPattern     = regexp.MustCompile(`(?i)upload(?:\s+\S+)*\s+to\s+s3://([a-z0-9][a-z0-9.-]{1,61}[a-z0-9])`)
	bucketPhrase     = regexp.MustCompile(`(?i)to\s+(?:the\s+)?([a-z0-9][a-z0-9.-]{1,61}[a-z0-9])\s+s3\s+bucket`)
	regionPattern    = regexp.MustCompile(`(?i)region\s+([a-z]{2}-[a-z]+-\d)`)
	unsafeFilename   = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

func (h *S3UploadHandler) Execute(ctx context.Context, ec *ExecContext, stepIndex int) (*models.StepOutput, error) {
	step := ec.Workflow.Steps[stepIndex]
	started := time.Now()

	cfg, err := h.resolveConfig(step)
	if err != nil {
		return nil, fmt.Errorf("s3 upload step %q: %w", step.Name, err)
	}

	data, filename, contentType, err := h.resolveSource(ec, stepIndex, cfg)
	if err != nil {
		return nil, fmt.Errorf("s3 upload step %q: %w", step.Name, err)
	}

	key := h.assembleKey(ec, cfg, filename)
	key, err = h.putWithCollisionHandling(ctx, key, data, contentType)

	record := newRecord(step, stepIndex, started)
	record.Input = map[string]interface{}{"bucket": cfg.Bucket, "key": key}
	record.DurationMS = time.Since(started).Milliseconds()

	if err != nil {
		record.Success = false
		record.Error = common.RedactSecrets(err.Error())
		if recErr := recordStep(ctx, h.deps, ec, record); recErr != nil {
			h.deps.Logger.Warn().Err(recErr).Msg("Failed to persist failed step record")
		}
		return nil, fmt.Errorf("s3 upload step %q failed: %w", step.Name, err)
	}

	publicURL := h.deps.Store.PublicURL(key)
	outputText := fmt.Sprintf("Uploaded %s to %s", filename, publicURL)

	record.Success = true
	record.Output = outputText
	if recErr := recordStep(ctx, h.deps, ec, record); recErr != nil {
		return nil, recErr
	}

	return &models.StepOutput{
		StepName:  step.Name,
		StepIndex: stepIndex,
		Output:    outputText,
		Extras: map[string]interface{}{
			"bucket": cfg.Bucket,
			"key":    key,
			"url":    publicURL,
		},
	}, nil
}

// resolveConfig prefers the explicit output_config, then parses the
// instructions, enforcing the bucket allow-list either way.
func (h *S3UploadHandler) resolveConfig(step models.Step) (*models.OutputConfig, error) {
	cfg := step.Output
	if cfg == nil || cfg.Bucket == "" {
		parsed, err := h.parseInstructions(step.Instructions)
		if err != nil {
			return nil, err
		}
		if cfg != nil {
			merged := *cfg
			merged.Bucket = parsed.Bucket
			if merged.Region == "" {
				merged.Region = parsed.Region
			}
			cfg = &merged
		} else {
			cfg = parsed
		}
	}

	if err := h.checkAllowList(cfg.Bucket); err != nil {
		return nil, err
	}
	if cfg.SourceType == "" {
		cfg.SourceType = "text_content"
	}
	return cfg, nil
}

// parseInstructions extracts bucket and region from phrases like
// "upload to s3://name" or "to name s3 bucket".
func (h *S3UploadHandler) parseInstructions(instructions string) (*models.OutputConfig, error) {
	var bucket string
	if m := s3URIPattern.FindStringSubmatch(instructions); m != nil {
		bucket = strings.ToLower(m[1])
	} else if m := bucketPhrase.FindStringSubmatch(instructions); m != nil {
		bucket = strings.ToLower(m[1])
	}
	if bucket == "" {
		return nil, fmt.Errorf("no destination bucket configured or named in instructions")
	}
	if placeholderBuckets[bucket] {
		return nil, fmt.Errorf("bucket %q looks like a placeholder name", bucket)
	}

	region := ""
	if m := regionPattern.FindStringSubmatch(instructions); m != nil {
		region = strings.ToLower(m[1])
	}

	return &models.OutputConfig{Bucket: bucket, Region: region}, nil
}

func (h *S3UploadHandler) checkAllowList(bucket string) error {
	allowed := h.deps.Config.Shell.AllowedBuckets
	if len(allowed) == 0 {
		return nil
	}
	for _, b := range allowed {
		if strings.EqualFold(b, bucket) {
			return nil
		}
	}
	return fmt.Errorf("bucket %q is not on the upload allow-list", bucket)
}

// resolveSource returns the bytes to upload: a dependency step's text
// output, or a workspace file.
func (h *S3UploadHandler) resolveSource(ec *ExecContext, stepIndex int, cfg *models.OutputConfig) ([]byte, string, string, error) {
	switch cfg.SourceType {
	case "text_content":
		out := h.latestDependencyOutput(ec, stepIndex)
		if out == nil || out.Output == "" {
			return nil, "", "", fmt.Errorf("no prior step output to upload")
		}
		filename := sanitizeUploadFilename(fmt.Sprintf("%s_output.md", out.StepName))
		contentType := cfg.ContentType
		if contentType == "" {
			contentType = "text/markdown; charset=utf-8"
		}
		return []byte(out.Output), filename, contentType, nil

	case "file":
		if cfg.SourcePath == "" {
			return nil, "", "", fmt.Errorf("source_type=file requires source_path")
		}
		data, err := os.ReadFile(cfg.SourcePath)
		if err != nil {
			return nil, "", "", fmt.Errorf("failed to read source file: %w", err)
		}
		parts := strings.Split(cfg.SourcePath, "/")
		return data, sanitizeUploadFilename(parts[len(parts)-1]), cfg.ContentType, nil

	default:
		return nil, "", "", fmt.Errorf("unknown source_type %q", cfg.SourceType)
	}
}

// latestDependencyOutput returns the highest-index dependency output,
// falling back to the highest-index completed step.
func (h *S3UploadHandler) latestDependencyOutput(ec *ExecContext, stepIndex int) *models.StepOutput {
	best := -1
	for _, idx := range ec.Dependencies[stepIndex] {
		if _, ok := ec.StepOutputs[idx]; ok && idx > best {
			best = idx
		}
	}
	if best < 0 {
		for idx := range ec.StepOutputs {
			if idx < stepIndex && idx > best {
				best = idx
			}
		}
	}
	if best < 0 {
		return nil
	}
	return ec.StepOutputs[best]
}

// assembleKey builds the object key under the tenant/job prefix, honoring
// an explicit destination_path template.
func (h *S3UploadHandler) assembleKey(ec *ExecContext, cfg *models.OutputConfig, filename string) string {
	if cfg.DestinationPath != "" {
		dest := strings.ReplaceAll(cfg.DestinationPath, "{job_id}", ec.Job.ID)
		dest = strings.ReplaceAll(dest, "{tenant_id}", ec.Job.TenantID)
		dest = strings.ReplaceAll(dest, "{filename}", filename)
		return strings.Trim(dest, "/")
	}
	return fmt.Sprintf("%s/jobs/%s/uploads/%s", ec.Job.TenantID, ec.Job.ID, filename)
}

// putWithCollisionHandling checks for an existing object first and
// appends an 8-char random suffix on collision. Any upload error gets one
// retry with a fresh suffix.
func (h *S3UploadHandler) putWithCollisionHandling(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	exists, err := h.deps.Store.Exists(ctx, key)
	if err == nil && exists {
		key = suffixKey(key)
	}

	if err := h.deps.Store.Put(ctx, key, data, contentType); err != nil {
		h.deps.Logger.Warn().Err(err).Str("key", key).Msg("Upload failed, retrying with fresh suffix")
		key = suffixKey(key)
		if err := h.deps.Store.Put(ctx, key, data, contentType); err != nil {
			return key, fmt.Errorf("upload failed after retry: %w", err)
		}
	}
	return key, nil
}

// suffixKey inserts an 8-char random suffix before the extension.
func suffixKey(key string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if dot := strings.LastIndex(key, "."); dot > strings.LastIndex(key, "/") {
		return key[:dot] + "_" + suffix + key[dot:]
	}
	return key + "_" + suffix
}

func sanitizeUploadFilename(name string) string {
	return unsafeFilename.ReplaceAllString(name, "_")
}
