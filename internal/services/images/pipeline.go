// -----------------------------------------------------------------------
// Image Pipeline
// Validates, downloads and base64-converts image URLs for model input
// -----------------------------------------------------------------------

package images

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

// PipelineConfig holds configuration for the image pipeline.
type PipelineConfig struct {
	// MaxImageSize is the maximum image size to download (default: 10MB)
	MaxImageSize int64

	// DownloadTimeout bounds each image fetch (default: 30s)
	DownloadTimeout time.Duration

	// UserAgent for HTTP requests
	UserAgent string
}

// DefaultPipelineConfig returns sensible defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxImageSize:    10 * 1024 * 1024,
		DownloadTimeout: 30 * time.Second,
		UserAgent:       "Magnet/1.0",
	}
}

// problematicHosts are providers whose URLs the model cannot fetch itself
// (tokenized links, auth walls). Their images are pre-downloaded to base64
// before being sent.
var problematicHosts = []string{
	"firebasestorage.googleapis.com",
	"firebasestorage.app",
	"drive.google.com",
	"dropbox.com",
}

// hostileHosts are provider-origin CDNs that reject our downloads outright.
// URLs on these hosts are skipped entirely.
var hostileHosts = []string{
	"oaidalleapiprodscus.blob.core.windows.net",
	"openai-labs-public-images-prod.azureedge.net",
}

var imageExtPattern = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|webp|bmp|svg)($|[?#])`)

// Pipeline validates and converts image URLs.
type Pipeline struct {
	config PipelineConfig
	client *http.Client
	logger arbor.ILogger

	// problematic classifies URLs needing pre-download; overridable in tests.
	problematic func(string) bool
}

// NewPipeline creates an image pipeline.
func NewPipeline(config PipelineConfig, logger arbor.ILogger) *Pipeline {
	if config.MaxImageSize <= 0 {
		config.MaxImageSize = DefaultPipelineConfig().MaxImageSize
	}
	if config.DownloadTimeout <= 0 {
		config.DownloadTimeout = DefaultPipelineConfig().DownloadTimeout
	}
	return &Pipeline{
		config:      config,
		client:      &http.Client{Timeout: config.DownloadTimeout},
		logger:      logger,
		problematic: IsProblematicURL,
	}
}

// IsValidImageURL reports whether a URL is acceptable as a model image
// input: HTTP(S) only (data URLs are rejected at this layer to prevent
// oversized payloads), and best-effort looks like an image. A missing
// extension does not reject the URL.
func IsValidImageURL(raw string) bool {
	if raw == "" {
		return false
	}
	if strings.HasPrefix(raw, "data:") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// LooksLikeImage is a best-effort extension check; non-rejecting on a
// missing extension.
func LooksLikeImage(raw string) bool {
	return imageExtPattern.MatchString(raw)
}

// IsProblematicURL reports whether the URL's host is known to be
// inaccessible to the provider and must be pre-downloaded.
func IsProblematicURL(raw string) bool {
	return hostMatches(raw, problematicHosts)
}

// IsHostileURL reports whether the URL's host rejects downloads and the
// URL must be skipped entirely.
func IsHostileURL(raw string) bool {
	return hostMatches(raw, hostileHosts)
}

func hostMatches(raw string, hosts []string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, h := range hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// DetectImageMIME returns the canonical MIME for known magic bytes, or ""
// when the bytes are not a recognized image format.
func DetectImageMIME(data []byte) string {
	switch {
	case len(data) >= 8 &&
		data[0] == 0x89 && data[1] == 'P' && data[2] == 'N' && data[3] == 'G':
		return "image/png"
	case len(data) >= 3 &&
		data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case len(data) >= 6 &&
		string(data[0:4]) == "GIF8":
		return "image/gif"
	case len(data) >= 12 &&
		string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "image/webp"
	}
	return ""
}

// DownloadAsBase64 fetches an image URL and returns a
// data:<mime>;base64,<...> URL. Empty, oversized or non-image bodies are
// rejected.
func (p *Pipeline) DownloadAsBase64(ctx context.Context, imageURL string) (string, error) {
	data, mime, err := p.Download(ctx, imageURL)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)), nil
}

// Download fetches an image URL and returns the raw bytes plus the
// canonical MIME derived from magic bytes (falling back to the HTTP
// content type).
func (p *Pipeline) Download(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("invalid image URL %s: %w", imageURL, err)
	}
	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image %s: %w", imageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image download returned status %d for %s", resp.StatusCode, imageURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.config.MaxImageSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image body: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("image download returned empty body for %s", imageURL)
	}
	if int64(len(data)) > p.config.MaxImageSize {
		return nil, "", fmt.Errorf("image exceeds max size %d bytes: %s", p.config.MaxImageSize, imageURL)
	}

	mime := DetectImageMIME(data)
	if mime == "" {
		ct := resp.Header.Get("Content-Type")
		if !strings.HasPrefix(ct, "image/") {
			return nil, "", fmt.Errorf("downloaded content is not an image (content-type %q) for %s", ct, imageURL)
		}
		if i := strings.Index(ct, ";"); i >= 0 {
			ct = ct[:i]
		}
		mime = strings.TrimSpace(ct)
	}

	return data, mime, nil
}

// PrepareInputs filters and converts a list of candidate image URLs for
// model input. Data URLs are dropped, hostile hosts are skipped,
// problematic hosts are substituted in place with base64 data URLs, and
// duplicates are removed preserving first-seen order.
func (p *Pipeline) PrepareInputs(ctx context.Context, urls []string) []string {
	seen := make(map[string]bool)
	var out []string

	for _, raw := range urls {
		if !IsValidImageURL(raw) {
			p.logger.Debug().Str("url", truncateURL(raw)).Msg("Skipping invalid image input")
			continue
		}
		if IsHostileURL(raw) {
			p.logger.Debug().Str("url", truncateURL(raw)).Msg("Skipping image on hostile host")
			continue
		}
		if seen[raw] {
			continue
		}
		seen[raw] = true

		if p.problematic(raw) {
			dataURL, err := p.DownloadAsBase64(ctx, raw)
			if err != nil {
				p.logger.Warn().Err(err).Str("url", truncateURL(raw)).
					Msg("Failed to pre-download problematic image, dropping")
				continue
			}
			out = append(out, dataURL)
			continue
		}

		out = append(out, raw)
	}

	return out
}

func truncateURL(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
