// -----------------------------------------------------------------------
// Filesystem Object Store
// Blob storage backend with S3-compatible key/URL semantics
// -----------------------------------------------------------------------

package filestore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/common"
)

// Store implements interfaces.ObjectStore over a local directory tree.
// Keys map 1:1 onto relative file paths; a sidecar ".meta" file records the
// content type so Get round-trips MIME information.
type Store struct {
	root      string
	bucket    string
	region    string
	cdnDomain string
	baseURL   string
	signKey   []byte
	logger    arbor.ILogger
}

// New creates a filesystem object store rooted at config.Path.
func New(config *common.ObjectDirConfig, logger arbor.ILogger) (*Store, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("object store path is required")
	}
	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create object store directory: %w", err)
	}

	bucket := config.Bucket
	if bucket == "" {
		bucket = "magnet-artifacts"
	}
	region := config.Region
	if region == "" {
		region = "us-east-1"
	}

	logger.Info().
		Str("path", config.Path).
		Str("bucket", bucket).
		Str("cdn_domain", config.CDNDomain).
		Msg("Filesystem object store initialized")

	return &Store{
		root:      config.Path,
		bucket:    bucket,
		region:    region,
		cdnDomain: config.CDNDomain,
		baseURL:   strings.TrimSuffix(config.BaseURL, "/"),
		signKey:   []byte(bucket + "|" + region),
		logger:    logger,
	}, nil
}

// keyPath maps an object key to its file path, rejecting traversal.
func (s *Store) keyPath(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("invalid object key: %s", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	// Write via temp file then rename so a trace rewrite is a single
	// atomic replacement.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize blob: %w", err)
	}

	if contentType != "" {
		if err := os.WriteFile(path+".meta", []byte(contentType), 0644); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Failed to write blob metadata")
		}
	}

	s.logger.Debug().
		Str("key", key).
		Int("size", len(data)).
		Str("content_type", contentType).
		Msg("Blob stored")

	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob not found: %s", key)
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat blob: %w", err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	os.Remove(path + ".meta")
	return nil
}

// BlobURL returns the internal storage URL for a key.
func (s *Store) BlobURL(key string) string {
	return fmt.Sprintf("storage://%s/%s", s.bucket, strings.TrimPrefix(key, "/"))
}

// PublicURL prefers the CDN domain, then the configured base URL, then the
// bucket-style durable direct URL.
func (s *Store) PublicURL(key string) string {
	key = strings.TrimPrefix(key, "/")
	if s.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", s.cdnDomain, key)
	}
	if s.baseURL != "" {
		return fmt.Sprintf("%s/%s", s.baseURL, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// PresignGet returns a time-limited URL carrying an HMAC signature over
// key and expiry.
func (s *Store) PresignGet(key string, ttl time.Duration) (string, error) {
	key = strings.TrimPrefix(key, "/")
	expires := time.Now().Add(ttl).Unix()
	mac := hmac.New(sha256.New, s.signKey)
	fmt.Fprintf(mac, "%s:%d", key, expires)
	sig := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("%s?expires=%d&signature=%s", s.PublicURL(key), expires, sig), nil
}

// IsStoreURL reports whether a URL points into this store directly or via
// the CDN.
func (s *Store) IsStoreURL(url string) bool {
	_, ok := s.KeyFromURL(url)
	return ok
}

// KeyFromURL extracts the object key from a store URL.
func (s *Store) KeyFromURL(url string) (string, bool) {
	prefixes := []string{
		fmt.Sprintf("storage://%s/", s.bucket),
		fmt.Sprintf("https://%s.s3.%s.amazonaws.com/", s.bucket, s.region),
	}
	if s.cdnDomain != "" {
		prefixes = append(prefixes, fmt.Sprintf("https://%s/", s.cdnDomain))
	}
	if s.baseURL != "" {
		prefixes = append(prefixes, s.baseURL+"/")
	}
	for _, p := range prefixes {
		if strings.HasPrefix(url, p) {
			key := strings.TrimPrefix(url, p)
			if i := strings.IndexAny(key, "?#"); i >= 0 {
				key = key[:i]
			}
			return key, key != ""
		}
	}
	return "", false
}
