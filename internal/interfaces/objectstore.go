package interfaces

import (
	"context"
	"time"
)

// ObjectStore is the blob storage surface the engine consumes. Keys follow
// the persistence layout: {tenant_id}/jobs/{job_id}/{filename} for
// artifacts, jobs/{job_id}/execution_steps.json for traces.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error

	// BlobURL returns the internal storage URL (storage://bucket/key).
	BlobURL(key string) string

	// PublicURL returns a CDN URL when configured, else a durable direct URL.
	PublicURL(key string) string

	// PresignGet returns a time-limited direct URL for private blobs.
	PresignGet(key string, ttl time.Duration) (string, error)

	// IsStoreURL reports whether a URL already points into this store
	// (directly or via the CDN), so uploads of our own URLs can be skipped.
	IsStoreURL(url string) bool

	// KeyFromURL extracts the object key from a store URL; ok is false when
	// the URL does not point into this store.
	KeyFromURL(url string) (key string, ok bool)
}
