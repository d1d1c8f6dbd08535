package models

import "time"

// ArtifactKind distinguishes what an artifact holds.
type ArtifactKind string

const (
	ArtifactKindText          ArtifactKind = "text"
	ArtifactKindMarkdown      ArtifactKind = "markdown"
	ArtifactKindHTML          ArtifactKind = "html"
	ArtifactKindImage         ArtifactKind = "image"
	ArtifactKindScreenshot    ArtifactKind = "screenshot"
	ArtifactKindHTMLFinal     ArtifactKind = "html_final"
	ArtifactKindMarkdownFinal ArtifactKind = "markdown_final"
	ArtifactKindTextFinal     ArtifactKind = "text_final"
	ArtifactKindPDFFinal      ArtifactKind = "pdf_final"
)

// Artifact is an immutable blob written during step execution or at
// finalization. PublicURL prefers the CDN when configured, else a durable
// direct URL.
type Artifact struct {
	ID        string       `json:"artifact_id"`
	TenantID  string       `json:"tenant_id"`
	JobID     string       `json:"job_id"`
	Kind      ArtifactKind `json:"kind"`
	Name      string       `json:"name"`
	BlobKey   string       `json:"blob_key"`
	BlobURL   string       `json:"blob_url"`
	PublicURL string       `json:"public_url"`
	IsPublic  bool         `json:"is_public"`
	Size      int64        `json:"size"`
	MIME      string       `json:"mime"`
	CreatedAt time.Time    `json:"created_at"`
}

// IsImage reports whether the artifact holds image bytes.
func (a *Artifact) IsImage() bool {
	return a.Kind == ArtifactKindImage || a.Kind == ArtifactKindScreenshot
}

// IsHTML reports whether the artifact holds an HTML document.
func (a *Artifact) IsHTML() bool {
	return a.Kind == ArtifactKindHTML || a.Kind == ArtifactKindHTMLFinal
}

// IsMarkdown reports whether the artifact holds markdown.
func (a *Artifact) IsMarkdown() bool {
	return a.Kind == ArtifactKindMarkdown || a.Kind == ArtifactKindMarkdownFinal
}
