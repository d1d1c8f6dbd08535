package images

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

var pngBytes = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

func newTestPipeline() *Pipeline {
	return NewPipeline(DefaultPipelineConfig(), arbor.NewLogger())
}

func TestIsValidImageURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"https image", "https://example.com/chart.png", true},
		{"http image", "http://example.com/photo.jpg", true},
		{"no extension", "https://example.com/generated/abc123", true},
		{"data url rejected", "data:image/png;base64,iVBOR", false},
		{"ftp rejected", "ftp://example.com/a.png", false},
		{"empty", "", false},
		{"not a url", "::::", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidImageURL(tt.url))
		})
	}
}

func TestLooksLikeImage(t *testing.T) {
	assert.True(t, LooksLikeImage("https://example.com/a.png"))
	assert.True(t, LooksLikeImage("https://example.com/a.JPG?width=100"))
	assert.True(t, LooksLikeImage("https://example.com/a.webp#frag"))
	assert.False(t, LooksLikeImage("https://example.com/report.pdf"))
}

func TestHostClassification(t *testing.T) {
	assert.True(t, IsProblematicURL("https://firebasestorage.googleapis.com/v0/b/x/o/img.png?token=abc"))
	assert.True(t, IsProblematicURL("https://www.dropbox.com/s/abc/img.png"))
	assert.False(t, IsProblematicURL("https://example.com/img.png"))

	assert.True(t, IsHostileURL("https://oaidalleapiprodscus.blob.core.windows.net/private/img.png"))
	assert.False(t, IsHostileURL("https://example.com/img.png"))
}

func TestDetectImageMIME(t *testing.T) {
	assert.Equal(t, "image/png", DetectImageMIME(pngBytes))
	assert.Equal(t, "image/jpeg", DetectImageMIME([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0}))
	assert.Equal(t, "image/gif", DetectImageMIME([]byte("GIF89a......")))
	assert.Equal(t, "", DetectImageMIME([]byte("<html></html>")))
	assert.Equal(t, "", DetectImageMIME(nil))
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(pngBytes)
	}))
	defer srv.Close()

	data, mime, err := newTestPipeline().Download(context.Background(), srv.URL+"/img")
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
	// Magic bytes win over the generic content type.
	assert.Equal(t, "image/png", mime)
}

func TestDownloadRejectsEmptyAndErrorBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/empty":
			w.WriteHeader(http.StatusOK)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := newTestPipeline()
	_, _, err := p.Download(context.Background(), srv.URL+"/empty")
	assert.Error(t, err)

	_, _, err = p.Download(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)
}

func TestDownloadAsBase64(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	}))
	defer srv.Close()

	dataURL, err := newTestPipeline().DownloadAsBase64(context.Background(), srv.URL+"/img.png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dataURL, "data:image/png;base64,"))
}

func TestPrepareInputsFiltersAndDedupes(t *testing.T) {
	urls := []string{
		"https://example.com/a.png",
		"data:image/png;base64,AAAA",
		"https://example.com/b.png",
		"https://example.com/a.png",
		"https://oaidalleapiprodscus.blob.core.windows.net/x.png",
	}

	got := newTestPipeline().PrepareInputs(context.Background(), urls)
	assert.Equal(t, []string{
		"https://example.com/a.png",
		"https://example.com/b.png",
	}, got)
}

func TestPrepareInputsSubstitutesProblematicInPlace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	}))
	defer srv.Close()

	p := NewPipeline(DefaultPipelineConfig(), arbor.NewLogger())
	p.client = srv.Client()
	p.problematic = func(raw string) bool { return strings.Contains(raw, "/tokenized/") }

	urls := []string{
		"https://example.com/first.png",
		srv.URL + "/tokenized/second.png",
		"https://example.com/third.png",
	}

	got := p.PrepareInputs(context.Background(), urls)
	require.Len(t, got, 3)
	assert.Equal(t, urls[0], got[0])
	assert.True(t, strings.HasPrefix(got[1], "data:image/png;base64,"), "problematic URL should be substituted in place")
	assert.Equal(t, urls[2], got[2])
}
