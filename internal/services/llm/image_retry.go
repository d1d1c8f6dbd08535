// -----------------------------------------------------------------------
// Image-Retry Recovery
// One-shot recovery for model calls failed by image download errors
// -----------------------------------------------------------------------

package llm

import (
	"context"
	"regexp"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/services/images"
)

// maxImageRetries bounds recovery attempts per call.
const maxImageRetries = 3

var urlInErrorPattern = regexp.MustCompile(`https?://[^\s'"<>)\]}]+`)

// ExtractFailedImageURL pulls the offending URL out of a provider error
// message, or "" when the error is not image-related.
func ExtractFailedImageURL(err error) string {
	if err == nil {
		return ""
	}
	return urlInErrorPattern.FindString(err.Error())
}

// CallWithImageRetry invokes the provider and recovers from
// image-download failures: first by substituting the failing URL with a
// base64 data URL downloaded locally, then by removing the image
// entirely. A non-URL error terminates recovery immediately.
func CallWithImageRetry(ctx context.Context, provider interfaces.ModelProvider, req *interfaces.ModelRequest, pipeline *images.Pipeline, logger arbor.ILogger) (*interfaces.ModelResponse, error) {
	var lastErr error
	substituted := make(map[string]bool)

	for attempt := 0; attempt <= maxImageRetries; attempt++ {
		resp, err := provider.CreateResponse(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		failedURL := ExtractFailedImageURL(err)
		if failedURL == "" {
			return nil, err
		}

		if !substituted[failedURL] && pipeline != nil {
			substituted[failedURL] = true
			if dataURL, dlErr := pipeline.DownloadAsBase64(ctx, failedURL); dlErr == nil {
				if replaceImageURL(req, failedURL, dataURL) {
					logger.Warn().
						Str("url", failedURL).
						Msg("Substituted failing image with base64 and retrying")
					continue
				}
			} else {
				logger.Warn().Err(dlErr).
					Str("url", failedURL).
					Msg("Failed to download failing image for substitution")
			}
		}

		if removeImageURL(req, failedURL) {
			logger.Warn().
				Str("url", failedURL).
				Msg("Removed failing image and retrying")
			continue
		}

		// URL not present in the input; nothing left to recover.
		return nil, err
	}

	return nil, lastErr
}

// replaceImageURL swaps one input_image URL in place. Returns false when
// the URL is not found.
func replaceImageURL(req *interfaces.ModelRequest, from, to string) bool {
	return editImageInputs(req, func(c *interfaces.InputContent) bool {
		if c.ImageURL == from {
			c.ImageURL = to
			return true
		}
		return false
	})
}

// removeImageURL drops the input_image items carrying the URL.
func removeImageURL(req *interfaces.ModelRequest, target string) bool {
	messages, ok := req.Input.([]interface{})
	if !ok {
		return false
	}
	removed := false
	for i, raw := range messages {
		msg, ok := raw.(interfaces.InputMessage)
		if !ok {
			continue
		}
		kept := msg.Content[:0]
		for _, c := range msg.Content {
			if c.Type == "input_image" && c.ImageURL == target {
				removed = true
				continue
			}
			kept = append(kept, c)
		}
		msg.Content = kept
		messages[i] = msg
	}
	return removed
}

func editImageInputs(req *interfaces.ModelRequest, edit func(*interfaces.InputContent) bool) bool {
	messages, ok := req.Input.([]interface{})
	if !ok {
		return false
	}
	edited := false
	for i, raw := range messages {
		msg, ok := raw.(interfaces.InputMessage)
		if !ok {
			continue
		}
		for j := range msg.Content {
			if msg.Content[j].Type != "input_image" {
				continue
			}
			if edit(&msg.Content[j]) {
				edited = true
			}
		}
		messages[i] = msg
	}
	return edited
}
