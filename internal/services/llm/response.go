// -----------------------------------------------------------------------
// Model Response Processing
// Harvests image URLs and rewrites base64 assets out of responses
// -----------------------------------------------------------------------

package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/interfaces"
)

// ImageSink uploads raw image bytes and returns a public URL. The LLM
// layer stays ignorant of artifact bookkeeping; callers bind the sink to a
// job's artifact prefix.
type ImageSink func(ctx context.Context, data []byte, mime string) (string, error)

// HarvestImageURLs walks a response's output items and collects every
// generated-image URL. Base64 results (image_generation_call items) are
// uploaded through the sink and replaced by their public URLs. URLs are
// deduplicated by canonical form preserving first-seen order.
func HarvestImageURLs(ctx context.Context, resp *interfaces.ModelResponse, sink ImageSink, logger arbor.ILogger) []string {
	var urls []string

	for _, item := range resp.Output {
		switch item.Type {
		case "image_generation_call":
			if u := resolveBase64OrURL(ctx, item, sink, logger); u != "" {
				urls = append(urls, u)
			}
		case "image":
			urls = append(urls, firstNonEmpty(item.ImageURL, item.URL))
		case "tool_call":
			urls = append(urls, firstNonEmpty(item.ImageURL, item.URL))
			if u := rawString(item.Raw, "image_url"); u != "" {
				urls = append(urls, u)
			}
		case "computer_screenshot", "computer_use_call":
			if u := firstNonEmpty(item.URL, item.ImageURL); u != "" {
				urls = append(urls, u)
			} else if u := resolveBase64OrURL(ctx, item, sink, logger); u != "" {
				urls = append(urls, u)
			}
		case "message":
			for _, c := range item.Content {
				urls = append(urls, firstNonEmpty(c.ImageURL, c.URL))
			}
		}
	}

	return dedupeCanonical(urls)
}

// resolveBase64OrURL prefers a URL field, falling back to uploading the
// base64 result payload.
func resolveBase64OrURL(ctx context.Context, item interfaces.OutputItem, sink ImageSink, logger arbor.ILogger) string {
	if u := firstNonEmpty(item.URL, item.ImageURL); u != "" {
		return u
	}
	payload := item.Result
	if payload == "" {
		payload = rawString(item.Raw, "result")
	}
	if payload == "" || sink == nil {
		return ""
	}

	mime := "image/png"
	if strings.HasPrefix(payload, "data:") {
		var ok bool
		mime, payload, ok = splitDataURL(payload)
		if !ok {
			return ""
		}
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		logger.Warn().Err(err).Str("item_type", item.Type).Msg("Failed to decode base64 image result")
		return ""
	}
	u, err := sink(ctx, data, mime)
	if err != nil {
		logger.Warn().Err(err).Str("item_type", item.Type).Msg("Failed to upload generated image")
		return ""
	}
	return u
}

// RewriteBase64Assets scans a JSON output document for embedded base64
// assets ({assets:[{encoding:"base64", content_type:"image/...",
// data:"..."}]}), uploads each through the sink and rewrites the document
// with the substituted URLs. Non-JSON or asset-free documents are returned
// unchanged.
func RewriteBase64Assets(ctx context.Context, text string, sink ImageSink, logger arbor.ILogger) (string, []string) {
	trimmed := strings.TrimSpace(text)
	if sink == nil || !strings.HasPrefix(trimmed, "{") {
		return text, nil
	}

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return text, nil
	}
	rawAssets, ok := doc["assets"].([]interface{})
	if !ok || len(rawAssets) == 0 {
		return text, nil
	}

	var urls []string
	rewritten := false
	for _, raw := range rawAssets {
		asset, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		encoding, _ := asset["encoding"].(string)
		contentType, _ := asset["content_type"].(string)
		data, _ := asset["data"].(string)
		if encoding != "base64" || data == "" || !strings.HasPrefix(contentType, "image/") {
			continue
		}

		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to decode base64 asset")
			continue
		}
		u, err := sink(ctx, decoded, contentType)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to upload base64 asset")
			continue
		}

		asset["encoding"] = "url"
		asset["url"] = u
		delete(asset, "data")
		urls = append(urls, u)
		rewritten = true
	}

	if !rewritten {
		return text, nil
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return text, urls
	}
	return string(out), urls
}

// dedupeCanonical removes duplicate URLs by canonical form (fragment
// stripped, whitespace trimmed) preserving first-seen order.
func dedupeCanonical(urls []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		key := raw
		if u, err := url.Parse(raw); err == nil {
			u.Fragment = ""
			key = u.String()
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, raw)
	}
	return out
}

func splitDataURL(s string) (mime, payload string, ok bool) {
	rest := strings.TrimPrefix(s, "data:")
	i := strings.Index(rest, ";base64,")
	if i < 0 {
		return "", "", false
	}
	return rest[:i], rest[i+len(";base64,"):], true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func rawString(raw map[string]interface{}, key string) string {
	if raw == nil {
		return ""
	}
	s, _ := raw[key].(string)
	return s
}
