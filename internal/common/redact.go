package common

import (
	"regexp"
	"strings"
)

// Secret-shaped substrings are replaced before anything reaches the
// execution trace. Patterns cover common provider key formats and
// bearer-token headers.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_\-]{20,}`),
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_\-]{20,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.~+/]{16,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`xox[baprs]-[A-Za-z0-9\-]{10,}`),
	regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`),
}

const redactedPlaceholder = "[REDACTED]"

// RedactSecrets replaces known secret-shaped substrings in s.
func RedactSecrets(s string) string {
	for _, p := range secretPatterns {
		s = p.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}

// RedactMap applies RedactSecrets to every string value of a generic map,
// recursing into nested maps and slices. Used on provider request dumps
// before they are persisted as trace input.
func RedactMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			out[k] = redactedPlaceholder
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return RedactSecrets(val)
	case map[string]interface{}:
		return RedactMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(k string) bool {
	lk := strings.ToLower(k)
	return strings.Contains(lk, "api_key") ||
		strings.Contains(lk, "apikey") ||
		strings.Contains(lk, "secret") ||
		strings.Contains(lk, "password") ||
		lk == "authorization"
}
