package shared

import (
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

const (
	truncatedSuffix = "...(truncated)"
	redacted        = "***REDACTED***"
)

var secretKeys = map[string]struct{}{
	"apikey":       {},
	"api_key":      {},
	"x-api-key":    {},
	"whisparr_key": {},
	"password":     {},
}

// TruncatePath shortens p for display by keeping its last max-3 characters behind
// a leading "...". Paths within the limit are returned unchanged.
func TruncatePath(p string, max int) string {
	runes := []rune(p)
	if max <= 0 || len(runes) <= max {
		return p
	}
	if max <= 3 {
		return string(runes[len(runes)-max:])
	}
	return "..." + string(runes[len(runes)-(max-3):])
}

// PreviewBody renders a request or response body for logging. JSON payloads have
// credential fields redacted; anything longer than max characters is cut and
// suffixed with "...(truncated)". The input slice is never modified.
func PreviewBody(body []byte, max int) string {
	if len(body) == 0 {
		return ""
	}

	text := string(body)
	var decoded any
	if err := json.Unmarshal(body, &decoded); err == nil {
		if redactSecrets(decoded) {
			if out, err := json.Marshal(decoded); err == nil {
				text = string(out)
			}
		}
	}
	return truncateText(text, max)
}

// truncateText cuts text to at most max bytes without splitting a rune.
func truncateText(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + truncatedSuffix
}

// redactSecrets walks decoded JSON and blanks credential values in place,
// reporting whether anything changed.
func redactSecrets(v any) bool {
	changed := false
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			if _, ok := secretKeys[strings.ToLower(k)]; ok {
				node[k] = redacted
				changed = true
				continue
			}
			if redactSecrets(child) {
				changed = true
			}
		}
	case []any:
		for _, child := range node {
			if redactSecrets(child) {
				changed = true
			}
		}
	}
	return changed
}
