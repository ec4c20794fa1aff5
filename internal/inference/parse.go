package inference

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const parsePreviewLimit = 280

// ParseError is a typed failure for model answers that could not be decoded.
// ErrorID is an opaque correlation id surfaced to users and logs so support
// can find the raw payload without exposing it.
type ParseError struct {
	ErrorID string
	Preview string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s (error_id=%s, preview=%q)", e.Reason, e.ErrorID, e.Preview)
}

func newParseError(reason, payload string) *ParseError {
	preview := strings.TrimSpace(payload)
	if len(preview) > parsePreviewLimit {
		preview = preview[:parsePreviewLimit] + "..."
	}
	return &ParseError{
		ErrorID: uuid.NewString(),
		Preview: preview,
		Reason:  reason,
	}
}

// StripCodeFences removes a ```json ... ``` (or bare ```) wrapper the model
// may put around its JSON answer. Stripping happens before any decoding.
func StripCodeFences(answer string) string {
	trimmed := strings.TrimSpace(answer)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
		language := strings.TrimSpace(trimmed[:newline])
		if language == "" || isFenceLanguage(language) {
			trimmed = trimmed[newline+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func isFenceLanguage(tag string) bool {
	switch strings.ToLower(tag) {
	case "json", "json5", "javascript", "js", "text":
		return true
	default:
		return false
	}
}
