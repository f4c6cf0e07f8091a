package gateway

import (
	"encoding/json"
	"strings"

	"llmgate/internal/storage"
)

const (
	FormatText = "text"
	FormatDict = "dict"
)

// Coerce turns raw provider text into the requested result shape. Text format
// passes the reply through unmodified. Dict format strips an optional fenced
// code-block wrapper and parses the remainder as JSON; parse failure surfaces
// a ResponseFormatError rather than degrading silently.
func Coerce(raw, format string) (storage.ResultValue, error) {
	if format != FormatDict {
		return storage.TextResult(raw), nil
	}

	cleaned := stripFences(raw)
	if !json.Valid([]byte(cleaned)) {
		return storage.ResultValue{}, &ResponseFormatError{Cleaned: cleaned}
	}
	return storage.JSONResult(json.RawMessage(cleaned)), nil
}

// stripFences removes a leading fence line and a trailing fence line. The two
// are independent: either, both, or neither may be present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		} else {
			s = ""
		}
	}

	if i := strings.LastIndex(s, "\n"); i >= 0 {
		if strings.HasPrefix(strings.TrimSpace(s[i+1:]), "```") {
			s = s[:i]
		}
	} else if strings.HasPrefix(strings.TrimSpace(s), "```") {
		s = ""
	}

	return strings.TrimSpace(s)
}
