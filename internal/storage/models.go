package storage

import (
	"bytes"
	"encoding/json"
)

// TimeLayout is the fixed-width UTC timestamp format stored in the logs table.
// Fixed fractional digits keep lexicographic string order identical to
// chronological order, which the date-range filters rely on.
const TimeLayout = "2006-01-02T15:04:05.000000"

type ResultKind int

const (
	ResultAbsent ResultKind = iota
	ResultText
	ResultJSON
)

// ResultValue holds the outcome of a generation attempt: nothing (failed
// attempt), plain text, or a structured JSON value.
type ResultValue struct {
	Kind ResultKind
	Text string
	JSON json.RawMessage
}

func TextResult(s string) ResultValue {
	return ResultValue{Kind: ResultText, Text: s}
}

func JSONResult(raw json.RawMessage) ResultValue {
	return ResultValue{Kind: ResultJSON, JSON: raw}
}

func (v ResultValue) IsAbsent() bool {
	return v.Kind == ResultAbsent
}

func (v ResultValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ResultText:
		return json.Marshal(v.Text)
	case ResultJSON:
		if len(v.JSON) == 0 {
			return []byte("null"), nil
		}
		return v.JSON, nil
	default:
		return []byte("null"), nil
	}
}

func (v *ResultValue) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = ResultValue{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = TextResult(s)
		return nil
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	*v = JSONResult(raw)
	return nil
}

// LogEntry is one durable record of a generation attempt. Exactly one of
// Response/Error is meaningfully populated, depending on the outcome.
type LogEntry struct {
	ID         int64           `json:"id"`
	Timestamp  string          `json:"timestamp"`
	Model      string          `json:"model"`
	Prompt     string          `json:"prompt"`
	Response   ResultValue     `json:"response"`
	DurationMs float64         `json:"duration_ms"`
	Error      *string         `json:"error"`
	Metadata   json.RawMessage `json:"metadata"`
	Locked     bool            `json:"locked"`
	Tag        *string         `json:"tag"`
}

// NewLog carries the caller-supplied fields of a log append; id and timestamp
// are assigned by the store.
type NewLog struct {
	Model      string
	Prompt     string
	Response   ResultValue
	DurationMs float64
	Error      *string
	Metadata   json.RawMessage
	Tag        *string
}

// Filter narrows list/count queries. Zero values impose no constraint.
// Start and End are inclusive ISO-8601 bounds compared against the stored
// timestamp as strings.
type Filter struct {
	Start string
	End   string
	Tag   string
}
