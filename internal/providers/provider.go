package providers

import (
	"context"
	"encoding/json"
)

type ChatRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
}

type ChatResponse struct {
	Text string
	// Usage is the provider-reported usage object from the response envelope,
	// verbatim. Empty when the provider reports none.
	Usage json.RawMessage
}

type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// CallError reports a failed outbound provider call: transport failure,
// non-success status, or an unrecognizable reply envelope. Detail carries the
// upstream diagnostic text.
type CallError struct {
	Provider string
	Detail   string
	Err      error
}

func (e *CallError) Error() string {
	if e.Detail != "" {
		return "provider call failed (" + e.Provider + "): " + e.Detail
	}
	return "provider call failed (" + e.Provider + ")"
}

func (e *CallError) Unwrap() error {
	return e.Err
}
