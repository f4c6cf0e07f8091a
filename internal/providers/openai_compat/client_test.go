package openai_compat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"llmgate/internal/providers"
)

func TestBuildPayload(t *testing.T) {
	c := New(Config{BaseURL: "https://openrouter.ai/api/v1"})

	body, endpoint, err := c.buildPayload(providers.ChatRequest{
		Model:        "gpt-4o",
		SystemPrompt: "You are concise",
		UserPrompt:   "hello",
		Temperature:  0.7,
	})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	if endpoint != "https://openrouter.ai/api/v1/chat/completions" {
		t.Fatalf("unexpected endpoint %q", endpoint)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["model"] != "gpt-4o" {
		t.Fatalf("expected model gpt-4o, got %#v", payload["model"])
	}
	msgs, ok := payload["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("expected system+user messages, got %#v", payload["messages"])
	}
}

func TestChatParsesChoicesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi there"}}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`))
	}))
	defer srv.Close()

	c := New(Config{Provider: "openrouter", BaseURL: srv.URL, APIKey: "sk-test", HTTPClient: srv.Client()})
	resp, err := c.Chat(context.Background(), providers.ChatRequest{Model: "gpt-4o", UserPrompt: "hi"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Text != "hi there" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if !strings.Contains(string(resp.Usage), "prompt_tokens") {
		t.Fatalf("usage not captured: %q", resp.Usage)
	}
}

func TestChatParsesTopLevelMessageEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"content":"from ollama"}}`))
	}))
	defer srv.Close()

	c := New(Config{Provider: "ollama", BaseURL: srv.URL, HTTPClient: srv.Client()})
	resp, err := c.Chat(context.Background(), providers.ChatRequest{Model: "llama3", UserPrompt: "hi"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Text != "from ollama" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
}

func TestChatNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	c := New(Config{Provider: "openrouter", BaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err := c.Chat(context.Background(), providers.ChatRequest{Model: "gpt-4o", UserPrompt: "hi"})

	var callErr *providers.CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if !strings.Contains(callErr.Detail, "upstream exploded") {
		t.Fatalf("expected upstream diagnostic in detail, got %q", callErr.Detail)
	}
}

func TestChatUnrecognizedEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"unexpected":"shape"}`))
	}))
	defer srv.Close()

	c := New(Config{Provider: "openrouter", BaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err := c.Chat(context.Background(), providers.ChatRequest{Model: "gpt-4o", UserPrompt: "hi"})

	var callErr *providers.CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %v", err)
	}
}

func TestBuildEndpointURLKeepsFullPath(t *testing.T) {
	c := New(Config{BaseURL: "http://localhost:11434/v1/chat/completions"})
	u, err := c.buildEndpointURL()
	if err != nil {
		t.Fatalf("build endpoint: %v", err)
	}
	if u != "http://localhost:11434/v1/chat/completions" {
		t.Fatalf("unexpected endpoint %q", u)
	}
}
