package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"llmgate/internal/providers"
	"llmgate/internal/settings"
	"llmgate/internal/storage"
)

type stubProvider struct {
	text    string
	usage   json.RawMessage
	err     error
	lastReq providers.ChatRequest
}

func (p *stubProvider) Chat(_ context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	p.lastReq = req
	if p.err != nil {
		return providers.ChatResponse{}, p.err
	}
	return providers.ChatResponse{Text: p.text, Usage: p.usage}, nil
}

type staticSettings struct {
	snap settings.Snapshot
}

func (s staticSettings) Current() settings.Snapshot { return s.snap }

func newGatewayStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "logs.db"), true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestService(t *testing.T, store *storage.Store, stub *stubProvider, snap settings.Snapshot) *Service {
	t.Helper()
	return New(Config{
		Store:    store,
		Settings: staticSettings{snap: snap},
		Logger:   zerolog.Nop(),
		Build: func(providers.Resolved, *http.Client) providers.Provider {
			return stub
		},
	})
}

func lastLog(t *testing.T, store *storage.Store) storage.LogEntry {
	t.Helper()
	rows, err := store.ListLogs(context.Background(), 1, 0, storage.Filter{})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one log row, got %d", len(rows))
	}
	return rows[0]
}

func TestGenerateTextSuccess(t *testing.T) {
	store := newGatewayStore(t)
	stub := &stubProvider{text: "hello back", usage: json.RawMessage(`{"total_tokens":5}`)}
	svc := newTestService(t, store, stub, settings.Snapshot{})

	result, err := svc.Generate(context.Background(), Request{Model: "gpt-4o", Prompt: "say hi"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Kind != storage.ResultText || result.Text != "hello back" {
		t.Fatalf("unexpected result %+v", result)
	}

	e := lastLog(t, store)
	if e.Model != "gpt-4o" || e.Prompt != "say hi" {
		t.Fatalf("unexpected log row %+v", e)
	}
	if e.Error != nil {
		t.Fatalf("success must log a nil error, got %q", *e.Error)
	}
	if e.Response.Kind != storage.ResultText || e.Response.Text != "hello back" {
		t.Fatalf("unexpected logged response %+v", e.Response)
	}
	if e.DurationMs < 0 {
		t.Fatalf("duration must be non-negative, got %f", e.DurationMs)
	}

	var meta struct {
		Format string          `json:"format"`
		Schema *string         `json:"schema"`
		Usage  json.RawMessage `json:"usage"`
	}
	if err := json.Unmarshal(e.Metadata, &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if meta.Format != FormatText || meta.Schema != nil {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if !strings.Contains(string(meta.Usage), "total_tokens") {
		t.Fatalf("usage not captured verbatim: %q", meta.Usage)
	}
}

func TestGenerateProviderFailureLogsExactlyOnce(t *testing.T) {
	store := newGatewayStore(t)
	stub := &stubProvider{err: &providers.CallError{Provider: "openrouter", Detail: "status 502: bad upstream"}}
	svc := newTestService(t, store, stub, settings.Snapshot{})

	_, err := svc.Generate(context.Background(), Request{Model: "gpt-4o", Prompt: "say hi"})

	var callErr *providers.CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %v", err)
	}

	e := lastLog(t, store)
	if e.Error == nil || !strings.Contains(*e.Error, "bad upstream") {
		t.Fatalf("expected upstream diagnostic in logged error, got %+v", e.Error)
	}
	if !e.Response.IsAbsent() {
		t.Fatalf("failed attempt must log an absent response, got %+v", e.Response)
	}
}

func TestGenerateDictAugmentsPromptsAndCoerces(t *testing.T) {
	store := newGatewayStore(t)
	stub := &stubProvider{text: "```json\n{\"name\":\"box\"}\n```"}
	svc := newTestService(t, store, stub, settings.Snapshot{})

	result, err := svc.Generate(context.Background(), Request{
		Model:  "gpt-4o",
		Prompt: "describe a box",
		Format: FormatDict,
		Schema: `{"name":"string"}`,
		Tag:    "boxes",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Kind != storage.ResultJSON || string(result.JSON) != `{"name":"box"}` {
		t.Fatalf("unexpected result %+v", result)
	}

	if !strings.Contains(stub.lastReq.SystemPrompt, `{"name":"string"}`) {
		t.Fatalf("schema hint missing from system prompt: %q", stub.lastReq.SystemPrompt)
	}
	if !strings.Contains(stub.lastReq.UserPrompt, "Respond ONLY with the JSON.") {
		t.Fatalf("JSON instruction missing from user prompt: %q", stub.lastReq.UserPrompt)
	}

	e := lastLog(t, store)
	if e.Tag == nil || *e.Tag != "boxes" {
		t.Fatalf("tag not recorded: %+v", e.Tag)
	}
	if e.Response.Kind != storage.ResultJSON {
		t.Fatalf("structured response not logged: %+v", e.Response)
	}
}

func TestGenerateDictParseFailure(t *testing.T) {
	store := newGatewayStore(t)
	stub := &stubProvider{text: "not json"}
	svc := newTestService(t, store, stub, settings.Snapshot{})

	_, err := svc.Generate(context.Background(), Request{Model: "gpt-4o", Prompt: "p", Format: FormatDict})

	var formatErr *ResponseFormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("expected ResponseFormatError, got %v", err)
	}
	if formatErr.Cleaned != "not json" {
		t.Fatalf("expected offending text, got %q", formatErr.Cleaned)
	}

	e := lastLog(t, store)
	if e.Error == nil || !strings.Contains(*e.Error, "not json") {
		t.Fatalf("parse failure not logged, got %+v", e.Error)
	}
}

func TestGenerateEndToEndAgainstFailingUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("model not loaded"))
	}))
	defer srv.Close()

	store := newGatewayStore(t)
	snap := settings.Snapshot{Providers: map[string]settings.ProviderConfig{
		"ollama": {BaseURL: srv.URL},
	}}
	// Default Build wires the real HTTP client against the stub upstream.
	svc := New(Config{
		Store:      store,
		Settings:   staticSettings{snap: snap},
		HTTPClient: srv.Client(),
		Logger:     zerolog.Nop(),
	})

	_, err := svc.Generate(context.Background(), Request{Model: "ollama:llama3", Prompt: "hi"})

	var callErr *providers.CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if !strings.Contains(callErr.Detail, "model not loaded") {
		t.Fatalf("expected upstream body in diagnostic, got %q", callErr.Detail)
	}

	e := lastLog(t, store)
	if e.Error == nil || !e.Response.IsAbsent() {
		t.Fatalf("expected one failed log row, got %+v", e)
	}
}
