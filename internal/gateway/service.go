// Package gateway orchestrates a single generation attempt: resolve the
// provider, perform one outbound call, coerce the reply, and durably record
// the attempt whatever the outcome.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"llmgate/internal/metrics"
	"llmgate/internal/providers"
	"llmgate/internal/providers/registry"
	"llmgate/internal/settings"
	"llmgate/internal/storage"
)

const systemPrompt = "You are a helpful assistant."

// LogStore is the slice of the log store the orchestrator needs.
type LogStore interface {
	AppendLog(ctx context.Context, e storage.NewLog) (int64, error)
}

// SettingsSource hands out the current provider configuration snapshot.
type SettingsSource interface {
	Current() settings.Snapshot
}

type Config struct {
	Store      LogStore
	Settings   SettingsSource
	HTTPClient *http.Client
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics

	// Build constructs the provider client for a resolution. Defaults to
	// registry.Build; tests substitute stubs here.
	Build func(providers.Resolved, *http.Client) providers.Provider
}

type Service struct {
	store      LogStore
	settings   SettingsSource
	httpClient *http.Client
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	build      func(providers.Resolved, *http.Client) providers.Provider
}

func New(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Build == nil {
		cfg.Build = registry.Build
	}
	return &Service{
		store:      cfg.Store,
		settings:   cfg.Settings,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		metrics:    m,
		build:      cfg.Build,
	}
}

type Request struct {
	Model  string
	Prompt string
	Format string // "text" (default) or "dict"
	Schema string
	Tag    string
}

// Generate runs one generation attempt end to end. Exactly one log row is
// appended per call, success or failure; a log-store failure never changes
// the outcome of the attempt itself.
func (s *Service) Generate(ctx context.Context, req Request) (storage.ResultValue, error) {
	start := time.Now()
	s.metrics.Generations.Inc()

	format := req.Format
	if format == "" {
		format = FormatText
	}

	sysMsg := systemPrompt
	userMsg := req.Prompt
	if format == FormatDict {
		if req.Schema != "" {
			sysMsg += "\nYou must respond with a valid JSON object matching this schema: " + req.Schema
		}
		userMsg += "\nRespond ONLY with the JSON."
	}

	resolved := providers.Resolve(req.Model, s.settings.Current().Providers)
	if resolved.UnknownPrefix {
		s.logger.Warn().
			Str("model", req.Model).
			Msg("provider prefix not supported locally, routing via openrouter")
	}

	client := s.build(resolved, s.httpClient)
	resp, callErr := client.Chat(ctx, providers.ChatRequest{
		Model:        resolved.Model,
		SystemPrompt: sysMsg,
		UserPrompt:   userMsg,
		Temperature:  0.7,
	})

	var result storage.ResultValue
	genErr := callErr
	if genErr == nil {
		result, genErr = Coerce(resp.Text, format)
	}

	duration := time.Since(start)
	s.appendLog(ctx, req, format, result, resp.Usage, genErr, duration)

	if genErr != nil {
		s.metrics.GenerationFailures.Inc()
		s.logger.Error().
			Err(genErr).
			Str("model", req.Model).
			Str("provider", resolved.Provider).
			Dur("duration", duration).
			Msg("generation failed")
		return storage.ResultValue{}, genErr
	}

	s.metrics.GenerationSeconds.Observe(duration.Seconds())
	s.logger.Info().
		Str("model", req.Model).
		Str("provider", resolved.Provider).
		Str("format", format).
		Dur("duration", duration).
		Msg("generation succeeded")
	return result, nil
}

type callMetadata struct {
	Format string          `json:"format"`
	Schema *string         `json:"schema"`
	Usage  json.RawMessage `json:"usage"`
}

// appendLog records the attempt. The append runs even when the caller's
// context is already canceled: the upstream call has happened, so its record
// must survive.
func (s *Service) appendLog(ctx context.Context, req Request, format string, result storage.ResultValue, usage json.RawMessage, genErr error, duration time.Duration) {
	meta := callMetadata{Format: format, Usage: usage}
	if meta.Usage == nil {
		meta.Usage = json.RawMessage("{}")
	}
	if req.Schema != "" {
		schema := req.Schema
		meta.Schema = &schema
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		metaJSON = json.RawMessage("{}")
	}

	entry := storage.NewLog{
		Model:      req.Model,
		Prompt:     req.Prompt,
		Response:   result,
		DurationMs: float64(duration.Microseconds()) / 1000.0,
		Metadata:   metaJSON,
	}
	if genErr != nil {
		errText := genErr.Error()
		entry.Error = &errText
		entry.Response = storage.ResultValue{}
	}
	if req.Tag != "" {
		tag := req.Tag
		entry.Tag = &tag
	}

	if _, err := s.store.AppendLog(context.WithoutCancel(ctx), entry); err != nil {
		s.metrics.StorageErrors.Inc()
		s.logger.Error().Err(err).Str("model", req.Model).Msg("failed to record generation attempt")
	}
}
