// Package httpapi exposes the gateway and the log store over REST. It owns
// wire framing only; the payload shapes come from the gateway and storage
// contracts.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"llmgate/internal/gateway"
	"llmgate/internal/metrics"
	"llmgate/internal/settings"
	"llmgate/internal/storage"
)

type Config struct {
	Gateway     *gateway.Service
	Store       *storage.Store
	Settings    *settings.Manager
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	HealthPath  string
	MetricsPath string
	CORSOrigin  string
}

type Server struct {
	gateway  *gateway.Service
	store    *storage.Store
	settings *settings.Manager
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	cors     string
	handler  http.Handler
}

func New(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}

	s := &Server{
		gateway:  cfg.Gateway,
		store:    cfg.Store,
		settings: cfg.Settings,
		logger:   cfg.Logger,
		metrics:  m,
		cors:     cfg.CORSOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle(cfg.MetricsPath, promhttp.Handler())
	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("GET /api/logs", s.handleListLogs)
	mux.HandleFunc("GET /api/logs/tags", s.handleTags)
	mux.HandleFunc("PATCH /api/logs/{id}", s.handleToggleLock)
	mux.HandleFunc("POST /api/logs/purge", s.handlePurge)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleUpdateSettings)

	s.handler = s.withRequestLog(s.withCORS(mux))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format string `json:"format"`
	Schema string `json:"schema"`
	Tag    string `json:"tag"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" || req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "model and prompt are required")
		return
	}

	format := req.Format
	if format == "" {
		// A schema implies structured output.
		if req.Schema != "" {
			format = gateway.FormatDict
		} else {
			format = gateway.FormatText
		}
	}
	if format != gateway.FormatText && format != gateway.FormatDict {
		writeError(w, http.StatusBadRequest, "format must be 'text' or 'dict'")
		return
	}

	result, err := s.gateway.Generate(r.Context(), gateway.Request{
		Model:  req.Model,
		Prompt: req.Prompt,
		Format: format,
		Schema: req.Schema,
		Tag:    req.Tag,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": result})
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := queryInt(r, "limit", 50)
	if limit < 1 {
		limit = 50
	}
	f := storage.Filter{
		Start: r.URL.Query().Get("start_date"),
		End:   r.URL.Query().Get("end_date"),
		Tag:   r.URL.Query().Get("tag"),
	}
	offset := uint64(page-1) * uint64(limit)

	// Log-store unavailability degrades the listing to empty, it never fails
	// the endpoint.
	entries, err := s.store.ListLogs(r.Context(), uint64(limit), offset, f)
	if err != nil {
		s.metrics.StorageErrors.Inc()
		s.logger.Error().Err(err).Msg("failed to list logs, returning empty page")
		entries = []storage.LogEntry{}
	}
	total, err := s.store.CountLogs(r.Context(), f)
	if err != nil {
		s.metrics.StorageErrors.Inc()
		s.logger.Error().Err(err).Msg("failed to count logs")
		total = 0
	}

	pages := (total + int64(limit) - 1) / int64(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"data": entries,
		"pagination": map[string]any{
			"page":  page,
			"limit": limit,
			"total": total,
			"pages": pages,
		},
	})
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.UniqueTags(r.Context())
	if err != nil {
		s.metrics.StorageErrors.Inc()
		s.logger.Error().Err(err).Msg("failed to read tags, returning empty set")
		tags = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

type lockRequest struct {
	Locked bool `json:"locked"`
}

func (s *Server) handleToggleLock(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid log id")
		return
	}
	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	found, err := s.store.SetLogLocked(r.Context(), id, req.Locked)
	if err != nil {
		s.metrics.StorageErrors.Inc()
		s.logger.Error().Err(err).Int64("id", id).Msg("failed to toggle log lock")
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Log not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "locked": req.Locked})
}

type purgeRequest struct {
	DaysToKeep  *int `json:"days_to_keep"`
	CountToKeep *int `json:"count_to_keep"`
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if (req.DaysToKeep == nil) == (req.CountToKeep == nil) {
		writeError(w, http.StatusBadRequest, "exactly one of days_to_keep or count_to_keep is required")
		return
	}

	var (
		deleted int64
		err     error
	)
	if req.DaysToKeep != nil {
		deleted, err = s.store.PurgeOlderThan(r.Context(), *req.DaysToKeep)
	} else {
		deleted, err = s.store.PurgeKeepingNewest(r.Context(), *req.CountToKeep)
	}
	if err != nil {
		s.metrics.StorageErrors.Inc()
		s.logger.Error().Err(err).Msg("purge failed")
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	s.metrics.PurgedLogs.Add(float64(deleted))
	s.logger.Info().Int64("deleted", deleted).Msg("logs purged")
	writeJSON(w, http.StatusOK, map[string]any{"deleted_count": deleted})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Current())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var snap settings.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.settings.Save(snap); err != nil {
		s.logger.Error().Err(err).Msg("failed to save settings")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
