// Package settings manages the provider configuration side file. The current
// configuration lives in memory as an immutable snapshot that is swapped
// wholesale on every load or save, so concurrent readers never observe a
// partially-updated value.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const DefaultOllamaBaseURL = "http://localhost:11434/v1"

type ProviderConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

type Snapshot struct {
	Providers  map[string]ProviderConfig `json:"providers"`
	ModelNames string                    `json:"model_names"`
}

// Provider returns the config for name, or the zero value when absent.
func (s Snapshot) Provider(name string) (ProviderConfig, bool) {
	p, ok := s.Providers[name]
	return p, ok
}

type Manager struct {
	path    string
	logger  zerolog.Logger
	current atomic.Pointer[Snapshot]
}

func NewManager(path string, logger zerolog.Logger) *Manager {
	m := &Manager{path: path, logger: logger}
	empty := seedDefaults(Snapshot{})
	m.current.Store(&empty)
	return m
}

// Load reads the settings file, seeds environment-variable defaults for
// openrouter.api_key and ollama.base_url when the file omits them, and swaps
// the in-memory snapshot. A missing file is not an error; a default file is
// written in its place.
func (m *Manager) Load() error {
	snap := Snapshot{}

	raw, err := os.ReadFile(m.path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &snap); err != nil {
			m.logger.Error().Err(err).Str("path", m.path).Msg("settings file is malformed, using defaults")
			snap = Snapshot{}
		}
	case os.IsNotExist(err):
		// First run, the seeded defaults get persisted below.
	default:
		return fmt.Errorf("read settings file: %w", err)
	}

	snap = seedDefaults(snap)
	m.current.Store(&snap)

	if _, err := os.Stat(m.path); os.IsNotExist(err) {
		if err := m.write(snap); err != nil {
			return fmt.Errorf("write default settings: %w", err)
		}
		m.logger.Info().Str("path", m.path).Msg("created default settings file")
	}
	return nil
}

// Save persists the given snapshot and makes it current. Seed defaults apply
// the same way they do on load.
func (m *Manager) Save(snap Snapshot) error {
	snap = seedDefaults(snap)
	if err := m.write(snap); err != nil {
		return err
	}
	m.current.Store(&snap)
	return nil
}

// Current returns the latest settings snapshot. The returned value must be
// treated as read-only.
func (m *Manager) Current() Snapshot {
	return *m.current.Load()
}

func (m *Manager) write(snap Snapshot) error {
	if dir := filepath.Dir(m.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}

func seedDefaults(snap Snapshot) Snapshot {
	providers := make(map[string]ProviderConfig, len(snap.Providers)+2)
	for name, p := range snap.Providers {
		providers[name] = p
	}

	or := providers["openrouter"]
	if or.APIKey == "" {
		or.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	providers["openrouter"] = or

	ol := providers["ollama"]
	if ol.BaseURL == "" {
		ol.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if ol.BaseURL == "" {
		ol.BaseURL = DefaultOllamaBaseURL
	}
	providers["ollama"] = ol

	snap.Providers = providers
	return snap
}
