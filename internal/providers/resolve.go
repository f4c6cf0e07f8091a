package providers

import (
	"strings"

	"llmgate/internal/settings"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"

	// OpenRouter is always reached at its public endpoint regardless of any
	// base_url in settings.
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// Resolved is the concrete routing decision for one model identifier.
type Resolved struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string

	// UnknownPrefix is set when the identifier carried a provider prefix that
	// is neither built in nor present in settings. The call is routed through
	// openrouter with the full original identifier as the model name, on the
	// assumption that the prefix belongs to the upstream model name.
	UnknownPrefix bool
}

// Resolve maps a model identifier and the current provider settings to a
// concrete provider endpoint. It never fails: a missing credential is a valid
// result, rejected (if at all) by the upstream endpoint.
func Resolve(model string, providers map[string]settings.ProviderConfig) Resolved {
	name := ProviderOpenRouter
	effective := model
	if i := strings.Index(model, ":"); i >= 0 {
		name = strings.ToLower(model[:i])
		effective = model[i+1:]
	}

	switch name {
	case ProviderOllama:
		base := providers[ProviderOllama].BaseURL
		if base == "" {
			base = settings.DefaultOllamaBaseURL
		}
		return Resolved{
			Provider: ProviderOllama,
			BaseURL:  base,
			Model:    effective,
		}
	case ProviderOpenRouter:
		return Resolved{
			Provider: ProviderOpenRouter,
			APIKey:   providers[ProviderOpenRouter].APIKey,
			BaseURL:  OpenRouterBaseURL,
			Model:    effective,
		}
	default:
		// Unrecognized prefixes are assumed to be part of the upstream model
		// name, so the full original identifier goes through openrouter.
		_, known := providers[name]
		return Resolved{
			Provider:      ProviderOpenRouter,
			APIKey:        providers[ProviderOpenRouter].APIKey,
			BaseURL:       OpenRouterBaseURL,
			Model:         model,
			UnknownPrefix: !known,
		}
	}
}
