package registry

import (
	"net/http"

	"llmgate/internal/providers"
	"llmgate/internal/providers/openai_compat"
)

// Build turns a routing decision into a ready provider client. Both supported
// providers speak the OpenAI-compatible chat-completions dialect; openrouter
// additionally gets its attribution headers.
func Build(r providers.Resolved, httpClient *http.Client) providers.Provider {
	var headers map[string]string
	if r.Provider == providers.ProviderOpenRouter {
		headers = map[string]string{
			"HTTP-Referer": "http://localhost:31160",
			"X-Title":      "llmgate",
		}
	}
	return openai_compat.New(openai_compat.Config{
		Provider:   r.Provider,
		BaseURL:    r.BaseURL,
		APIKey:     r.APIKey,
		Headers:    headers,
		HTTPClient: httpClient,
	})
}
