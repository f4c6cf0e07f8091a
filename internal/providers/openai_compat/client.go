// Package openai_compat talks to OpenAI-compatible chat-completion endpoints
// (openrouter, ollama and friends).
package openai_compat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"llmgate/internal/providers"
)

type Config struct {
	Provider   string
	BaseURL    string
	APIKey     string
	Headers    map[string]string
	HTTPClient *http.Client
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai_compat"
	}
	return &Client{cfg: cfg}
}

var _ providers.Provider = (*Client)(nil)

// Chat performs exactly one outbound call. Failed or timed-out calls are
// terminal for the request; retrying is the caller's decision, and no caller
// in this codebase makes it.
func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	body, endpointURL, err := c.buildPayload(req)
	if err != nil {
		return providers.ChatResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return providers.ChatResponse{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.cfg.APIKey) != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return providers.ChatResponse{}, &providers.CallError{Provider: c.cfg.Provider, Detail: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return providers.ChatResponse{}, &providers.CallError{Provider: c.cfg.Provider, Detail: "read response body: " + err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		return providers.ChatResponse{}, &providers.CallError{Provider: c.cfg.Provider, Detail: detail}
	}

	text, usage, err := parseChatCompletions(respBody)
	if err != nil {
		return providers.ChatResponse{}, &providers.CallError{Provider: c.cfg.Provider, Detail: err.Error(), Err: err}
	}
	return providers.ChatResponse{Text: text, Usage: usage}, nil
}

func (c *Client) buildPayload(req providers.ChatRequest) ([]byte, string, error) {
	endpointURL, err := c.buildEndpointURL()
	if err != nil {
		return nil, "", err
	}

	messages := []map[string]string{}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.UserPrompt})

	payload := map[string]any{
		"model":    req.Model,
		"messages": messages,
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal chat completion payload: %w", err)
	}
	return b, endpointURL, nil
}

func (c *Client) buildEndpointURL() (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if base == "" {
		return "", fmt.Errorf("base url is empty")
	}
	if strings.HasSuffix(base, "/chat/completions") {
		return base, nil
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/chat/completions"
	return u.String(), nil
}

// parseChatCompletions accepts both the standard choices envelope and the
// top-level message shape some ollama versions return.
func parseChatCompletions(body []byte) (string, json.RawMessage, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
		Usage json.RawMessage `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", nil, fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(resp.Choices) > 0 {
		return resp.Choices[0].Message.Content, resp.Usage, nil
	}
	if resp.Message != nil {
		return resp.Message.Content, resp.Usage, nil
	}
	return "", nil, fmt.Errorf("missing message content in chat completion response")
}
