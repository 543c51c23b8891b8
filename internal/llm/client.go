// Package llm provides text-generation clients used to write the AI section
// of batch reports. It supports Anthropic, OpenAI and any OpenAI-compatible
// endpoint such as a local Ollama server.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider names accepted by NewClient.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 1024

	// maxResponseBytes bounds a provider reply held in memory.
	maxResponseBytes = 1 << 20
)

// ClientConfig configures an LLM client.
type ClientConfig struct {
	// Provider identifies the LLM backend: "anthropic", "openai" or "ollama".
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is the API key for the provider (not used for ollama).
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// BaseURL is the API root. Used for ollama or custom OpenAI-compatible endpoints.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Model is the model identifier to use for requests.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Timeout is the maximum duration to wait for a response.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxTokens caps the length of the generated text.
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// Client generates free text from a prompt.
type Client interface {
	// Generate sends prompt as a single user message and returns the reply text.
	Generate(ctx context.Context, prompt string) (string, error)

	// Available returns true if the client is configured and ready to handle requests.
	// For hosted APIs this checks that credentials are present.
	Available() bool
}

// NewClient builds the client for cfg.Provider.
func NewClient(cfg ClientConfig) (Client, error) {
	switch cfg.Provider {
	case ProviderAnthropic:
		return NewAnthropicClient(cfg), nil
	case ProviderOpenAI:
		return NewOpenAIClient(cfg), nil
	case ProviderOllama:
		return NewOllamaClient(cfg), nil
	case "":
		return nil, fmt.Errorf("no LLM provider configured")
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTimeout
	}
	return d
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}

// StatusError is returned when a provider answers with a non-200 status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.Code, e.Body)
}

// postJSON posts body as JSON and decodes a 200 reply into out. Empty
// header values are not sent.
func postJSON(ctx context.Context, hc *http.Client, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(bytes.TrimSpace(data))
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		return &StatusError{Code: resp.StatusCode, Body: snippet}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing API response: %w", err)
	}
	return nil
}
