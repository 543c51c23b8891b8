package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

const (
	anthropicBaseURL    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	anthropicModel      = "claude-3-haiku-20240307"
)

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// NewAnthropicClient builds a client from cfg. Without cfg.APIKey the
// ANTHROPIC_API_KEY environment variable is used.
func NewAnthropicClient(cfg ClientConfig) *AnthropicClient {
	c := &AnthropicClient{
		apiKey:     cfg.APIKey,
		baseURL:    anthropicBaseURL,
		model:      anthropicModel,
		maxTokens:  maxTokensOrDefault(cfg.MaxTokens),
		httpClient: &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)},
	}
	if c.apiKey == "" {
		c.apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Model != "" {
		c.model = cfg.Model
	}
	if cfg.BaseURL != "" {
		c.baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return c
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Available reports whether an API key is set.
func (c *AnthropicClient) Available() bool {
	return c.apiKey != ""
}

// Generate returns the first text block of the reply.
func (c *AnthropicClient) Generate(ctx context.Context, prompt string) (string, error) {
	if !c.Available() {
		return "", errors.New("anthropic client not available: missing API key")
	}

	var resp anthropicResponse
	err := postJSON(ctx, c.httpClient, c.baseURL+"/messages",
		map[string]string{"x-api-key": c.apiKey, "anthropic-version": anthropicAPIVersion},
		anthropicRequest{
			Model:     c.model,
			MaxTokens: c.maxTokens,
			Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
		}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("API error: %s: %s", resp.Error.Type, resp.Error.Message)
	}

	for _, block := range resp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", errors.New("no text content in API response")
}
