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
	openAIBaseURL      = "https://api.openai.com/v1"
	openAIDefaultModel = "gpt-4o-mini"

	ollamaBaseURL      = "http://localhost:11434/v1"
	ollamaDefaultModel = "llama3"
)

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
// Ollama is served by the same client with keyless set.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	keyless    bool
	httpClient *http.Client
}

// NewOpenAIClient builds a client for the hosted OpenAI API, reading
// OPENAI_API_KEY when config.APIKey is empty.
func NewOpenAIClient(config ClientConfig) *OpenAIClient {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return newOpenAICompatible(config, apiKey, openAIBaseURL, openAIDefaultModel, false)
}

// NewOllamaClient creates a client for a local Ollama server through its
// OpenAI-compatible API. No key is required.
func NewOllamaClient(config ClientConfig) *OpenAIClient {
	return newOpenAICompatible(config, config.APIKey, ollamaBaseURL, ollamaDefaultModel, true)
}

func newOpenAICompatible(config ClientConfig, apiKey, baseURL, model string, keyless bool) *OpenAIClient {
	if config.BaseURL != "" {
		baseURL = config.BaseURL
	}
	if config.Model != "" {
		model = config.Model
	}
	return &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		maxTokens:  maxTokensOrDefault(config.MaxTokens),
		keyless:    keyless,
		httpClient: &http.Client{Timeout: timeoutOrDefault(config.Timeout)},
	}
}

type openAIChatRequest struct {
	Model     string              `json:"model"`
	Messages  []openAIChatMessage `json:"messages"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Available returns true if the API key is present, or always for keyless endpoints.
func (c *OpenAIClient) Available() bool {
	return c.keyless || c.apiKey != ""
}

// Generate calls the chat completions endpoint and returns the first choice.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	if !c.Available() {
		return "", errors.New("openai client not available: missing API key")
	}

	var headers map[string]string
	if c.apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + c.apiKey}
	}

	var resp openAIChatResponse
	err := postJSON(ctx, c.httpClient, c.baseURL+"/chat/completions", headers,
		openAIChatRequest{
			Model:     c.model,
			Messages:  []openAIChatMessage{{Role: "user", Content: prompt}},
			MaxTokens: c.maxTokens,
		}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in API response")
	}
	return resp.Choices[0].Message.Content, nil
}
