package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		provider string
		wantType string
		wantErr  bool
	}{
		{ProviderAnthropic, "*llm.AnthropicClient", false},
		{ProviderOpenAI, "*llm.OpenAIClient", false},
		{ProviderOllama, "*llm.OpenAIClient", false},
		{"", "", true},
		{"gemini", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			c, err := NewClient(ClientConfig{Provider: tt.provider})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := typeName(c); got != tt.wantType {
				t.Errorf("NewClient() type = %s, want %s", got, tt.wantType)
			}
		})
	}
}

func typeName(c Client) string {
	switch c.(type) {
	case *AnthropicClient:
		return "*llm.AnthropicClient"
	case *OpenAIClient:
		return "*llm.OpenAIClient"
	}
	return "unknown"
}

func TestAvailable(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	if NewOpenAIClient(ClientConfig{}).Available() {
		t.Error("openai without key should be unavailable")
	}
	if !NewOpenAIClient(ClientConfig{APIKey: "sk-test"}).Available() {
		t.Error("openai with key should be available")
	}
	if !NewOllamaClient(ClientConfig{}).Available() {
		t.Error("ollama should not need a key")
	}
	if NewAnthropicClient(ClientConfig{}).Available() {
		t.Error("anthropic without key should be unavailable")
	}

	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	if !NewAnthropicClient(ClientConfig{}).Available() {
		t.Error("anthropic should pick up ANTHROPIC_API_KEY")
	}
}

func TestOpenAIClient_Generate(t *testing.T) {
	var got openAIChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("keyless client sent Authorization %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"**Diagnosis**: fine"}}]}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(ClientConfig{BaseURL: srv.URL + "/v1/", Model: "mistral"})
	out, err := c.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out != "**Diagnosis**: fine" {
		t.Errorf("Generate() = %q", out)
	}
	if got.Model != "mistral" || len(got.Messages) != 1 || got.Messages[0].Content != "hello" {
		t.Errorf("request = %+v", got)
	}
}

func TestOpenAIClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"http status", http.StatusTooManyRequests, `slow down`, "status 429"},
		{"api error", http.StatusOK, `{"error":{"message":"bad model"}}`, "bad model"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no choices"},
		{"garbage", http.StatusOK, `not json`, "parsing API response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewOpenAIClient(ClientConfig{APIKey: "sk-test", BaseURL: srv.URL})
			_, err := c.Generate(context.Background(), "x")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Generate() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestStatusError(t *testing.T) {
	long := strings.Repeat("x", 500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, long, http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewAnthropicClient(ClientConfig{APIKey: "key", BaseURL: srv.URL}).Generate(context.Background(), "p")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if statusErr.Code != http.StatusBadGateway {
		t.Errorf("Code = %d", statusErr.Code)
	}
	if len(statusErr.Body) != 203 || !strings.HasSuffix(statusErr.Body, "...") {
		t.Errorf("body not truncated: %d bytes", len(statusErr.Body))
	}
}

func TestAnthropicClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "key" || r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		var req anthropicRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.MaxTokens != 1024 {
			t.Errorf("max_tokens = %d, want 1024", req.MaxTokens)
		}
		w.Write([]byte(`{"content":[{"type":"tool_use"},{"type":"text","text":"assessment"}]}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(ClientConfig{APIKey: "key", BaseURL: srv.URL})
	out, err := c.Generate(context.Background(), "p")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out != "assessment" {
		t.Errorf("Generate() = %q", out)
	}
}

func TestAnthropicClient_Unavailable(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropicClient(ClientConfig{}).Generate(context.Background(), "p")
	if err == nil {
		t.Error("expected error without API key")
	}
}

func TestMockClient(t *testing.T) {
	m := NewMockClient().WithReply("ok")
	out, err := m.Generate(context.Background(), "first")
	if err != nil || out != "ok" {
		t.Fatalf("Generate() = %q, %v", out, err)
	}

	m.WithError(errors.New("boom")).WithAvailable(false)
	if _, err := m.Generate(context.Background(), "second"); err == nil {
		t.Error("expected configured error")
	}
	if m.Available() {
		t.Error("Available() should be false")
	}
	if m.CallCount() != 2 || m.Prompts[1] != "second" {
		t.Errorf("Prompts = %v", m.Prompts)
	}
}

func TestAnalystPrompt(t *testing.T) {
	p := AnalystPrompt(AnalystBrief{
		BatchID:           "BATCH_007",
		DurationMin:       120,
		Outcome:           "target_reached",
		PHStart:           10.2,
		PHEnd:             8.1,
		TempMean:          795.5,
		TempMax:           812.3,
		PredictedCapacity: 3.1,
		GroundTruth:       2.9,
		Precedents: []Precedent{
			{BatchID: "BATCH_002", Capacity: 2.4, Quality: "good", Similarity: 0.97},
		},
	})

	for _, want := range []string{
		"Expert Chemical Engineer",
		"Batch BATCH_007",
		"10.20 -> 8.10",
		"predicted 3.10 mmol/g, measured 2.90 mmol/g",
		"BATCH_002: capacity 2.40 mmol/g (good), similarity 0.97",
		"**Diagnosis**",
		"**Optimization**",
		"ran to completion",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	if !strings.Contains(AnalystPrompt(AnalystBrief{}), "none on record") {
		t.Error("empty precedents should be stated")
	}
}

func TestCleanResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  **Diagnosis** ok \n", "**Diagnosis** ok"},
		{"markdown fence", "```markdown\n**Diagnosis** ok\n```", "**Diagnosis** ok"},
		{"bare fence", "```\ntext\n```", "text"},
		{"inner fence kept", "intro\n```\ncode\n```", "intro\n```\ncode\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanResponse(tt.in); got != tt.want {
				t.Errorf("CleanResponse() = %q, want %q", got, tt.want)
			}
		})
	}
}
