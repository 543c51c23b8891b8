package llm

import (
	"context"
	"sync"
)

// MockClient implements Client for testing purposes.
// It returns a configured reply or error and records every prompt.
type MockClient struct {
	mu sync.Mutex

	reply     string
	err       error
	available bool

	Prompts []string
}

// NewMockClient creates an available MockClient that replies with "".
func NewMockClient() *MockClient {
	return &MockClient{available: true}
}

// WithReply configures the text returned by Generate.
func (m *MockClient) WithReply(reply string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply = reply
	return m
}

// WithError configures the error returned by Generate.
func (m *MockClient) WithError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithAvailable configures whether Available() returns true or false.
func (m *MockClient) WithAvailable(available bool) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = available
	return m
}

// Generate implements Client.Generate.
func (m *MockClient) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Prompts = append(m.Prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

// Available implements Client.Available.
func (m *MockClient) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// CallCount returns the number of times Generate was called.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}
