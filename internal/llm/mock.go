package llm

import (
	"context"
	"sync"
)

// MockClient is a configurable LLM client for testing.
// Responses are returned in order; the last one repeats once exhausted.
type MockClient struct {
	mu        sync.Mutex
	Responses []string
	Err       error

	// Call tracking for assertions
	Calls []MockCall
}

type MockCall struct {
	System string
	Prompt string
}

func NewMockClient(responses ...string) *MockClient {
	return &MockClient{Responses: responses}
}

func (m *MockClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{System: system, Prompt: prompt})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "[]", nil
	}
	idx := len(m.Calls) - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}

// CallCount returns the number of Complete calls so far.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
