package llm

import (
	"context"
	"sync"

	apperrors "curio-backend/internal/errors"
)

// MockProvider is a scriptable Provider for tests and keyless
// development runs. Responses are consumed in order; when the queue is
// empty the last response repeats.
type MockProvider struct {
	mu        sync.Mutex
	available bool
	responses []*Response
	errs      []error
	requests  []Request
}

// NewMockProvider creates an available mock with no scripted responses.
func NewMockProvider() *MockProvider {
	return &MockProvider{available: true}
}

// QueueResponse appends a scripted completion.
func (m *MockProvider) QueueResponse(text string, inputTokens, outputTokens int64) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, &Response{
		Text:         text,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	})
	m.errs = append(m.errs, nil)
	return m
}

// QueueError appends a scripted failure.
func (m *MockProvider) QueueError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, nil)
	m.errs = append(m.errs, err)
	return m
}

// Requests returns a copy of every request seen so far.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// SetAvailable controls the reported availability.
func (m *MockProvider) SetAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = available
}

func (m *MockProvider) IsAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

func (m *MockProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.available {
		return nil, apperrors.External(apperrors.CodeLLMNotInitialized, "mock provider disabled").Build()
	}

	m.requests = append(m.requests, req)

	if len(m.responses) == 0 {
		return &Response{Text: "{}"}, nil
	}

	idx := len(m.requests) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	if err := m.errs[idx]; err != nil {
		return nil, err
	}
	return m.responses[idx], nil
}
