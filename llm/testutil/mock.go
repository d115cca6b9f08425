// Package testutil provides a mock completion client for tests.
package testutil

import (
	"context"
	"sync"

	"github.com/c360studio/agentcore/llm"
)

// MockClient is a thread-safe mock implementing llm.Completer. It returns
// configured responses in sequence, or Err when set.
type MockClient struct {
	mu            sync.Mutex
	Responses     []*llm.Response
	Err           error
	callCount     int
	responseIndex int
	lastRequest   llm.Request
}

// Complete returns the next configured response, or Err if set. The last
// request is captured for assertions.
func (m *MockClient) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount++
	m.lastRequest = req

	if m.Err != nil {
		return nil, m.Err
	}
	if m.responseIndex < len(m.Responses) {
		resp := m.Responses[m.responseIndex]
		m.responseIndex++
		return resp, nil
	}
	return &llm.Response{Content: "", Model: "test-model"}, nil
}

// CallCount returns the number of Complete calls made.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastRequest returns the most recent request passed to Complete.
func (m *MockClient) LastRequest() llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequest
}

// Reset clears call state so the mock can be reused across cases.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.responseIndex = 0
	m.lastRequest = llm.Request{}
}
