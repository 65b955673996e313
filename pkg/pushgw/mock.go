package pushgw

import (
	"context"
	"sync"
)

// MockClient is a mock push gateway client for testing
type MockClient struct {
	mu       sync.Mutex
	baseURL  string
	pushErr  error
	messages []Message
}

// MockOption configures the mock client
type MockOption func(*MockClient)

// WithPushError sets an error to return from Push
func WithPushError(err error) MockOption {
	return func(m *MockClient) {
		m.pushErr = err
	}
}

// WithBaseURL sets the URL reported by BaseURL
func WithBaseURL(url string) MockOption {
	return func(m *MockClient) {
		m.baseURL = url
	}
}

// NewMockClient creates a new mock client with options
func NewMockClient(opts ...MockOption) *MockClient {
	m := &MockClient{baseURL: "http://pushgw.local"}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Push records msg unless an error was configured
func (m *MockClient) Push(ctx context.Context, msg Message) error {
	if m.pushErr != nil {
		return m.pushErr
	}
	m.mu.Lock()
	m.messages = append(m.messages, msg)
	m.mu.Unlock()
	return nil
}

// BaseURL returns the configured base URL
func (m *MockClient) BaseURL() string {
	return m.baseURL
}

// Messages returns every pushed message in order
func (m *MockClient) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// Ensure MockClient implements Client
var _ Client = (*MockClient)(nil)
var _ Client = (*HTTPClient)(nil)
