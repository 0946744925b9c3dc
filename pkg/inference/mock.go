package inference

import (
	"context"
	"sync"
	"time"
)

// Mock implements Provider for testing.
type Mock struct {
	// ChatFunc is called when Chat is invoked.
	ChatFunc func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// HealthFunc is called when Health is invoked. Nil means healthy.
	HealthFunc func(ctx context.Context) error

	mu       sync.Mutex
	calls    []MockCall
	requests []*ChatRequest
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Time   time.Time
}

// NewMock returns a mock that always answers "Mock response".
func NewMock() *Mock {
	return NewMockReply("Mock response")
}

// NewMockReply returns a mock that always answers reply.
func NewMockReply(reply string) *Mock {
	return &Mock{
		ChatFunc: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			return &ChatResponse{
				Message:      NewAssistantMessage(reply),
				FinishReason: "stop",
			}, nil
		},
	}
}

// Chat calls ChatFunc and records the request.
func (m *Mock) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Method: "Chat", Time: time.Now()})
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	return nil, WrapError("mock", ErrEmptyResponse)
}

// Health calls HealthFunc.
func (m *Mock) Health(ctx context.Context) error {
	m.record("Health")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close records the call.
func (m *Mock) Close() error {
	m.record("Close")
	return nil
}

func (m *Mock) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Time: time.Now()})
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Requests returns every ChatRequest received, oldest first.
func (m *Mock) Requests() []*ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// LastRequest returns the most recent ChatRequest, or nil.
func (m *Mock) LastRequest() *ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// WithError returns a mock whose Chat always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		ChatFunc: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			return nil, err
		},
	}
}

// WithLatency wraps a mock so Chat waits delay or until ctx is done.
func WithLatency(m *Mock, delay time.Duration) *Mock {
	original := m.ChatFunc
	m.ChatFunc = func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if original != nil {
			return original(ctx, req)
		}
		return nil, WrapError("mock", ErrEmptyResponse)
	}
	return m
}

var _ Provider = (*Mock)(nil)
