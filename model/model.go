package model

import (
	"context"
	"strings"
	"sync"

	"github.com/finmesh/finmesh/internal/util"
)

// Message is one conversational message in a model request.
type Message struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// Request captures the normalized model input produced by agents: the system
// instructions plus the ordered conversation.
type Request struct {
	Instructions string    `json:"instructions"`
	Messages     []Message `json:"messages"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the completion returned by a provider.
type Response struct {
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal interface required by agents to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests & examples. It
// answers with the canned response whose key occurs in the last user message,
// falling back to a default echo. Calls are counted for assertion.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	responses map[string]string
	calls     int
	failWith  error
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: map[string]string{},
	}
}

// WithResponse registers a canned response keyed by a message substring.
func (m *MockModel) WithResponse(key, response string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[key] = response
	return m
}

// FailWith makes all subsequent calls return err.
func (m *MockModel) FailWith(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
	return m
}

// Calls returns the number of Generate invocations so far.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate returns a canned or echoed completion.
func (m *MockModel) Generate(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failWith != nil {
		return nil, m.failWith
	}

	var last string
	for _, msg := range req.Messages {
		if msg.Role == "user" {
			last = msg.Text
		}
	}
	for key, resp := range m.responses {
		if util.ContainsAny(last, strings.ToLower(key)) {
			return &Response{Text: resp, FinishReason: "stop"}, nil
		}
	}
	return &Response{Text: "I understand: " + last, FinishReason: "stop"}, nil
}

// Info returns the mock model metadata.
func (m *MockModel) Info() Info { return m.info }
