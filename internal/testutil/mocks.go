package testutil

import (
	"context"
	"sync"

	"github.com/kyleking/sqlrag/internal/embedding"
	"github.com/kyleking/sqlrag/internal/llm"
)

// ScriptedLLM implements llm.Service by replaying canned replies in order.
// The last reply repeats once the script is exhausted.
type ScriptedLLM struct {
	mu      sync.Mutex
	replies []string
	err     error
	prompts []string
}

// NewScriptedLLM creates a service that answers with replies in order
func NewScriptedLLM(replies ...string) *ScriptedLLM {
	return &ScriptedLLM{replies: replies}
}

// WithError makes every call fail with err
func (s *ScriptedLLM) WithError(err error) *ScriptedLLM {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = err

	return s
}

// Complete returns the next scripted reply
func (s *ScriptedLLM) Complete(ctx context.Context, prompt string) (*llm.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.prompts = append(s.prompts, prompt)

	if s.err != nil {
		return nil, s.err
	}

	reply := ""
	if n := len(s.replies); n > 0 {
		i := len(s.prompts) - 1
		if i >= n {
			i = n - 1
		}

		reply = s.replies[i]
	}

	return &llm.Completion{Text: reply, Provider: "scripted", Model: "test"}, nil
}

// Name identifies the fake
func (s *ScriptedLLM) Name() string {
	return "scripted:test"
}

// Calls returns how many prompts were received
func (s *ScriptedLLM) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.prompts)
}

// Prompts returns every prompt received, oldest first
func (s *ScriptedLLM) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.prompts...)
}

// LastPrompt returns the most recent prompt
func (s *ScriptedLLM) LastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.prompts) == 0 {
		return ""
	}

	return s.prompts[len(s.prompts)-1]
}

// MockEmbeddingProvider wraps the hash provider with call counting and
// optional failure injection
type MockEmbeddingProvider struct {
	*embedding.HashProvider

	mu    sync.Mutex
	calls int
	err   error
}

// NewMockEmbeddingProvider creates a provider with TestDimensions
func NewMockEmbeddingProvider() *MockEmbeddingProvider {
	return &MockEmbeddingProvider{HashProvider: embedding.NewHashProvider(TestDimensions)}
}

// FailWith makes later calls fail with err; nil restores normal behavior
func (m *MockEmbeddingProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.err = err
}

// GenerateEmbedding counts the call and delegates to the hash provider
func (m *MockEmbeddingProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return m.HashProvider.GenerateEmbedding(ctx, text)
}

// Calls returns the number of embedding requests
func (m *MockEmbeddingProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

// ResetCalls zeroes the call counter
func (m *MockEmbeddingProvider) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = 0
}

var (
	_ llm.Service        = (*ScriptedLLM)(nil)
	_ embedding.Provider = (*MockEmbeddingProvider)(nil)
)
