// Package llmtest provides a scriptable llm.LLMProvider for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"trip-planner-be/pkg/llm"
)

// MockProvider is a thread-safe fake. Resolution order for every call:
// Err, then Respond (if set), then the next entry of Responses, then "".
//
//	mock := &llmtest.MockProvider{
//	    Respond: func(_ context.Context, h []llm.Message) (string, error) {
//	        if strings.Contains(llmtest.LastContent(h), "verifier") {
//	            return `{"is_safe": true}`, nil
//	        }
//	        return "# Day 1", nil
//	    },
//	}
type MockProvider struct {
	mu sync.Mutex

	Respond   func(ctx context.Context, history []llm.Message) (string, error)
	Responses []string
	Err       error

	// ChunkSize splits streamed replies into fragments of this many runes.
	// Zero streams the whole reply as a single fragment.
	ChunkSize int

	calls         [][]llm.Message
	options       []llm.Options
	responseIndex int
}

var _ llm.LLMProvider = &MockProvider{}

func (m *MockProvider) next(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]llm.Message(nil), history...))
	m.options = append(m.options, llm.ApplyOptions(llm.Options{}, opts...))
	if m.Err != nil {
		err := m.Err
		m.mu.Unlock()
		return "", err
	}
	respond := m.Respond
	var scripted string
	if respond == nil && m.responseIndex < len(m.Responses) {
		scripted = m.Responses[m.responseIndex]
		m.responseIndex++
	}
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if respond != nil {
		return respond(ctx, history)
	}
	return scripted, nil
}

func (m *MockProvider) Chat(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error) {
	return m.next(ctx, history, opts...)
}

func (m *MockProvider) Generate(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	return m.next(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts...)
}

func (m *MockProvider) ChatStream(ctx context.Context, history []llm.Message, onDelta llm.StreamHandler, opts ...llm.Option) (string, error) {
	reply, err := m.next(ctx, history, opts...)
	if err != nil {
		return "", err
	}

	var sent strings.Builder
	for _, chunk := range SplitIntoChunks(reply, m.ChunkSize) {
		if err := ctx.Err(); err != nil {
			return sent.String(), err
		}
		sent.WriteString(chunk)
		if err := onDelta(chunk); err != nil {
			return sent.String(), err
		}
	}
	return sent.String(), nil
}

// CallCount returns how many calls reached the mock.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns a copy of every recorded history.
func (m *MockProvider) Calls() [][]llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]llm.Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// Options returns the resolved options of every call.
func (m *MockProvider) Options() []llm.Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Options(nil), m.options...)
}

// LastContent returns the content of the final message, usually the prompt.
func LastContent(history []llm.Message) string {
	if len(history) == 0 {
		return ""
	}
	return history[len(history)-1].Content
}

// SplitIntoChunks cuts s into rune-safe pieces of at most size runes.
func SplitIntoChunks(s string, size int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	if size <= 0 || size >= len(runes) {
		return []string{s}
	}
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
