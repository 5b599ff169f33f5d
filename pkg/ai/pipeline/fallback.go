package pipeline

import (
	"context"
	"errors"
	"strings"

	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/pkg/llm"
	"trip-planner-be/pkg/planner"
)

const defaultFallbackPrompt = "You are a helpful travel assistant. Answer the user's latest message directly " +
	"using your general knowledge. If the request is a trip plan, give a concise day-by-day outline and " +
	"state any assumptions about budget or dates."

// FallbackResponder answers a turn without retrieval or verification. It is
// used when the primary pipeline fails.
type FallbackResponder interface {
	Respond(ctx context.Context, messages []planner.Message, onDelta llm.StreamHandler) (string, error)
}

type FallbackConfig struct {
	SystemPrompt  string
	ModelOverride string
	Temperature   float64
	MaxTokens     int
}

// LLMFallback is pure chat over the conversation, streamed.
type LLMFallback struct {
	llmProvider llm.LLMProvider
	cfg         FallbackConfig
	logger      logger.ILogger
}

var _ FallbackResponder = &LLMFallback{}

func NewLLMFallback(llmProvider llm.LLMProvider, cfg FallbackConfig, log logger.ILogger) *LLMFallback {
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = defaultFallbackPrompt
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	return &LLMFallback{llmProvider: llmProvider, cfg: cfg, logger: log}
}

var errFallbackEmpty = errors.New("fallback produced no content")

// Respond streams the reply for messages, which end with the user's turn.
func (f *LLMFallback) Respond(ctx context.Context, messages []planner.Message, onDelta llm.StreamHandler) (string, error) {
	history := make([]llm.Message, 0, len(messages)+1)
	history = append(history, llm.Message{Role: "system", Content: f.cfg.SystemPrompt})
	for _, m := range messages {
		history = append(history, llm.Message{Role: string(m.Role), Content: m.Content})
	}

	opts := []llm.Option{llm.WithTemperature(f.cfg.Temperature)}
	if f.cfg.ModelOverride != "" {
		f.logger.Debug("FALLBACK", "Overriding model", map[string]interface{}{"model": f.cfg.ModelOverride})
		opts = append(opts, llm.WithModel(f.cfg.ModelOverride))
	}
	if f.cfg.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(f.cfg.MaxTokens))
	}

	f.logger.Info("FALLBACK", "Executing", map[string]interface{}{"messages": len(history)})
	reply, err := f.llmProvider.ChatStream(ctx, history, onDelta, opts...)
	if err != nil {
		f.logger.Error("FALLBACK", "LLM error", map[string]interface{}{"error": err.Error()})
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", errFallbackEmpty
	}
	return reply, nil
}
