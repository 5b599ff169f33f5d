// Package factory picks the LLM backend shared by every planner stage and
// the fallback responder.
package factory

import (
	"errors"
	"fmt"
	"strings"

	"trip-planner-be/pkg/llm"
	"trip-planner-be/pkg/llm/huggingface"
	"trip-planner-be/pkg/llm/ollama"
)

type Config struct {
	// Provider is "ollama", or "huggingface"/"openai" for any OpenAI
	// compatible chat completions endpoint.
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

var ErrMissingModel = errors.New("llm model is required")

func New(cfg Config) (llm.LLMProvider, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, ErrMissingModel
	}

	switch strings.ToLower(cfg.Provider) {
	case "ollama", "":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return ollama.NewOllamaProvider(baseURL, cfg.Model), nil
	case "huggingface", "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s provider needs an api key", cfg.Provider)
		}
		return huggingface.NewHuggingFaceProvider(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
