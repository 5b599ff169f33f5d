package bootstrap

import (
	"context"
	"testing"
	"time"

	"trip-planner-be/internal/config"
	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/internal/repository/memory"
	"trip-planner-be/pkg/llm/llmtest"
	"trip-planner-be/pkg/retrieval"
	"trip-planner-be/pkg/retrieval/cache"
	"trip-planner-be/pkg/retrieval/httpgw"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plannerConfig() config.PlannerConfig {
	return config.PlannerConfig{
		IntentTimeout:       8 * time.Second,
		RetrievalTimeout:    10 * time.Second,
		FanOutMemberTimeout: 10 * time.Second,
		GenerationTimeout:   15 * time.Second,
		VerificationTimeout: 5 * time.Second,
		MaxRetries:          2,
		Slack:               5 * time.Second,
		TurnTimeout:         58 * time.Second,
		FanOutMaxInFlight:   32,
	}
}

func TestNewPipelineRaisesTurnTimeoutToBudget(t *testing.T) {
	sessions := memory.NewSessionRepository(10)

	p, err := NewPipeline(&llmtest.MockProvider{}, retrieval.Noop{}, sessions, plannerConfig(), 5, logger.NewNopLogger())
	require.NoError(t, err)

	// 8 + 10 + 10 + (15 + 5) * 3 + 5
	assert.Equal(t, 93*time.Second, p.TurnTimeout())
}

func TestNewPipelineRejectsInvalidBudget(t *testing.T) {
	cfg := plannerConfig()
	cfg.GenerationTimeout = 0

	_, err := NewPipeline(&llmtest.MockProvider{}, nil, memory.NewSessionRepository(10), cfg, 5, logger.NewNopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generation")
}

func TestNewGatewaySelection(t *testing.T) {
	log := logger.NewNopLogger()

	t.Run("none without cache", func(t *testing.T) {
		cfg := &config.Config{Retrieval: config.RetrievalConfig{Backend: "none", Cache: "none"}}
		g, closeFn, err := NewGateway(cfg, nil, nil, log)
		require.NoError(t, err)
		assert.IsType(t, retrieval.Noop{}, g)
		assert.NoError(t, closeFn())

		snippets, err := g.Search(context.Background(), retrieval.Request{Query: "Paris"})
		require.NoError(t, err)
		assert.Empty(t, snippets)
	})

	t.Run("http behind memory cache", func(t *testing.T) {
		cfg := &config.Config{Retrieval: config.RetrievalConfig{
			Backend:  "http",
			RagURL:   "http://localhost:8001",
			Cache:    "memory",
			CacheTTL: time.Minute,
		}}
		g, _, err := NewGateway(cfg, nil, nil, log)
		require.NoError(t, err)
		assert.IsType(t, &cache.MemoryGateway{}, g)
	})

	t.Run("redis cache without redis falls back to memory", func(t *testing.T) {
		cfg := &config.Config{Retrieval: config.RetrievalConfig{Backend: "http", Cache: "redis"}}
		g, _, err := NewGateway(cfg, nil, nil, log)
		require.NoError(t, err)
		assert.IsType(t, &cache.MemoryGateway{}, g)
	})

	t.Run("http uncached", func(t *testing.T) {
		cfg := &config.Config{Retrieval: config.RetrievalConfig{Backend: "http", Cache: "none"}}
		g, _, err := NewGateway(cfg, nil, nil, log)
		require.NoError(t, err)
		assert.IsType(t, &httpgw.Client{}, g)
	})

	t.Run("pgvector needs a database", func(t *testing.T) {
		cfg := &config.Config{Retrieval: config.RetrievalConfig{Backend: "pgvector"}}
		_, _, err := NewGateway(cfg, nil, nil, log)
		assert.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := &config.Config{Retrieval: config.RetrievalConfig{Backend: "elastic"}}
		_, _, err := NewGateway(cfg, nil, nil, log)
		assert.ErrorContains(t, err, "elastic")
	})
}
