package bootstrap

import (
	"fmt"

	"trip-planner-be/internal/config"
	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/pkg/llm"
	"trip-planner-be/pkg/planner"
	"trip-planner-be/pkg/planner/executor"
	"trip-planner-be/pkg/planner/fanout"
	"trip-planner-be/pkg/planner/generate"
	"trip-planner-be/pkg/planner/intent"
	"trip-planner-be/pkg/planner/verify"
	"trip-planner-be/pkg/retrieval"
)

// BudgetFrom maps the planner config onto the stage budget.
func BudgetFrom(cfg config.PlannerConfig) planner.Budget {
	return planner.Budget{
		IntentParsing: cfg.IntentTimeout,
		Retrieval:     cfg.RetrievalTimeout,
		FanOutMember:  cfg.FanOutMemberTimeout,
		Generation:    cfg.GenerationTimeout,
		Verification:  cfg.VerificationTimeout,
		MaxRetries:    cfg.MaxRetries,
		Slack:         cfg.Slack,
	}
}

// NewPipeline assembles the primary pipeline from its stages.
func NewPipeline(
	llmProvider llm.LLMProvider,
	gateway retrieval.Gateway,
	sessions executor.SessionStore,
	cfg config.PlannerConfig,
	topK int,
	log logger.ILogger,
) (*executor.Executor, error) {
	budget := BudgetFrom(cfg)
	if err := budget.Validate(); err != nil {
		return nil, fmt.Errorf("invalid planner budget: %w", err)
	}

	generator, err := generate.NewGenerator(llmProvider, generate.Config{}, log)
	if err != nil {
		return nil, err
	}

	loop := verify.NewLoop(
		generator,
		verify.NewVerifier(llmProvider, log),
		verify.LoopConfig{
			MaxRetries:          cfg.MaxRetries,
			GenerationTimeout:   cfg.GenerationTimeout,
			VerificationTimeout: cfg.VerificationTimeout,
		},
		log,
	)

	synthesizer := fanout.NewSynthesizer(
		fanout.NewLLMMembers(llmProvider),
		fanout.Config{MemberTimeout: cfg.FanOutMemberTimeout, MaxInFlight: int64(cfg.FanOutMaxInFlight)},
		log,
	)

	pipeline := executor.New(
		intent.NewParser(llmProvider, log),
		gateway,
		synthesizer,
		loop,
		sessions,
		executor.Config{Budget: budget, TurnTimeout: cfg.TurnTimeout, TopK: topK},
		log,
	)

	if pipeline.TurnTimeout() > cfg.TurnTimeout {
		log.Warn("BOOTSTRAP", "Turn timeout raised to fit the stage budget", map[string]interface{}{
			"configured": cfg.TurnTimeout.String(),
			"effective":  pipeline.TurnTimeout().String(),
		})
	}
	return pipeline, nil
}
