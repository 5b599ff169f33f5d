package verify

import (
	"context"
	"errors"
	"time"

	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/pkg/planner"
	"trip-planner-be/pkg/planner/generate"
)

// State is the loop's position; exposed for logging and tests.
type State string

const (
	StateGenerating State = "GENERATING"
	StateVerifying  State = "VERIFYING"
	StateDone       State = "DONE"
)

type ContentGenerator interface {
	Generate(ctx context.Context, in generate.Input, onToken func(string) error) (planner.GeneratedContent, error)
}

type ContentVerifier interface {
	Verify(ctx context.Context, in *planner.Intent, text string) (planner.VerificationResult, error)
}

// Observer is told about every transition. Token errors abort the attempt.
type Observer interface {
	GenerationStarted(attempt int)
	Token(delta string) error
	GenerationFinished(attempt int, content planner.GeneratedContent)
	VerificationStarted(attempt int)
	VerificationFinished(attempt int, result planner.VerificationResult, err error)
}

type NopObserver struct{}

func (NopObserver) GenerationStarted(int)                                       {}
func (NopObserver) Token(string) error                                          { return nil }
func (NopObserver) GenerationFinished(int, planner.GeneratedContent)            {}
func (NopObserver) VerificationStarted(int)                                     {}
func (NopObserver) VerificationFinished(int, planner.VerificationResult, error) {}

type LoopConfig struct {
	MaxRetries          int
	GenerationTimeout   time.Duration
	VerificationTimeout time.Duration
}

type Outcome struct {
	Content  planner.GeneratedContent
	Attempts int
	// Unsafe: the last attempt was still rejected after all retries.
	Unsafe bool
	// Unverified: the verifier itself failed; the content was never judged.
	Unverified  bool
	Explanation string
}

// Err reports planner.ErrVerificationExhausted for an unsafe outcome.
func (o Outcome) Err() error {
	if o.Unsafe {
		return planner.ErrVerificationExhausted
	}
	return nil
}

type Loop struct {
	generator ContentGenerator
	verifier  ContentVerifier
	cfg       LoopConfig
	logger    logger.ILogger
}

func NewLoop(generator ContentGenerator, verifier ContentVerifier, cfg LoopConfig, log logger.ILogger) *Loop {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Loop{generator: generator, verifier: verifier, cfg: cfg, logger: log}
}

// Run generates, and for itineraries verifies, regenerating in full with
// the verifier's explanation until the content passes or MaxRetries
// regenerations have been spent. in.Artifacts are reused by every attempt.
// Only generation errors are returned.
func (l *Loop) Run(ctx context.Context, in generate.Input, obs Observer) (Outcome, error) {
	if obs == nil {
		obs = NopObserver{}
	}

	attempt := 1
	in.Revision = ""
	for {
		l.transition(StateGenerating, attempt)
		obs.GenerationStarted(attempt)

		in.Attempt = attempt
		content, err := l.generate(ctx, in, obs)
		if err != nil {
			return Outcome{Attempts: attempt}, err
		}
		obs.GenerationFinished(attempt, content)

		if in.Intent.TaskType != planner.TaskItinerary || l.verifier == nil {
			l.transition(StateDone, attempt)
			return Outcome{Content: content, Attempts: attempt}, nil
		}

		l.transition(StateVerifying, attempt)
		obs.VerificationStarted(attempt)
		result, err := l.verify(ctx, in.Intent, content.FullText)
		obs.VerificationFinished(attempt, result, err)

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Outcome{Attempts: attempt}, ctxErr
			}
			l.logger.Warn("VERIFY", "Verifier failed, returning content unverified", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
			})
			l.transition(StateDone, attempt)
			return Outcome{Content: content, Attempts: attempt, Unverified: true, Explanation: err.Error()}, nil
		}

		if result.IsSafe {
			l.transition(StateDone, attempt)
			return Outcome{Content: content, Attempts: attempt, Explanation: result.Explanation}, nil
		}

		retry := attempt - 1
		if retry >= l.cfg.MaxRetries {
			l.logger.Warn("VERIFY", "Retries exhausted, returning unsafe content", map[string]interface{}{
				"attempts":    attempt,
				"explanation": result.Explanation,
			})
			l.transition(StateDone, attempt)
			return Outcome{Content: content, Attempts: attempt, Unsafe: true, Explanation: result.Explanation}, nil
		}

		in.Revision = result.Explanation
		attempt++
	}
}

func (l *Loop) generate(ctx context.Context, in generate.Input, obs Observer) (planner.GeneratedContent, error) {
	if l.cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.GenerationTimeout)
		defer cancel()
	}
	content, err := l.generator.Generate(ctx, in, obs.Token)
	if errors.Is(err, context.DeadlineExceeded) {
		return content, errors.Join(planner.ErrPipelineTimeout, err)
	}
	return content, err
}

func (l *Loop) verify(ctx context.Context, in *planner.Intent, text string) (planner.VerificationResult, error) {
	if l.cfg.VerificationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.VerificationTimeout)
		defer cancel()
	}
	return l.verifier.Verify(ctx, in, text)
}

func (l *Loop) transition(s State, attempt int) {
	l.logger.Debug("VERIFY", "Loop state", map[string]interface{}{"state": s, "attempt": attempt})
}
