// Package orchestrator runs one conversational turn: the primary pipeline
// first, the fallback responder when the primary fails, and exactly one
// history write for whichever produced the reply.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/pkg/ai/pipeline"
	"trip-planner-be/pkg/planner"
	"trip-planner-be/pkg/planner/executor"
	"trip-planner-be/pkg/planner/stream"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Primary is the streaming pipeline, normally *executor.Executor.
type Primary interface {
	Stream(ctx context.Context, req executor.Request) <-chan stream.Event
}

// HistoryWriter persists the user and assistant message of one turn
// atomically.
type HistoryWriter interface {
	AppendTurn(ctx context.Context, correlationID string, user, assistant planner.Message) error
}

// Metrics receives turn level measurements. Implemented by
// internal/pkg/metrics.
type Metrics interface {
	ObserveTurn(result string, elapsed time.Duration)
	ObserveFallback(trigger planner.FallbackTrigger)
	ObservePhase(phase string, elapsed time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTurn(string, time.Duration)       {}
func (nopMetrics) ObserveFallback(planner.FallbackTrigger) {}
func (nopMetrics) ObservePhase(string, time.Duration)      {}

// Turn results reported to Metrics.
const (
	ResultPrimary   = "primary"
	ResultFallback  = "fallback"
	ResultFailed    = "failed"
	ResultCancelled = "cancelled"
)

type Config struct {
	// PrimaryTimeout bounds the primary stream as a whole. Zero relies on
	// the executor's own turn deadline.
	PrimaryTimeout  time.Duration
	FallbackTimeout time.Duration
	// FragmentBuffer is the capacity of StreamPayload. Fragments beyond it
	// are queued until read.
	FragmentBuffer int
}

type Request struct {
	// Messages is the conversation so far; the last user message is the
	// turn's input.
	Messages      []planner.Message
	CorrelationID string
}

type Orchestrator struct {
	primary  Primary
	fallback pipeline.FallbackResponder
	history  HistoryWriter
	cfg      Config
	gate     *turnGate
	metrics  Metrics
	tracer   trace.Tracer
	logger   logger.ILogger
	now      func() time.Time
}

type Option func(*Orchestrator)

func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

func New(primary Primary, fallback pipeline.FallbackResponder, history HistoryWriter, cfg Config, log logger.ILogger, opts ...Option) *Orchestrator {
	if cfg.FragmentBuffer <= 0 {
		cfg.FragmentBuffer = 64
	}
	o := &Orchestrator{
		primary:  primary,
		fallback: fallback,
		history:  history,
		cfg:      cfg,
		gate:     newTurnGate(),
		metrics:  nopMetrics{},
		tracer:   otel.Tracer("trip-planner-be/orchestrator"),
		logger:   log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

var errNoUserMessage = errors.New("request has no user message")

// Run starts the turn. Both channels are always closed, also when ctx is
// cancelled. The outcome is delivered on PersistPayload whether or not
// StreamPayload is read.
func (o *Orchestrator) Run(ctx context.Context, req Request) *Turn {
	fragments := make(chan Fragment, o.cfg.FragmentBuffer)
	persist := make(chan PersistOutcome, 1)
	queue := newFragmentQueue()

	go queue.relay(ctx, fragments)
	go func() {
		defer queue.close()
		defer close(persist)
		r := &run{Orchestrator: o, ctx: ctx, req: req, out: queue}
		persist <- r.execute()
	}()

	return &Turn{StreamPayload: fragments, PersistPayload: persist}
}

type run struct {
	*Orchestrator
	ctx   context.Context
	req   Request
	out   *fragmentQueue
	span  trace.Span
	start time.Time

	// commit advances the pipeline session once the turn is persisted.
	commit func(context.Context) error
}

func (r *run) emit(f Fragment) bool {
	if r.ctx.Err() != nil {
		return false
	}
	r.out.push(f)
	return true
}

func (r *run) execute() PersistOutcome {
	r.start = r.now()
	r.ctx, r.span = r.tracer.Start(r.ctx, "planner.turn", trace.WithAttributes(
		attribute.String("correlation_id", r.req.CorrelationID),
	))
	defer r.span.End()

	user, ok := lastUserMessage(r.req.Messages)
	if !ok {
		return r.failed(errNoUserMessage)
	}

	release, err := r.gate.acquire(r.ctx, r.req.CorrelationID)
	if err != nil {
		return r.cancelled(err)
	}
	defer release()

	r.logger.Info("ORCHESTRATOR", "[CALLING_PRIMARY]", map[string]interface{}{"correlation_id": r.req.CorrelationID})
	text, metadata, primaryErr := r.callPrimary(user.Content)
	if err := r.ctx.Err(); err != nil {
		return r.cancelled(err)
	}

	if primaryErr != nil {
		decision := planner.FallbackDecision{
			Trigger:   planner.Classify(primaryErr),
			Cause:     primaryErr.Error(),
			DecidedAt: r.now(),
		}
		r.logger.Warn("ORCHESTRATOR", "[CALLING_FALLBACK]", map[string]interface{}{
			"correlation_id": r.req.CorrelationID,
			"trigger":        decision.Trigger,
			"cause":          decision.Cause,
		})
		r.span.AddEvent("fallback", trace.WithAttributes(attribute.String("trigger", string(decision.Trigger))))
		r.metrics.ObserveFallback(decision.Trigger)

		text, err = r.callFallback(decision)
		if ctxErr := r.ctx.Err(); ctxErr != nil {
			return r.cancelled(ctxErr)
		}
		if err != nil {
			return r.failed(fmt.Errorf("%w: %w", planner.ErrFallbackFailed, errors.Join(primaryErr, err)))
		}
		metadata = decision.Metadata()
	}

	return r.persist(user, text, metadata, primaryErr != nil)
}

// callPrimary relays the primary stream and returns the text of the final
// generation attempt, or the error that should trigger the fallback.
func (r *run) callPrimary(text string) (string, map[string]any, error) {
	ctx, cancel := r.ctx, context.CancelFunc(func() {})
	if r.cfg.PrimaryTimeout > 0 {
		ctx, cancel = context.WithTimeout(r.ctx, r.cfg.PrimaryTimeout)
	}
	defer cancel()

	var (
		reply      strings.Builder
		phaseStart = map[string]time.Time{}
		terminal   stream.Event
	)
	events := r.primary.Stream(ctx, executor.Request{Text: text, SessionID: r.req.CorrelationID, DeferCommit: true})
	for ev := range events {
		switch e := ev.(type) {
		case stream.PhaseStart:
			// Each generation attempt restarts the reply; only the last
			// one is the verified text.
			if e.Phase == stream.PhaseGeneration {
				reply.Reset()
			}
			phaseStart[string(e.Phase)] = r.now()
			r.emit(Fragment{Type: FragmentPhase, Phase: string(e.Phase), Attempt: e.Attempt})
		case stream.PhaseEnd:
			if started, ok := phaseStart[string(e.Phase)]; ok {
				r.metrics.ObservePhase(string(e.Phase), r.now().Sub(started))
			}
			r.emit(Fragment{Type: FragmentPhase, Phase: string(e.Phase), Result: e.Result})
		case stream.Token:
			reply.WriteString(e.Delta)
			r.emit(Fragment{Type: FragmentToken, Delta: e.Delta})
		case stream.End, stream.Error:
			terminal = ev
		}
	}

	switch e := terminal.(type) {
	case stream.End:
		metadata := map[string]any{"status": e.Status, "session_id": e.SessionID}
		out := reply.String()
		if e.Status == stream.StatusIncomplete {
			out = e.Message
			r.emit(Fragment{Type: FragmentToken, Delta: e.Message})
		} else {
			metadata["attempts"] = e.Attempts
			if e.Unsafe {
				metadata["unsafe"] = true
			}
			if e.Unverified {
				metadata["unverified"] = true
			}
		}
		if strings.TrimSpace(out) == "" {
			return "", nil, planner.ErrGenerationEmpty
		}
		r.commit = e.Commit
		return out, metadata, nil
	case stream.Error:
		if e.Cause != nil {
			return "", nil, e.Cause
		}
		return "", nil, errors.New(e.Message)
	}

	// Stream closed without a terminal event.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", nil, fmt.Errorf("%w: %w", planner.ErrPipelineTimeout, ctx.Err())
	}
	return "", nil, planner.ErrPrimaryUnavailable
}

func (r *run) callFallback(decision planner.FallbackDecision) (string, error) {
	if r.fallback == nil {
		return "", errors.New("no fallback responder configured")
	}
	if !r.emit(Fragment{Type: FragmentFallback, Metadata: decision.Metadata()}) {
		return "", r.ctx.Err()
	}

	ctx, cancel := r.ctx, context.CancelFunc(func() {})
	if r.cfg.FallbackTimeout > 0 {
		ctx, cancel = context.WithTimeout(r.ctx, r.cfg.FallbackTimeout)
	}
	defer cancel()

	return r.fallback.Respond(ctx, r.req.Messages, func(delta string) error {
		if !r.emit(Fragment{Type: FragmentToken, Delta: delta}) {
			return r.ctx.Err()
		}
		return nil
	})
}

func (r *run) persist(user planner.Message, text string, metadata map[string]any, viaFallback bool) PersistOutcome {
	if user.ID == uuid.Nil {
		user = planner.NewMessage(planner.RoleUser, user.Content, user.Metadata)
	}
	assistant := planner.NewMessage(planner.RoleAssistant, text, metadata)

	if err := r.history.AppendTurn(r.ctx, r.req.CorrelationID, user, assistant); err != nil {
		r.logger.Error("ORCHESTRATOR", "Failed to persist turn", map[string]interface{}{
			"correlation_id": r.req.CorrelationID,
			"error":          err.Error(),
		})
		return r.failed(err)
	}

	result := ResultPrimary
	if viaFallback {
		result = ResultFallback
	} else if r.commit != nil {
		// History is written; the pipeline session may now advance.
		if err := r.commit(context.WithoutCancel(r.ctx)); err != nil {
			r.logger.Warn("ORCHESTRATOR", "Failed to advance pipeline session", map[string]interface{}{
				"correlation_id": r.req.CorrelationID,
				"error":          err.Error(),
			})
		}
	}
	r.metrics.ObserveTurn(result, r.now().Sub(r.start))
	r.span.SetAttributes(attribute.String("result", result), attribute.String("message_id", assistant.ID.String()))
	r.logger.Info("ORCHESTRATOR", "[STREAM_AND_PERSIST]", map[string]interface{}{
		"correlation_id": r.req.CorrelationID,
		"message_id":     assistant.ID.String(),
		"result":         result,
	})
	r.emit(Fragment{Type: FragmentEnd, MessageID: assistant.ID.String(), Metadata: metadata})
	return PersistOutcome{User: user, Assistant: assistant}
}

func (r *run) failed(err error) PersistOutcome {
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
	r.metrics.ObserveTurn(ResultFailed, r.now().Sub(r.start))
	r.logger.Error("ORCHESTRATOR", "[PROPAGATE_ERROR]", map[string]interface{}{
		"correlation_id": r.req.CorrelationID,
		"error":          err.Error(),
	})
	r.emit(Fragment{Type: FragmentError, Message: err.Error()})
	return PersistOutcome{Err: err}
}

func (r *run) cancelled(err error) PersistOutcome {
	r.span.SetStatus(codes.Error, "cancelled")
	r.metrics.ObserveTurn(ResultCancelled, r.now().Sub(r.start))
	r.logger.Info("ORCHESTRATOR", "Turn cancelled by caller", map[string]interface{}{"correlation_id": r.req.CorrelationID})
	return PersistOutcome{Err: err}
}

func lastUserMessage(messages []planner.Message) (planner.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == planner.RoleUser && strings.TrimSpace(messages[i].Content) != "" {
			return messages[i], true
		}
	}
	return planner.Message{}, false
}
