// Package executor drives one pipeline turn (intent, retrieval, fan-out,
// generation and verification) and reports it as an ordered event stream.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/pkg/planner"
	"trip-planner-be/pkg/planner/fanout"
	"trip-planner-be/pkg/planner/generate"
	"trip-planner-be/pkg/planner/intent"
	"trip-planner-be/pkg/planner/stream"
	"trip-planner-be/pkg/planner/verify"
	"trip-planner-be/pkg/retrieval"
	"trip-planner-be/pkg/store"

	"github.com/google/uuid"
)

type IntentParser interface {
	Parse(ctx context.Context, in intent.ParseInput) (*planner.Intent, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, in fanout.Input) fanout.Result
}

type GenerationLoop interface {
	Run(ctx context.Context, in generate.Input, obs verify.Observer) (verify.Outcome, error)
}

type SessionStore interface {
	Acquire(ctx context.Context, id string) (*store.Session, func(), error)
}

type Config struct {
	Budget planner.Budget
	// TurnTimeout is raised to Budget.Required() when configured lower.
	TurnTimeout time.Duration
	TopK        int
	// EventBuffer is the capacity of the returned channel.
	EventBuffer int
}

type Request struct {
	Text string
	// SessionID selects pipeline state; empty starts a new session.
	SessionID string
	// DeferCommit leaves the session untouched and hands the commit to the
	// caller through End.Commit.
	DeferCommit bool
}

type Executor struct {
	parser      IntentParser
	gateway     retrieval.Gateway
	synthesizer Synthesizer
	loop        GenerationLoop
	sessions    SessionStore
	cfg         Config
	turnTimeout time.Duration
	logger      logger.ILogger
	now         func() time.Time
}

func New(
	parser IntentParser,
	gateway retrieval.Gateway,
	synthesizer Synthesizer,
	loop GenerationLoop,
	sessions SessionStore,
	cfg Config,
	log logger.ILogger,
) *Executor {
	if gateway == nil {
		gateway = retrieval.Noop{}
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	return &Executor{
		parser:      parser,
		gateway:     gateway,
		synthesizer: synthesizer,
		loop:        loop,
		sessions:    sessions,
		cfg:         cfg,
		turnTimeout: cfg.Budget.Effective(cfg.TurnTimeout),
		logger:      log,
		now:         time.Now,
	}
}

// TurnTimeout is the hard deadline applied to every turn.
func (e *Executor) TurnTimeout() time.Duration { return e.turnTimeout }

// Stream starts the turn and returns its events. The channel is closed
// after exactly one terminal event (End or Error), or early if ctx is
// cancelled and nobody is reading.
func (e *Executor) Stream(ctx context.Context, req Request) <-chan stream.Event {
	out := make(chan stream.Event, e.cfg.EventBuffer)
	go func() {
		defer close(out)
		t := &turn{Executor: e, caller: ctx, out: out, req: req}
		t.run()
	}()
	return out
}

type turn struct {
	*Executor
	caller context.Context
	out    chan<- stream.Event
	req    Request
}

// emit delivers ev unless the caller has gone away.
func (t *turn) emit(ev stream.Event) bool {
	select {
	case t.out <- ev:
		return true
	case <-t.caller.Done():
		return false
	}
}

func stageContext(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}

func (t *turn) run() {
	sessionID := t.req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx, cancel := stageContext(t.caller, t.turnTimeout)
	defer cancel()

	sess, release, err := t.sessions.Acquire(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionBusy) {
			err = fmt.Errorf("%w: %w", planner.ErrPrimaryUnavailable, err)
		}
		t.fail("session", err)
		return
	}
	defer release()
	snapshot := sess.Clone()

	t.logger.Info("EXECUTOR", "[PHASE 1] Intent parsing", map[string]interface{}{"session_id": sessionID})
	t.emit(stream.PhaseStart{Phase: stream.PhaseIntentParsing})
	ictx, icancel := stageContext(ctx, t.cfg.Budget.IntentParsing)
	parsed, err := t.parser.Parse(ictx, intent.ParseInput{
		Text:    t.req.Text,
		Prior:   snapshot.Slots,
		History: snapshot.History,
	})
	icancel()
	if err != nil {
		t.fail(string(stream.PhaseIntentParsing), err)
		return
	}
	t.emit(stream.PhaseEnd{Phase: stream.PhaseIntentParsing, Result: map[string]any{
		"task_type": parsed.TaskType,
		"status":    parsed.Status,
		"missing":   parsed.Missing,
	}})

	if !parsed.Proceed() {
		t.emit(stream.End{
			SessionID: sessionID,
			Status:    stream.StatusIncomplete,
			Message:   parsed.Clarification,
			Commit:    t.commit(sess, parsed.Slots, parsed.Clarification),
		})
		return
	}

	t.logger.Info("EXECUTOR", "[PHASE 2] Retrieval", map[string]interface{}{"query": parsed.Query, "locality": parsed.Locality})
	t.emit(stream.PhaseStart{Phase: stream.PhaseRetrieval})
	snippets, degraded, err := t.retrieve(ctx, parsed)
	if err != nil {
		t.fail(string(stream.PhaseRetrieval), err)
		return
	}
	retrievalResult := map[string]any{"count": len(snippets)}
	if degraded {
		retrievalResult["degraded"] = true
	}
	t.emit(stream.PhaseEnd{Phase: stream.PhaseRetrieval, Result: retrievalResult})

	t.logger.Info("EXECUTOR", "[PHASE 3] Fan-out", nil)
	t.emit(stream.PhaseStart{Phase: stream.PhaseFanOut})
	fctx, fcancel := stageContext(ctx, t.cfg.Budget.FanOutMember)
	synth := t.synthesizer.Synthesize(fctx, fanout.Input{Intent: parsed, Snippets: snippets, UserText: t.req.Text})
	fcancel()
	if err := ctx.Err(); err != nil {
		t.fail(string(stream.PhaseFanOut), err)
		return
	}
	fanoutResult := map[string]any{}
	if len(synth.Failed) > 0 {
		fanoutResult["failed"] = synth.Failed
	}
	t.emit(stream.PhaseEnd{Phase: stream.PhaseFanOut, Result: fanoutResult})

	t.logger.Info("EXECUTOR", "[PHASE 4] Generation", map[string]interface{}{"task_type": parsed.TaskType})
	outcome, err := t.loop.Run(ctx, generate.Input{
		Intent:    parsed,
		Snippets:  snippets,
		Artifacts: synth.Artifacts,
	}, &eventObserver{turn: t})
	if err != nil {
		t.fail(string(stream.PhaseGeneration), err)
		return
	}

	commit := t.commit(sess, parsed.Slots, outcome.Content.FullText)
	t.logger.Info("EXECUTOR", "[PHASE 5] Turn complete", map[string]interface{}{
		"session_id": sessionID,
		"attempts":   outcome.Attempts,
		"unsafe":     outcome.Unsafe,
		"unverified": outcome.Unverified,
	})
	t.emit(stream.End{
		SessionID:  sessionID,
		Status:     stream.StatusComplete,
		Unsafe:     outcome.Unsafe,
		Unverified: outcome.Unverified,
		Attempts:   outcome.Attempts,
		Commit:     commit,
	})
}

// commit applies the turn to sess right away, or returns a func that does
// so later under a fresh lease when the request defers it.
func (t *turn) commit(sess *store.Session, slots planner.Slots, reply string) func(context.Context) error {
	if !t.req.DeferCommit {
		sess.Commit(slots, t.req.Text, reply, t.now())
		return nil
	}
	id := sess.ID
	return func(ctx context.Context) error {
		s, release, err := t.sessions.Acquire(ctx, id)
		if err != nil {
			return err
		}
		defer release()
		s.Commit(slots, t.req.Text, reply, t.now())
		return nil
	}
}

// retrieve absorbs gateway failures as an empty, degraded result. Only the
// turn deadline or caller cancellation is returned as an error.
func (t *turn) retrieve(ctx context.Context, in *planner.Intent) ([]retrieval.Snippet, bool, error) {
	rctx, cancel := stageContext(ctx, t.cfg.Budget.Retrieval)
	defer cancel()

	snippets, err := t.gateway.Search(rctx, retrieval.Request{Query: in.Query, Locality: in.Locality, TopK: t.cfg.TopK})
	if err == nil {
		return snippets, false, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, false, ctxErr
	}
	t.logger.Warn("EXECUTOR", "Retrieval failed, continuing without context", map[string]interface{}{
		"error": fmt.Errorf("%w: %w", planner.ErrRetrievalUnavailable, err).Error(),
	})
	return nil, true, nil
}

func (t *turn) fail(stage string, err error) {
	if errors.Is(err, context.DeadlineExceeded) && t.caller.Err() == nil && !errors.Is(err, planner.ErrPipelineTimeout) {
		err = errors.Join(planner.ErrPipelineTimeout, err)
	}
	err = planner.NewStageError(stage, err)
	t.logger.Error("EXECUTOR", "Turn failed", map[string]interface{}{"stage": stage, "error": err.Error()})
	t.emit(stream.Error{Message: err.Error(), Cause: err})
}

type eventObserver struct {
	turn *turn
}

func (o *eventObserver) GenerationStarted(attempt int) {
	o.turn.emit(stream.PhaseStart{Phase: stream.PhaseGeneration, Attempt: attempt})
}

func (o *eventObserver) Token(delta string) error {
	if !o.turn.emit(stream.Token{Delta: delta}) {
		return o.turn.caller.Err()
	}
	return nil
}

func (o *eventObserver) GenerationFinished(attempt int, content planner.GeneratedContent) {
	o.turn.emit(stream.PhaseEnd{Phase: stream.PhaseGeneration, Result: map[string]any{
		"attempt": attempt,
		"chars":   len(content.FullText),
	}})
}

func (o *eventObserver) VerificationStarted(attempt int) {
	o.turn.emit(stream.PhaseStart{Phase: stream.PhaseVerification, Attempt: attempt})
}

func (o *eventObserver) VerificationFinished(attempt int, result planner.VerificationResult, err error) {
	res := map[string]any{"attempt": attempt}
	if err != nil {
		res["unverified"] = true
		res["error"] = err.Error()
	} else {
		res["is_safe"] = result.IsSafe
		res["explanation"] = result.Explanation
	}
	o.turn.emit(stream.PhaseEnd{Phase: stream.PhaseVerification, Result: res})
}
