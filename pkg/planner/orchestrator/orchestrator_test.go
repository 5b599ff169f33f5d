package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/internal/repository/memory"
	"trip-planner-be/pkg/ai/pipeline"
	"trip-planner-be/pkg/llm"
	"trip-planner-be/pkg/llm/llmtest"
	"trip-planner-be/pkg/planner"
	"trip-planner-be/pkg/planner/executor"
	"trip-planner-be/pkg/planner/fanout"
	"trip-planner-be/pkg/planner/generate"
	"trip-planner-be/pkg/planner/intent"
	"trip-planner-be/pkg/planner/stream"
	"trip-planner-be/pkg/planner/verify"
	"trip-planner-be/pkg/retrieval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitFunc func(stream.Event) bool

type scriptedPrimary struct {
	mu     sync.Mutex
	active int
	peak   int
	calls  int
	script func(ctx context.Context, req executor.Request, emit emitFunc)
}

func (p *scriptedPrimary) Stream(ctx context.Context, req executor.Request) <-chan stream.Event {
	ch := make(chan stream.Event)
	go func() {
		defer close(ch)
		p.mu.Lock()
		p.calls++
		p.active++
		if p.active > p.peak {
			p.peak = p.active
		}
		p.mu.Unlock()
		defer func() {
			p.mu.Lock()
			p.active--
			p.mu.Unlock()
		}()

		p.script(ctx, req, func(ev stream.Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return ch
}

func completeWith(tokens ...string) func(context.Context, executor.Request, emitFunc) {
	return func(_ context.Context, req executor.Request, emit emitFunc) {
		emit(stream.PhaseStart{Phase: stream.PhaseGeneration, Attempt: 1})
		for _, tok := range tokens {
			emit(stream.Token{Delta: tok})
		}
		emit(stream.PhaseEnd{Phase: stream.PhaseGeneration})
		emit(stream.End{SessionID: req.SessionID, Status: stream.StatusComplete, Attempts: 1})
	}
}

func failWith(err error) func(context.Context, executor.Request, emitFunc) {
	return func(_ context.Context, _ executor.Request, emit emitFunc) {
		emit(stream.PhaseStart{Phase: stream.PhaseIntentParsing})
		emit(stream.Error{Message: err.Error(), Cause: err})
	}
}

type fakeFallback struct {
	mu       sync.Mutex
	reply    string
	err      error
	calls    int
	messages []planner.Message
}

func (f *fakeFallback) Respond(_ context.Context, messages []planner.Message, onDelta llm.StreamHandler) (string, error) {
	f.mu.Lock()
	f.calls++
	f.messages = messages
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	for _, chunk := range llmtest.SplitIntoChunks(f.reply, 3) {
		if err := onDelta(chunk); err != nil {
			return "", err
		}
	}
	return f.reply, nil
}

func (f *fakeFallback) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingMetrics struct {
	mu        sync.Mutex
	turns     []string
	fallbacks []planner.FallbackTrigger
	phases    []string
}

func (m *recordingMetrics) ObserveTurn(result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, result)
}

func (m *recordingMetrics) ObserveFallback(trigger planner.FallbackTrigger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks = append(m.fallbacks, trigger)
}

func (m *recordingMetrics) ObservePhase(phase string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phases = append(m.phases, phase)
}

func ask(text string) []planner.Message {
	return []planner.Message{planner.NewMessage(planner.RoleUser, text, nil)}
}

func newOrchestrator(primary Primary, fb pipeline.FallbackResponder, history HistoryWriter, opts ...Option) *Orchestrator {
	return New(primary, fb, history, Config{}, logger.NewNopLogger(), opts...)
}

func history(t *testing.T, repo *memory.MessageRepository, id string) []planner.Message {
	t.Helper()
	msgs, err := repo.History(context.Background(), id)
	require.NoError(t, err)
	return msgs
}

func TestPrimarySuccessStreamsAndPersists(t *testing.T) {
	repo := memory.NewMessageRepository()
	fb := &fakeFallback{reply: "unused"}
	metrics := &recordingMetrics{}
	o := newOrchestrator(&scriptedPrimary{script: completeWith("## Day 1", "\nLouvre")}, fb, repo, WithMetrics(metrics))

	turn := o.Run(context.Background(), Request{Messages: ask("plan Paris"), CorrelationID: "c1"})
	text, fragments, outcome := turn.Collect()

	require.NoError(t, outcome.Err)
	assert.Equal(t, "## Day 1\nLouvre", text)
	assert.Equal(t, text, outcome.Assistant.Content)
	assert.Equal(t, planner.RoleAssistant, outcome.Assistant.Role)
	assert.Zero(t, fb.callCount())

	last := fragments[len(fragments)-1]
	assert.Equal(t, FragmentEnd, last.Type)
	assert.Equal(t, outcome.Assistant.ID.String(), last.MessageID)
	assert.Equal(t, stream.StatusComplete, last.Metadata["status"])
	assert.NotContains(t, last.Metadata, "fallback")

	msgs := history(t, repo, "c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "plan Paris", msgs[0].Content)
	assert.Equal(t, outcome.Assistant.ID, msgs[1].ID)

	assert.Equal(t, []string{ResultPrimary}, metrics.turns)
	assert.Equal(t, []string{string(stream.PhaseGeneration)}, metrics.phases)
}

func TestOneAssistantMessageRegardlessOfTokenCount(t *testing.T) {
	for _, n := range []int{1, 500} {
		t.Run(fmt.Sprintf("%d tokens", n), func(t *testing.T) {
			tokens := make([]string, n)
			for i := range tokens {
				tokens[i] = "w "
			}
			repo := memory.NewMessageRepository()
			o := newOrchestrator(&scriptedPrimary{script: completeWith(tokens...)}, &fakeFallback{}, repo)

			_, _, outcome := o.Run(context.Background(), Request{Messages: ask("go"), CorrelationID: "c"}).Collect()
			require.NoError(t, outcome.Err)

			msgs := history(t, repo, "c")
			require.Len(t, msgs, 2)
			assert.Equal(t, planner.RoleAssistant, msgs[1].Role)
			assert.Equal(t, strings.Repeat("w ", n), msgs[1].Content)
		})
	}
}

func TestHistoryIsTwoMessagesPerTurn(t *testing.T) {
	repo := memory.NewMessageRepository()
	o := newOrchestrator(&scriptedPrimary{script: completeWith("ok")}, &fakeFallback{}, repo)

	const turns = 4
	var conversation []planner.Message
	for i := 0; i < turns; i++ {
		conversation = append(conversation, planner.NewMessage(planner.RoleUser, fmt.Sprintf("q%d", i), nil))
		_, _, outcome := o.Run(context.Background(), Request{Messages: conversation, CorrelationID: "n"}).Collect()
		require.NoError(t, outcome.Err)
		conversation = append(conversation, outcome.Assistant)
	}
	assert.Len(t, history(t, repo, "n"), 2*turns)
}

func TestOnlyFinalAttemptIsPersisted(t *testing.T) {
	repo := memory.NewMessageRepository()
	primary := &scriptedPrimary{script: func(_ context.Context, req executor.Request, emit emitFunc) {
		emit(stream.PhaseStart{Phase: stream.PhaseGeneration, Attempt: 1})
		emit(stream.Token{Delta: "over budget plan"})
		emit(stream.PhaseEnd{Phase: stream.PhaseGeneration})
		emit(stream.PhaseStart{Phase: stream.PhaseVerification, Attempt: 1})
		emit(stream.PhaseEnd{Phase: stream.PhaseVerification, Result: map[string]any{"is_safe": false}})
		emit(stream.PhaseStart{Phase: stream.PhaseGeneration, Attempt: 2})
		emit(stream.Token{Delta: "revised plan"})
		emit(stream.PhaseEnd{Phase: stream.PhaseGeneration})
		emit(stream.End{SessionID: req.SessionID, Status: stream.StatusComplete, Attempts: 2})
	}}
	o := newOrchestrator(primary, &fakeFallback{}, repo)

	_, fragments, outcome := o.Run(context.Background(), Request{Messages: ask("plan"), CorrelationID: "r"}).Collect()
	require.NoError(t, outcome.Err)
	assert.Equal(t, "revised plan", outcome.Assistant.Content)
	assert.Equal(t, 2, outcome.Assistant.Metadata["attempts"])

	var attempts []int
	for _, f := range fragments {
		if f.Type == FragmentPhase && f.Phase == string(stream.PhaseGeneration) && f.Attempt > 0 {
			attempts = append(attempts, f.Attempt)
		}
	}
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestClarificationIsPersistedAsReply(t *testing.T) {
	repo := memory.NewMessageRepository()
	primary := &scriptedPrimary{script: func(_ context.Context, req executor.Request, emit emitFunc) {
		emit(stream.End{SessionID: req.SessionID, Status: stream.StatusIncomplete, Message: "How many days is the trip?"})
	}}
	o := newOrchestrator(primary, &fakeFallback{}, repo)

	text, _, outcome := o.Run(context.Background(), Request{Messages: ask("Paris trip"), CorrelationID: "q"}).Collect()
	require.NoError(t, outcome.Err)
	assert.Equal(t, "How many days is the trip?", text)
	assert.Equal(t, stream.StatusIncomplete, outcome.Assistant.Metadata["status"])
}

func TestGenerationEmptyFallsBack(t *testing.T) {
	repo := memory.NewMessageRepository()
	fb := &fakeFallback{reply: "Here is a short Paris outline."}
	metrics := &recordingMetrics{}
	o := newOrchestrator(&scriptedPrimary{script: completeWith()}, fb, repo, WithMetrics(metrics))

	text, fragments, outcome := o.Run(context.Background(), Request{Messages: ask("plan"), CorrelationID: "e"}).Collect()
	require.NoError(t, outcome.Err)

	assert.Equal(t, fb.reply, text)
	assert.Equal(t, fb.reply, outcome.Assistant.Content)
	assert.Equal(t, true, outcome.Assistant.Metadata["fallback"])
	assert.Equal(t, string(planner.TriggerEmpty), outcome.Assistant.Metadata["fallback_trigger"])
	assert.Equal(t, []planner.FallbackTrigger{planner.TriggerEmpty}, metrics.fallbacks)
	assert.Equal(t, []string{ResultFallback}, metrics.turns)

	var sawFallback bool
	for _, f := range fragments {
		if f.Type == FragmentFallback {
			sawFallback = true
			assert.Equal(t, true, f.Metadata["fallback"])
		}
	}
	assert.True(t, sawFallback)
	assert.Len(t, history(t, repo, "e"), 2)
}

func TestFallbackReceivesTheSameMessages(t *testing.T) {
	fb := &fakeFallback{reply: "fallback"}
	o := newOrchestrator(&scriptedPrimary{script: failWith(planner.ErrIntentParsing)}, fb, memory.NewMessageRepository())

	msgs := []planner.Message{
		planner.NewMessage(planner.RoleUser, "hi", nil),
		planner.NewMessage(planner.RoleAssistant, "hello", nil),
		planner.NewMessage(planner.RoleUser, "Tokyo in spring?", nil),
	}
	_, _, outcome := o.Run(context.Background(), Request{Messages: msgs, CorrelationID: "m"}).Collect()
	require.NoError(t, outcome.Err)
	assert.Equal(t, msgs, fb.messages)
	assert.Equal(t, msgs[2].ID, outcome.User.ID, "the caller's user message id is kept")
	assert.Equal(t, string(planner.TriggerErrored), outcome.Assistant.Metadata["fallback_trigger"])
}

func TestDoubleFailurePersistsNothing(t *testing.T) {
	repo := memory.NewMessageRepository()
	fb := &fakeFallback{err: errors.New("fallback model down")}
	o := newOrchestrator(&scriptedPrimary{script: failWith(planner.ErrPrimaryUnavailable)}, fb, repo)

	_, fragments, outcome := o.Run(context.Background(), Request{Messages: ask("plan"), CorrelationID: "d"}).Collect()

	assert.ErrorIs(t, outcome.Err, planner.ErrFallbackFailed)
	assert.Equal(t, FragmentError, fragments[len(fragments)-1].Type)
	assert.Empty(t, history(t, repo, "d"))
}

func TestCancellationSkipsFallbackAndPersistence(t *testing.T) {
	repo := memory.NewMessageRepository()
	fb := &fakeFallback{reply: "nope"}
	primary := &scriptedPrimary{script: func(ctx context.Context, _ executor.Request, emit emitFunc) {
		emit(stream.PhaseStart{Phase: stream.PhaseGeneration, Attempt: 1})
		emit(stream.Token{Delta: "partial"})
		<-ctx.Done()
	}}
	o := newOrchestrator(primary, fb, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	turn := o.Run(ctx, Request{Messages: ask("plan"), CorrelationID: "x"})
	for f := range turn.StreamPayload {
		if f.Type == FragmentToken {
			cancel()
		}
	}
	outcome := <-turn.PersistPayload

	assert.ErrorIs(t, outcome.Err, context.Canceled)
	assert.Zero(t, fb.callCount())
	assert.Empty(t, history(t, repo, "x"))
}

func TestPrimaryTimeoutFallsBack(t *testing.T) {
	repo := memory.NewMessageRepository()
	fb := &fakeFallback{reply: "quick answer"}
	primary := &scriptedPrimary{script: func(ctx context.Context, _ executor.Request, emit emitFunc) {
		emit(stream.PhaseStart{Phase: stream.PhaseRetrieval})
		<-ctx.Done()
	}}
	o := New(primary, fb, repo, Config{PrimaryTimeout: 30 * time.Millisecond}, logger.NewNopLogger())

	_, _, outcome := o.Run(context.Background(), Request{Messages: ask("plan"), CorrelationID: "t"}).Collect()
	require.NoError(t, outcome.Err)
	assert.Equal(t, "quick answer", outcome.Assistant.Content)
	assert.Equal(t, string(planner.TriggerTimeout), outcome.Assistant.Metadata["fallback_trigger"])
}

func TestSameCorrelationTurnsAreSerialized(t *testing.T) {
	primary := &scriptedPrimary{script: func(ctx context.Context, req executor.Request, emit emitFunc) {
		time.Sleep(30 * time.Millisecond)
		completeWith("ok")(ctx, req, emit)
	}}
	o := newOrchestrator(primary, &fakeFallback{}, memory.NewMessageRepository())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Run(context.Background(), Request{Messages: ask("plan"), CorrelationID: "same"}).Collect()
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, primary.calls)
	assert.Equal(t, 1, primary.peak)
	assert.Zero(t, o.gate.size(), "gate entries are released")
}

func TestMissingUserMessageIsAnError(t *testing.T) {
	primary := &scriptedPrimary{script: completeWith("ok")}
	o := newOrchestrator(primary, &fakeFallback{}, memory.NewMessageRepository())

	_, fragments, outcome := o.Run(context.Background(), Request{CorrelationID: "u"}).Collect()
	assert.ErrorIs(t, outcome.Err, errNoUserMessage)
	require.Len(t, fragments, 1)
	assert.Equal(t, FragmentError, fragments[0].Type)
	assert.Zero(t, primary.calls)
}

type failingHistory struct{}

func (failingHistory) AppendTurn(context.Context, string, planner.Message, planner.Message) error {
	return errors.New("db down")
}

func TestPersistFailureIsReported(t *testing.T) {
	o := newOrchestrator(&scriptedPrimary{script: completeWith("ok")}, &fakeFallback{}, failingHistory{})
	_, fragments, outcome := o.Run(context.Background(), Request{Messages: ask("plan"), CorrelationID: "p"}).Collect()
	assert.EqualError(t, outcome.Err, "db down")
	assert.Equal(t, FragmentError, fragments[len(fragments)-1].Type)
}

// pipelineLLM drives the real executor stages. generation is returned for
// every prompt that is not an intent or fan-out prompt.
func pipelineLLM(generation func() (string, error)) *llmtest.MockProvider {
	return &llmtest.MockProvider{
		Respond: func(_ context.Context, h []llm.Message) (string, error) {
			prompt := llmtest.LastContent(h)
			switch {
			case strings.Contains(prompt, "travel request analyzer"):
				return `{"task_type": "recommendation", "dest_pref": ["Paris"], "subtype": "food"}`, nil
			case strings.Contains(prompt, "Summarize the travel knowledge"):
				return `{"summary": "food"}`, nil
			case strings.Contains(prompt, "planning actions"):
				return `{"steps": []}`, nil
			case strings.Contains(prompt, "alternative plan options"):
				return `{"recommendation": ""}`, nil
			}
			return generation()
		},
	}
}

func realExecutor(t *testing.T, provider llm.LLMProvider, gateway retrieval.Gateway, budget planner.Budget) *executor.Executor {
	t.Helper()
	return realExecutorWith(t, provider, gateway, budget, memory.NewSessionRepository(10))
}

func realExecutorWith(t *testing.T, provider llm.LLMProvider, gateway retrieval.Gateway, budget planner.Budget, sessions *memory.SessionRepository) *executor.Executor {
	t.Helper()
	log := logger.NewNopLogger()
	gen, err := generate.NewGenerator(provider, generate.Config{}, log)
	require.NoError(t, err)
	return executor.New(
		intent.NewParser(provider, log),
		gateway,
		fanout.NewSynthesizer(fanout.NewLLMMembers(provider), fanout.Config{}, log),
		verify.NewLoop(gen, nil, verify.LoopConfig{MaxRetries: budget.MaxRetries}, log),
		sessions,
		executor.Config{Budget: budget},
		log,
	)
}

func TestScenarioD_GeneratorFailureUsesFallback(t *testing.T) {
	provider := pipelineLLM(func() (string, error) { return "", errors.New("generator crashed") })
	gateway := retrieval.GatewayFunc(func(context.Context, retrieval.Request) ([]retrieval.Snippet, error) {
		return []retrieval.Snippet{{ID: "1", Text: "bistros"}}, nil
	})
	budget := planner.Budget{IntentParsing: time.Second, Retrieval: time.Second, FanOutMember: time.Second,
		Generation: time.Second, Verification: time.Second}

	repo := memory.NewMessageRepository()
	fb := &fakeFallback{reply: "Try a bistro in Le Marais."}
	o := newOrchestrator(realExecutor(t, provider, gateway, budget), fb, repo)

	_, _, outcome := o.Run(context.Background(), Request{Messages: ask("recommend food in Paris"), CorrelationID: "D"}).Collect()
	require.NoError(t, outcome.Err)

	msgs := history(t, repo, "D")
	require.Len(t, msgs, 2)
	assert.Equal(t, fb.reply, msgs[1].Content)
	assert.Equal(t, true, msgs[1].Metadata["fallback"])
}

func TestGenerationEmptyThroughPipelineFallsBack(t *testing.T) {
	provider := pipelineLLM(func() (string, error) { return "   ", nil })
	budget := planner.Budget{IntentParsing: time.Second, Retrieval: time.Second, FanOutMember: time.Second,
		Generation: time.Second, Verification: time.Second}

	repo := memory.NewMessageRepository()
	fb := &fakeFallback{reply: "fallback reply"}
	o := newOrchestrator(realExecutor(t, provider, nil, budget), fb, repo)

	_, _, outcome := o.Run(context.Background(), Request{Messages: ask("recommend food in Paris"), CorrelationID: "E"}).Collect()
	require.NoError(t, outcome.Err)
	assert.Equal(t, "fallback reply", outcome.Assistant.Content)
	assert.Equal(t, string(planner.TriggerEmpty), outcome.Assistant.Metadata["fallback_trigger"])
}

func TestHangingRetrievalDegradesWithinTheTurn(t *testing.T) {
	provider := pipelineLLM(func() (string, error) { return "Bistros in Le Marais.", nil })
	gateway := retrieval.GatewayFunc(func(ctx context.Context, _ retrieval.Request) ([]retrieval.Snippet, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	budget := planner.Budget{IntentParsing: time.Second, Retrieval: 30 * time.Millisecond, FanOutMember: time.Second,
		Generation: time.Second, Verification: time.Second}
	require.NoError(t, budget.Validate())

	repo := memory.NewMessageRepository()
	fb := &fakeFallback{reply: "unused"}
	o := newOrchestrator(realExecutor(t, provider, gateway, budget), fb, repo)

	_, fragments, outcome := o.Run(context.Background(), Request{Messages: ask("recommend food in Paris"), CorrelationID: "R"}).Collect()
	require.NoError(t, outcome.Err)
	assert.Equal(t, "Bistros in Le Marais.", outcome.Assistant.Content)
	assert.NotContains(t, outcome.Assistant.Metadata, "fallback")
	assert.Zero(t, fb.callCount())

	var degraded bool
	for _, f := range fragments {
		if f.Type == FragmentPhase && f.Phase == string(stream.PhaseRetrieval) && f.Result != nil {
			degraded = f.Result["degraded"] == true
		}
	}
	assert.True(t, degraded)
}

func TestRetrievalOutlivingPrimaryDeadlineFallsBack(t *testing.T) {
	provider := pipelineLLM(func() (string, error) { return "never reached", nil })
	gateway := retrieval.GatewayFunc(func(ctx context.Context, _ retrieval.Request) ([]retrieval.Snippet, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	budget := planner.Budget{IntentParsing: time.Second, Retrieval: time.Second, FanOutMember: time.Second,
		Generation: time.Second, Verification: time.Second}
	require.NoError(t, budget.Validate())

	repo := memory.NewMessageRepository()
	fb := &fakeFallback{reply: "general Paris tips"}
	o := New(realExecutor(t, provider, gateway, budget), fb, repo,
		Config{PrimaryTimeout: 50 * time.Millisecond}, logger.NewNopLogger())

	_, _, outcome := o.Run(context.Background(), Request{Messages: ask("recommend food in Paris"), CorrelationID: "R"}).Collect()
	require.NoError(t, outcome.Err)

	msgs := history(t, repo, "R")
	require.Len(t, msgs, 2)
	assert.Equal(t, "general Paris tips", msgs[1].Content)
	assert.Equal(t, true, msgs[1].Metadata["fallback"])
	assert.Equal(t, string(planner.TriggerTimeout), msgs[1].Metadata["fallback_trigger"])
}

func TestPersistOutcomeWithoutReadingStream(t *testing.T) {
	tokens := make([]string, 250)
	for i := range tokens {
		tokens[i] = "w "
	}
	repo := memory.NewMessageRepository()
	o := newOrchestrator(&scriptedPrimary{script: completeWith(tokens...)}, &fakeFallback{}, repo)

	turn := o.Run(context.Background(), Request{Messages: ask("go"), CorrelationID: "p"})

	select {
	case outcome := <-turn.PersistPayload:
		require.NoError(t, outcome.Err)
		assert.Equal(t, strings.Repeat("w ", 250), outcome.Assistant.Content)
	case <-time.After(3 * time.Second):
		t.Fatal("persist outcome waited on the stream reader")
	}
	assert.Len(t, history(t, repo, "p"), 2)

	// The stream is still complete for a late reader.
	var count int
	var last Fragment
	for f := range turn.StreamPayload {
		count++
		last = f
	}
	assert.Equal(t, 253, count)
	assert.Equal(t, FragmentEnd, last.Type)
}

// committingPrimary completes the turn and records when the session commit
// handed back through End is applied.
func committingPrimary(commits *int, deferred *bool) *scriptedPrimary {
	return &scriptedPrimary{script: func(_ context.Context, req executor.Request, emit emitFunc) {
		*deferred = req.DeferCommit
		emit(stream.Token{Delta: "plan"})
		emit(stream.End{SessionID: req.SessionID, Status: stream.StatusComplete, Attempts: 1,
			Commit: func(context.Context) error {
				*commits++
				return nil
			}})
	}}
}

func TestSessionCommitFollowsPersist(t *testing.T) {
	var (
		commits  int
		deferred bool
	)
	o := newOrchestrator(committingPrimary(&commits, &deferred), &fakeFallback{}, memory.NewMessageRepository())

	_, _, outcome := o.Run(context.Background(), Request{Messages: ask("plan"), CorrelationID: "s"}).Collect()
	require.NoError(t, outcome.Err)
	assert.True(t, deferred)
	assert.Equal(t, 1, commits)
}

func TestSessionCommitSkippedWhenPersistFails(t *testing.T) {
	var (
		commits  int
		deferred bool
	)
	o := newOrchestrator(committingPrimary(&commits, &deferred), &fakeFallback{}, failingHistory{})

	_, _, outcome := o.Run(context.Background(), Request{Messages: ask("plan"), CorrelationID: "s"}).Collect()
	require.Error(t, outcome.Err)
	assert.Zero(t, commits)
}

func TestPipelineSessionAdvancesOnlyWithHistory(t *testing.T) {
	provider := pipelineLLM(func() (string, error) { return "Bistros in Le Marais.", nil })
	budget := planner.Budget{IntentParsing: time.Second, Retrieval: time.Second, FanOutMember: time.Second,
		Generation: time.Second, Verification: time.Second}

	sessions := memory.NewSessionRepository(10)
	o := newOrchestrator(realExecutorWith(t, provider, nil, budget, sessions), &fakeFallback{}, failingHistory{})
	_, _, outcome := o.Run(context.Background(), Request{Messages: ask("recommend food in Paris"), CorrelationID: "S"}).Collect()
	require.Error(t, outcome.Err)

	sess, ok := sessions.Get("S")
	require.True(t, ok)
	assert.Empty(t, sess.History, "unpersisted turn leaves the pipeline session alone")

	repo := memory.NewMessageRepository()
	o = newOrchestrator(realExecutorWith(t, provider, nil, budget, sessions), &fakeFallback{}, repo)
	_, _, outcome = o.Run(context.Background(), Request{Messages: ask("recommend food in Paris"), CorrelationID: "S"}).Collect()
	require.NoError(t, outcome.Err)

	sess, _ = sessions.Get("S")
	require.Len(t, sess.History, 2)
	assert.Equal(t, "Bistros in Le Marais.", sess.History[1].Content)
	assert.Len(t, history(t, repo, "S"), 2)
}
