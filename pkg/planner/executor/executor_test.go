package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/internal/repository/memory"
	"trip-planner-be/pkg/llm"
	"trip-planner-be/pkg/llm/llmtest"
	"trip-planner-be/pkg/planner"
	"trip-planner-be/pkg/planner/fanout"
	"trip-planner-be/pkg/planner/generate"
	"trip-planner-be/pkg/planner/intent"
	"trip-planner-be/pkg/planner/stream"
	"trip-planner-be/pkg/planner/verify"
	"trip-planner-be/pkg/retrieval"
	"trip-planner-be/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	recommendFoodIntent = `{"task_type": "recommendation", "dest_pref": ["Paris"], "subtype": "food", "city_alias": ["Paris"]}`
	fullItineraryIntent = `{"task_type": "itinerary", "origin": "Shanghai", "dest_pref": ["Paris"], "date_window": {"from": "2026-05-01", "to": "2026-05-04"}, "trip_len_days": 4, "budget_total": 20000, "party": {"adults": 2}}`
	partialItinerary    = `{"task_type": "itinerary", "origin": "Shanghai", "dest_pref": ["Paris"], "date_window": {"from": "2026-05-01"}, "party": {"adults": 2}}`
	markdown            = "## Paris food\n- Le Comptoir: bistro classics\n- Marché des Enfants Rouges: street food"
)

// routedLLM answers by recognising which stage a prompt belongs to.
func routedLLM(intentJSON, generated string) *llmtest.MockProvider {
	return &llmtest.MockProvider{
		ChunkSize: 5,
		Respond: func(_ context.Context, h []llm.Message) (string, error) {
			prompt := llmtest.LastContent(h)
			switch {
			case strings.Contains(prompt, "travel request analyzer"):
				return intentJSON, nil
			case strings.Contains(prompt, "Summarize the travel knowledge"):
				return `{"summary": "Paris is a food capital"}`, nil
			case strings.Contains(prompt, "planning actions"):
				return `{"steps": [{"action": "reserve", "value": "dinner"}]}`, nil
			case strings.Contains(prompt, "alternative plan options"):
				return `{"recommendation": "classic"}`, nil
			default:
				return generated, nil
			}
		},
	}
}

type recordingVerifier struct {
	mu      sync.Mutex
	texts   []string
	results []planner.VerificationResult
	err     error
}

func (v *recordingVerifier) Verify(_ context.Context, _ *planner.Intent, text string) (planner.VerificationResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.texts = append(v.texts, text)
	if v.err != nil {
		return planner.VerificationResult{}, v.err
	}
	if len(v.results) == 0 {
		return planner.VerificationResult{IsSafe: true}, nil
	}
	r := v.results[0]
	v.results = v.results[1:]
	return r, nil
}

type harness struct {
	llm      *llmtest.MockProvider
	gateway  retrieval.Gateway
	verifier *recordingVerifier
	sessions *memory.SessionRepository
	budget   planner.Budget
	requests []retrieval.Request
	mu       sync.Mutex
}

func newHarness(intentJSON, generated string) *harness {
	h := &harness{
		llm:      routedLLM(intentJSON, generated),
		verifier: &recordingVerifier{},
		sessions: memory.NewSessionRepository(10),
		budget: planner.Budget{
			IntentParsing: time.Second,
			Retrieval:     time.Second,
			FanOutMember:  time.Second,
			Generation:    time.Second,
			Verification:  time.Second,
			MaxRetries:    2,
		},
	}
	h.gateway = retrieval.GatewayFunc(func(_ context.Context, req retrieval.Request) ([]retrieval.Snippet, error) {
		h.mu.Lock()
		h.requests = append(h.requests, req)
		h.mu.Unlock()
		return []retrieval.Snippet{{ID: "1", Text: "Bistros in Le Marais", SourceID: "paris-food", Locality: req.Locality}}, nil
	})
	return h
}

func (h *harness) executor(t *testing.T) *Executor {
	t.Helper()
	log := logger.NewNopLogger()
	gen, err := generate.NewGenerator(h.llm, generate.Config{}, log)
	require.NoError(t, err)
	return New(
		intent.NewParser(h.llm, log),
		h.gateway,
		fanout.NewSynthesizer(fanout.NewLLMMembers(h.llm), fanout.Config{MemberTimeout: time.Second}, log),
		verify.NewLoop(gen, h.verifier, verify.LoopConfig{MaxRetries: h.budget.MaxRetries}, log),
		h.sessions,
		Config{Budget: h.budget},
		log,
	)
}

func collect(ch <-chan stream.Event) []stream.Event {
	var events []stream.Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func tokens(events []stream.Event) string {
	var b strings.Builder
	for _, ev := range events {
		if tok, ok := ev.(stream.Token); ok {
			b.WriteString(tok.Delta)
		}
	}
	return b.String()
}

func terminal(t *testing.T, events []stream.Event) stream.Event {
	t.Helper()
	require.NotEmpty(t, events)
	count := 0
	for _, ev := range events {
		if ev.Terminal() {
			count++
		}
	}
	require.Equal(t, 1, count, "exactly one terminal event")
	last := events[len(events)-1]
	require.True(t, last.Terminal(), "terminal event is last")
	return last
}

func phases(events []stream.Event) []string {
	var out []string
	for _, ev := range events {
		switch e := ev.(type) {
		case stream.PhaseStart:
			out = append(out, "start:"+string(e.Phase))
		case stream.PhaseEnd:
			out = append(out, "end:"+string(e.Phase))
		}
	}
	return out
}

func TestScenarioA_RecommendationCompletes(t *testing.T) {
	h := newHarness(recommendFoodIntent, markdown)
	ex := h.executor(t)

	events := collect(ex.Stream(context.Background(), Request{Text: "recommend food in Paris"}))

	end, ok := terminal(t, events).(stream.End)
	require.True(t, ok)
	assert.Equal(t, stream.StatusComplete, end.Status)
	assert.NotEmpty(t, end.SessionID, "a new session id is reported")
	assert.Equal(t, markdown, tokens(events))

	require.Len(t, h.requests, 1)
	assert.Equal(t, "Paris", h.requests[0].Locality)
	assert.Equal(t, "Paris food recommendations", h.requests[0].Query)

	assert.Equal(t, []string{
		"start:intent_parsing", "end:intent_parsing",
		"start:retrieval", "end:retrieval",
		"start:fanout", "end:fanout",
		"start:generation", "end:generation",
	}, phases(events))
	assert.Empty(t, h.verifier.texts, "recommendations are not verified")

	sess, ok := h.sessions.Get(end.SessionID)
	require.True(t, ok)
	require.Len(t, sess.History, 2)
	assert.Equal(t, "recommend food in Paris", sess.History[0].Content)
	assert.Equal(t, markdown, sess.History[1].Content)
}

func TestRetrievalPhaseReportsCount(t *testing.T) {
	h := newHarness(recommendFoodIntent, markdown)
	events := collect(h.executor(t).Stream(context.Background(), Request{Text: "recommend food in Paris"}))

	for _, ev := range events {
		if pe, ok := ev.(stream.PhaseEnd); ok && pe.Phase == stream.PhaseRetrieval {
			assert.Equal(t, 1, pe.Result["count"])
			assert.NotContains(t, pe.Result, "degraded")
			return
		}
	}
	t.Fatal("no retrieval phase_end")
}

func TestScenarioB_MissingSlotsAskForClarification(t *testing.T) {
	h := newHarness(partialItinerary, "SHOULD NOT APPEAR")
	ex := h.executor(t)

	events := collect(ex.Stream(context.Background(), Request{Text: "Paris trip from Shanghai on May 1 for two", SessionID: "b"}))

	end, ok := terminal(t, events).(stream.End)
	require.True(t, ok)
	assert.Equal(t, stream.StatusIncomplete, end.Status)
	assert.Contains(t, end.Message, "budget")
	assert.Contains(t, end.Message, "How many days")
	assert.Empty(t, tokens(events))
	assert.Equal(t, []string{"start:intent_parsing", "end:intent_parsing"}, phases(events))
	assert.Empty(t, h.requests, "no retrieval for incomplete intents")

	sess, _ := h.sessions.Get("b")
	assert.Equal(t, "Shanghai", sess.Slots.Origin, "partial slots are kept for the next turn")
}

func TestDeferredCommitWaitsForTheCaller(t *testing.T) {
	h := newHarness(recommendFoodIntent, markdown)
	events := collect(h.executor(t).Stream(context.Background(),
		Request{Text: "recommend food in Paris", SessionID: "d", DeferCommit: true}))

	end, ok := terminal(t, events).(stream.End)
	require.True(t, ok)
	require.NotNil(t, end.Commit)

	sess, _ := h.sessions.Get("d")
	assert.Empty(t, sess.History, "nothing is applied before Commit")

	require.NoError(t, end.Commit(context.Background()))
	sess, _ = h.sessions.Get("d")
	require.Len(t, sess.History, 2)
	assert.Equal(t, "recommend food in Paris", sess.History[0].Content)
	assert.Equal(t, markdown, sess.History[1].Content)
}

func TestImmediateCommitByDefault(t *testing.T) {
	h := newHarness(recommendFoodIntent, markdown)
	end := terminal(t, collect(h.executor(t).Stream(context.Background(),
		Request{Text: "recommend food in Paris", SessionID: "i"}))).(stream.End)

	assert.Nil(t, end.Commit)
	sess, _ := h.sessions.Get("i")
	assert.Len(t, sess.History, 2)
}

func TestScenarioC_RetrievalFailureIsAbsorbed(t *testing.T) {
	h := newHarness(recommendFoodIntent, markdown)
	h.gateway = retrieval.GatewayFunc(func(context.Context, retrieval.Request) ([]retrieval.Snippet, error) {
		return nil, errors.New("connection refused")
	})
	events := collect(h.executor(t).Stream(context.Background(), Request{Text: "recommend food in Paris"}))

	end, ok := terminal(t, events).(stream.End)
	require.True(t, ok)
	assert.Equal(t, stream.StatusComplete, end.Status)
	assert.Equal(t, markdown, tokens(events))

	for _, ev := range events {
		if pe, ok := ev.(stream.PhaseEnd); ok && pe.Phase == stream.PhaseRetrieval {
			assert.Equal(t, true, pe.Result["degraded"])
			assert.Equal(t, 0, pe.Result["count"])
		}
	}
}

func TestStreamedTextEqualsVerifiedText(t *testing.T) {
	itinerary := "# Day 1\nLouvre\n# Day 2\nVersailles\n# Day 3\nMontmartre\n# Day 4\nDeparture"
	h := newHarness(fullItineraryIntent, itinerary)

	events := collect(h.executor(t).Stream(context.Background(), Request{Text: "plan it"}))

	end := terminal(t, events).(stream.End)
	assert.Equal(t, stream.StatusComplete, end.Status)
	require.Len(t, h.verifier.texts, 1)
	assert.Equal(t, h.verifier.texts[0], tokens(events))
}

func TestVerifierRetryEmitsAnotherGenerationPhase(t *testing.T) {
	h := newHarness(fullItineraryIntent, "# Day 1\nplan")
	h.verifier.results = []planner.VerificationResult{{IsSafe: false, Explanation: "over budget"}, {IsSafe: true}}

	events := collect(h.executor(t).Stream(context.Background(), Request{Text: "plan it"}))

	end := terminal(t, events).(stream.End)
	assert.Equal(t, 2, end.Attempts)
	assert.False(t, end.Unsafe)

	var attempts []int
	for _, ev := range events {
		if ps, ok := ev.(stream.PhaseStart); ok && ps.Phase == stream.PhaseGeneration {
			attempts = append(attempts, ps.Attempt)
		}
	}
	assert.Equal(t, []int{1, 2}, attempts)
	assert.Contains(t, phases(events), "start:verification")
}

func TestExhaustedRetriesEndUnsafe(t *testing.T) {
	h := newHarness(fullItineraryIntent, "# Day 1\nplan")
	h.verifier.results = []planner.VerificationResult{{IsSafe: false}, {IsSafe: false}, {IsSafe: false}}

	end := terminal(t, collect(h.executor(t).Stream(context.Background(), Request{Text: "plan it"}))).(stream.End)
	assert.True(t, end.Unsafe)
	assert.Equal(t, 3, end.Attempts)
}

func TestGenerationEmptyIsAnErrorEvent(t *testing.T) {
	h := newHarness(recommendFoodIntent, "")
	events := collect(h.executor(t).Stream(context.Background(), Request{Text: "recommend food in Paris", SessionID: "e"}))

	errEv, ok := terminal(t, events).(stream.Error)
	require.True(t, ok)
	assert.ErrorIs(t, errEv, planner.ErrGenerationEmpty)

	sess, _ := h.sessions.Get("e")
	assert.Empty(t, sess.History, "failed turns are not committed")
}

func TestIntentFailureIsAnErrorEvent(t *testing.T) {
	h := newHarness("not json at all", markdown)
	errEv, ok := terminal(t, collect(h.executor(t).Stream(context.Background(), Request{Text: "x"}))).(stream.Error)
	require.True(t, ok)
	assert.ErrorIs(t, errEv, planner.ErrIntentParsing)
	assert.Equal(t, planner.TriggerErrored, planner.Classify(errEv))
}

func TestHangingRetrievalIsCutAtItsStageBudget(t *testing.T) {
	h := newHarness(recommendFoodIntent, markdown)
	h.budget.Retrieval = 30 * time.Millisecond
	require.NoError(t, h.budget.Validate())
	h.gateway = retrieval.GatewayFunc(func(ctx context.Context, _ retrieval.Request) ([]retrieval.Snippet, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	events := collect(h.executor(t).Stream(context.Background(), Request{Text: "recommend food in Paris"}))
	end, ok := terminal(t, events).(stream.End)
	require.True(t, ok)
	assert.Equal(t, stream.StatusComplete, end.Status)
	assert.Equal(t, markdown, tokens(events))
	assert.Less(t, time.Since(start), time.Second)

	for _, ev := range events {
		if pe, ok := ev.(stream.PhaseEnd); ok && pe.Phase == stream.PhaseRetrieval {
			assert.Equal(t, true, pe.Result["degraded"])
		}
	}
}

func TestCallerDeadlineDuringRetrievalEndsTheTurn(t *testing.T) {
	h := newHarness(recommendFoodIntent, markdown)
	h.gateway = retrieval.GatewayFunc(func(ctx context.Context, _ retrieval.Request) ([]retrieval.Snippet, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	events := collect(h.executor(t).Stream(ctx, Request{Text: "recommend food in Paris", SessionID: "t"}))
	for _, ev := range events {
		_, isEnd := ev.(stream.End)
		assert.False(t, isEnd, "a turn past its deadline never completes")
	}
	assert.Empty(t, tokens(events))

	sess, _ := h.sessions.Get("t")
	assert.Empty(t, sess.History)
}

func TestCancelledTurnCommitsNothing(t *testing.T) {
	h := newHarness(recommendFoodIntent, strings.Repeat("word ", 200))
	ctx, cancel := context.WithCancel(context.Background())

	ch := h.executor(t).Stream(ctx, Request{Text: "recommend food in Paris", SessionID: "c"})
	for ev := range ch {
		if _, ok := ev.(stream.Token); ok {
			cancel()
			break
		}
	}
	for range ch {
	}

	sess, ok := h.sessions.Get("c")
	require.True(t, ok)
	assert.Empty(t, sess.History)
	assert.Empty(t, sess.Slots.Destinations)
}

func TestBusySessionIsRejected(t *testing.T) {
	h := newHarness(recommendFoodIntent, markdown)
	h.sessions = memory.NewSessionRepository(10, memory.WithBusyPolicy(memory.BusyReject))
	_, release, err := h.sessions.Acquire(context.Background(), "busy")
	require.NoError(t, err)
	defer release()

	errEv, ok := terminal(t, collect(h.executor(t).Stream(context.Background(), Request{Text: "x", SessionID: "busy"}))).(stream.Error)
	require.True(t, ok)
	assert.ErrorIs(t, errEv, store.ErrSessionBusy)
	assert.Equal(t, planner.TriggerUnavailable, planner.Classify(errEv))
}

func TestHistoryGrowsByTwoPerTurn(t *testing.T) {
	h := newHarness(recommendFoodIntent, markdown)
	ex := h.executor(t)

	for i := 0; i < 3; i++ {
		collect(ex.Stream(context.Background(), Request{Text: "recommend food in Paris", SessionID: "n"}))
	}
	sess, _ := h.sessions.Get("n")
	assert.Len(t, sess.History, 6)
}

func TestTurnTimeoutCoversBudget(t *testing.T) {
	h := newHarness(recommendFoodIntent, markdown)
	ex := h.executor(t)
	assert.GreaterOrEqual(t, ex.TurnTimeout(), h.budget.Required())
}
