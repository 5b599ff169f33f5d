package fanout

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/pkg/llm"
	"trip-planner-be/pkg/llm/llmtest"
	"trip-planner-be/pkg/planner"
	"trip-planner-be/pkg/retrieval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMembers struct {
	delay    time.Duration
	summary  func() (planner.ContextSummary, error)
	steps    func() (planner.PlanSteps, error)
	agg      func() (planner.Aggregation, error)
	inFlight int32
	peak     int32
}

func (s *stubMembers) enter(ctx context.Context) error {
	n := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
			break
		}
	}
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stubMembers) ContextSummary(ctx context.Context, _ string, _ []retrieval.Snippet) (planner.ContextSummary, error) {
	if err := s.enter(ctx); err != nil {
		return planner.ContextSummary{}, err
	}
	if s.summary != nil {
		return s.summary()
	}
	return planner.ContextSummary{Summary: "summary"}, nil
}

func (s *stubMembers) PlanSteps(ctx context.Context, _ *planner.Intent) (planner.PlanSteps, error) {
	if err := s.enter(ctx); err != nil {
		return planner.PlanSteps{}, err
	}
	if s.steps != nil {
		return s.steps()
	}
	return planner.PlanSteps{Steps: []planner.PlanStep{{Action: "book", Value: "flight"}}}, nil
}

func (s *stubMembers) Aggregate(ctx context.Context, _ *planner.Intent) (planner.Aggregation, error) {
	if err := s.enter(ctx); err != nil {
		return planner.Aggregation{}, err
	}
	if s.agg != nil {
		return s.agg()
	}
	return planner.Aggregation{Recommendation: "A"}, nil
}

func input() Input {
	return Input{Intent: &planner.Intent{TaskType: planner.TaskItinerary}, UserText: "paris"}
}

func TestSynthesize_MembersRunConcurrently(t *testing.T) {
	members := &stubMembers{delay: time.Second}
	s := NewSynthesizer(members, Config{}, logger.NewNopLogger())

	start := time.Now()
	res := s.Synthesize(context.Background(), input())
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 1500*time.Millisecond)
	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Empty(t, res.Failed)
	assert.Equal(t, "summary", res.Artifacts.ContextSummary.Summary)
	assert.Len(t, res.Artifacts.PlanSteps.Steps, 1)
	assert.Equal(t, "A", res.Artifacts.Aggregation.Recommendation)
}

func TestSynthesize_FailingMemberDefaultsWithoutCancellingOthers(t *testing.T) {
	members := &stubMembers{
		delay: 20 * time.Millisecond,
		steps: func() (planner.PlanSteps, error) { return planner.PlanSteps{}, errors.New("model refused") },
		agg:   func() (planner.Aggregation, error) { panic("boom") },
	}
	s := NewSynthesizer(members, Config{}, logger.NewNopLogger())

	res := s.Synthesize(context.Background(), input())

	assert.Equal(t, []string{MemberPlanSteps, MemberAggregation}, res.Failed)
	assert.Equal(t, "summary", res.Artifacts.ContextSummary.Summary)
	assert.Empty(t, res.Artifacts.PlanSteps.Steps)
	assert.Empty(t, res.Artifacts.Aggregation.Recommendation)
}

func TestSynthesize_MemberTimeout(t *testing.T) {
	members := &stubMembers{delay: time.Second}
	s := NewSynthesizer(members, Config{MemberTimeout: 30 * time.Millisecond}, logger.NewNopLogger())

	start := time.Now()
	res := s.Synthesize(context.Background(), input())

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Len(t, res.Failed, 3)
}

func TestSynthesize_InFlightBound(t *testing.T) {
	members := &stubMembers{delay: 30 * time.Millisecond}
	s := NewSynthesizer(members, Config{MaxInFlight: 1}, logger.NewNopLogger())

	res := s.Synthesize(context.Background(), input())

	assert.Empty(t, res.Failed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&members.peak))
}

func TestLLMMembers(t *testing.T) {
	mock := &llmtest.MockProvider{
		Respond: func(_ context.Context, h []llm.Message) (string, error) {
			prompt := llmtest.LastContent(h)
			switch {
			case strings.Contains(prompt, "Summarize"):
				return `{"summary": "Paris has museums", "highlights": ["Louvre"]}`, nil
			case strings.Contains(prompt, "planning actions"):
				return "```json\n{\"steps\": [{\"action\": \"book_flight\", \"value\": \"SHA-CDG\"}]}\n```", nil
			default:
				return `{"plans": [{"id": "p1", "summary": "classic", "total_price": 12000}], "recommendation": "p1"}`, nil
			}
		},
	}
	s := NewSynthesizer(NewLLMMembers(mock), Config{MemberTimeout: time.Second}, logger.NewNopLogger())

	res := s.Synthesize(context.Background(), Input{
		Intent:   &planner.Intent{TaskType: planner.TaskItinerary, Slots: planner.Slots{Destinations: []string{"Paris"}}},
		Snippets: []retrieval.Snippet{{Title: "Louvre", Text: "Museum"}},
		UserText: "Paris trip",
	})

	require.Empty(t, res.Failed)
	assert.Equal(t, []string{"Louvre"}, res.Artifacts.ContextSummary.Highlights)
	assert.Equal(t, "book_flight", res.Artifacts.PlanSteps.Steps[0].Action)
	assert.Equal(t, 12000.0, res.Artifacts.Aggregation.Plans[0].TotalPrice)
	assert.Equal(t, 3, mock.CallCount())
}
