// Package fanout computes the context summary, plan steps and aggregation
// for a turn concurrently and joins them at a single barrier.
package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/pkg/planner"
	"trip-planner-be/pkg/retrieval"

	"golang.org/x/sync/semaphore"
)

const (
	MemberContextSummary = "context_summary"
	MemberPlanSteps      = "plan_steps"
	MemberAggregation    = "final_aggregation"
)

type Config struct {
	// MemberTimeout bounds each member call. Zero means only the caller's
	// context applies.
	MemberTimeout time.Duration
	// MaxInFlight bounds concurrent member calls across all turns. Zero
	// means unbounded.
	MaxInFlight int64
}

type Input struct {
	Intent   *planner.Intent
	Snippets []retrieval.Snippet
	UserText string
}

type Result struct {
	Artifacts planner.FanOutArtifacts
	// Failed names the members that fell back to their default artifact.
	Failed []string
}

type Synthesizer struct {
	members Members
	timeout time.Duration
	sem     *semaphore.Weighted
	logger  logger.ILogger
}

func NewSynthesizer(members Members, cfg Config, log logger.ILogger) *Synthesizer {
	s := &Synthesizer{members: members, timeout: cfg.MemberTimeout, logger: log}
	if cfg.MaxInFlight > 0 {
		s.sem = semaphore.NewWeighted(cfg.MaxInFlight)
	}
	return s
}

// Synthesize never fails: a member that errors, panics or times out leaves
// its artifact at the zero value and is listed in Result.Failed. It returns
// once all three members have finished.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) Result {
	var (
		res  Result
		errs [3]error
		wg   sync.WaitGroup
	)

	run := func(slot int, name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[slot] = s.runMember(ctx, name, fn)
		}()
	}

	run(0, MemberContextSummary, func(c context.Context) error {
		v, err := s.members.ContextSummary(c, in.UserText, in.Snippets)
		if err == nil {
			res.Artifacts.ContextSummary = v
		}
		return err
	})
	run(1, MemberPlanSteps, func(c context.Context) error {
		v, err := s.members.PlanSteps(c, in.Intent)
		if err == nil {
			res.Artifacts.PlanSteps = v
		}
		return err
	})
	run(2, MemberAggregation, func(c context.Context) error {
		v, err := s.members.Aggregate(c, in.Intent)
		if err == nil {
			res.Artifacts.Aggregation = v
		}
		return err
	})

	wg.Wait()

	for i, name := range []string{MemberContextSummary, MemberPlanSteps, MemberAggregation} {
		if errs[i] != nil {
			res.Failed = append(res.Failed, name)
		}
	}
	return res
}

func (s *Synthesizer) runMember(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", planner.ErrFanOutMemberFailed, name, r)
		}
		if err != nil {
			s.logger.Warn("FANOUT", "Member failed, using default artifact", map[string]interface{}{
				"member": name,
				"error":  err.Error(),
			})
		}
	}()

	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("%w: %s: %w", planner.ErrFanOutMemberFailed, name, err)
		}
		defer s.sem.Release(1)
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := fn(callCtx); err != nil {
		return fmt.Errorf("%w: %s: %w", planner.ErrFanOutMemberFailed, name, err)
	}
	return nil
}
