package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KamdynS/leech/decision"
	"github.com/KamdynS/leech/engine"
	"github.com/KamdynS/leech/state"
)

func decide(t *testing.T, s *Service, ds ...decision.Decision) *state.WorkflowHistory {
	t.Helper()
	h, err := s.PollDecisionTask(context.Background(), 0)
	require.NoError(t, err)
	require.NotNil(t, h, "a decision task is pending")
	require.NoError(t, s.RespondDecisionTaskCompleted(context.Background(), h.TaskToken, ds))
	return h
}

func lastEvent(t *testing.T, s *Service, workflowID string) *state.Event {
	t.Helper()
	ex, ok := s.Execution(workflowID)
	require.True(t, ok)
	return ex.Events[len(ex.Events)-1]
}

func TestStartExecution_Duplicate(t *testing.T) {
	s := NewService("fungi")
	ctx := context.Background()
	_, err := s.StartExecution(ctx, StartRequest{WorkflowID: "crawl", FlowType: "command_fungi"})
	require.NoError(t, err)
	_, err = s.StartExecution(ctx, StartRequest{WorkflowID: "crawl", FlowType: "command_fungi"})
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	_, err = s.StartExecution(ctx, StartRequest{FlowType: "command_fungi"})
	assert.Error(t, err)
}

func TestLambdaRunsThroughActivityQueue(t *testing.T) {
	s := NewService("fungi")
	ctx := context.Background()
	_, err := s.StartExecution(ctx, StartRequest{WorkflowID: "crawl", FlowType: "command_fungi"})
	require.NoError(t, err)

	decide(t, s, decision.ScheduleLambda("enrich_change", "enrich_change", `{}`))

	task, err := s.PollActivityTask(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "enrich_change", task.Name)
	assert.Equal(t, "crawl", task.WorkflowID)

	require.NoError(t, s.RespondActivityTaskCompleted(ctx, task.Token, `{"id":"x"}`))
	ev := lastEvent(t, s, "crawl")
	assert.Equal(t, state.EventLambdaFunctionCompleted, ev.Type)
	assert.Equal(t, `{"id":"x"}`, ev.Attributes.Result)

	h := decide(t, s, decision.CompleteWorkflow(""))
	assert.True(t, h.Lambdas.IsComplete("enrich_change"))

	assert.ErrorIs(t, s.RespondActivityTaskCompleted(ctx, task.Token, ""), ErrUnknownTask)
	ex, _ := s.Execution("crawl")
	assert.Equal(t, StatusCompleted, ex.Status)
	assert.True(t, s.Idle())
}

func TestDecisionPages(t *testing.T) {
	s := NewService("fungi")
	s.SetPageSize(2)
	s.SetPollWait(0)
	ctx := context.Background()
	_, err := s.StartExecution(ctx, StartRequest{WorkflowID: "crawl", FlowType: "command_fungi"})
	require.NoError(t, err)
	decide(t, s,
		decision.RecordMarker("a", "1"),
		decision.RecordMarker("b", "2"),
		decision.StartTimer("t", 0),
	)
	require.Equal(t, 1, s.FireTimers(time.Time{}))

	h, next, err := s.PollForDecisionTask(ctx, "", "")
	require.NoError(t, err)
	require.NotNil(t, h)
	pages := 1
	for next != "" {
		var page *state.WorkflowHistory
		page, next, err = s.PollForDecisionTask(ctx, "", next)
		require.NoError(t, err)
		require.NoError(t, h.Merge(page))
		pages++
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, 5, h.Len())
	assert.True(t, h.Timers.Fired("t"))

	_, _, err = s.PollForDecisionTask(ctx, "", "bogus")
	assert.Error(t, err)
}

func TestFireTimers_Deadline(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := NewService("fungi")
	s.SetClock(func() time.Time { return now })
	_, err := s.StartExecution(context.Background(), StartRequest{WorkflowID: "crawl", FlowType: "command_fungi"})
	require.NoError(t, err)
	decide(t, s, decision.StartTimer("emit_change.backoff.1", 2*time.Second))

	assert.Equal(t, 0, s.FireTimers(now.Add(time.Second)))
	assert.Equal(t, 1, s.FireTimers(now.Add(2*time.Second)))
	assert.Equal(t, 0, s.FireTimers(now.Add(time.Hour)), "timers fire once")
	assert.Equal(t, state.EventTimerFired, lastEvent(t, s, "crawl").Type)
}

func TestTerminate_ReportsToParent(t *testing.T) {
	s := NewService("fungi")
	ctx := context.Background()
	_, err := s.StartExecution(ctx, StartRequest{WorkflowID: "crawl", FlowType: "command_fungi"})
	require.NoError(t, err)
	decide(t, s, decision.StartChild("crawl.f-1", "work_remote_id", "1", `{}`))

	child, ok := s.Execution("crawl.f-1")
	require.True(t, ok)
	assert.Equal(t, "crawl", child.ParentFlowID)

	assert.ErrorIs(t, s.TerminateWorkflowExecution(ctx, engine.TerminateRequest{WorkflowID: "nope"}), ErrUnknownExecution)
	require.NoError(t, s.TerminateWorkflowExecution(ctx, engine.TerminateRequest{WorkflowID: "crawl.f-1", Reason: "too many failures"}))

	child, _ = s.Execution("crawl.f-1")
	assert.Equal(t, StatusTerminated, child.Status)
	ev := lastEvent(t, s, "crawl")
	assert.Equal(t, state.EventChildWorkflowTerminated, ev.Type)
	assert.Equal(t, "too many failures", ev.Attributes.Reason)
}
