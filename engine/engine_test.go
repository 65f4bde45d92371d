package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KamdynS/leech/adapters/memory"
	"github.com/KamdynS/leech/config"
	"github.com/KamdynS/leech/decision"
	"github.com/KamdynS/leech/engine"
	"github.com/KamdynS/leech/observability"
	"github.com/KamdynS/leech/state"
	"github.com/KamdynS/leech/workflow"
)

// recorder captures what a single round submits.
type recorder struct {
	mu         sync.Mutex
	batches    [][]decision.Decision
	terminated []engine.TerminateRequest
}

func (r *recorder) RespondDecisionTaskCompleted(_ context.Context, _ string, ds []decision.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, ds)
	return nil
}

func (r *recorder) TerminateWorkflowExecution(_ context.Context, req engine.TerminateRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminated = append(r.terminated, req)
	return nil
}

// countingSource counts fetches per domain.
type countingSource struct {
	mu    sync.Mutex
	doc   config.Document
	calls map[string]int
}

func (s *countingSource) Fetch(_ context.Context, domain string) (*config.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[domain]++
	doc := s.doc
	return &doc, nil
}

func newEngine(t *testing.T, svc engine.Service, src config.Source, flows map[string]workflow.FlowFunc) *engine.Engine {
	t.Helper()
	reg := workflow.NewRegistry()
	for name, fn := range flows {
		require.NoError(t, reg.RegisterFunc(name, fn))
	}
	e, err := engine.New(engine.Config{Service: svc, Registry: reg, Source: src})
	require.NoError(t, err)
	return e
}

func started(flowType, input string, more ...*state.Event) *state.WorkflowHistory {
	events := []*state.Event{
		state.NewEvent(1, state.EventWorkflowExecutionStarted, time.Unix(1, 0), state.Attributes{WorkflowType: flowType, Input: input}),
	}
	events = append(events, more...)
	h := state.NewWorkflowHistory(events)
	h.FlowID, h.RunID, h.Domain, h.TaskToken = "flow-1", "run-1", "test", "token-1"
	return h
}

func TestNew_Validation(t *testing.T) {
	_, err := engine.New(engine.Config{Registry: workflow.NewRegistry()})
	assert.Error(t, err)
	_, err = engine.New(engine.Config{Service: &recorder{}})
	assert.Error(t, err)
}

func TestDecide_AttachesControlAndCleansUpIdle(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, rec, nil, map[string]workflow.FlowFunc{
		"flow": func(c workflow.Context, out *decision.List) error {
			_, _, err := workflow.Group(c, out, workflow.Activity("keep", "task", nil), workflow.Activity("new", "task", nil))
			return err
		},
	})

	h := started("flow", "",
		state.NewEvent(2, state.EventActivityTaskScheduled, time.Unix(2, 0), state.Attributes{OperationID: "keep", OperationName: "task"}),
		state.NewEvent(3, state.EventActivityTaskScheduled, time.Unix(3, 0), state.Attributes{OperationID: "stale", OperationName: "task"}),
	)
	require.NoError(t, e.Decide(context.Background(), h))
	require.Len(t, rec.batches, 1)

	batch := rec.batches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, "new", batch[0].ScheduleActivityTask.ActivityID)
	assert.Equal(t, decision.CancelActivity("stale"), batch[1])

	var control engine.Control
	require.NoError(t, json.Unmarshal([]byte(batch[0].ScheduleActivityTask.Control), &control))
	assert.Equal(t, engine.Control{ParentFlowID: "flow-1", ParentRunID: "run-1"}, control)
}

func TestDecide_CancelsUnreferencedBackoffTimers(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, rec, nil, map[string]workflow.FlowFunc{
		"flow": func(c workflow.Context, out *decision.List) error {
			_, _, err := workflow.Chain(c, out, workflow.Activity("kept", "task", nil))
			return err
		},
	})
	h := started("flow", "",
		state.NewEvent(2, state.EventActivityTaskScheduled, time.Unix(2, 0), state.Attributes{OperationID: "kept", OperationName: "task"}),
		state.NewEvent(3, state.EventActivityTaskFailed, time.Unix(3, 0), state.Attributes{ScheduledEventID: 2, Reason: "boom"}),
		state.NewEvent(4, state.EventTimerStarted, time.Unix(4, 0), state.Attributes{TimerID: "kept.backoff.1", Control: "kept"}),
		state.NewEvent(5, state.EventTimerStarted, time.Unix(5, 0), state.Attributes{TimerID: "dropped.backoff.1", Control: "dropped"}),
	)
	require.NoError(t, e.Decide(context.Background(), h))

	require.Len(t, rec.batches, 1)
	require.Len(t, rec.batches[0], 1)
	d := rec.batches[0][0]
	require.Equal(t, decision.TypeCancelTimer, d.Type)
	assert.Equal(t, "dropped.backoff.1", d.CancelTimer.TimerID)
}

func TestDecide_ClosingDecisionStaysLast(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, rec, nil, map[string]workflow.FlowFunc{
		"flow": func(c workflow.Context, out *decision.List) error {
			out.Add(decision.CompleteWorkflow(`"done"`))
			return nil
		},
	})
	h := started("flow", "",
		state.NewEvent(2, state.EventStartChildWorkflowInitiated, time.Unix(2, 0), state.Attributes{OperationID: "child", OperationName: "sub"}),
	)
	require.NoError(t, e.Decide(context.Background(), h))
	require.Len(t, rec.batches, 1)
	assert.Equal(t, []decision.Decision{decision.CancelChild("child"), decision.CompleteWorkflow(`"done"`)}, rec.batches[0])
}

func TestDecide_RecordsFetchedDocumentsOnce(t *testing.T) {
	src := &countingSource{doc: config.Document{
		Versions: config.Versions{Tasks: map[string]string{"task": "3"}},
		Config: config.Config{Tasks: map[state.OperationKind]map[string]config.TaskConfig{
			state.KindActivity: {"task": {Concurrency: config.Limit(2), TaskList: "tl"}},
		}},
	}}
	rec := &recorder{}
	e := newEngine(t, rec, src, map[string]workflow.FlowFunc{
		"flow": func(c workflow.Context, out *decision.List) error {
			_, _, err := workflow.Chain(c, out, workflow.Activity("a", "task", nil))
			return err
		},
	})

	require.NoError(t, e.Decide(context.Background(), started("flow", "")))
	batch := rec.batches[0]
	require.Len(t, batch, 3)
	assert.Equal(t, decision.TypeRecordMarker, batch[0].Type)
	assert.Equal(t, engine.VersionsMarker, batch[0].RecordMarker.MarkerName)
	assert.Equal(t, engine.ConfigMarker, batch[1].RecordMarker.MarkerName)
	assert.Equal(t, "3", batch[2].ScheduleActivityTask.ActivityType.Version)
	assert.Equal(t, "tl", batch[2].ScheduleActivityTask.TaskList)

	// the next round reads the markers instead of emitting them again
	h := started("flow", "",
		state.NewEvent(2, state.EventMarkerRecorded, time.Unix(2, 0), state.Attributes{MarkerName: engine.VersionsMarker, Details: batch[0].RecordMarker.Details}),
		state.NewEvent(3, state.EventMarkerRecorded, time.Unix(3, 0), state.Attributes{MarkerName: engine.ConfigMarker, Details: batch[1].RecordMarker.Details}),
		state.NewEvent(4, state.EventActivityTaskScheduled, time.Unix(4, 0), state.Attributes{OperationID: "a", OperationName: "task"}),
	)
	require.NoError(t, e.Decide(context.Background(), h))
	assert.Empty(t, rec.batches[1])
	assert.Equal(t, 1, src.calls["test"], "fetched once per domain")
}

func TestDecide_PanicTerminates(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, rec, nil, map[string]workflow.FlowFunc{
		"flow": func(c workflow.Context, out *decision.List) error {
			out.Add(decision.ScheduleActivity("a", "task", "1", ""))
			panic("index out of range")
		},
	})
	require.NoError(t, e.Decide(context.Background(), started("flow", "")))

	assert.Empty(t, rec.batches, "no decisions are submitted on a fatal error")
	require.Len(t, rec.terminated, 1)
	req := rec.terminated[0]
	assert.Equal(t, "flow-1", req.WorkflowID)
	assert.Equal(t, "run-1", req.RunID)
	assert.Contains(t, req.Reason, "index out of range")
	assert.Contains(t, req.Details, "goroutine")
}

func TestDecide_FatalErrorTruncatesReason(t *testing.T) {
	rec := &recorder{}
	long := strings.Repeat("x", 1000)
	e := newEngine(t, rec, nil, map[string]workflow.FlowFunc{
		"flow": func(c workflow.Context, out *decision.List) error {
			return errors.New(long)
		},
	})
	require.NoError(t, e.Decide(context.Background(), started("flow", "")))
	require.Len(t, rec.terminated, 1)
	assert.Len(t, rec.terminated[0].Reason, engine.MaxReasonLength)
	assert.LessOrEqual(t, len(rec.terminated[0].Details), engine.MaxDetailsLength)
}

func TestDecide_UnregisteredFlowTerminates(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, rec, nil, nil)
	require.NoError(t, e.Decide(context.Background(), started("nope", "")))
	require.Len(t, rec.terminated, 1)
	assert.Contains(t, rec.terminated[0].Reason, "unregistered flow type")
}

func TestDecide_FlowFailedFailsExecution(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, rec, nil, map[string]workflow.FlowFunc{
		"flow": func(c workflow.Context, out *decision.List) error {
			return fmt.Errorf("no remote ids: %w", workflow.ErrFlowFailed)
		},
	})
	require.NoError(t, e.Decide(context.Background(), started("flow", "")))
	assert.Empty(t, rec.terminated)
	require.Len(t, rec.batches, 1)
	require.Len(t, rec.batches[0], 1)
	assert.Equal(t, decision.TypeFailWorkflowExecution, rec.batches[0][0].Type)
	assert.Contains(t, rec.batches[0][0].FailWorkflowExecution.Reason, "no remote ids")
}

func TestDecide_LogsThroughHooks(t *testing.T) {
	type entry struct {
		level, msg string
		fields     map[string]any
	}
	var logged []entry
	hooks := &observability.Hooks{
		Logf: func(_ context.Context, level, msg string, fields map[string]any) {
			logged = append(logged, entry{level, msg, fields})
		},
	}
	var terminated []string
	hooks.OnTerminate = func(_ context.Context, _, flowID string, _ error) {
		terminated = append(terminated, flowID)
	}

	rec := &recorder{}
	reg := workflow.NewRegistry()
	require.NoError(t, reg.RegisterFunc("flow", func(workflow.Context, *decision.List) error {
		return errors.New("graph unreachable")
	}))
	e, err := engine.New(engine.Config{Service: rec, Registry: reg, Hooks: hooks})
	require.NoError(t, err)

	require.NoError(t, e.Decide(context.Background(), started("flow", "")))
	require.Len(t, rec.terminated, 1)
	assert.Equal(t, []string{"flow-1"}, terminated)
	require.Len(t, logged, 1)
	assert.Equal(t, "error", logged[0].level)
	assert.Equal(t, "flow-1", logged[0].fields["flow_id"])
	assert.Contains(t, logged[0].fields["error"], "graph unreachable")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", engine.Truncate("short", 10))
	assert.Equal(t, "abc", engine.Truncate("abcdef", 3))
	// "é" is two bytes; cutting inside it backs off to the rune start.
	assert.Equal(t, "ab", engine.Truncate("abé", 3))
	assert.Equal(t, "abé", engine.Truncate("abé", 4))
	assert.True(t, utf8.ValidString(engine.Truncate(strings.Repeat("日本", 200), engine.MaxReasonLength)))
}

func TestEnvelope(t *testing.T) {
	in, err := engine.Wrap(map[string]string{"sid": "users"})
	require.NoError(t, err)
	env := engine.OpenEnvelope(in)
	assert.JSONEq(t, `{"sid":"users"}`, string(env.Args))
	assert.Nil(t, env.Versions)

	env = engine.OpenEnvelope(`{"sid":"bare"}`)
	assert.JSONEq(t, `{"sid":"bare"}`, string(env.Args), "bare arguments are accepted")

	env = engine.OpenEnvelope("not json")
	assert.JSONEq(t, `"not json"`, string(env.Args))

	assert.Empty(t, engine.OpenEnvelope("").Args)
}

// drive runs decision and activity tasks against the in-memory service until
// nothing is left to do. Activities are answered by handle.
func drive(t *testing.T, svc *memory.Service, e *engine.Engine, handle func(name, input string) (string, error)) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 500; i++ {
		h, err := svc.PollDecisionTask(ctx, 0)
		require.NoError(t, err)
		if h != nil {
			require.NoError(t, e.Decide(ctx, h))
			continue
		}
		task, err := svc.PollActivityTask(ctx, 0)
		require.NoError(t, err)
		if task != nil {
			if out, err := handle(task.Name, task.Input); err != nil {
				require.NoError(t, svc.RespondActivityTaskFailed(ctx, task.Token, err.Error(), ""))
			} else {
				require.NoError(t, svc.RespondActivityTaskCompleted(ctx, task.Token, out))
			}
			continue
		}
		if svc.FireTimers(time.Time{}) > 0 {
			continue
		}
		return
	}
	t.Fatal("executions did not settle")
}

func TestEndToEnd_ChainWithRetry(t *testing.T) {
	svc := memory.NewService("test")
	e := newEngine(t, svc, nil, map[string]workflow.FlowFunc{
		"flow": func(c workflow.Context, out *decision.List) error {
			res, ok, err := workflow.Chain(c, out,
				workflow.Activity("a", "first", nil),
				workflow.Activity("b", "second", nil).WithMaxFailures(3),
			)
			if err != nil || !ok {
				return err
			}
			result, err := workflow.Encode(res)
			if err != nil {
				return err
			}
			out.Add(decision.CompleteWorkflow(result))
			return nil
		},
	})

	_, err := svc.StartExecution(context.Background(), memory.StartRequest{WorkflowID: "wf", FlowType: "flow"})
	require.NoError(t, err)

	failures := 0
	drive(t, svc, e, func(name, _ string) (string, error) {
		if name == "second" && failures < 2 {
			failures++
			return "", errors.New("flaky")
		}
		return `"` + name + `"`, nil
	})

	ex, ok := svc.Execution("wf")
	require.True(t, ok)
	require.Equal(t, memory.StatusCompleted, ex.Status, "reason: %s", ex.Reason)
	assert.JSONEq(t, `{"a":"first","b":"second"}`, ex.Result)
	assert.Equal(t, 2, failures)

	var timers []string
	for _, ev := range ex.Events {
		if ev.Type == state.EventTimerStarted {
			timers = append(timers, ev.Attributes.TimerID)
		}
	}
	assert.Equal(t, []string{"b.backoff.1", "b.backoff.2"}, timers)
}

func TestEndToEnd_TooManyFailuresTerminates(t *testing.T) {
	svc := memory.NewService("test")
	e := newEngine(t, svc, nil, map[string]workflow.FlowFunc{
		"flow": func(c workflow.Context, out *decision.List) error {
			_, _, err := workflow.Chain(c, out, workflow.Activity("a", "broken", nil).WithMaxFailures(3))
			return err
		},
	})
	_, err := svc.StartExecution(context.Background(), memory.StartRequest{WorkflowID: "wf", FlowType: "flow"})
	require.NoError(t, err)

	drive(t, svc, e, func(string, string) (string, error) { return "", errors.New("always") })

	ex, _ := svc.Execution("wf")
	assert.Equal(t, memory.StatusTerminated, ex.Status)
	assert.Contains(t, ex.Reason, workflow.ErrTooManyFailures.Error())
}

func TestEndToEnd_ChildrenInheritDocuments(t *testing.T) {
	src := &countingSource{doc: config.Document{
		Versions: config.Versions{
			Workflows: map[string]string{"child": "7"},
			Tasks:     map[string]string{"leaf": "2"},
		},
		Config: config.Config{Tasks: map[state.OperationKind]map[string]config.TaskConfig{
			state.KindSubWorkflow: {"child": {Concurrency: config.Limit(1)}},
		}},
	}}
	svc := memory.NewService("test")

	var seenArgs []string
	var mu sync.Mutex
	e := newEngine(t, svc, src, map[string]workflow.FlowFunc{
		"parent": func(c workflow.Context, out *decision.List) error {
			_, ok, err := workflow.Group(c, out,
				workflow.SubWorkflow("child-1", "child", map[string]int{"n": 1}),
				workflow.SubWorkflow("child-2", "child", map[string]int{"n": 2}),
			)
			if err != nil || !ok {
				return err
			}
			out.Add(decision.CompleteWorkflow(""))
			return nil
		},
		"child": func(c workflow.Context, out *decision.List) error {
			if c.Versions.Task("leaf") != "2" {
				return errors.New("versions were not propagated")
			}
			mu.Lock()
			seenArgs = append(seenArgs, string(c.TaskArgs))
			mu.Unlock()
			res, ok, err := workflow.Chain(c, out, workflow.Activity("leaf", "leaf", nil))
			if err != nil || !ok {
				return err
			}
			out.Add(decision.CompleteWorkflow(string(res["leaf"])))
			return nil
		},
	})

	_, err := svc.StartExecution(context.Background(), memory.StartRequest{WorkflowID: "p", FlowType: "parent"})
	require.NoError(t, err)
	drive(t, svc, e, func(string, string) (string, error) { return `1`, nil })

	ex, _ := svc.Execution("p")
	require.Equal(t, memory.StatusCompleted, ex.Status, "reason: %s", ex.Reason)
	assert.Equal(t, 1, src.calls["test"])

	for _, id := range []string{"child-1", "child-2"} {
		child, ok := svc.Execution(id)
		require.True(t, ok)
		assert.Equal(t, memory.StatusCompleted, child.Status)
		assert.Equal(t, "p", child.ParentFlowID)
		for _, ev := range child.Events {
			if ev.Type == state.EventMarkerRecorded {
				assert.NotEqual(t, engine.ConfigMarker, ev.Attributes.MarkerName, "children read config from their input")
			}
		}
	}
	assert.Contains(t, seenArgs, `{"n":1}`)
	assert.Contains(t, seenArgs, `{"n":2}`)

	// the limit of one child at a time held: child-2 was initiated after child-1 closed
	var initiated, closed int64
	for _, ev := range ex.Events {
		switch {
		case ev.Type == state.EventStartChildWorkflowInitiated && ev.Attributes.OperationID == "child-2":
			initiated = ev.ID
		case ev.Type == state.EventChildWorkflowCompleted && closed == 0:
			closed = ev.ID
		}
	}
	assert.Greater(t, initiated, closed)
}
