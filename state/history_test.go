package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func ev(id int64, typ EventType, a Attributes) *Event {
	return NewEvent(id, typ, t0.Add(time.Duration(id)*time.Second), a)
}

func activityEvents() []*Event {
	return []*Event{
		ev(1, EventWorkflowExecutionStarted, Attributes{WorkflowType: "command_fungi", Input: `{"id_source":"Employees"}`}),
		ev(5, EventActivityTaskScheduled, Attributes{OperationID: "get_local_ids", OperationName: "get_local_ids", Input: "{}"}),
		ev(6, EventActivityTaskStarted, Attributes{ScheduledEventID: 5}),
		ev(7, EventActivityTaskCompleted, Attributes{ScheduledEventID: 5, Result: `[1,2,3]`}),
		ev(8, EventActivityTaskScheduled, Attributes{OperationID: "get_remote_ids", OperationName: "get_remote_ids"}),
		ev(9, EventActivityTaskFailed, Attributes{ScheduledEventID: 8, Reason: "timeout", Details: "remote gone"}),
	}
}

func TestOperationHistory_Fold(t *testing.T) {
	h := NewWorkflowHistory(activityEvents())

	assert.Equal(t, "command_fungi", h.FlowType)
	assert.Equal(t, `{"id_source":"Employees"}`, h.Input)

	assert.True(t, h.Activities.IsComplete("get_local_ids"))
	res, ok := h.Activities.Result("get_local_ids")
	require.True(t, ok)
	assert.Equal(t, `[1,2,3]`, res)

	assert.True(t, h.Activities.IsFailed("get_remote_ids"))
	assert.Equal(t, 1, h.Activities.FailCount("get_remote_ids"))
	op, ok := h.Activities.Get("get_remote_ids")
	require.True(t, ok)
	assert.Equal(t, "timeout", op.Reason)
	assert.Equal(t, StatusFailed, op.Status())

	assert.Equal(t, StatusNotStarted, h.Activities.Status("missing"))
	assert.Equal(t, 0, h.SubWorkflows.Len())
}

func TestOperationHistory_RetryKeepsFailCount(t *testing.T) {
	events := append(activityEvents(),
		ev(10, EventActivityTaskScheduled, Attributes{OperationID: "get_remote_ids", OperationName: "get_remote_ids"}),
		ev(11, EventActivityTaskTimedOut, Attributes{ScheduledEventID: 10}),
		ev(12, EventActivityTaskScheduled, Attributes{OperationID: "get_remote_ids", OperationName: "get_remote_ids"}),
	)
	h := NewWorkflowHistory(events)

	assert.Equal(t, 2, h.Activities.FailCount("get_remote_ids"))
	assert.Equal(t, StatusStarted, h.Activities.Status("get_remote_ids"))
	assert.Equal(t, 1, h.Activities.Live("get_remote_ids"))
}

func TestOperationHistory_CompleteNeverReverts(t *testing.T) {
	events := append(activityEvents(),
		ev(10, EventActivityTaskFailed, Attributes{ScheduledEventID: 5}),
	)
	h := NewWorkflowHistory(events)
	assert.True(t, h.Activities.IsComplete("get_local_ids"))
	assert.Equal(t, 0, h.Activities.FailCount("get_local_ids"))
}

func TestOperationHistory_UnknownEventsIgnored(t *testing.T) {
	events := append(activityEvents(), ev(10, EventType("SomethingNew"), Attributes{OperationID: "x"}))
	h := NewWorkflowHistory(events)
	assert.Equal(t, 2, h.Activities.Len())
}

func TestOperationHistory_ChildAndLambda(t *testing.T) {
	h := NewWorkflowHistory([]*Event{
		ev(3, EventStartChildWorkflowInitiated, Attributes{OperationID: "wr-1", OperationName: "work_remote_id"}),
		ev(4, EventChildWorkflowStarted, Attributes{InitiatedEventID: 3}),
		ev(5, EventStartChildWorkflowInitiated, Attributes{OperationID: "wr-2", OperationName: "work_remote_id"}),
		ev(6, EventChildWorkflowCompleted, Attributes{InitiatedEventID: 3, Result: `"ok"`}),
		ev(7, EventStartChildWorkflowFailed, Attributes{OperationID: "wr-3", OperationName: "work_remote_id", Reason: "OPEN_EXECUTIONS_LIMIT_EXCEEDED"}),
		ev(8, EventLambdaFunctionScheduled, Attributes{OperationID: "lam-1", OperationName: "enrich"}),
		ev(9, EventLambdaFunctionFailed, Attributes{ScheduledEventID: 8}),
		ev(10, EventScheduleLambdaFunctionFailed, Attributes{OperationID: "lam-2", OperationName: "enrich"}),
	})

	assert.True(t, h.SubWorkflows.IsComplete("wr-1"))
	assert.Equal(t, 1, h.SubWorkflows.Live("work_remote_id"))
	assert.True(t, h.SubWorkflows.IsFailed("wr-3"))
	assert.Equal(t, 1, h.SubWorkflows.FailCount("wr-3"))
	assert.True(t, h.Lambdas.IsFailed("lam-1"))
	assert.True(t, h.Lambdas.IsFailed("lam-2"))
	assert.Equal(t, 0, h.Lambdas.Live("enrich"))
}

func TestTimerHistory(t *testing.T) {
	h := NewWorkflowHistory([]*Event{
		ev(1, EventTimerStarted, Attributes{TimerID: "a.backoff.1"}),
		ev(2, EventTimerFired, Attributes{TimerID: "a.backoff.1", StartedEventID: 1}),
		ev(3, EventTimerStarted, Attributes{TimerID: "a.backoff.2", Control: "a"}),
		ev(4, EventTimerStarted, Attributes{TimerID: "b.backoff.1"}),
		ev(5, EventTimerCanceled, Attributes{TimerID: "b.backoff.1"}),
		ev(6, EventTimerStarted, Attributes{TimerID: "0.backoff.1"}),
	})

	assert.True(t, h.Timers.Fired("a.backoff.1"))
	assert.True(t, h.Timers.Pending("a.backoff.2"))
	assert.False(t, h.Timers.Pending("b.backoff.1"))
	assert.True(t, h.Timers.Started("b.backoff.1"))

	open := h.Timers.Open()
	require.Len(t, open, 2)
	assert.Equal(t, "0.backoff.1", open[0].ID)
	assert.Equal(t, "a.backoff.2", open[1].ID)
	assert.Equal(t, "a", open[1].Control)
}

func TestMarkerHistory_Checkpoints(t *testing.T) {
	h := NewWorkflowHistory([]*Event{
		ev(1, EventMarkerRecorded, Attributes{MarkerName: "versions", Details: `{"v":1}`}),
		ev(2, EventMarkerRecorded, Attributes{MarkerName: CheckpointMarker("get_local_ids"), Details: `[1]`}),
		ev(3, EventMarkerRecorded, Attributes{MarkerName: CheckpointMarker("get_local_ids"), Details: `[2]`}),
	})

	v, ok := h.Markers.Value("versions")
	require.True(t, ok)
	assert.Equal(t, `{"v":1}`, v)

	cp, ok := h.Markers.Checkpoint("get_local_ids")
	require.True(t, ok)
	assert.Equal(t, `[1]`, cp, "first recorded checkpoint wins")
	assert.Len(t, h.Markers.Checkpoints(), 1)
}

func TestWorkflowHistory_MergeOrderIndependent(t *testing.T) {
	events := activityEvents()
	page1 := NewWorkflowHistory(events[:3])
	page2 := NewWorkflowHistory(events[3:])
	page1.RunID, page2.RunID = "run-1", "run-1"
	page1.TaskToken = "token"

	a := NewWorkflowHistory(nil)
	require.NoError(t, a.Merge(page1))
	require.NoError(t, a.Merge(page2))

	b := NewWorkflowHistory(nil)
	require.NoError(t, b.Merge(page2))
	require.NoError(t, b.Merge(page1))

	full := NewWorkflowHistory(events)

	for _, h := range []*WorkflowHistory{a, b} {
		assert.Equal(t, full.Len(), h.Len())
		assert.Equal(t, "run-1", h.RunID)
		assert.Equal(t, "token", h.TaskToken)
		assert.Equal(t, full.FlowType, h.FlowType)
		for _, id := range full.Activities.IDs() {
			want, _ := full.Activities.Get(id)
			got, ok := h.Activities.Get(id)
			require.True(t, ok, id)
			assert.Equal(t, *want, *got)
		}
	}
}

func TestWorkflowHistory_MergeDuplicatePages(t *testing.T) {
	events := activityEvents()
	h := NewWorkflowHistory(events)
	require.NoError(t, h.Merge(NewWorkflowHistory(events)))
	assert.Equal(t, 1, h.Activities.FailCount("get_remote_ids"))
}

func TestWorkflowHistory_MergeRunMismatch(t *testing.T) {
	a := NewWorkflowHistory(nil)
	a.RunID = "run-1"
	b := NewWorkflowHistory(nil)
	b.RunID = "run-2"
	assert.ErrorIs(t, a.Merge(b), ErrRunMismatch)
}

func TestWorkflowHistory_MergePriorRunMarkers(t *testing.T) {
	prior := NewWorkflowHistory([]*Event{
		ev(3, EventMarkerRecorded, Attributes{MarkerName: CheckpointMarker("build_mapping"), Details: `{"a":"b"}`}),
	})

	h := NewWorkflowHistory(activityEvents())
	h.MergeMarkers(prior.Markers)

	cp, ok := h.Markers.Checkpoint("build_mapping")
	require.True(t, ok)
	assert.Equal(t, `{"a":"b"}`, cp)

	// prior markers survive a later page merge
	require.NoError(t, h.Merge(NewWorkflowHistory([]*Event{
		ev(20, EventMarkerRecorded, Attributes{MarkerName: "config", Details: "{}"}),
	})))
	_, ok = h.Markers.Checkpoint("build_mapping")
	assert.True(t, ok)
	assert.Equal(t, 2, h.Markers.Len())
}
