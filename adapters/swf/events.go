package swfservice

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/swf/types"
	json "github.com/goccy/go-json"

	"github.com/KamdynS/leech/state"
)

type wireNamed struct {
	Name    string
	Version string
}

type wireExecution struct {
	WorkflowId string
	RunId      string
}

// wireAttrs is the union of the event attribute fields the engine folds.
// Attribute shapes of every event type decode into it.
type wireAttrs struct {
	ActivityId   string
	ActivityType *wireNamed
	WorkflowId   string
	WorkflowType *wireNamed
	Id           string
	Name         string

	Input       string
	Result      string
	Reason      string
	Details     string
	Control     string
	Cause       string
	TimeoutType string

	ScheduledEventId int64
	InitiatedEventId int64
	StartedEventId   int64

	TimerId    string
	MarkerName string

	LambdaRole              string
	ContinuedExecutionRunId string
	ParentWorkflowExecution *wireExecution
}

type wireEvent struct {
	EventId        int64
	EventTimestamp time.Time
	EventType      string

	WorkflowExecutionStartedEventAttributes *wireAttrs

	ActivityTaskScheduledEventAttributes      *wireAttrs
	ActivityTaskCompletedEventAttributes      *wireAttrs
	ActivityTaskFailedEventAttributes         *wireAttrs
	ActivityTaskTimedOutEventAttributes       *wireAttrs
	ActivityTaskCanceledEventAttributes       *wireAttrs
	ScheduleActivityTaskFailedEventAttributes *wireAttrs

	StartChildWorkflowExecutionInitiatedEventAttributes *wireAttrs
	StartChildWorkflowExecutionFailedEventAttributes    *wireAttrs
	ChildWorkflowExecutionStartedEventAttributes        *wireAttrs
	ChildWorkflowExecutionCompletedEventAttributes      *wireAttrs
	ChildWorkflowExecutionFailedEventAttributes         *wireAttrs
	ChildWorkflowExecutionTimedOutEventAttributes       *wireAttrs
	ChildWorkflowExecutionTerminatedEventAttributes     *wireAttrs
	ChildWorkflowExecutionCanceledEventAttributes       *wireAttrs

	LambdaFunctionScheduledEventAttributes      *wireAttrs
	LambdaFunctionCompletedEventAttributes      *wireAttrs
	LambdaFunctionFailedEventAttributes         *wireAttrs
	LambdaFunctionTimedOutEventAttributes       *wireAttrs
	ScheduleLambdaFunctionFailedEventAttributes *wireAttrs

	TimerStartedEventAttributes  *wireAttrs
	TimerFiredEventAttributes    *wireAttrs
	TimerCanceledEventAttributes *wireAttrs

	MarkerRecordedEventAttributes *wireAttrs
}

func (w *wireEvent) attrs() *wireAttrs {
	for _, a := range []*wireAttrs{
		w.WorkflowExecutionStartedEventAttributes,
		w.ActivityTaskScheduledEventAttributes,
		w.ActivityTaskCompletedEventAttributes,
		w.ActivityTaskFailedEventAttributes,
		w.ActivityTaskTimedOutEventAttributes,
		w.ActivityTaskCanceledEventAttributes,
		w.ScheduleActivityTaskFailedEventAttributes,
		w.StartChildWorkflowExecutionInitiatedEventAttributes,
		w.StartChildWorkflowExecutionFailedEventAttributes,
		w.ChildWorkflowExecutionStartedEventAttributes,
		w.ChildWorkflowExecutionCompletedEventAttributes,
		w.ChildWorkflowExecutionFailedEventAttributes,
		w.ChildWorkflowExecutionTimedOutEventAttributes,
		w.ChildWorkflowExecutionTerminatedEventAttributes,
		w.ChildWorkflowExecutionCanceledEventAttributes,
		w.LambdaFunctionScheduledEventAttributes,
		w.LambdaFunctionCompletedEventAttributes,
		w.LambdaFunctionFailedEventAttributes,
		w.LambdaFunctionTimedOutEventAttributes,
		w.ScheduleLambdaFunctionFailedEventAttributes,
		w.TimerStartedEventAttributes,
		w.TimerFiredEventAttributes,
		w.TimerCanceledEventAttributes,
		w.MarkerRecordedEventAttributes,
	} {
		if a != nil {
			return a
		}
	}
	return &wireAttrs{}
}

// convertEvent maps an SWF history event onto a state.Event. The SDK shape
// is decoded through JSON into wireEvent so only the folded fields are read.
func convertEvent(e types.HistoryEvent) (*state.Event, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal history event: %w", err)
	}
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("decode history event: %w", err)
	}
	a := w.attrs()

	out := state.Attributes{
		Input:            a.Input,
		Result:           a.Result,
		Reason:           a.Reason,
		Details:          a.Details,
		Control:          a.Control,
		ScheduledEventID: a.ScheduledEventId,
		InitiatedEventID: a.InitiatedEventId,
		StartedEventID:   a.StartedEventId,
		TimerID:          a.TimerId,
		MarkerName:       a.MarkerName,
	}
	switch {
	case a.ActivityId != "":
		out.OperationID = a.ActivityId
	case a.WorkflowId != "":
		out.OperationID = a.WorkflowId
	case a.Id != "":
		out.OperationID = a.Id
	}
	switch {
	case a.ActivityType != nil:
		out.OperationName, out.OperationVersion = a.ActivityType.Name, a.ActivityType.Version
	case a.WorkflowType != nil:
		out.OperationName, out.OperationVersion = a.WorkflowType.Name, a.WorkflowType.Version
	case a.Name != "":
		out.OperationName = a.Name
	}
	if out.Reason == "" {
		switch {
		case a.Cause != "":
			out.Reason = a.Cause
		case a.TimeoutType != "":
			out.Reason = "timed out: " + a.TimeoutType
		}
	}

	typ := state.EventType(w.EventType)
	if typ == state.EventWorkflowExecutionStarted {
		out.OperationID, out.OperationName, out.OperationVersion = "", "", ""
		if a.WorkflowType != nil {
			out.WorkflowType = a.WorkflowType.Name
		}
		out.LambdaRole = a.LambdaRole
		out.ContinuedFromRunID = a.ContinuedExecutionRunId
		if p := a.ParentWorkflowExecution; p != nil {
			out.ParentFlowID, out.ParentRunID = p.WorkflowId, p.RunId
		}
	}
	return state.NewEvent(w.EventId, typ, w.EventTimestamp, out), nil
}

func convertEvents(events []types.HistoryEvent) ([]*state.Event, error) {
	out := make([]*state.Event, 0, len(events))
	for _, e := range events {
		ev, err := convertEvent(e)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
