// Package state rebuilds workflow execution state by replaying the event
// history recorded by the workflow service.
package state

import (
	"sort"
	"time"
)

// EventType names one kind of history event, using the workflow service's names.
type EventType string

const (
	EventWorkflowExecutionStarted EventType = "WorkflowExecutionStarted"

	EventActivityTaskScheduled      EventType = "ActivityTaskScheduled"
	EventActivityTaskStarted        EventType = "ActivityTaskStarted"
	EventActivityTaskCompleted      EventType = "ActivityTaskCompleted"
	EventActivityTaskFailed         EventType = "ActivityTaskFailed"
	EventActivityTaskTimedOut       EventType = "ActivityTaskTimedOut"
	EventActivityTaskCanceled       EventType = "ActivityTaskCanceled"
	EventScheduleActivityTaskFailed EventType = "ScheduleActivityTaskFailed"

	EventStartChildWorkflowInitiated EventType = "StartChildWorkflowExecutionInitiated"
	EventStartChildWorkflowFailed    EventType = "StartChildWorkflowExecutionFailed"
	EventChildWorkflowStarted        EventType = "ChildWorkflowExecutionStarted"
	EventChildWorkflowCompleted      EventType = "ChildWorkflowExecutionCompleted"
	EventChildWorkflowFailed         EventType = "ChildWorkflowExecutionFailed"
	EventChildWorkflowTimedOut       EventType = "ChildWorkflowExecutionTimedOut"
	EventChildWorkflowTerminated     EventType = "ChildWorkflowExecutionTerminated"
	EventChildWorkflowCanceled       EventType = "ChildWorkflowExecutionCanceled"

	EventLambdaFunctionScheduled      EventType = "LambdaFunctionScheduled"
	EventLambdaFunctionStarted        EventType = "LambdaFunctionStarted"
	EventLambdaFunctionCompleted      EventType = "LambdaFunctionCompleted"
	EventLambdaFunctionFailed         EventType = "LambdaFunctionFailed"
	EventLambdaFunctionTimedOut       EventType = "LambdaFunctionTimedOut"
	EventScheduleLambdaFunctionFailed EventType = "ScheduleLambdaFunctionFailed"

	EventTimerStarted  EventType = "TimerStarted"
	EventTimerFired    EventType = "TimerFired"
	EventTimerCanceled EventType = "TimerCanceled"

	EventMarkerRecorded EventType = "MarkerRecorded"
)

// Attributes holds the subset of per-event attributes the engine reads.
// Which fields are set depends on the event type.
type Attributes struct {
	// OperationID is the caller assigned id (activity id, child workflow id, lambda id).
	OperationID string `json:"operation_id,omitempty"`
	// OperationName is the activity type, workflow type or lambda function name.
	OperationName    string `json:"operation_name,omitempty"`
	OperationVersion string `json:"operation_version,omitempty"`
	Input            string `json:"input,omitempty"`
	Result           string `json:"result,omitempty"`
	Reason           string `json:"reason,omitempty"`
	Details          string `json:"details,omitempty"`
	Control          string `json:"control,omitempty"`

	// ScheduledEventID links activity/lambda outcome events to their scheduling event.
	ScheduledEventID int64 `json:"scheduled_event_id,omitempty"`
	// InitiatedEventID links child workflow outcome events to their initiation event.
	InitiatedEventID int64 `json:"initiated_event_id,omitempty"`
	// StartedEventID links timer outcome events to the TimerStarted event.
	StartedEventID int64 `json:"started_event_id,omitempty"`

	TimerID    string `json:"timer_id,omitempty"`
	MarkerName string `json:"marker_name,omitempty"`

	// Fields of WorkflowExecutionStarted.
	WorkflowType       string `json:"workflow_type,omitempty"`
	ParentFlowID       string `json:"parent_flow_id,omitempty"`
	ParentRunID        string `json:"parent_run_id,omitempty"`
	ContinuedFromRunID string `json:"continued_from_run_id,omitempty"`
	LambdaRole         string `json:"lambda_role,omitempty"`
}

// Event is one immutable entry of a workflow execution's history.
type Event struct {
	ID         int64      `json:"event_id"`
	Type       EventType  `json:"event_type"`
	Timestamp  time.Time  `json:"event_timestamp"`
	Attributes Attributes `json:"attributes"`
}

// NewEvent creates an event.
func NewEvent(id int64, eventType EventType, ts time.Time, attrs Attributes) *Event {
	return &Event{
		ID:         id,
		Type:       eventType,
		Timestamp:  ts,
		Attributes: attrs,
	}
}

// SortEvents orders events by event id, which the service assigns in
// occurrence order. Timestamps break nothing but are not unique.
func SortEvents(events []*Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].ID < events[j].ID
	})
}
