package state

import (
	"errors"
	"fmt"
)

// ErrRunMismatch is returned when merging histories of different runs.
var ErrRunMismatch = errors.New("history fragments belong to different runs")

// WorkflowHistory is the replayed view of one workflow execution. It is built
// once per decision round and is read-only while the flow body runs.
type WorkflowHistory struct {
	FlowID    string
	RunID     string
	FlowType  string
	Domain    string
	TaskToken string

	// Input is the raw input of the execution, from WorkflowExecutionStarted.
	Input              string
	ParentFlowID       string
	ParentRunID        string
	ContinuedFromRunID string
	LambdaRole         string

	Activities   *OperationHistory
	SubWorkflows *OperationHistory
	Lambdas      *OperationHistory
	Timers       *TimerHistory
	Markers      *MarkerHistory

	events       map[int64]*Event
	priorMarkers *MarkerHistory
}

// NewWorkflowHistory folds events into a new history.
func NewWorkflowHistory(events []*Event) *WorkflowHistory {
	h := &WorkflowHistory{events: make(map[int64]*Event, len(events))}
	for _, e := range events {
		if e != nil {
			h.events[e.ID] = e
		}
	}
	h.rebuild()
	return h
}

// Operations returns the history for kind.
func (h *WorkflowHistory) Operations(kind OperationKind) *OperationHistory {
	switch kind {
	case KindActivity:
		return h.Activities
	case KindSubWorkflow:
		return h.SubWorkflows
	case KindLambda:
		return h.Lambdas
	default:
		return nil
	}
}

// Events returns the events in event-id order.
func (h *WorkflowHistory) Events() []*Event {
	out := make([]*Event, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, e)
	}
	SortEvents(out)
	return out
}

// Len returns the number of distinct events.
func (h *WorkflowHistory) Len() int {
	return len(h.events)
}

// Merge folds the events of another fragment of the same run into h. Events
// are deduplicated by id and replayed in id order, so the result does not
// depend on the order fragments arrive in.
func (h *WorkflowHistory) Merge(other *WorkflowHistory) error {
	if other == nil {
		return nil
	}
	if h.RunID != "" && other.RunID != "" && h.RunID != other.RunID {
		return fmt.Errorf("merge %s into %s: %w", other.RunID, h.RunID, ErrRunMismatch)
	}
	for id, e := range other.events {
		h.events[id] = e
	}
	if other.priorMarkers != nil {
		h.MergeMarkers(other.priorMarkers)
	}
	h.rebuild()
	h.inheritIdentity(other)
	return nil
}

// MergeMarkers folds in markers recorded by a previous run of the workflow,
// such as checkpoints carried across a continue-as-new.
func (h *WorkflowHistory) MergeMarkers(m *MarkerHistory) {
	if m == nil {
		return
	}
	if h.priorMarkers == nil {
		h.priorMarkers = NewMarkerHistory()
	}
	h.priorMarkers.Merge(m)
	h.Markers.Merge(m)
}

// inheritIdentity fills identity fields that the fold could not derive, such
// as the task token which is not part of any event.
func (h *WorkflowHistory) inheritIdentity(src *WorkflowHistory) {
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&h.FlowID, src.FlowID)
	fill(&h.RunID, src.RunID)
	fill(&h.FlowType, src.FlowType)
	fill(&h.Domain, src.Domain)
	fill(&h.TaskToken, src.TaskToken)
	fill(&h.Input, src.Input)
	fill(&h.ParentFlowID, src.ParentFlowID)
	fill(&h.ParentRunID, src.ParentRunID)
	fill(&h.ContinuedFromRunID, src.ContinuedFromRunID)
	fill(&h.LambdaRole, src.LambdaRole)
}

func (h *WorkflowHistory) rebuild() {
	h.Activities = NewOperationHistory(KindActivity)
	h.SubWorkflows = NewOperationHistory(KindSubWorkflow)
	h.Lambdas = NewOperationHistory(KindLambda)
	h.Timers = NewTimerHistory()
	h.Markers = NewMarkerHistory()

	for _, e := range h.Events() {
		h.apply(e)
	}
	if h.priorMarkers != nil {
		h.Markers.Merge(h.priorMarkers)
	}
}

func (h *WorkflowHistory) apply(e *Event) {
	switch e.Type {
	case EventWorkflowExecutionStarted:
		a := e.Attributes
		h.FlowType = a.WorkflowType
		h.Input = a.Input
		h.ParentFlowID = a.ParentFlowID
		h.ParentRunID = a.ParentRunID
		h.ContinuedFromRunID = a.ContinuedFromRunID
		h.LambdaRole = a.LambdaRole
	case EventTimerStarted, EventTimerFired, EventTimerCanceled:
		h.Timers.Apply(e)
	case EventMarkerRecorded:
		h.Markers.Apply(e)
	default:
		for _, ops := range []*OperationHistory{h.Activities, h.SubWorkflows, h.Lambdas} {
			if ops.Handles(e.Type) {
				ops.Apply(e)
				return
			}
		}
	}
}
