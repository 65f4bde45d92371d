package state

import "sort"

// OperationKind is the closed set of asynchronous operation kinds a workflow
// can schedule.
type OperationKind string

const (
	KindActivity    OperationKind = "activity"
	KindSubWorkflow OperationKind = "sub_workflow"
	KindLambda      OperationKind = "lambda"
)

// Kinds lists every operation kind.
var Kinds = []OperationKind{KindActivity, KindSubWorkflow, KindLambda}

// Status is the replayed status of an operation.
type Status int

const (
	StatusNotStarted Status = iota
	StatusStarted
	StatusComplete
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusStarted:
		return "started"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Operation is the folded state of one activity, child workflow or lambda,
// keyed by its caller assigned id.
type Operation struct {
	ID        string
	Name      string
	Version   string
	Input     string
	Started   bool
	Complete  bool
	Failed    bool
	FailCount int
	// Result is the raw serialized payload of the last completion.
	Result  string
	Reason  string
	Details string
	// Control is the opaque control string attached when the operation was started.
	Control string
}

// Live reports whether the operation is in flight.
func (o *Operation) Live() bool {
	return o.Started && !o.Complete && !o.Failed
}

// Status returns the operation's replayed status.
func (o *Operation) Status() Status {
	switch {
	case o.Complete:
		return StatusComplete
	case o.Failed:
		return StatusFailed
	case o.Started:
		return StatusStarted
	default:
		return StatusNotStarted
	}
}

type transition int

const (
	transitionIgnore transition = iota
	transitionSchedule
	transitionComplete
	transitionFail
	// transitionFailUnscheduled marks a start that the service rejected. The
	// event names the operation directly because no scheduling event exists.
	transitionFailUnscheduled
)

var transitions = map[OperationKind]map[EventType]transition{
	KindActivity: {
		EventActivityTaskScheduled:      transitionSchedule,
		EventActivityTaskCompleted:      transitionComplete,
		EventActivityTaskFailed:         transitionFail,
		EventActivityTaskTimedOut:       transitionFail,
		EventActivityTaskCanceled:       transitionFail,
		EventScheduleActivityTaskFailed: transitionFailUnscheduled,
	},
	KindSubWorkflow: {
		EventStartChildWorkflowInitiated: transitionSchedule,
		EventChildWorkflowCompleted:      transitionComplete,
		EventChildWorkflowFailed:         transitionFail,
		EventChildWorkflowTimedOut:       transitionFail,
		EventChildWorkflowTerminated:     transitionFail,
		EventChildWorkflowCanceled:       transitionFail,
		EventStartChildWorkflowFailed:    transitionFailUnscheduled,
	},
	KindLambda: {
		EventLambdaFunctionScheduled:      transitionSchedule,
		EventLambdaFunctionCompleted:      transitionComplete,
		EventLambdaFunctionFailed:         transitionFail,
		EventLambdaFunctionTimedOut:       transitionFail,
		EventScheduleLambdaFunctionFailed: transitionFailUnscheduled,
	},
}

// OperationHistory folds the events of one operation kind into per-operation state.
type OperationHistory struct {
	Kind OperationKind

	ops map[string]*Operation
	// byEvent maps scheduling/initiation event ids to operation ids.
	byEvent map[int64]string
	order   []string
}

// NewOperationHistory creates an empty history for kind.
func NewOperationHistory(kind OperationKind) *OperationHistory {
	return &OperationHistory{
		Kind:    kind,
		ops:     make(map[string]*Operation),
		byEvent: make(map[int64]string),
	}
}

// Handles reports whether events of type t update this history.
func (h *OperationHistory) Handles(t EventType) bool {
	_, ok := transitions[h.Kind][t]
	return ok
}

// Apply folds one event. Events of other kinds and unknown types are ignored.
func (h *OperationHistory) Apply(e *Event) {
	switch transitions[h.Kind][e.Type] {
	case transitionSchedule:
		op := h.getOrCreate(e.Attributes.OperationID)
		op.Name = e.Attributes.OperationName
		op.Version = e.Attributes.OperationVersion
		op.Input = e.Attributes.Input
		op.Control = e.Attributes.Control
		op.Started = true
		if !op.Complete {
			op.Failed = false
		}
		h.byEvent[e.ID] = op.ID
	case transitionComplete:
		op := h.resolve(e)
		if op == nil {
			return
		}
		op.Started = true
		op.Complete = true
		op.Failed = false
		op.Result = e.Attributes.Result
	case transitionFail:
		h.fail(h.resolve(e), e)
	case transitionFailUnscheduled:
		if e.Attributes.OperationID == "" {
			return
		}
		op := h.getOrCreate(e.Attributes.OperationID)
		if op.Name == "" {
			op.Name = e.Attributes.OperationName
		}
		op.Started = true
		h.fail(op, e)
	}
}

func (h *OperationHistory) fail(op *Operation, e *Event) {
	if op == nil || op.Complete {
		return
	}
	op.Failed = true
	op.FailCount++
	op.Reason = e.Attributes.Reason
	op.Details = e.Attributes.Details
}

func (h *OperationHistory) getOrCreate(id string) *Operation {
	if op, ok := h.ops[id]; ok {
		return op
	}
	op := &Operation{ID: id}
	h.ops[id] = op
	h.order = append(h.order, id)
	return op
}

func (h *OperationHistory) resolve(e *Event) *Operation {
	for _, ref := range []int64{e.Attributes.ScheduledEventID, e.Attributes.InitiatedEventID} {
		if ref == 0 {
			continue
		}
		if id, ok := h.byEvent[ref]; ok {
			return h.ops[id]
		}
	}
	if e.Attributes.OperationID != "" {
		return h.ops[e.Attributes.OperationID]
	}
	return nil
}

// Get returns the operation with the given id.
func (h *OperationHistory) Get(id string) (*Operation, bool) {
	op, ok := h.ops[id]
	return op, ok
}

// Status returns the status of id; unknown ids are not started.
func (h *OperationHistory) Status(id string) Status {
	if op, ok := h.ops[id]; ok {
		return op.Status()
	}
	return StatusNotStarted
}

func (h *OperationHistory) IsStarted(id string) bool {
	op, ok := h.ops[id]
	return ok && op.Started
}

func (h *OperationHistory) IsComplete(id string) bool {
	op, ok := h.ops[id]
	return ok && op.Complete
}

func (h *OperationHistory) IsFailed(id string) bool {
	op, ok := h.ops[id]
	return ok && op.Failed
}

// FailCount returns how many times id has failed.
func (h *OperationHistory) FailCount(id string) int {
	if op, ok := h.ops[id]; ok {
		return op.FailCount
	}
	return 0
}

// Result returns the raw result payload of a completed operation.
func (h *OperationHistory) Result(id string) (string, bool) {
	op, ok := h.ops[id]
	if !ok || !op.Complete {
		return "", false
	}
	return op.Result, true
}

// Live counts in-flight operations named name (task or flow type).
func (h *OperationHistory) Live(name string) int {
	n := 0
	for _, op := range h.ops {
		if op.Name == name && op.Live() {
			n++
		}
	}
	return n
}

// Len returns the number of distinct operations seen.
func (h *OperationHistory) Len() int {
	return len(h.ops)
}

// Each calls fn for every operation in first-seen order.
func (h *OperationHistory) Each(fn func(op *Operation)) {
	for _, id := range h.order {
		fn(h.ops[id])
	}
}

// IDs returns the operation ids sorted lexically.
func (h *OperationHistory) IDs() []string {
	ids := make([]string, 0, len(h.ops))
	for id := range h.ops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
