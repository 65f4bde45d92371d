package decision

// List is the append-only batch of decisions produced by one decision round.
// A List is owned by a single round and is not safe for concurrent use.
type List struct {
	items []Decision
}

// NewList creates an empty batch.
func NewList() *List {
	return &List{}
}

// Add appends decisions to the batch.
func (l *List) Add(ds ...Decision) {
	l.items = append(l.items, ds...)
}

// Len returns the number of queued decisions.
func (l *List) Len() int {
	return len(l.items)
}

// Items returns a copy of the queued decisions in insertion order.
func (l *List) Items() []Decision {
	out := make([]Decision, len(l.items))
	copy(out, l.items)
	return out
}

// Pending counts start decisions of type t already queued for name. It is
// the "pending" half of admission control.
func (l *List) Pending(t Type, name string) int {
	n := 0
	for _, d := range l.items {
		if d.Type != t {
			continue
		}
		if _, target, ok := d.Target(); ok && target == name {
			n++
		}
	}
	return n
}

// Has reports whether a decision of type t for id is already queued.
func (l *List) Has(t Type, id string) bool {
	for _, d := range l.items {
		if d.Type != t {
			continue
		}
		if d.key() == id {
			return true
		}
	}
	return false
}

// Completes reports whether the batch closes the workflow execution.
func (l *List) Completes() bool {
	for _, d := range l.items {
		if d.Type == TypeCompleteWorkflowExecution || d.Type == TypeFailWorkflowExecution {
			return true
		}
	}
	return false
}

// Update calls fn on every queued decision so callers can attach metadata.
func (l *List) Update(fn func(d *Decision)) {
	for i := range l.items {
		fn(&l.items[i])
	}
}

func (d Decision) key() string {
	if id, _, ok := d.Target(); ok {
		return id
	}
	switch d.Type {
	case TypeStartTimer:
		return d.StartTimer.TimerID
	case TypeCancelTimer:
		return d.CancelTimer.TimerID
	case TypeRecordMarker:
		return d.RecordMarker.MarkerName
	case TypeRequestCancelActivityTask:
		return d.RequestCancelActivityTask.ActivityID
	case TypeRequestCancelExternalWorkflowExecution:
		return d.RequestCancelExternalWorkflowExecution.WorkflowID
	}
	return ""
}
