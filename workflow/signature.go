package workflow

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/KamdynS/leech/decision"
	"github.com/KamdynS/leech/state"
)

// Signature is the replay-derived intent to run one asynchronous operation.
// It is recomputed every round from (id, kind, history, config, versions).
type Signature struct {
	// ID identifies the operation within the execution. For sub-workflows it
	// is the child workflow id and must be unique within the domain.
	ID   string
	Kind state.OperationKind
	// Name is the activity type, flow type or lambda function name.
	Name  string
	Input any
	// Bind, when set, computes Input from the results of the signatures that
	// precede this one in a Chain.
	Bind func(prior Results) (any, error)
	// MaxFailures aborts the flow with ErrTooManyFailures once reached. Zero retries forever.
	MaxFailures int
}

// Activity returns a Signature for an activity task.
func Activity(id, name string, input any) Signature {
	return Signature{ID: id, Kind: state.KindActivity, Name: name, Input: input}
}

// SubWorkflow returns a Signature for a child workflow execution.
func SubWorkflow(id, flowType string, input any) Signature {
	return Signature{ID: id, Kind: state.KindSubWorkflow, Name: flowType, Input: input}
}

// Lambda returns a Signature for a lambda function.
func Lambda(id, name string, input any) Signature {
	return Signature{ID: id, Kind: state.KindLambda, Name: name, Input: input}
}

// WithMaxFailures returns a copy of s that gives up after n failures.
func (s Signature) WithMaxFailures(n int) Signature {
	s.MaxFailures = n
	return s
}

// BackoffTimerID names the back-off timer for the given failure count.
func BackoffTimerID(id string, failCount int) string {
	return fmt.Sprintf("%s.backoff.%d", id, failCount)
}

// Status returns the signature's replayed status. A checkpoint counts as complete.
func (s Signature) Status(c Context) state.Status {
	if _, ok := c.Markers.Checkpoint(s.ID); ok {
		return state.StatusComplete
	}
	return s.ops(c).Status(s.ID)
}

func (s Signature) ops(c Context) *state.OperationHistory {
	if ops := c.History.Operations(s.Kind); ops != nil {
		return ops
	}
	return state.NewOperationHistory(s.Kind)
}

// Evaluate decides what to do with the signature this round. It returns the
// result and true once the operation completed. Otherwise it may have queued
// a start, retry, back-off timer or nothing on out. ErrConcurrencyExceeded
// means the start was held back by admission control.
func (s Signature) Evaluate(c Context, out *decision.List) (json.RawMessage, bool, error) {
	c.reference(s.Kind, s.ID)

	if cp, ok := c.Markers.Checkpoint(s.ID); ok {
		return payload(cp), true, nil
	}

	op, _ := s.ops(c).Get(s.ID)
	switch s.ops(c).Status(s.ID) {
	case state.StatusNotStarted:
		return nil, false, s.start(c, out)
	case state.StatusStarted:
		return nil, false, nil
	case state.StatusFailed:
		return nil, false, s.retry(c, out, op)
	}

	marker := state.CheckpointMarker(s.ID)
	if !out.Has(decision.TypeRecordMarker, marker) {
		out.Add(decision.RecordMarker(marker, op.Result))
	}
	return payload(op.Result), true, nil
}

func payload(raw string) json.RawMessage {
	if raw == "" {
		return json.RawMessage("null")
	}
	return json.RawMessage(raw)
}

// retry either starts the back-off timer for the current failure count,
// waits for it, or reissues the start once it fired.
func (s Signature) retry(c Context, out *decision.List, op *state.Operation) error {
	if s.MaxFailures > 0 && op.FailCount >= s.MaxFailures {
		return fmt.Errorf("%s %s (%s): %w: %d failures, last: %s",
			s.Kind, s.ID, s.Name, ErrTooManyFailures, op.FailCount, op.Reason)
	}
	timerID := BackoffTimerID(s.ID, op.FailCount)
	switch {
	case c.Timers.Pending(timerID), out.Has(decision.TypeStartTimer, timerID):
		return nil
	case c.Timers.Started(timerID):
		// fired, or canceled before firing
		return s.start(c, out)
	}
	key := fmt.Sprintf("%s/%s", c.ExecutionID, timerID)
	d := decision.StartTimer(timerID, c.Retry.Delay(op.FailCount, Jitter(key)))
	d.StartTimer.Control = s.ID
	out.Add(d)
	return nil
}

// startType is the decision type that starts an operation of kind.
func startType(kind state.OperationKind) decision.Type {
	switch kind {
	case state.KindSubWorkflow:
		return decision.TypeStartChildWorkflowExecution
	case state.KindLambda:
		return decision.TypeScheduleLambdaFunction
	default:
		return decision.TypeScheduleActivityTask
	}
}

// admit applies admission control: live operations of the same type plus
// starts already queued this round must stay below the configured limit.
func (s Signature) admit(c Context, out *decision.List) error {
	limit := c.Config.Concurrency(s.Kind, s.Name)
	if limit <= 0 {
		return nil
	}
	live := s.ops(c).Live(s.Name)
	pending := out.Pending(startType(s.Kind), s.Name)
	if live+pending >= limit {
		c.Hooks.SafeAdmissionDenied(hooksCtx, string(s.Kind), s.Name, s.ID)
		return fmt.Errorf("%s %s: %d live, %d pending, limit %d: %w",
			s.Kind, s.Name, live, pending, limit, ErrConcurrencyExceeded)
	}
	return nil
}

// start queues the decision that starts the operation, subject to admission control.
func (s Signature) start(c Context, out *decision.List) error {
	if out.Has(startType(s.Kind), s.ID) {
		return nil
	}
	if err := s.admit(c, out); err != nil {
		return err
	}
	input, err := Encode(s.Input)
	if err != nil {
		return fmt.Errorf("%s %s: %w", s.Kind, s.ID, err)
	}
	tc := c.Config.Task(s.Kind, s.Name)

	var d decision.Decision
	switch s.Kind {
	case state.KindActivity:
		d = decision.ScheduleActivity(s.ID, s.Name, c.Versions.Task(s.Name), input)
		attrs := d.ScheduleActivityTask
		attrs.TaskList = tc.TaskList
		attrs.Timeouts = decision.Timeouts{
			ScheduleToStart: tc.ScheduleToStart(),
			StartToClose:    tc.StartToClose(),
			ScheduleToClose: tc.ScheduleToClose(),
			Heartbeat:       tc.Heartbeat(),
		}
	case state.KindSubWorkflow:
		d = decision.StartChild(s.ID, s.Name, c.Versions.Workflow(s.Name), input)
		attrs := d.StartChildWorkflowExecution
		attrs.TaskList = tc.TaskList
		attrs.LambdaRole = c.LambdaRole
		attrs.ExecutionStartToClose = tc.ScheduleToClose()
		attrs.TaskStartToClose = tc.StartToClose()
	case state.KindLambda:
		d = decision.ScheduleLambda(s.ID, s.Name, input)
		d.ScheduleLambdaFunction.StartToClose = tc.StartToClose()
	default:
		return fmt.Errorf("signature %s: unknown operation kind %q", s.ID, s.Kind)
	}
	out.Add(d)
	return nil
}
