// Package decision defines the commands a decider returns to the workflow
// service at the end of a decision round.
package decision

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Type is the workflow service decision type.
type Type string

const (
	TypeScheduleActivityTask                   Type = "ScheduleActivityTask"
	TypeScheduleLambdaFunction                 Type = "ScheduleLambdaFunction"
	TypeStartChildWorkflowExecution            Type = "StartChildWorkflowExecution"
	TypeStartTimer                             Type = "StartTimer"
	TypeCancelTimer                            Type = "CancelTimer"
	TypeRecordMarker                           Type = "RecordMarker"
	TypeCompleteWorkflowExecution              Type = "CompleteWorkflowExecution"
	TypeFailWorkflowExecution                  Type = "FailWorkflowExecution"
	TypeRequestCancelActivityTask              Type = "RequestCancelActivityTask"
	TypeRequestCancelExternalWorkflowExecution Type = "RequestCancelExternalWorkflowExecution"
)

// Decision is one typed command. Exactly one attributes field matching Type is set.
type Decision struct {
	Type Type `json:"decisionType"`

	ScheduleActivityTask                   *ScheduleActivityTaskAttributes                   `json:"scheduleActivityTaskDecisionAttributes,omitempty"`
	ScheduleLambdaFunction                 *ScheduleLambdaFunctionAttributes                 `json:"scheduleLambdaFunctionDecisionAttributes,omitempty"`
	StartChildWorkflowExecution            *StartChildWorkflowExecutionAttributes            `json:"startChildWorkflowExecutionDecisionAttributes,omitempty"`
	StartTimer                             *StartTimerAttributes                             `json:"startTimerDecisionAttributes,omitempty"`
	CancelTimer                            *CancelTimerAttributes                            `json:"cancelTimerDecisionAttributes,omitempty"`
	RecordMarker                           *RecordMarkerAttributes                           `json:"recordMarkerDecisionAttributes,omitempty"`
	CompleteWorkflowExecution              *CompleteWorkflowExecutionAttributes              `json:"completeWorkflowExecutionDecisionAttributes,omitempty"`
	FailWorkflowExecution                  *FailWorkflowExecutionAttributes                  `json:"failWorkflowExecutionDecisionAttributes,omitempty"`
	RequestCancelActivityTask              *RequestCancelActivityTaskAttributes              `json:"requestCancelActivityTaskDecisionAttributes,omitempty"`
	RequestCancelExternalWorkflowExecution *RequestCancelExternalWorkflowExecutionAttributes `json:"requestCancelExternalWorkflowExecutionDecisionAttributes,omitempty"`
}

// Timeouts are the optional per-operation timeouts. Zero leaves the value
// registered with the task type in effect.
type Timeouts struct {
	ScheduleToStart time.Duration `json:"-"`
	StartToClose    time.Duration `json:"-"`
	ScheduleToClose time.Duration `json:"-"`
	Heartbeat       time.Duration `json:"-"`
}

type ScheduleActivityTaskAttributes struct {
	ActivityID   string   `json:"activityId"`
	ActivityType Named    `json:"activityType"`
	Input        string   `json:"input,omitempty"`
	Control      string   `json:"control,omitempty"`
	TaskList     string   `json:"taskList,omitempty"`
	Timeouts     Timeouts `json:"-"`
}

type ScheduleLambdaFunctionAttributes struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Input   string `json:"input,omitempty"`
	Control string `json:"control,omitempty"`
	// StartToClose bounds the lambda invocation.
	StartToClose time.Duration `json:"-"`
}

type StartChildWorkflowExecutionAttributes struct {
	WorkflowID   string `json:"workflowId"`
	WorkflowType Named  `json:"workflowType"`
	Input        string `json:"input,omitempty"`
	Control      string `json:"control,omitempty"`
	TaskList     string `json:"taskList,omitempty"`
	LambdaRole   string `json:"lambdaRole,omitempty"`
	// ExecutionStartToClose bounds the child execution.
	ExecutionStartToClose time.Duration `json:"-"`
	TaskStartToClose      time.Duration `json:"-"`
}

type StartTimerAttributes struct {
	TimerID string        `json:"timerId"`
	Delay   time.Duration `json:"-"`
	Control string        `json:"control,omitempty"`
}

type CancelTimerAttributes struct {
	TimerID string `json:"timerId"`
}

type RecordMarkerAttributes struct {
	MarkerName string `json:"markerName"`
	Details    string `json:"details,omitempty"`
}

type CompleteWorkflowExecutionAttributes struct {
	Result string `json:"result,omitempty"`
}

type FailWorkflowExecutionAttributes struct {
	Reason  string `json:"reason,omitempty"`
	Details string `json:"details,omitempty"`
}

type RequestCancelActivityTaskAttributes struct {
	ActivityID string `json:"activityId"`
}

type RequestCancelExternalWorkflowExecutionAttributes struct {
	WorkflowID string `json:"workflowId"`
	RunID      string `json:"runId,omitempty"`
	Control    string `json:"control,omitempty"`
}

// Named identifies a registered activity or workflow type.
type Named struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ScheduleActivity builds a ScheduleActivityTask decision.
func ScheduleActivity(id, name, version, input string) Decision {
	return Decision{
		Type: TypeScheduleActivityTask,
		ScheduleActivityTask: &ScheduleActivityTaskAttributes{
			ActivityID:   id,
			ActivityType: Named{Name: name, Version: version},
			Input:        input,
		},
	}
}

// ScheduleLambda builds a ScheduleLambdaFunction decision.
func ScheduleLambda(id, name, input string) Decision {
	return Decision{
		Type: TypeScheduleLambdaFunction,
		ScheduleLambdaFunction: &ScheduleLambdaFunctionAttributes{
			ID:    id,
			Name:  name,
			Input: input,
		},
	}
}

// StartChild builds a StartChildWorkflowExecution decision.
func StartChild(id, flowType, version, input string) Decision {
	return Decision{
		Type: TypeStartChildWorkflowExecution,
		StartChildWorkflowExecution: &StartChildWorkflowExecutionAttributes{
			WorkflowID:   id,
			WorkflowType: Named{Name: flowType, Version: version},
			Input:        input,
		},
	}
}

// StartTimer builds a StartTimer decision.
func StartTimer(id string, delay time.Duration) Decision {
	return Decision{
		Type:       TypeStartTimer,
		StartTimer: &StartTimerAttributes{TimerID: id, Delay: delay},
	}
}

// CancelTimer builds a CancelTimer decision.
func CancelTimer(id string) Decision {
	return Decision{
		Type:        TypeCancelTimer,
		CancelTimer: &CancelTimerAttributes{TimerID: id},
	}
}

// RecordMarker builds a RecordMarker decision.
func RecordMarker(name, details string) Decision {
	return Decision{
		Type:         TypeRecordMarker,
		RecordMarker: &RecordMarkerAttributes{MarkerName: name, Details: details},
	}
}

// CompleteWorkflow builds a CompleteWorkflowExecution decision.
func CompleteWorkflow(result string) Decision {
	return Decision{
		Type:                      TypeCompleteWorkflowExecution,
		CompleteWorkflowExecution: &CompleteWorkflowExecutionAttributes{Result: result},
	}
}

// FailWorkflow builds a FailWorkflowExecution decision.
func FailWorkflow(reason, details string) Decision {
	return Decision{
		Type:                  TypeFailWorkflowExecution,
		FailWorkflowExecution: &FailWorkflowExecutionAttributes{Reason: reason, Details: details},
	}
}

// CancelActivity builds a RequestCancelActivityTask decision.
func CancelActivity(id string) Decision {
	return Decision{
		Type:                      TypeRequestCancelActivityTask,
		RequestCancelActivityTask: &RequestCancelActivityTaskAttributes{ActivityID: id},
	}
}

// CancelChild builds a RequestCancelExternalWorkflowExecution decision.
func CancelChild(workflowID string) Decision {
	return Decision{
		Type: TypeRequestCancelExternalWorkflowExecution,
		RequestCancelExternalWorkflowExecution: &RequestCancelExternalWorkflowExecutionAttributes{
			WorkflowID: workflowID,
		},
	}
}

// Target returns the id and type name a start decision refers to. ok is
// false for decisions that do not start an operation.
func (d Decision) Target() (id, name string, ok bool) {
	switch d.Type {
	case TypeScheduleActivityTask:
		return d.ScheduleActivityTask.ActivityID, d.ScheduleActivityTask.ActivityType.Name, true
	case TypeScheduleLambdaFunction:
		return d.ScheduleLambdaFunction.ID, d.ScheduleLambdaFunction.Name, true
	case TypeStartChildWorkflowExecution:
		return d.StartChildWorkflowExecution.WorkflowID, d.StartChildWorkflowExecution.WorkflowType.Name, true
	}
	return "", "", false
}

// SetControl sets the control string on decisions that carry one.
func (d *Decision) SetControl(control string) {
	switch d.Type {
	case TypeScheduleActivityTask:
		d.ScheduleActivityTask.Control = control
	case TypeScheduleLambdaFunction:
		d.ScheduleLambdaFunction.Control = control
	case TypeStartChildWorkflowExecution:
		d.StartChildWorkflowExecution.Control = control
	case TypeStartTimer:
		d.StartTimer.Control = control
	case TypeRequestCancelExternalWorkflowExecution:
		d.RequestCancelExternalWorkflowExecution.Control = control
	}
}

// Validate checks that the attributes matching Type are present.
func (d Decision) Validate() error {
	var ok bool
	switch d.Type {
	case TypeScheduleActivityTask:
		ok = d.ScheduleActivityTask != nil
	case TypeScheduleLambdaFunction:
		ok = d.ScheduleLambdaFunction != nil
	case TypeStartChildWorkflowExecution:
		ok = d.StartChildWorkflowExecution != nil
	case TypeStartTimer:
		ok = d.StartTimer != nil
	case TypeCancelTimer:
		ok = d.CancelTimer != nil
	case TypeRecordMarker:
		ok = d.RecordMarker != nil
	case TypeCompleteWorkflowExecution:
		ok = d.CompleteWorkflowExecution != nil
	case TypeFailWorkflowExecution:
		ok = d.FailWorkflowExecution != nil
	case TypeRequestCancelActivityTask:
		ok = d.RequestCancelActivityTask != nil
	case TypeRequestCancelExternalWorkflowExecution:
		ok = d.RequestCancelExternalWorkflowExecution != nil
	default:
		return fmt.Errorf("unknown decision type %q", d.Type)
	}
	if !ok {
		return fmt.Errorf("decision %s is missing its attributes", d.Type)
	}
	if id := d.key(); id != "" && d.Type != TypeRecordMarker {
		if err := ValidID(id); err != nil {
			return fmt.Errorf("decision %s: %w", d.Type, err)
		}
	}
	return nil
}

// MaxIDLength is the longest activity, timer or workflow id the service accepts.
const MaxIDLength = 256

// ErrInvalidID is returned for ids the workflow service refuses.
var ErrInvalidID = errors.New("invalid id")

// ValidID checks an activity, lambda, timer or workflow id against the
// service's rules: 1 to 256 characters, no ':', '/' or '|', no control
// characters and not containing the literal "arn".
func ValidID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case len(id) > MaxIDLength:
		return fmt.Errorf("%w: %.32q... exceeds %d characters", ErrInvalidID, id, MaxIDLength)
	case strings.ContainsAny(id, ":/|"):
		return fmt.Errorf("%w: %q contains ':', '/' or '|'", ErrInvalidID, id)
	case strings.Contains(id, "arn"):
		return fmt.Errorf("%w: %q contains \"arn\"", ErrInvalidID, id)
	}
	for _, r := range id {
		if r <= 0x1f || (r >= 0x7f && r <= 0x9f) {
			return fmt.Errorf("%w: %q contains a control character", ErrInvalidID, id)
		}
	}
	return nil
}

// Seconds renders a duration the way the service expects timeouts: whole
// seconds as a string, rounded up. Zero renders as "".
func Seconds(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return strconv.FormatInt(secs, 10)
}

// wireTimer adds the service's string-typed timeout to the timer attributes.
type wireTimer struct {
	StartTimerAttributes
	StartToFireTimeout string `json:"startToFireTimeout"`
}

// MarshalJSON renders the decision in the service wire shape.
func (d Decision) MarshalJSON() ([]byte, error) {
	type plain Decision
	if d.Type != TypeStartTimer || d.StartTimer == nil {
		return json.Marshal(plain(d))
	}
	out := struct {
		Type       Type      `json:"decisionType"`
		StartTimer wireTimer `json:"startTimerDecisionAttributes"`
	}{
		Type: d.Type,
		StartTimer: wireTimer{
			StartTimerAttributes: *d.StartTimer,
			StartToFireTimeout:   Seconds(d.StartTimer.Delay),
		},
	}
	return json.Marshal(out)
}
