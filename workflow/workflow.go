// Package workflow provides the decision algebra flow bodies are written in:
// Signatures for single asynchronous operations, and the Chain and Group
// combinators that sequence and fan them out. Everything is recomputed from
// the replayed history on every decision round.
package workflow

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/KamdynS/leech/config"
	"github.com/KamdynS/leech/decision"
	"github.com/KamdynS/leech/observability"
	"github.com/KamdynS/leech/state"
)

var (
	// ErrConcurrencyExceeded is returned when admission control holds back a
	// start. Chain and Group absorb it; the start is retried next round.
	ErrConcurrencyExceeded = errors.New("concurrency limit exceeded")
	// ErrTooManyFailures is returned when an operation reached its failure cap.
	ErrTooManyFailures = errors.New("operation failed too many times")
	// ErrUnregisteredFlow is returned when no flow is registered for a flow type.
	ErrUnregisteredFlow = errors.New("unregistered flow type")
	// ErrFlowFailed asks the dispatcher to fail the execution instead of terminating it.
	ErrFlowFailed = errors.New("flow failed")
)

// FlowFunc is the body of a flow. It reads the context, appends the round's
// decisions to out and returns. A returned error is fatal for the execution.
type FlowFunc func(c Context, out *decision.List) error

// Context is the immutable view a flow body receives for one decision round.
type Context struct {
	// TaskArgs is the raw task arguments the execution was started with.
	TaskArgs json.RawMessage

	History      *state.WorkflowHistory
	Activities   *state.OperationHistory
	SubWorkflows *state.OperationHistory
	Lambdas      *state.OperationHistory
	Timers       *state.TimerHistory
	Markers      *state.MarkerHistory

	Config   config.Config
	Versions config.Versions

	// ExecutionID is the flow id of the running execution.
	ExecutionID string
	RunID       string
	Domain      string
	LambdaRole  string

	Retry RetryPolicy
	Hooks *observability.Hooks

	round *round
}

// Params are the inputs of NewContext.
type Params struct {
	History    *state.WorkflowHistory
	TaskArgs   json.RawMessage
	Config     config.Config
	Versions   config.Versions
	LambdaRole string
	Retry      RetryPolicy
	Hooks      *observability.Hooks
}

// round tracks what the flow body touched during one round.
type round struct {
	referenced map[state.OperationKind]map[string]bool
}

// NewContext builds the context for one decision round.
func NewContext(p Params) Context {
	h := p.History
	if h == nil {
		h = state.NewWorkflowHistory(nil)
	}
	retry := p.Retry
	if retry.Base == 0 {
		retry = DefaultRetryPolicy()
	}
	role := p.LambdaRole
	if role == "" {
		role = h.LambdaRole
	}
	return Context{
		TaskArgs:     p.TaskArgs,
		History:      h,
		Activities:   h.Activities,
		SubWorkflows: h.SubWorkflows,
		Lambdas:      h.Lambdas,
		Timers:       h.Timers,
		Markers:      h.Markers,
		Config:       p.Config,
		Versions:     p.Versions,
		ExecutionID:  h.FlowID,
		RunID:        h.RunID,
		Domain:       h.Domain,
		LambdaRole:   role,
		Retry:        retry,
		Hooks:        p.Hooks,
		round: &round{
			referenced: make(map[state.OperationKind]map[string]bool),
		},
	}
}

// Args decodes the task arguments into v.
func (c Context) Args(v any) error {
	if len(c.TaskArgs) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.TaskArgs, v); err != nil {
		return fmt.Errorf("decode task args: %w", err)
	}
	return nil
}

// reference records that the flow body still cares about an operation.
func (c Context) reference(kind state.OperationKind, id string) {
	if c.round == nil {
		return
	}
	ids := c.round.referenced[kind]
	if ids == nil {
		ids = make(map[string]bool)
		c.round.referenced[kind] = ids
	}
	ids[id] = true
}

// Referenced reports whether a Signature with this id was evaluated this round.
func (c Context) Referenced(kind state.OperationKind, id string) bool {
	return c.round != nil && c.round.referenced[kind][id]
}

// Results maps signature ids to their raw result payloads.
type Results map[string]json.RawMessage

// Decode unmarshals the result of id into v.
func (r Results) Decode(id string, v any) error {
	raw, ok := r[id]
	if !ok {
		return fmt.Errorf("no result for %s", id)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode result of %s: %w", id, err)
	}
	return nil
}

// Encode renders v as an operation payload. Strings and raw JSON pass through.
func Encode(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case json.RawMessage:
		return string(x), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

// hooksCtx is the context handed to hooks; decision rounds do no I/O of their own.
var hooksCtx = context.Background()
