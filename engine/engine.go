// Package engine runs decision rounds: it replays a decision task's history
// into a workflow.Context, invokes the registered flow and submits the
// resulting decisions as one batch.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"

	"github.com/KamdynS/leech/config"
	"github.com/KamdynS/leech/decision"
	"github.com/KamdynS/leech/observability"
	"github.com/KamdynS/leech/state"
	"github.com/KamdynS/leech/workflow"
)

// Limits the workflow service puts on reason and details payloads.
const (
	MaxReasonLength  = 256
	MaxDetailsLength = 32 * 1024
)

// Service is the part of the workflow service a decision round talks to.
type Service interface {
	RespondDecisionTaskCompleted(ctx context.Context, taskToken string, decisions []decision.Decision) error
	TerminateWorkflowExecution(ctx context.Context, req TerminateRequest) error
}

// TerminateRequest identifies the execution to terminate and why.
type TerminateRequest struct {
	Domain     string
	WorkflowID string
	RunID      string
	Reason     string
	Details    string
}

// StartRequest starts a top-level execution.
type StartRequest struct {
	WorkflowID string
	FlowType   string
	// Version defaults to the registered version of FlowType where the service knows it.
	Version    string
	Input      string
	TaskList   string
	LambdaRole string
}

// Starter starts top-level executions and returns their run id.
type Starter interface {
	StartExecution(ctx context.Context, req StartRequest) (string, error)
}

// Engine dispatches decision tasks to registered flows.
type Engine struct {
	service    Service
	registry   *workflow.Registry
	source     config.Source
	lambdaRole string
	retry      workflow.RetryPolicy
	hooks      *observability.Hooks

	docs documentCache
}

// Config holds engine configuration
type Config struct {
	Service  Service
	Registry *workflow.Registry
	// Source provides versions and config when neither the execution input
	// nor the history carries them. Nil leaves both empty.
	Source     config.Source
	LambdaRole string
	Retry      workflow.RetryPolicy
	Hooks      *observability.Hooks
}

// New creates a new engine
func New(cfg Config) (*Engine, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("workflow service is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("flow registry is required")
	}
	return &Engine{
		service:    cfg.Service,
		registry:   cfg.Registry,
		source:     cfg.Source,
		lambdaRole: cfg.LambdaRole,
		retry:      cfg.Retry,
		hooks:      cfg.Hooks,
	}, nil
}

// Control is the metadata attached to every start decision.
type Control struct {
	ParentFlowID string `json:"parent_flow_id"`
	ParentRunID  string `json:"parent_run_id"`
}

// flowError is a fatal error raised by a flow body.
type flowError struct {
	err   error
	stack string
}

func (f *flowError) Error() string { return f.err.Error() }
func (f *flowError) Unwrap() error { return f.err }

// Decide runs one decision round for the merged history of a decision task.
//
// An error from the flow body terminates the execution, unless it wraps
// workflow.ErrFlowFailed, in which case the execution is failed. Errors that
// occur before the flow runs are returned without responding so the task
// times out and is redelivered.
func (e *Engine) Decide(ctx context.Context, h *state.WorkflowHistory) error {
	begin := time.Now()

	def, err := e.registry.Get(h.FlowType)
	if err != nil {
		return e.terminate(ctx, h, &flowError{err: err})
	}

	env := OpenEnvelope(h.Input)
	sh, err := e.resolve(ctx, h, env)
	if err != nil {
		return fmt.Errorf("decide %s: %w", h.FlowID, err)
	}

	c := workflow.NewContext(workflow.Params{
		History:    h,
		TaskArgs:   env.Args,
		Config:     sh.config,
		Versions:   sh.versions,
		LambdaRole: e.lambdaRole,
		Retry:      e.retry,
		Hooks:      e.hooks,
	})

	out := decision.NewList()
	for _, name := range []string{VersionsMarker, ConfigMarker} {
		if v, ok := sh.record[name]; ok {
			out.Add(decision.RecordMarker(name, v))
		}
	}

	if err := run(def.Flow, c, out); err != nil {
		if errors.Is(err, workflow.ErrFlowFailed) {
			return e.fail(ctx, h, err)
		}
		return e.terminate(ctx, h, err)
	}

	batch, err := e.finish(c, out, sh)
	if err != nil {
		return e.terminate(ctx, h, &flowError{err: err, stack: string(debug.Stack())})
	}
	if err := e.service.RespondDecisionTaskCompleted(ctx, h.TaskToken, batch); err != nil {
		return fmt.Errorf("respond decision task for %s: %w", h.FlowID, err)
	}

	e.hooks.SafeDecisionRound(ctx, h.FlowType, h.FlowID, len(batch), time.Since(begin))
	log.Printf("[Engine] %s %s: %d decisions", h.FlowType, h.FlowID, len(batch))
	e.hooks.SafeLog(ctx, "debug", "decision round", map[string]any{
		"flow_type": h.FlowType, "flow_id": h.FlowID, "run_id": h.RunID, "decisions": len(batch),
	})
	return nil
}

// run invokes the flow body and turns a panic into a fatal error.
func run(flow workflow.FlowFunc, c workflow.Context, out *decision.List) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &flowError{err: fmt.Errorf("flow panic: %v", r), stack: string(debug.Stack())}
		}
	}()
	if err := flow(c, out); err != nil {
		return &flowError{err: err, stack: string(debug.Stack())}
	}
	return nil
}

// finish appends idle cleanup, attaches metadata and validates the batch.
func (e *Engine) finish(c workflow.Context, out *decision.List, sh shared) ([]decision.Decision, error) {
	cleanup := idle(c)

	control, err := json.Marshal(Control{ParentFlowID: c.ExecutionID, ParentRunID: c.RunID})
	if err != nil {
		return nil, fmt.Errorf("encode control: %w", err)
	}

	var encodeErr error
	out.Update(func(d *decision.Decision) {
		if _, _, ok := d.Target(); !ok {
			return
		}
		d.SetControl(string(control))
		if d.Type == decision.TypeStartChildWorkflowExecution && encodeErr == nil {
			encodeErr = propagate(d.StartChildWorkflowExecution, sh)
		}
	})
	if encodeErr != nil {
		return nil, encodeErr
	}

	batch := append(out.Items(), cleanup...)
	if out.Completes() {
		// a closing decision has to stay last in the batch
		sort.SliceStable(batch, func(i, j int) bool { return !closes(batch[i]) && closes(batch[j]) })
	}

	for _, d := range batch {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

// idle returns cancellations for live operations and back-off timers no
// signature referenced this round.
func idle(c workflow.Context) []decision.Decision {
	var ds []decision.Decision
	c.Activities.Each(func(op *state.Operation) {
		if op.Live() && !c.Referenced(state.KindActivity, op.ID) {
			ds = append(ds, decision.CancelActivity(op.ID))
		}
	})
	c.SubWorkflows.Each(func(op *state.Operation) {
		if op.Live() && !c.Referenced(state.KindSubWorkflow, op.ID) {
			ds = append(ds, decision.CancelChild(op.ID))
		}
	})
	for _, t := range c.Timers.Open() {
		if t.Control != "" && !referenced(c, t.Control) {
			ds = append(ds, decision.CancelTimer(t.ID))
		}
	}
	return ds
}

func referenced(c workflow.Context, id string) bool {
	for _, kind := range []state.OperationKind{state.KindActivity, state.KindLambda, state.KindSubWorkflow} {
		if c.Referenced(kind, id) {
			return true
		}
	}
	return false
}

func closes(d decision.Decision) bool {
	return d.Type == decision.TypeCompleteWorkflowExecution || d.Type == decision.TypeFailWorkflowExecution
}

// propagate wraps a child's input in an envelope carrying this execution's documents.
func propagate(attrs *decision.StartChildWorkflowExecutionAttributes, sh shared) error {
	args, err := rawArgs(attrs.Input)
	if err != nil {
		return fmt.Errorf("child %s: %w", attrs.WorkflowID, err)
	}
	versions, cfg := sh.versions, sh.config
	b, err := json.Marshal(Envelope{Args: args, Versions: &versions, Config: &cfg})
	if err != nil {
		return fmt.Errorf("child %s: encode envelope: %w", attrs.WorkflowID, err)
	}
	attrs.Input = string(b)
	return nil
}

// fail closes the execution with a FailWorkflowExecution decision.
func (e *Engine) fail(ctx context.Context, h *state.WorkflowHistory, err error) error {
	log.Printf("[Engine] %s %s failed: %v", h.FlowType, h.FlowID, err)
	e.hooks.SafeLog(ctx, "warn", "flow failed", map[string]any{
		"flow_type": h.FlowType, "flow_id": h.FlowID, "run_id": h.RunID, "error": err.Error(),
	})
	d := decision.FailWorkflow(Truncate(err.Error(), MaxReasonLength), Truncate(err.Error(), MaxDetailsLength))
	if rerr := e.service.RespondDecisionTaskCompleted(ctx, h.TaskToken, []decision.Decision{d}); rerr != nil {
		return fmt.Errorf("respond failure for %s: %w", h.FlowID, rerr)
	}
	return nil
}

// terminate ends the execution after a fatal flow error. No decisions of
// the round are submitted.
func (e *Engine) terminate(ctx context.Context, h *state.WorkflowHistory, err error) error {
	details := err.Error()
	var fe *flowError
	if errors.As(err, &fe) && fe.stack != "" {
		details = fe.err.Error() + "\n\n" + fe.stack
	}
	log.Printf("[Engine] terminating %s %s: %v", h.FlowType, h.FlowID, err)
	e.hooks.SafeLog(ctx, "error", "terminating flow", map[string]any{
		"flow_type": h.FlowType, "flow_id": h.FlowID, "run_id": h.RunID, "error": err.Error(),
	})
	e.hooks.SafeTerminate(ctx, h.FlowType, h.FlowID, err)

	req := TerminateRequest{
		Domain:     h.Domain,
		WorkflowID: h.FlowID,
		RunID:      h.RunID,
		Reason:     Truncate(err.Error(), MaxReasonLength),
		Details:    Truncate(details, MaxDetailsLength),
	}
	if terr := e.service.TerminateWorkflowExecution(ctx, req); terr != nil {
		return fmt.Errorf("terminate %s after %v: %w", h.FlowID, err, terr)
	}
	return nil
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
