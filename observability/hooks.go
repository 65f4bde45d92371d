// Package observability provides optional callbacks for logging and metrics
// without introducing dependencies in the decision engine.
package observability

import (
	"context"
	"time"
)

// Hooks provides optional callbacks for logging, metrics, and tracing. All
// functions are optional and a nil *Hooks is valid.
type Hooks struct {
	// Logf logs a structured message with a severity level and key-value fields.
	Logf func(ctx context.Context, level string, msg string, fields map[string]any)

	// OnDecisionRound is called after a round's decisions were submitted.
	OnDecisionRound func(ctx context.Context, flowType string, flowID string, decisions int, latency time.Duration)
	// OnAdmissionDenied is called when concurrency control holds back a start.
	OnAdmissionDenied func(ctx context.Context, kind string, name string, id string)
	// OnTerminate is called when a fatal flow error terminates an execution.
	OnTerminate func(ctx context.Context, flowType string, flowID string, err error)
	// OnActivityResult is called when an activity worker finishes a task.
	OnActivityResult func(ctx context.Context, activity string, latency time.Duration, err error)
}

// SafeLog logs if Logf is configured.
func (h *Hooks) SafeLog(ctx context.Context, level string, msg string, fields map[string]any) {
	if h != nil && h.Logf != nil {
		h.Logf(ctx, level, msg, fields)
	}
}

// SafeDecisionRound invokes OnDecisionRound if configured.
func (h *Hooks) SafeDecisionRound(ctx context.Context, flowType string, flowID string, decisions int, latency time.Duration) {
	if h != nil && h.OnDecisionRound != nil {
		h.OnDecisionRound(ctx, flowType, flowID, decisions, latency)
	}
}

// SafeAdmissionDenied invokes OnAdmissionDenied if configured.
func (h *Hooks) SafeAdmissionDenied(ctx context.Context, kind string, name string, id string) {
	if h != nil && h.OnAdmissionDenied != nil {
		h.OnAdmissionDenied(ctx, kind, name, id)
	}
}

// SafeTerminate invokes OnTerminate if configured.
func (h *Hooks) SafeTerminate(ctx context.Context, flowType string, flowID string, err error) {
	if h != nil && h.OnTerminate != nil {
		h.OnTerminate(ctx, flowType, flowID, err)
	}
}

// SafeActivityResult invokes OnActivityResult if configured.
func (h *Hooks) SafeActivityResult(ctx context.Context, activity string, latency time.Duration, err error) {
	if h != nil && h.OnActivityResult != nil {
		h.OnActivityResult(ctx, activity, latency, err)
	}
}
