// Package activity provides interfaces and implementations for the units of
// work activity workers execute on behalf of flows.
package activity

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Activity represents a unit of work that can be scheduled by a flow.
// Activities interact with external systems; retries are decided by the flow.
type Activity interface {
	// Name returns the unique name of this activity
	Name() string

	// Execute runs the activity with the given context and raw JSON input
	Execute(ctx context.Context, input json.RawMessage) (any, error)
}

// ActivityFunc is a function-based activity implementation
type ActivityFunc func(ctx context.Context, input json.RawMessage) (any, error)

// Execute implements Activity
func (f ActivityFunc) Execute(ctx context.Context, input json.RawMessage) (any, error) {
	return f(ctx, input)
}

// Name implements Activity
func (f ActivityFunc) Name() string {
	return "anonymous"
}

// Typed adapts a function over decoded input to an ActivityFunc.
func Typed[In any, Out any](fn func(ctx context.Context, in In) (Out, error)) ActivityFunc {
	return func(ctx context.Context, input json.RawMessage) (any, error) {
		var in In
		if len(input) > 0 {
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("decode activity input: %w", err)
			}
		}
		return fn(ctx, in)
	}
}

// Info holds metadata about an activity
type Info struct {
	Name        string
	Description string
	// Timeout bounds one execution on the worker.
	Timeout time.Duration
}

// DefaultTimeout applies when an activity registers without a timeout.
const DefaultTimeout = 30 * time.Second

// Task is one activity task handed to a worker.
type Task struct {
	Token      string
	ActivityID string
	Name       string
	Version    string
	Input      string
	WorkflowID string
	RunID      string
}

// EncodeResult renders an activity result the way the service stores it.
func EncodeResult(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.RawMessage:
		return string(x), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode activity result: %w", err)
	}
	return string(b), nil
}
