package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/KamdynS/leech/activity"
	"github.com/KamdynS/leech/engine"
	"github.com/KamdynS/leech/observability"
)

// ActivityPoller hands out activity tasks and takes their outcomes.
type ActivityPoller interface {
	// PollForActivityTask returns the next task, or nil when none was available.
	PollForActivityTask(ctx context.Context, taskList string) (*activity.Task, error)
	RespondActivityTaskCompleted(ctx context.Context, token, result string) error
	RespondActivityTaskFailed(ctx context.Context, token, reason, details string) error
}

// ActivityWorker polls activity tasks and executes registered activities.
type ActivityWorker struct {
	*runner
	poller   ActivityPoller
	registry *activity.Registry
	taskList string
	hooks    *observability.Hooks
}

// ActivityConfig holds activity worker configuration
type ActivityConfig struct {
	ID       string
	Poller   ActivityPoller
	Registry *activity.Registry
	TaskList string
	Pollers  int
	PollRate rate.Limit
	Hooks    *observability.Hooks
}

// NewActivityWorker creates a new activity worker
func NewActivityWorker(cfg ActivityConfig) (*ActivityWorker, error) {
	if cfg.Poller == nil {
		return nil, fmt.Errorf("activity poller is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("activity registry is required")
	}
	w := &ActivityWorker{poller: cfg.Poller, registry: cfg.Registry, taskList: cfg.TaskList, hooks: cfg.Hooks}
	w.runner = newRunner(cfg.ID, "Worker", cfg.Pollers, cfg.PollRate, w.PollOnce)
	return w, nil
}

// PollOnce polls one activity task, executes it and reports the outcome. It
// reports whether a task was handled.
func (w *ActivityWorker) PollOnce(ctx context.Context) (bool, error) {
	task, err := w.poller.PollForActivityTask(ctx, w.taskList)
	if err != nil {
		return false, fmt.Errorf("poll activity task: %w", err)
	}
	if task == nil {
		return false, nil
	}

	begin := time.Now()
	result, err := w.execute(ctx, task)
	w.hooks.SafeActivityResult(ctx, task.Name, time.Since(begin), err)

	if err != nil {
		log.Printf("[Worker %s] Activity %s (%s) failed: %v", w.id, task.ActivityID, task.Name, err)
		w.hooks.SafeLog(ctx, "warn", "activity failed", map[string]any{
			"activity": task.Name, "activity_id": task.ActivityID, "flow_id": task.WorkflowID, "error": err.Error(),
		})
		reason := engine.Truncate(err.Error(), engine.MaxReasonLength)
		if rerr := w.poller.RespondActivityTaskFailed(ctx, task.Token, reason, engine.Truncate(err.Error(), engine.MaxDetailsLength)); rerr != nil {
			return true, fmt.Errorf("respond failure of %s: %w", task.ActivityID, rerr)
		}
		return true, nil
	}
	if rerr := w.poller.RespondActivityTaskCompleted(ctx, task.Token, result); rerr != nil {
		return true, fmt.Errorf("respond result of %s: %w", task.ActivityID, rerr)
	}
	return true, nil
}

// execute runs a task under the activity's timeout, recovering panics.
func (w *ActivityWorker) execute(ctx context.Context, task *activity.Task) (result string, err error) {
	reg, err := w.registry.Get(task.Name)
	if err != nil {
		return "", err
	}

	execCtx := activity.WithTask(ctx, *task)
	if reg.Info.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(execCtx, reg.Info.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("activity %s panicked: %v", task.Name, r)
		}
	}()

	var input json.RawMessage
	if task.Input != "" {
		input = json.RawMessage(task.Input)
		if !json.Valid(input) {
			input, _ = json.Marshal(task.Input)
		}
	}
	out, err := reg.Activity.Execute(execCtx, input)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && execCtx.Err() != nil && ctx.Err() == nil {
			return "", fmt.Errorf("activity %s timed out after %v: %w", task.Name, reg.Info.Timeout, err)
		}
		return "", err
	}
	return activity.EncodeResult(out)
}
