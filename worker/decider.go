package worker

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/time/rate"

	"github.com/KamdynS/leech/engine"
	"github.com/KamdynS/leech/state"
)

// DecisionPoller hands out decision tasks one history page at a time.
type DecisionPoller interface {
	// PollForDecisionTask returns one page of a decision task's history and
	// the token of the next page. A nil history means no task was available.
	// A non-empty pageToken continues the task the previous page belongs to.
	PollForDecisionTask(ctx context.Context, taskList, pageToken string) (*state.WorkflowHistory, string, error)
	// Markers returns the markers an earlier run of a workflow recorded.
	Markers(ctx context.Context, workflowID, runID string) (*state.MarkerHistory, error)
}

// Decider polls decision tasks and runs them through the engine.
type Decider struct {
	*runner
	poller   DecisionPoller
	engine   *engine.Engine
	taskList string
}

// DeciderConfig holds decider configuration
type DeciderConfig struct {
	ID       string
	Poller   DecisionPoller
	Engine   *engine.Engine
	TaskList string
	Pollers  int
	PollRate rate.Limit
}

// NewDecider creates a new decider
func NewDecider(cfg DeciderConfig) (*Decider, error) {
	if cfg.Poller == nil {
		return nil, fmt.Errorf("decision poller is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	d := &Decider{poller: cfg.Poller, engine: cfg.Engine, taskList: cfg.TaskList}
	d.runner = newRunner(cfg.ID, "Decider", cfg.Pollers, cfg.PollRate, d.PollOnce)
	return d, nil
}

// PollOnce polls one decision task and decides it. It reports whether a
// task was handled.
func (d *Decider) PollOnce(ctx context.Context) (bool, error) {
	h, err := d.collect(ctx)
	if err != nil || h == nil {
		return false, err
	}
	if h.ContinuedFromRunID != "" {
		prior, err := d.poller.Markers(ctx, h.FlowID, h.ContinuedFromRunID)
		if err != nil {
			return true, fmt.Errorf("markers of %s/%s: %w", h.FlowID, h.ContinuedFromRunID, err)
		}
		h.MergeMarkers(prior)
	}
	if err := d.engine.Decide(ctx, h); err != nil {
		return true, err
	}
	return true, nil
}

// collect polls a decision task and merges all of its history pages.
func (d *Decider) collect(ctx context.Context) (*state.WorkflowHistory, error) {
	h, next, err := d.poller.PollForDecisionTask(ctx, d.taskList, "")
	if err != nil {
		return nil, fmt.Errorf("poll decision task: %w", err)
	}
	if h == nil {
		return nil, nil
	}
	pages := 1
	for next != "" {
		var page *state.WorkflowHistory
		page, next, err = d.poller.PollForDecisionTask(ctx, d.taskList, next)
		if err != nil {
			return nil, fmt.Errorf("poll history page %d of %s: %w", pages+1, h.FlowID, err)
		}
		if err := h.Merge(page); err != nil {
			return nil, err
		}
		pages++
	}
	if pages > 1 {
		log.Printf("[Decider %s] %s history spans %d pages (%d events)", d.id, h.FlowID, pages, h.Len())
	}
	return h, nil
}
