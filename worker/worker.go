// Package worker provides the poll loops that feed decision and activity
// tasks from the workflow service to the engine and to activity handlers.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Defaults shared by deciders and activity workers.
const (
	DefaultPollers  = 2
	DefaultPollRate = rate.Limit(20)
)

// runner drives a fixed number of poll loops until stopped.
type runner struct {
	id      string
	kind    string
	pollers int
	limiter *rate.Limiter
	poll    func(ctx context.Context) (bool, error)

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

func newRunner(id, kind string, pollers int, limit rate.Limit, poll func(ctx context.Context) (bool, error)) *runner {
	if id == "" {
		id = fmt.Sprintf("%s-%d", kind, time.Now().UnixNano())
	}
	if pollers <= 0 {
		pollers = DefaultPollers
	}
	if limit == 0 {
		limit = DefaultPollRate
	}
	return &runner{
		id:      id,
		kind:    kind,
		pollers: pollers,
		limiter: rate.NewLimiter(limit, pollers),
		poll:    poll,
		stopCh:  make(chan struct{}),
	}
}

// Start begins polling
func (r *runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("%s already running", r.kind)
	}
	r.running = true
	r.mu.Unlock()

	log.Printf("[%s %s] Starting %d pollers", r.kind, r.id, r.pollers)

	for i := 0; i < r.pollers; i++ {
		r.wg.Add(1)
		go r.pollLoop(ctx, i)
	}
	return nil
}

// Stop gracefully stops the poll loops
func (r *runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	log.Printf("[%s %s] Stopping...", r.kind, r.id)
	close(r.stopCh)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("[%s %s] Stopped gracefully", r.kind, r.id)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s stop timeout: %w", r.kind, ctx.Err())
	}
}

// pollLoop polls until stopped. The limiter paces polls across all loops so
// an empty or failing service is not hammered.
func (r *runner) pollLoop(ctx context.Context, n int) {
	defer r.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		if _, err := r.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[%s %s-%d] Poll failed: %v", r.kind, r.id, n, err)
		}
	}
}
