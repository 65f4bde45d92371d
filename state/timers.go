package state

import "sort"

// Timer is the folded state of one timer id.
type Timer struct {
	ID       string
	Control  string
	Started  bool
	Fired    bool
	Canceled bool
}

// TimerHistory folds timer events keyed by timer id.
type TimerHistory struct {
	timers map[string]*Timer
}

// NewTimerHistory creates an empty timer history.
func NewTimerHistory() *TimerHistory {
	return &TimerHistory{timers: make(map[string]*Timer)}
}

// Apply folds one event; non-timer events are ignored.
func (h *TimerHistory) Apply(e *Event) {
	id := e.Attributes.TimerID
	if id == "" {
		return
	}
	switch e.Type {
	case EventTimerStarted:
		t := h.getOrCreate(id)
		t.Started = true
		t.Fired = false
		t.Canceled = false
		t.Control = e.Attributes.Control
	case EventTimerFired:
		t := h.getOrCreate(id)
		t.Started = true
		t.Fired = true
	case EventTimerCanceled:
		t := h.getOrCreate(id)
		t.Canceled = true
	}
}

func (h *TimerHistory) getOrCreate(id string) *Timer {
	if t, ok := h.timers[id]; ok {
		return t
	}
	t := &Timer{ID: id}
	h.timers[id] = t
	return t
}

// Get returns the timer with the given id.
func (h *TimerHistory) Get(id string) (*Timer, bool) {
	t, ok := h.timers[id]
	return t, ok
}

func (h *TimerHistory) Started(id string) bool {
	t, ok := h.timers[id]
	return ok && t.Started
}

func (h *TimerHistory) Fired(id string) bool {
	t, ok := h.timers[id]
	return ok && t.Fired
}

// Pending reports whether id was started and has neither fired nor been canceled.
func (h *TimerHistory) Pending(id string) bool {
	t, ok := h.timers[id]
	return ok && t.Started && !t.Fired && !t.Canceled
}

// Open returns the pending timers ordered by id.
func (h *TimerHistory) Open() []*Timer {
	var out []*Timer
	for id, t := range h.timers {
		if h.Pending(id) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
