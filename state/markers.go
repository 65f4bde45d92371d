package state

import "strings"

// CheckpointPrefix prefixes the marker names that hold checkpointed results.
const CheckpointPrefix = "checkpoint:"

// CheckpointMarker returns the marker name used to checkpoint the result of id.
func CheckpointMarker(id string) string {
	return CheckpointPrefix + id
}

// MarkerHistory folds MarkerRecorded events. The first recorded value of a
// marker name wins; markers are written once and never revised.
type MarkerHistory struct {
	values      map[string]string
	checkpoints map[string]string
}

// NewMarkerHistory creates an empty marker history.
func NewMarkerHistory() *MarkerHistory {
	return &MarkerHistory{
		values:      make(map[string]string),
		checkpoints: make(map[string]string),
	}
}

// Apply folds one event; non-marker events are ignored.
func (h *MarkerHistory) Apply(e *Event) {
	if e.Type != EventMarkerRecorded || e.Attributes.MarkerName == "" {
		return
	}
	h.record(e.Attributes.MarkerName, e.Attributes.Details)
}

func (h *MarkerHistory) record(name, value string) {
	if _, ok := h.values[name]; ok {
		return
	}
	h.values[name] = value
	if id, ok := strings.CutPrefix(name, CheckpointPrefix); ok {
		h.checkpoints[id] = value
	}
}

// Value returns the recorded value of marker name.
func (h *MarkerHistory) Value(name string) (string, bool) {
	v, ok := h.values[name]
	return v, ok
}

// Checkpoint returns the checkpointed result for a signature id.
func (h *MarkerHistory) Checkpoint(id string) (string, bool) {
	v, ok := h.checkpoints[id]
	return v, ok
}

// Checkpoints returns a copy of the id -> value checkpoint mapping.
func (h *MarkerHistory) Checkpoints() map[string]string {
	out := make(map[string]string, len(h.checkpoints))
	for k, v := range h.checkpoints {
		out[k] = v
	}
	return out
}

// Len returns the number of distinct marker names.
func (h *MarkerHistory) Len() int {
	return len(h.values)
}

// Merge folds other's markers into h. Values already present in h are kept.
func (h *MarkerHistory) Merge(other *MarkerHistory) {
	if other == nil {
		return
	}
	for name, v := range other.values {
		h.record(name, v)
	}
}
