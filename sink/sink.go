// Package sink hands normalized change records to downstream reporting.
package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Record is one normalized change of a remote vertex.
type Record struct {
	// ID is "<stem>/<remote id>/<change type>/<change id>" and is stable across retries.
	ID             string         `json:"id"`
	IdentifierStem string         `json:"identifier_stem"`
	RemoteID       string         `json:"remote_id"`
	ChangeType     string         `json:"change_type"`
	ChangeID       int64          `json:"change_id"`
	Action         string         `json:"action"`
	Fields         map[string]any `json:"fields,omitempty"`
	EmittedAt      time.Time      `json:"emitted_at"`
}

// RecordID builds the stable id of a change record.
func RecordID(stem, remoteID, changeType string, changeID int64) string {
	return fmt.Sprintf("%s/%s/%s/%d", stem, remoteID, changeType, changeID)
}

// Sink receives emitted change records. Emit may be called more than once
// for the same record; implementations deduplicate on Record.ID.
type Sink interface {
	Emit(ctx context.Context, rec Record) error
}

// MemorySink keeps emitted records in memory, keyed by id.
type MemorySink struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemorySink() *MemorySink {
	return &MemorySink{records: make(map[string]Record)}
}

// Emit implements Sink. The first record stored under an id wins.
func (s *MemorySink) Emit(_ context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		s.records[rec.ID] = rec
	}
	return nil
}

// Records returns the stored records sorted by id.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
