// Package graph defines the store the crawl flows write discovered vertices
// and crawl progress to.
package graph

import (
	"context"
	"errors"
)

// ErrEmptyIndex is returned when an identifier stem has no stored vertices.
var ErrEmptyIndex = errors.New("empty index")

// Key addresses one vertex: the value of the driving identifier and the
// identifier stem (vertex type) it belongs to.
type Key struct {
	SID  string `json:"sid"`
	Stem string `json:"identifier_stem"`
}

// Store is the graph driver used by crawl activities.
type Store interface {
	// IDs lists the identifier values stored under stem, sorted. It returns
	// ErrEmptyIndex when there are none.
	IDs(ctx context.Context, stem string) ([]string, error)
	// Put writes a vertex once and reports whether this call created it.
	Put(ctx context.Context, key Key) (bool, error)
	// SetLinked marks a vertex as linked into or unlinked from the graph.
	SetLinked(ctx context.Context, key Key, linked bool) error
	// Progress returns the value recorded for a crawl stage, zero when unset.
	Progress(ctx context.Context, key Key, stage string) (int64, error)
	// Advance raises the value of a crawl stage. Lower values are ignored;
	// the result reports whether the stored value changed.
	Advance(ctx context.Context, key Key, stage string, value int64) (bool, error)
}
