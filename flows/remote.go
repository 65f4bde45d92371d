package flows

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrMissingExtraction is returned when a change type has no extraction
// information for an identifier stem.
var ErrMissingExtraction = errors.New("missing extraction information")

// Change is one change of a remote vertex, as pulled from the remote source.
type Change struct {
	ID     int64          `json:"id" yaml:"id"`
	Action string         `json:"action" yaml:"action"`
	Fields map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Mapping maps the field names of a normalized record to remote field names.
type Mapping map[string]string

// RemoteSource is the extraction adapter for the system being crawled.
type RemoteSource interface {
	// RemoteIDs lists the identifier values the remote knows for a stem.
	RemoteIDs(ctx context.Context, stem string) ([]string, error)
	// ChangeTypes lists the change categories the remote tracks for a stem.
	ChangeTypes(ctx context.Context, stem string) ([]string, error)
	// Extraction returns how changes of a type are normalized. It returns
	// ErrMissingExtraction when the type has none.
	Extraction(ctx context.Context, stem, changeType string) (Mapping, error)
	// Changes returns the changes of one remote id and type with an id above since, ordered by id.
	Changes(ctx context.Context, stem, remoteID, changeType string, since int64) ([]Change, error)
}

// StemData is what a MemoryRemote knows about one identifier stem.
type StemData struct {
	RemoteIDs   []string                       `yaml:"remote_ids"`
	ChangeTypes []string                       `yaml:"change_types"`
	Extractions map[string]Mapping             `yaml:"extractions"`
	Changes     map[string]map[string][]Change `yaml:"changes"`
}

// MemoryRemote is a RemoteSource over static data, keyed by identifier stem.
type MemoryRemote struct {
	mu    sync.RWMutex
	Stems map[string]*StemData `yaml:"stems"`
}

// NewMemoryRemote creates an empty remote.
func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{Stems: make(map[string]*StemData)}
}

// LoadRemote reads a MemoryRemote from a YAML file.
func LoadRemote(path string) (*MemoryRemote, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read remote %s: %w", path, err)
	}
	r := NewMemoryRemote()
	if err := yaml.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("parse remote %s: %w", path, err)
	}
	return r, nil
}

// Set replaces the data of a stem.
func (r *MemoryRemote) Set(stem string, data *StemData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Stems[stem] = data
}

func (r *MemoryRemote) stem(stem string) (*StemData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.Stems[stem]
	if !ok {
		return nil, fmt.Errorf("unknown identifier stem %s", stem)
	}
	return d, nil
}

// RemoteIDs implements RemoteSource.
func (r *MemoryRemote) RemoteIDs(_ context.Context, stem string) ([]string, error) {
	d, err := r.stem(stem)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), d.RemoteIDs...), nil
}

// ChangeTypes implements RemoteSource.
func (r *MemoryRemote) ChangeTypes(_ context.Context, stem string) ([]string, error) {
	d, err := r.stem(stem)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), d.ChangeTypes...), nil
}

// Extraction implements RemoteSource.
func (r *MemoryRemote) Extraction(_ context.Context, stem, changeType string) (Mapping, error) {
	d, err := r.stem(stem)
	if err != nil {
		return nil, err
	}
	m, ok := d.Extractions[changeType]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", stem, changeType, ErrMissingExtraction)
	}
	return m, nil
}

// Changes implements RemoteSource.
func (r *MemoryRemote) Changes(_ context.Context, stem, remoteID, changeType string, since int64) ([]Change, error) {
	d, err := r.stem(stem)
	if err != nil {
		return nil, err
	}
	var out []Change
	for _, c := range d.Changes[remoteID][changeType] {
		if c.ID > since {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
