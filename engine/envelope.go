package engine

import (
	"context"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/KamdynS/leech/config"
	"github.com/KamdynS/leech/state"
)

// Marker names under which the shared documents are checkpointed.
const (
	VersionsMarker = "versions"
	ConfigMarker   = "config"
)

// Envelope is the execution input. Parents propagate their versions and
// config to children through it so a child never fetches them itself.
type Envelope struct {
	Args     json.RawMessage  `json:"args,omitempty"`
	Versions *config.Versions `json:"versions,omitempty"`
	Config   *config.Config   `json:"config,omitempty"`
}

// Wrap builds the input of a top-level execution from its task arguments.
func Wrap(args any) (string, error) {
	raw, err := rawArgs(args)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(Envelope{Args: raw})
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(b), nil
}

func rawArgs(args any) (json.RawMessage, error) {
	switch v := args.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		if json.Valid([]byte(v)) {
			return json.RawMessage(v), nil
		}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode task args: %w", err)
	}
	return b, nil
}

// OpenEnvelope decodes an execution input. Inputs that are not an envelope
// are taken as bare task arguments.
func OpenEnvelope(input string) Envelope {
	if input == "" {
		return Envelope{}
	}
	var env Envelope
	if err := json.Unmarshal([]byte(input), &env); err != nil ||
		(env.Args == nil && env.Versions == nil && env.Config == nil) {
		raw, _ := rawArgs(input)
		return Envelope{Args: raw}
	}
	return env
}

// shared is the resolved pair of documents for one execution.
type shared struct {
	versions config.Versions
	config   config.Config
	// record holds the markers to write because the documents came from the source.
	record map[string]string
}

// documentCache keeps one fetched document per domain.
type documentCache struct {
	mu   sync.Mutex
	docs map[string]*config.Document
}

func (c *documentCache) get(ctx context.Context, src config.Source, domain string) (*config.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if doc, ok := c.docs[domain]; ok {
		return doc, nil
	}
	doc, err := src.Fetch(ctx, domain)
	if err != nil {
		return nil, err
	}
	if c.docs == nil {
		c.docs = make(map[string]*config.Document)
	}
	c.docs[domain] = doc
	return doc, nil
}

// resolve finds versions and config from the envelope, then the history's
// markers, then the source.
func (e *Engine) resolve(ctx context.Context, h *state.WorkflowHistory, env Envelope) (shared, error) {
	s := shared{record: make(map[string]string)}

	var haveVersions, haveConfig bool
	if env.Versions != nil {
		s.versions, haveVersions = *env.Versions, true
	}
	if env.Config != nil {
		s.config, haveConfig = *env.Config, true
	}
	if !haveVersions {
		if v, ok := h.Markers.Value(VersionsMarker); ok {
			if err := json.Unmarshal([]byte(v), &s.versions); err != nil {
				return s, fmt.Errorf("decode %s marker: %w", VersionsMarker, err)
			}
			haveVersions = true
		}
	}
	if !haveConfig {
		if v, ok := h.Markers.Value(ConfigMarker); ok {
			if err := json.Unmarshal([]byte(v), &s.config); err != nil {
				return s, fmt.Errorf("decode %s marker: %w", ConfigMarker, err)
			}
			haveConfig = true
		}
	}
	if (haveVersions && haveConfig) || e.source == nil {
		return s, nil
	}

	doc, err := e.docs.get(ctx, e.source, h.Domain)
	if err != nil {
		return s, fmt.Errorf("fetch config for domain %q: %w", h.Domain, err)
	}
	if !haveVersions {
		s.versions = doc.Versions
		b, err := json.Marshal(doc.Versions)
		if err != nil {
			return s, fmt.Errorf("encode versions: %w", err)
		}
		s.record[VersionsMarker] = string(b)
	}
	if !haveConfig {
		s.config = doc.Config
		b, err := json.Marshal(doc.Config)
		if err != nil {
			return s, fmt.Errorf("encode config: %w", err)
		}
		s.record[ConfigMarker] = string(b)
	}
	return s, nil
}
