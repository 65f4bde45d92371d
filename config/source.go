package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Source fetches the versions and configuration of a workflow domain.
type Source interface {
	Fetch(ctx context.Context, domain string) (*Document, error)
}

// StaticSource always returns the same document.
type StaticSource struct {
	Doc Document
}

// Fetch implements Source.
func (s StaticSource) Fetch(_ context.Context, _ string) (*Document, error) {
	doc := s.Doc
	return &doc, nil
}

// FileSource reads a YAML document from disk. A "{domain}" placeholder in
// Path is replaced with the requested domain.
type FileSource struct {
	Path string
}

// Fetch implements Source.
func (s FileSource) Fetch(_ context.Context, domain string) (*Document, error) {
	path := strings.ReplaceAll(s.Path, "{domain}", domain)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &doc, nil
}

// RedisSource reads a JSON document stored at "<prefix>:config:<domain>".
type RedisSource struct {
	Client redis.UniversalClient
	Prefix string
}

// NewRedisSource creates a RedisSource with the default "leech" prefix when prefix is empty.
func NewRedisSource(client redis.UniversalClient, prefix string) *RedisSource {
	if prefix == "" {
		prefix = "leech"
	}
	return &RedisSource{Client: client, Prefix: prefix}
}

func (s *RedisSource) key(domain string) string {
	return fmt.Sprintf("%s:config:%s", s.Prefix, domain)
}

// Fetch implements Source.
func (s *RedisSource) Fetch(ctx context.Context, domain string) (*Document, error) {
	b, err := s.Client.Get(ctx, s.key(domain)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("no config stored for domain %s", domain)
		}
		return nil, fmt.Errorf("redis get config: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("config for %s: %w", domain, err)
	}
	return &doc, nil
}

// Put stores doc for domain.
func (s *RedisSource) Put(ctx context.Context, domain string, doc *Document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := s.Client.Set(ctx, s.key(domain), b, 0).Err(); err != nil {
		return fmt.Errorf("redis set config: %w", err)
	}
	return nil
}
