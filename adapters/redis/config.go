package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures the Redis graph store.
type Config struct {
	// Addr is one address, or a comma separated list for a cluster.
	Addr string
	// MasterName selects a sentinel-managed master at Addr.
	MasterName string
	Username   string
	Password   string
	DB         int
	// Prefix namespaces every key. Defaults to "leech".
	Prefix string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PoolSize       int
}

// DefaultPrefix namespaces keys when Config.Prefix is empty.
const DefaultPrefix = "leech"

func (c Config) options() *redis.UniversalOptions {
	var addrs []string
	for _, a := range strings.Split(c.Addr, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return &redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   c.MasterName,
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  c.ConnectTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		PoolSize:     c.PoolSize,
	}
}

// Store keeps graph vertices in Redis hashes.
type Store struct {
	rdb        redis.UniversalClient
	prefix     string
	advanceSHA string
	ownsClient bool
}

// New connects to Redis. The store closes the client it created.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	rdb := redis.NewUniversalClient(cfg.options())
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s, err := NewFromClient(ctx, rdb, cfg.Prefix)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	s.ownsClient = true
	return s, nil
}

// NewFromClient wraps a caller managed client, which Close leaves open.
func NewFromClient(ctx context.Context, rdb redis.UniversalClient, prefix string) (*Store, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	s := &Store{rdb: rdb, prefix: prefix}
	// EVAL is used when loading fails.
	if sha, err := rdb.ScriptLoad(ctx, luaAdvance).Result(); err == nil {
		s.advanceSHA = sha
	}
	return s, nil
}

// Close releases the client if the store created it.
func (s *Store) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.rdb.Close()
}
