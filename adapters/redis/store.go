package redisstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/KamdynS/leech/graph"
)

// Ensure Store implements graph.Store
var _ graph.Store = (*Store)(nil)

// ---------- Key helpers ----------

func (s *Store) vertexKey(k graph.Key) string {
	return fmt.Sprintf("%s:graph:%s:v:%s", s.prefix, k.Stem, k.SID)
}
func (s *Store) stemKey(stem string) string { return fmt.Sprintf("%s:graph:%s:ids", s.prefix, stem) }
func progressField(stage string) string     { return "progress." + stage }

// ---------- graph.Store ----------

func (s *Store) IDs(ctx context.Context, stem string) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.stemKey(stem)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", stem, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("stem %s: %w", stem, graph.ErrEmptyIndex)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) Put(ctx context.Context, k graph.Key) (bool, error) {
	keys := []string{s.vertexKey(k), s.stemKey(k.Stem)}
	res, err := s.rdb.Eval(ctx, luaPutVertex, keys, k.SID, time.Now().Unix()).Int()
	if err != nil {
		return false, fmt.Errorf("redis eval put vertex: %w", err)
	}
	return res == 1, nil
}

func (s *Store) SetLinked(ctx context.Context, k graph.Key, linked bool) error {
	flag := "0"
	if linked {
		flag = "1"
	}
	res, err := s.rdb.Eval(ctx, luaSetLinked, []string{s.vertexKey(k)}, flag).Int()
	if err != nil {
		return fmt.Errorf("redis eval set linked: %w", err)
	}
	if res == 0 {
		return fmt.Errorf("vertex %s/%s not found", k.Stem, k.SID)
	}
	return nil
}

// Linked reports whether a vertex is linked.
func (s *Store) Linked(ctx context.Context, k graph.Key) (bool, error) {
	v, err := s.rdb.HGet(ctx, s.vertexKey(k), "linked").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis hget linked: %w", err)
	}
	return v == "1", nil
}

func (s *Store) Progress(ctx context.Context, k graph.Key, stage string) (int64, error) {
	v, err := s.rdb.HGet(ctx, s.vertexKey(k), progressField(stage)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis hget progress: %w", err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("progress %s of %s/%s: %w", stage, k.Stem, k.SID, err)
	}
	return n, nil
}

func (s *Store) Advance(ctx context.Context, k graph.Key, stage string, value int64) (bool, error) {
	keys := []string{s.vertexKey(k), s.stemKey(k.Stem)}
	args := []interface{}{progressField(stage), value, k.SID}
	if s.advanceSHA != "" {
		if res, err := s.rdb.EvalSha(ctx, s.advanceSHA, keys, args...).Int(); err == nil {
			return res == 1, nil
		}
		// if NOSCRIPT or other error, fall through to EVAL
	}
	res, err := s.rdb.Eval(ctx, luaAdvance, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("redis eval advance: %w", err)
	}
	return res == 1, nil
}
