// Package cache is the write-through response cache of the query endpoints.
// Entries are keyed by the response validator, so a stale entry is never
// served: a changed dataset changes the validator and misses.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"

	"github.com/solfeed/txflow/kv"
)

// Cache stores serialized response bodies. Implementations are best-effort:
// a failed read is a miss and a failed write is dropped.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// Memory is an in-process Cache with per-entry TTL and LRU eviction.
type Memory struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemory returns a Memory bounded to |maxEntries| entries of |ttl| each.
func NewMemory(maxEntries int, ttl time.Duration) *Memory {
	return &Memory{lru: expirable.NewLRU[string, []byte](maxEntries, nil, ttl)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	return m.lru.Get(key)
}

func (m *Memory) Set(_ context.Context, key string, value []byte) {
	m.lru.Add(key, value)
}

// KV is a Cache on the shared key-value store, letting replicas serve
// each other's entries.
type KV struct {
	store kv.Store
	ttl   time.Duration
}

// NewKV returns a KV cache writing entries with expiry |ttl|.
func NewKV(store kv.Store, ttl time.Duration) *KV {
	return &KV{store: store, ttl: ttl}
}

func (c *KV) Get(ctx context.Context, key string) ([]byte, bool) {
	var value, err = c.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, false
	} else if err != nil {
		log.WithFields(log.Fields{"key": key, "err": err}).Warn("cache read failed")
		return nil, false
	}
	return []byte(value), true
}

func (c *KV) Set(ctx context.Context, key string, value []byte) {
	if err := c.store.SetEx(ctx, key, string(value), c.ttl); err != nil {
		log.WithFields(log.Fields{"key": key, "err": err}).Warn("cache write failed")
	}
}

// Disabled is a Cache which never hits.
type Disabled struct{}

func (Disabled) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (Disabled) Set(context.Context, string, []byte)        {}

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// New selects a Cache: the shared KV when so configured and available,
// otherwise the in-process cache.
func New(enabled bool, backend string, maxEntries int, ttl time.Duration, store kv.Store) Cache {
	if !enabled {
		return Disabled{}
	}
	if backend == BackendRedis {
		if store != nil {
			return NewKV(store, ttl)
		}
		log.Warn("redis cache backend configured without redis, using in-process cache")
	}
	return NewMemory(maxEntries, ttl)
}
