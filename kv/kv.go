// Package kv abstracts the key-value store backing one-time nonces,
// firewall IP lists, and the optional shared response cache. The production
// implementation is Redis; a process-local implementation serves tests and
// deployments which run without one.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kv: key not found")

// Store is the key-value surface used across the service.
type Store interface {
	// Get returns the value at |key|, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// SetEx writes |value| at |key| with expiry |ttl|.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	// Del removes |key| if present.
	Del(ctx context.Context, key string) error
	// SAdd adds |member| to the set at |key|.
	SAdd(ctx context.Context, key, member string) error
	// SIsMember reports whether |member| is in the set at |key|.
	SIsMember(ctx context.Context, key, member string) (bool, error)
	// SCard returns the cardinality of the set at |key|.
	SCard(ctx context.Context, key string) (int64, error)
	// Expire sets the expiry of |key|, reporting whether the key existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Ping verifies connectivity.
	Ping(ctx context.Context) error
	// Close releases held resources.
	Close() error
}
