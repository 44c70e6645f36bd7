package domain

import (
	"context"
	"time"
)

// Cache keeps the most recent snapshot of each session so that reads
// survive the session leaving the live registry. Every call is scoped to a
// tenant.
type Cache interface {
	// GetSnapshot returns nil, nil when no snapshot is cached.
	GetSnapshot(ctx context.Context, tenantID string, sessionID string) (*SessionState, error)
	SetSnapshot(ctx context.Context, tenantID string, state *SessionState, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is "memory" or "redis".
	Type string

	LocalMaxSize int
	LocalTTL     time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoPhase puts the local LRU in front of Redis.
	EnableTwoPhase bool

	// SnapshotTTL bounds how long a session snapshot stays readable.
	SnapshotTTL time.Duration
}
