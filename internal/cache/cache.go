// Package cache keeps the latest session snapshots.
//
// Snapshots live in a byte store: an in-process LRU (community), Redis
// (pro), or the LRU in front of Redis when two-phase caching is enabled.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/callshield/internal/domain"
)

// store is a byte cache keyed by string. load returns nil on a miss.
type store interface {
	load(ctx context.Context, key string) ([]byte, error)
	save(ctx context.Context, key string, value []byte, ttl time.Duration) error
	ping(ctx context.Context) error
	close() error
}

// SnapshotCache implements domain.Cache over a store.
type SnapshotCache struct {
	backend store
	kind    string
}

// New creates the snapshot cache selected by cfg.Type.
func New(cfg domain.CacheConfig) (*SnapshotCache, error) {
	switch cfg.Type {
	case "memory":
		return NewMemory(cfg.LocalMaxSize), nil

	case "redis":
		remote, err := dialRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		if !cfg.EnableTwoPhase {
			return &SnapshotCache{backend: remote, kind: "redis"}, nil
		}
		nearTTL := cfg.LocalTTL
		if nearTTL <= 0 {
			nearTTL = time.Minute
		}
		return &SnapshotCache{
			backend: &tiered{near: newLRU(cfg.LocalMaxSize), far: remote, nearTTL: nearTTL},
			kind:    "two-phase",
		}, nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// NewMemory returns an in-process cache holding up to maxEntries snapshots.
func NewMemory(maxEntries int) *SnapshotCache {
	return &SnapshotCache{backend: newLRU(maxEntries), kind: "memory"}
}

// Kind names the backend: memory, redis or two-phase.
func (c *SnapshotCache) Kind() string {
	return c.kind
}

// GetSnapshot returns the cached snapshot for a session.
func (c *SnapshotCache) GetSnapshot(ctx context.Context, tenantID string, sessionID string) (*domain.SessionState, error) {
	key, err := snapshotKey(tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	data, err := c.backend.load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%s cache: %w", c.kind, err)
	}
	if data == nil {
		return nil, nil
	}

	var state domain.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", sessionID, err)
	}
	return &state, nil
}

// SetSnapshot replaces the cached snapshot for the state's session.
func (c *SnapshotCache) SetSnapshot(ctx context.Context, tenantID string, state *domain.SessionState, ttl time.Duration) error {
	if state == nil {
		return errors.New("snapshot is nil")
	}
	key, err := snapshotKey(tenantID, state.SessionID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", state.SessionID, err)
	}
	if err := c.backend.save(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("%s cache: %w", c.kind, err)
	}
	return nil
}

// Ping checks the backend.
func (c *SnapshotCache) Ping(ctx context.Context) error {
	if err := c.backend.ping(ctx); err != nil {
		return fmt.Errorf("%s cache: %w", c.kind, err)
	}
	return nil
}

// Close releases the backend.
func (c *SnapshotCache) Close() error {
	return c.backend.close()
}

func snapshotKey(tenantID, sessionID string) (string, error) {
	if tenantID == "" {
		return "", errors.New("tenantID is required")
	}
	if sessionID == "" {
		return "", errors.New("snapshot requires a session ID")
	}
	return "snapshot:" + tenantID + ":" + sessionID, nil
}

// tiered reads through a near store to a far one. Near entries are kept
// briefly so that snapshots written by other instances are picked up.
type tiered struct {
	near    store
	far     store
	nearTTL time.Duration
}

func (t *tiered) load(ctx context.Context, key string) ([]byte, error) {
	if data, err := t.near.load(ctx, key); err != nil || data != nil {
		return data, err
	}
	data, err := t.far.load(ctx, key)
	if err != nil || data == nil {
		return data, err
	}
	_ = t.near.save(ctx, key, data, t.nearTTL)
	return data, nil
}

func (t *tiered) save(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.far.save(ctx, key, value, ttl); err != nil {
		return err
	}
	return t.near.save(ctx, key, value, min(ttl, t.nearTTL))
}

func (t *tiered) ping(ctx context.Context) error {
	return t.far.ping(ctx)
}

func (t *tiered) close() error {
	return errors.Join(t.near.close(), t.far.close())
}
