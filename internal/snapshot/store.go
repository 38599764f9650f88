// Package snapshot publishes hot read-only snapshots (latest decision,
// venue health, guard state, accuracy) to Redis with a short TTL so
// dashboards can poll without touching the pipeline. A nil *Store drops all
// writes.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sawpanic/tradeguard/internal/config"
)

// Key layout. Everything lives under one prefix so a flush is one SCAN.
const (
	keyLatestDecision = "tradeguard:latest_decision"
	keyVenueHealth    = "tradeguard:venue_health"
	keyGuardState     = "tradeguard:guard_state"
	keyAccuracy       = "tradeguard:accuracy"
)

// setter is the slice of the redis client the store needs.
type setter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Store writes JSON snapshots to Redis.
type Store struct {
	client setter
	ttl    time.Duration
}

// NewStore connects to Redis and verifies the connection.
func NewStore(ctx context.Context, cfg config.SnapshotConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect snapshot store: %w", err)
	}
	return &Store{client: client, ttl: cfg.TTL}, nil
}

// NewStoreWithClient wraps an existing client, mainly for tests.
func NewStoreWithClient(client setter, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) put(ctx context.Context, key string, v interface{}) error {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", key, err)
	}
	return nil
}

// PutLatestDecision publishes the most recent decision.
func (s *Store) PutLatestDecision(ctx context.Context, v interface{}) error {
	return s.put(ctx, keyLatestDecision, v)
}

// PutVenueHealth publishes the venue health table.
func (s *Store) PutVenueHealth(ctx context.Context, v interface{}) error {
	return s.put(ctx, keyVenueHealth, v)
}

// PutGuardState publishes the guard snapshot.
func (s *Store) PutGuardState(ctx context.Context, v interface{}) error {
	return s.put(ctx, keyGuardState, v)
}

// PutAccuracy publishes the accuracy metrics.
func (s *Store) PutAccuracy(ctx context.Context, v interface{}) error {
	return s.put(ctx, keyAccuracy, v)
}
