// Package redis caches live run status so status queries survive across
// processes. The cache is optional: with no Redis configured every call is
// a cheap no-op and the in-process registry remains the source of truth.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kestrellabs/kestrel/internal/agent"
)

// ErrNotFound is returned when no status is cached for the run.
var ErrNotFound = errors.New("run status not found")

// StatusCache mirrors run snapshots into Redis with a TTL.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to addr. An empty addr returns a disabled cache; a failed
// ping logs and also degrades to disabled rather than failing startup.
func New(addr string, ttl time.Duration, logger *zap.Logger) *StatusCache {
	if addr == "" {
		return &StatusCache{ttl: ttl, logger: logger}
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable, status cache disabled",
			zap.String("addr", addr), zap.Error(err))
		client.Close()
		return &StatusCache{ttl: ttl, logger: logger}
	}
	logger.Info("Status cache connected", zap.String("addr", addr))
	return &StatusCache{client: client, ttl: ttl, logger: logger}
}

// Enabled reports whether a Redis connection is live.
func (c *StatusCache) Enabled() bool { return c.client != nil }

func (c *StatusCache) key(runID string) string {
	return fmt.Sprintf("kestrel:run:%s:status", runID)
}

// Publish stores a snapshot under the run's key. Failures are logged, the
// caller never sees them.
func (c *StatusCache) Publish(ctx context.Context, runID string, snap agent.Snapshot) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Warn("Snapshot marshal failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.key(runID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("Status publish failed",
			zap.String("run_id", runID), zap.Error(err))
	}
}

// Get loads a cached snapshot.
func (c *StatusCache) Get(ctx context.Context, runID string) (agent.Snapshot, error) {
	var snap agent.Snapshot
	if c.client == nil {
		return snap, ErrNotFound
	}
	data, err := c.client.Get(ctx, c.key(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, ErrNotFound
	}
	if err != nil {
		return snap, fmt.Errorf("load status %s: %w", runID, err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("decode status %s: %w", runID, err)
	}
	return snap, nil
}

// Drop removes a run's cached status.
func (c *StatusCache) Drop(ctx context.Context, runID string) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, c.key(runID)).Err(); err != nil {
		c.logger.Warn("Status drop failed", zap.String("run_id", runID), zap.Error(err))
	}
}

// Close releases the connection.
func (c *StatusCache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
