package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ivasann/daisy-copilot/internal/progress"
)

// generationTTL outlives any snapshot TTL so an expired generation never resurrects a live value.
const generationTTL = 7 * 24 * time.Hour

// Open creates a Redis client and pings it to validate the connection.
func Open(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("empty redis addr")
	}
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Redis is a SnapshotCache backed by JSON values with a TTL and a per-user generation counter.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

// NewRedis constructs a Redis snapshot cache.
func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl, prefix: "daisy:balance"}
}

func (c *Redis) key(userID, day string, version int64) string {
	return fmt.Sprintf("%s:%s:%s:%d", c.prefix, userID, day, version)
}

func (c *Redis) generationKey(userID string) string {
	return fmt.Sprintf("%s:%s:gen", c.prefix, userID)
}

// Version implements SnapshotCache.
func (c *Redis) Version(ctx context.Context, userID string) (int64, error) {
	v, err := c.client.Get(ctx, c.generationKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Get implements SnapshotCache.
func (c *Redis) Get(ctx context.Context, userID, day string, version int64) (*progress.Snapshot, bool, error) {
	v, err := c.client.Get(ctx, c.key(userID, day, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var snap progress.Snapshot
	if err := json.Unmarshal(v, &snap); err != nil {
		return nil, false, err
	}
	return &snap, true, nil
}

// Set implements SnapshotCache.
func (c *Redis) Set(ctx context.Context, userID, day string, version int64, snap progress.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(userID, day, version), b, c.ttl).Err()
}

// Invalidate implements SnapshotCache by advancing the user's generation.
func (c *Redis) Invalidate(ctx context.Context, userID string) error {
	key := c.generationKey(userID)
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, key)
		p.Expire(ctx, key, generationTTL)
		return nil
	})
	return err
}
