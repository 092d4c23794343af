// Package snapshotpublisher is an optional, observational side-channel
// wired through github.com/ajiwo/quotaengine/ratelimiter.SnapshotPublisher.
// It mirrors periodic load snapshots into Redis for external dashboards;
// it is never read back, and the engine's admission decisions never
// depend on it.
package snapshotpublisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ajiwo/quotaengine/internal/breaker"
	"github.com/ajiwo/quotaengine/ratelimiter"
	"github.com/ajiwo/quotaengine/utils/builderpool"
	"github.com/redis/go-redis/v9"
)

// Snapshot is an alias for ratelimiter.LoadSnapshot: Client.Publish must
// accept that exact type to structurally satisfy ratelimiter.SnapshotPublisher.
type Snapshot = ratelimiter.LoadSnapshot

// Config configures a Client.
type Config struct {
	// Addr is the Redis server address ("host:port").
	Addr string
	// Password, DB select the Redis connection, as in redis.Options.
	Password string
	DB       int
	// KeyPrefix namespaces the published keys. Defaults to "quotaengine:load".
	KeyPrefix string
	// TTL bounds how long a published snapshot lingers if publishing stops.
	// Defaults to 1 minute.
	TTL time.Duration
}

// Client publishes LoadSnapshots to Redis, grounded on the teacher's
// RedisBackend connection setup.
type Client struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	breaker *breaker.Breaker
}

// New dials Redis and verifies connectivity before returning.
func New(cfg Config) (*Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "quotaengine:load"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		breaker: breaker.New(breaker.Config{
			FailureThreshold: 3,
			RecoveryTimeout:  30 * time.Second,
		}),
	}, nil
}

func (c *Client) key(tenant string) string {
	sb := builderpool.Get()
	defer builderpool.Put(sb)
	sb.WriteString(c.prefix)
	if tenant != "" {
		sb.WriteByte(':')
		sb.WriteString(tenant)
	}
	return sb.String()
}

// Publish writes the global gauge and one gauge per tenant queue depth.
// It never blocks the caller beyond ctx's deadline and treats every
// failure as non-fatal to the engine: the caller only logs it. Once Redis
// has failed repeatedly, the breaker skips the round trip entirely until
// its recovery timeout elapses.
func (c *Client) Publish(ctx context.Context, snapshot Snapshot) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("snapshotpublisher: circuit open, skipping publish")
	}

	err := c.publish(ctx, snapshot)
	c.breaker.RecordResult(err)
	return err
}

func (c *Client) publish(ctx context.Context, snapshot Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.key(""), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to publish global snapshot: %w", err)
	}

	pipe := c.client.Pipeline()
	for tenant, depth := range snapshot.TenantQueueDepths {
		pipe.Set(ctx, c.key(tenant), depth, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish per-tenant queue depths: %w", err)
	}
	return nil
}

// Ping verifies Redis connectivity, satisfying healthchecker.Pinger.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
