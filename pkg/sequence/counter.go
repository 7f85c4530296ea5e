// Package sequence allocates contract identifiers from durable per-tenant
// counters.
package sequence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Counter is a durable, atomically incremented per-(tenant, name) value.
type Counter interface {
	// Increment adds n and returns the new value. Concurrent callers never
	// observe the same range.
	Increment(ctx context.Context, tenant int, name string, n int64) (int64, error)
	// Current returns the value without changing it; zero if never incremented.
	Current(ctx context.Context, tenant int, name string) (int64, error)
}

// SQLCounter keeps counters in a table. The statements run unchanged on
// PostgreSQL (lib/pq) and SQLite (modernc.org/sqlite).
type SQLCounter struct {
	db *sql.DB
}

func NewSQLCounter(db *sql.DB) *SQLCounter {
	return &SQLCounter{db: db}
}

// Migrate creates the counter table.
func (c *SQLCounter) Migrate(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sequences (
			tenant INTEGER NOT NULL,
			name   TEXT NOT NULL,
			value  BIGINT NOT NULL,
			PRIMARY KEY (tenant, name)
		)`)
	if err != nil {
		return fmt.Errorf("sequence: migrate: %w", err)
	}
	return nil
}

func (c *SQLCounter) Increment(ctx context.Context, tenant int, name string, n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("sequence: increment by %d", n)
	}
	query := `
		INSERT INTO sequences (tenant, name, value) VALUES ($1, $2, $3)
		ON CONFLICT (tenant, name) DO UPDATE SET value = sequences.value + excluded.value
		RETURNING value`
	var value int64
	if err := c.db.QueryRowContext(ctx, query, tenant, name, n).Scan(&value); err != nil {
		return 0, fmt.Errorf("sequence: increment %s/%d: %w", name, tenant, err)
	}
	return value, nil
}

func (c *SQLCounter) Current(ctx context.Context, tenant int, name string) (int64, error) {
	var value int64
	err := c.db.QueryRowContext(ctx, `SELECT value FROM sequences WHERE tenant = $1 AND name = $2`, tenant, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sequence: read %s/%d: %w", name, tenant, err)
	}
	return value, nil
}

// RedisClient is the subset of *redis.Client used by RedisCounter.
type RedisClient interface {
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisCounter keeps counters in Redis with INCRBY. Durability depends on
// the server persistence settings.
type RedisCounter struct {
	client RedisClient
}

// NewRedisCounter connects to a Redis server.
func NewRedisCounter(addr, password string, db int) *RedisCounter {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCounter{client: rdb}
}

func NewRedisCounterWithClient(client RedisClient) *RedisCounter {
	return &RedisCounter{client: client}
}

func redisKey(tenant int, name string) string {
	return fmt.Sprintf("sequence:%d:%s", tenant, name)
}

func (c *RedisCounter) Increment(ctx context.Context, tenant int, name string, n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("sequence: increment by %d", n)
	}
	value, err := c.client.IncrBy(ctx, redisKey(tenant, name), n).Result()
	if err != nil {
		return 0, fmt.Errorf("sequence: redis incrby %s/%d: %w", name, tenant, err)
	}
	return value, nil
}

func (c *RedisCounter) Current(ctx context.Context, tenant int, name string) (int64, error) {
	value, err := c.client.Get(ctx, redisKey(tenant, name)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sequence: redis get %s/%d: %w", name, tenant, err)
	}
	return value, nil
}

// MemoryCounter is a process-local Counter for tests and dry runs. Values do
// not survive a restart.
type MemoryCounter struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{values: make(map[string]int64)}
}

func (c *MemoryCounter) Increment(_ context.Context, tenant int, name string, n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("sequence: increment by %d", n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := redisKey(tenant, name)
	c.values[key] += n
	return c.values[key], nil
}

func (c *MemoryCounter) Current(_ context.Context, tenant int, name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[redisKey(tenant, name)], nil
}
