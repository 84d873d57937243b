// Package ledger remembers which holds have already been placed so that a
// rerun over the same ready-to-load table does not place them twice.
//
// Entries expire when the hold they describe ends. The Redis ledger is
// shared between hosts; the memory ledger only lives as long as the process.
package ledger

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentstation/fleethold/pkg/errors"
)

// DefaultPrefix namespaces ledger keys in Redis.
const DefaultPrefix = "fleethold:hold"

// Entry identifies one placed hold.
type Entry struct {
	VehicleID string
	Since     time.Time
	Until     time.Time
}

// Key returns "car:since:until" with Unix seconds.
func (e Entry) Key() string {
	return e.VehicleID + ":" + strconv.FormatInt(e.Since.Unix(), 10) + ":" + strconv.FormatInt(e.Until.Unix(), 10)
}

// Ledger records placed holds.
type Ledger interface {
	// Seen reports whether the hold was already recorded and has not expired.
	Seen(ctx context.Context, e Entry) (bool, error)
	// Record stores the hold until it ends. Holds that already ended are ignored.
	Record(ctx context.Context, e Entry) error
	Close() error
}

// Option configures a ledger.
type Option func(*config)

type config struct {
	prefix string
	clock  func() time.Time
}

// WithPrefix sets the Redis key prefix.
func WithPrefix(prefix string) Option {
	return func(c *config) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithClock sets the clock used to compute expirations.
func WithClock(clock func() time.Time) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func newConfig(opts []Option) *config {
	c := &config{prefix: DefaultPrefix, clock: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open returns a Redis ledger for addr, or a memory ledger when addr is empty.
func Open(ctx context.Context, addr string, opts ...Option) (Ledger, error) {
	if addr == "" {
		return NewMemory(opts...), nil
	}
	return NewRedis(ctx, &redis.Options{Addr: addr}, opts...)
}

// Redis is a ledger backed by Redis keys with a TTL.
type Redis struct {
	client *redis.Client
	cfg    *config
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, redisOpts *redis.Options, opts ...Option) (*Redis, error) {
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, &errors.ConfigError{Component: "ledger", Message: "cannot reach redis at " + redisOpts.Addr, Err: err}
	}
	return &Redis{client: client, cfg: newConfig(opts)}, nil
}

func (r *Redis) key(e Entry) string {
	return r.cfg.prefix + ":" + e.Key()
}

// Seen implements Ledger.
func (r *Redis) Seen(ctx context.Context, e Entry) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(e)).Result()
	if err != nil {
		return false, errors.WrapResource("read", "ledger", e.Key(), err)
	}
	return n > 0, nil
}

// Record implements Ledger.
func (r *Redis) Record(ctx context.Context, e Entry) error {
	ttl := e.Until.Sub(r.cfg.clock())
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.key(e), strconv.FormatInt(r.cfg.clock().Unix(), 10), ttl).Err(); err != nil {
		return errors.WrapResource("write", "ledger", e.Key(), err)
	}
	return nil
}

// Close implements Ledger.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Memory is an in-process ledger.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
	cfg     *config
}

// NewMemory returns an empty in-process ledger.
func NewMemory(opts ...Option) *Memory {
	return &Memory{entries: make(map[string]time.Time), cfg: newConfig(opts)}
}

// Seen implements Ledger.
func (m *Memory) Seen(_ context.Context, e Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.entries[e.Key()]
	if !ok {
		return false, nil
	}
	if !m.cfg.clock().Before(until) {
		delete(m.entries, e.Key())
		return false, nil
	}
	return true, nil
}

// Record implements Ledger.
func (m *Memory) Record(_ context.Context, e Entry) error {
	if !m.cfg.clock().Before(e.Until) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Key()] = e.Until
	return nil
}

// Len returns the number of unexpired entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.cfg.clock()
	n := 0
	for _, until := range m.entries {
		if now.Before(until) {
			n++
		}
	}
	return n
}

// Close implements Ledger.
func (m *Memory) Close() error { return nil }
