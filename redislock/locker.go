// Package redislock serializes token refreshes across processes with a
// Redis lock per user and provider.
package redislock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// releaseScript deletes the lock only if we still own it
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type Config struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`

	// Prefix is prepended to every lock key
	Prefix string `json:"prefix"`

	// TTL bounds how long a crashed holder can block others. Keep it above
	// the refresh timeout.
	TTL time.Duration `json:"ttl"`

	// RetryInterval is how often a waiting Lock polls
	RetryInterval time.Duration `json:"retry_interval"`
}

func (c *Config) EnsureDefaults() *Config {
	if c.Address == "" {
		c.Address = "localhost:6379"
	}
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.Prefix == "" {
		c.Prefix = "oauthlink:refresh:"
	}
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 50 * time.Millisecond
	}
	return c
}

// Locker implements oauthlink.Locker on Redis SET NX PX
type Locker struct {
	rdb    *redis.Client
	config *Config
}

// NewLocker connects to Redis and checks the connection
func NewLocker(config *Config) (*Locker, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	config.EnsureDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Locker{rdb: rdb, config: config}, nil
}

// NewLockerWithClient wraps an existing client
func NewLockerWithClient(rdb *redis.Client, config *Config) *Locker {
	if config == nil {
		config = &Config{}
	}
	return &Locker{rdb: rdb, config: config.EnsureDefaults()}
}

func (l *Locker) Close() error {
	return l.rdb.Close()
}

// Lock polls until it owns key or ctx is done
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := l.config.Prefix + key
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(l.config.RetryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, lockKey, token, l.config.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if ok {
			return func() { l.release(lockKey, token) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Locker) release(lockKey, token string) {
	// the caller's ctx may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.rdb, []string{lockKey}, token).Err(); err != nil {
		slog.Warn("failed to release refresh lock", "key", lockKey, "err", err)
	}
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
