package mpesa

import (
	"context"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/carwash-platform/pkg/logging"
)

// TokenCache stores the Daraja access token. Lock serialises refreshes so
// only one caller fetches a new token at a time.
type TokenCache interface {
	Get(ctx context.Context) (string, bool)
	Set(ctx context.Context, token string, ttl time.Duration)
	Lock(ctx context.Context) (unlock func(), err error)
}

// MemoryTokenCache keeps the token in process.
type MemoryTokenCache struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	refresh   sync.Mutex
	now       func() time.Time
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{now: time.Now}
}

func (m *MemoryTokenCache) Get(context.Context) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == "" || !m.now().Before(m.expiresAt) {
		return "", false
	}
	return m.token, true
}

func (m *MemoryTokenCache) Set(_ context.Context, token string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.expiresAt = m.now().Add(ttl)
}

func (m *MemoryTokenCache) Lock(context.Context) (func(), error) {
	m.refresh.Lock()
	return m.refresh.Unlock, nil
}

const (
	redisTokenKey = "mpesa:access_token"
	redisLockKey  = "mpesa:access_token:refresh"
)

// RedisTokenCache shares the token across API instances. Refreshes are
// guarded by a redsync mutex.
type RedisTokenCache struct {
	client *redis.Client
	rs     *redsync.Redsync
	logger *logging.Logger
}

func NewRedisTokenCache(client *redis.Client, logger *logging.Logger) *RedisTokenCache {
	if client == nil {
		panic("mpesa: redis client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisTokenCache{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
		logger: logger,
	}
}

func (r *RedisTokenCache) Get(ctx context.Context) (string, bool) {
	token, err := r.client.Get(ctx, redisTokenKey).Result()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("mpesa token cache read failed", "error", err)
		}
		return "", false
	}
	return token, token != ""
}

func (r *RedisTokenCache) Set(ctx context.Context, token string, ttl time.Duration) {
	if err := r.client.Set(ctx, redisTokenKey, token, ttl).Err(); err != nil {
		r.logger.Warn("mpesa token cache write failed", "error", err)
	}
}

func (r *RedisTokenCache) Lock(ctx context.Context) (func(), error) {
	mu := r.rs.NewMutex(redisLockKey,
		redsync.WithExpiry(15*time.Second),
		redsync.WithTries(40),
		redsync.WithRetryDelay(250*time.Millisecond),
	)
	if err := mu.LockContext(ctx); err != nil {
		return nil, err
	}
	return func() {
		if _, err := mu.UnlockContext(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("mpesa token lock release failed", "error", err)
		}
	}, nil
}
