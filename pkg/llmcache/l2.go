package llmcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// l2ErrLogInterval limits how often L2 failures are logged. A Redis outage
// would otherwise flood the log on every call.
const l2ErrLogInterval = time.Minute

// ErrL2Miss marks an absent L2 key.
var ErrL2Miss = errors.New("l2: key not found")

// L2Store is the shared cross-process tier. Implemented by redisStore in
// production and by fakes in tests.
type L2Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

// redisStore backs L2Store with Redis.
type redisStore struct {
	client *redis.Client
}

// NewRedisStore builds an L2Store from a redis:// URL.
func NewRedisStore(url string) (L2Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &redisStore{client: redis.NewClient(opts)}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrL2Miss
	}
	return val, err
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// l2Logger rate-limits L2 failure logging to once per interval.
type l2Logger struct {
	lastLog atomic.Int64 // unix nanos of the last emitted log line
}

// warn logs the L2 failure unless one was logged within l2ErrLogInterval.
func (l *l2Logger) warn(op string, err error) {
	now := time.Now().UnixNano()
	last := l.lastLog.Load()
	if now-last < int64(l2ErrLogInterval) {
		return
	}
	if l.lastLog.CompareAndSwap(last, now) {
		slog.Warn("L2 cache unavailable, degrading to L1-only", "op", op, "error", err)
	}
}
