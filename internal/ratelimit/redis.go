package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyTTL             = 24 * time.Hour
	defaultRedisOpTimeout   = 50 * time.Millisecond
	defaultRedisPingTimeout = 2 * time.Second
)

// RedisStore keeps counters in Redis sorted sets scored by timestamp in microseconds.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	seq     atomic.Uint64
}

// NewRedisStore constructs a RedisStore. A non-positive timeout selects the default.
func NewRedisStore(client redis.UniversalClient, prefix string, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = defaultRedisOpTimeout
	}
	return &RedisStore{
		client:  client,
		prefix:  strings.TrimSpace(prefix),
		timeout: timeout,
	}
}

// DialRedis connects to Redis and verifies the connection with a ping.
func DialRedis(ctx context.Context, options *redis.Options) (*redis.Client, error) {
	if options == nil || strings.TrimSpace(options.Addr) == "" {
		return nil, errors.New("ratelimit redis: missing address")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	client := redis.NewClient(options)
	ctxPing, cancel := context.WithTimeout(ctx, defaultRedisPingTimeout)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ratelimit redis: ping %s: %w", options.Addr, errPing)
	}
	return client, nil
}

// Count purges expired entries and returns the entries within [now-span, now].
func (s *RedisStore) Count(ctx context.Context, key CounterKey, span time.Duration, now time.Time) (int, error) {
	if errReady := s.ready(); errReady != nil {
		return 0, errReady
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	redisKey := s.buildKey(key)
	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", exclusive(now.Add(-key.Window.Duration())))
	count := pipe.ZCount(ctx, redisKey, score(now.Add(-span)), score(now))
	if _, errExec := pipe.Exec(ctx); errExec != nil {
		return 0, errExec
	}
	return int(count.Val()), nil
}

// Peek returns the entries within [now-span, now] without modifying the set.
func (s *RedisStore) Peek(ctx context.Context, key CounterKey, span time.Duration, now time.Time) (int, error) {
	if errReady := s.ready(); errReady != nil {
		return 0, errReady
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, errCount := s.client.ZCount(ctx, s.buildKey(key), score(now.Add(-span)), score(now)).Result()
	if errCount != nil {
		return 0, errCount
	}
	return int(n), nil
}

// Record adds one entry at now and refreshes the key's expiry.
func (s *RedisStore) Record(ctx context.Context, key CounterKey, now time.Time) error {
	if errReady := s.ready(); errReady != nil {
		return errReady
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	redisKey := s.buildKey(key)
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(s.seq.Add(1), 36)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMicro()), Member: member})
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", exclusive(now.Add(-key.Window.Duration())))
	pipe.Expire(ctx, redisKey, redisKeyTTL)
	_, errExec := pipe.Exec(ctx)
	return errExec
}

// Purge drops entries older than the window's retention.
func (s *RedisStore) Purge(ctx context.Context, key CounterKey, now time.Time) error {
	if errReady := s.ready(); errReady != nil {
		return errReady
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.ZRemRangeByScore(ctx, s.buildKey(key), "-inf", exclusive(now.Add(-key.Window.Duration()))).Err()
}

// Clear drops every window of a logical key.
func (s *RedisStore) Clear(ctx context.Context, logical string) error {
	if errReady := s.ready(); errReady != nil {
		return errReady
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	keys := make([]string, 0, len(Windows))
	for _, w := range Windows {
		keys = append(keys, s.buildKey(CounterKey{Logical: logical, Window: w}))
	}
	return s.client.Del(ctx, keys...).Err()
}

// Backend names the store.
func (s *RedisStore) Backend() string {
	return "redis"
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) ready() error {
	if s == nil || s.client == nil {
		return ErrStoreUnavailable
	}
	return nil
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *RedisStore) buildKey(key CounterKey) string {
	if s.prefix == "" {
		return key.String()
	}
	return s.prefix + ":" + key.String()
}

// score renders a timestamp in microseconds, which float64 scores hold exactly.
func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func exclusive(t time.Time) string {
	return "(" + score(t)
}
