package data

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const scanBatch = 100

// NewRedis parses a redis:// URL and returns a client.
func NewRedis(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return redis.NewClient(opt), nil
}

// MustRedis is NewRedis for startup code.
func MustRedis(url string) *redis.Client {
	rdb, err := NewRedis(url)
	if err != nil {
		zap.L().Fatal("redis url", zap.Error(err))
	}
	return rdb
}

// RedisStore keeps rooms as plain string keys with an expiry and announces
// changes over pub/sub.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Client() *redis.Client { return s.rdb }

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Put upserts key and resets its TTL.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

// Keys walks the keyspace with SCAN rather than KEYS so large keyspaces do not
// block the server.
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	var keys []string
	iter := s.rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// GetMany returns values in key order; missing keys yield nil.
func (s *RedisStore) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[i] = []byte(str)
		}
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.rdb.Publish(ctx, channel, payload).Err()
}

// KeyeventPattern is the pub/sub pattern carrying keyevent notifications for
// the client's database.
func (s *RedisStore) KeyeventPattern() string {
	return fmt.Sprintf("__keyevent@%d__:*", s.rdb.Options().DB)
}

// EnableKeyevents turns on generic and expiry keyevent notifications, keeping
// whatever flags the server already has. It returns an error when the server
// refuses CONFIG, as managed offerings often do; callers then rely on explicit
// announcements only.
func (s *RedisStore) EnableKeyevents(ctx context.Context) error {
	current, err := s.rdb.ConfigGet(ctx, "notify-keyspace-events").Result()
	if err != nil {
		return fmt.Errorf("probe keyevents: %w", err)
	}
	have := current["notify-keyspace-events"]
	want := mergeNotifyFlags(have)
	if want == have {
		return nil
	}
	if err := s.rdb.ConfigSet(ctx, "notify-keyspace-events", want).Err(); err != nil {
		return fmt.Errorf("enable keyevents: %w", err)
	}
	return nil
}

// mergeNotifyFlags adds the keyevent, generic and expired classes to an
// existing notify-keyspace-events value.
func mergeNotifyFlags(current string) string {
	out := current
	for _, flag := range "Egx" {
		if !strings.ContainsRune(out, flag) {
			out += string(flag)
		}
	}
	return out
}
