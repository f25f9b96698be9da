package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-based implementation of Store. Suitable for
// distributed production deployments. Sessions are stored as JSON blobs
// with two sorted-set indexes scored by the expiry timestamps, so the
// janitor's sweeps never scan the keyspace.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a new Redis-based session store.
func NewRedisStore(config StoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "botflow:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "session:",
	}, nil
}

func (s *RedisStore) dataKey(id string) string { return s.keyPrefix + "data:" + id }
func (s *RedisStore) sessionExpiryKey() string { return s.keyPrefix + "expiry:session" }
func (s *RedisStore) contextExpiryKey() string { return s.keyPrefix + "expiry:context" }

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, s.dataKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return &sess, nil
}

// Upsert implements Store.
func (s *RedisStore) Upsert(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return ErrInvalidInput
	}
	sess.ModifiedAt = time.Now()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", sess.ID, err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.dataKey(sess.ID), data, 0)

	if sess.SessionExpiry != nil {
		pipe.ZAdd(ctx, s.sessionExpiryKey(), redis.Z{
			Score:  float64(sess.SessionExpiry.UnixNano()),
			Member: sess.ID,
		})
	} else {
		pipe.ZRem(ctx, s.sessionExpiryKey(), sess.ID)
	}
	if sess.ContextExpiry != nil {
		pipe.ZAdd(ctx, s.contextExpiryKey(), redis.Z{
			Score:  float64(sess.ContextExpiry.UnixNano()),
			Member: sess.ID,
		})
	} else {
		pipe.ZRem(ctx, s.contextExpiryKey(), sess.ID)
	}

	_, err = pipe.Exec(ctx)
	return err
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		pipe.Del(ctx, s.dataKey(id))
		members[i] = id
	}
	pipe.ZRem(ctx, s.sessionExpiryKey(), members...)
	pipe.ZRem(ctx, s.contextExpiryKey(), members...)

	_, err := pipe.Exec(ctx)
	return err
}

// DeleteExpired implements Store.
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	max := strconv.FormatInt(now.UnixNano(), 10)
	ids, err := s.client.ZRangeByScore(ctx, s.sessionExpiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.Delete(ctx, ids...); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// ListStaleContextIDs implements Store.
func (s *RedisStore) ListStaleContextIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rng := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixNano(), 10),
	}
	if limit > 0 {
		rng.Count = int64(limit)
	}
	return s.client.ZRangeByScore(ctx, s.contextExpiryKey(), rng).Result()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)
