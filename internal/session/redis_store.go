// Package session tracks which users currently hold a live gateway session.
package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence records live sessions per user. A session that stops refreshing
// ages out after the store's TTL.
type Presence interface {
	Track(ctx context.Context, userID, sessionID string) error
	Forget(ctx context.Context, userID, sessionID string) error
	Online(ctx context.Context, userIDs []string) (map[string]bool, error)
}

// RedisStore keeps one sorted set per user, scored by each session's expiry
// in unix milliseconds, so every instance sharing the Redis sees the same
// presence.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &RedisStore{
		client: client,
		prefix: "presence:",
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + userID
}

func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Track marks the session live until now+TTL. Calling it again refreshes
// the deadline.
func (s *RedisStore) Track(ctx context.Context, userID, sessionID string) error {
	key := s.key(userID)
	expiry := s.now().Add(s.ttl).UnixMilli()
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiry), Member: sessionID})
	pipe.PExpire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("track session: %w", err)
	}
	return nil
}

func (s *RedisStore) Forget(ctx context.Context, userID, sessionID string) error {
	if err := s.client.ZRem(ctx, s.key(userID), sessionID).Err(); err != nil {
		return fmt.Errorf("forget session: %w", err)
	}
	return nil
}

// Online reports, for each user id, whether any of its sessions is unexpired.
func (s *RedisStore) Online(ctx context.Context, userIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	floor := strconv.FormatInt(s.now().UnixMilli(), 10)
	pipe := s.client.Pipeline()
	counts := make([]*redis.IntCmd, len(userIDs))
	for i, userID := range userIDs {
		counts[i] = pipe.ZCount(ctx, s.key(userID), "("+floor, "+inf")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read presence: %w", err)
	}
	for i, userID := range userIDs {
		out[userID] = counts[i].Val() > 0
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
