package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounterStore shares rate windows between instances. The window starts
// with the first INCR of a key and ends when the key expires.
type RedisCounterStore struct {
	client *RedisClient
	now    func() time.Time
}

func NewRedisCounterStore(client *RedisClient) *RedisCounterStore {
	return &RedisCounterStore{client: client, now: time.Now}
}

func (s *RedisCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	var (
		incr *redis.IntCmd
		pttl *redis.DurationCmd
	)
	_, err := s.client.Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, time.Time{}, err
	}
	now := s.now()
	ttl := pttl.Val()
	// A fresh key, or one left without expiry by an interrupted writer.
	if ttl < 0 {
		if err := s.client.Client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, time.Time{}, err
		}
		ttl = window
	}
	return incr.Val(), now.Add(ttl), nil
}
