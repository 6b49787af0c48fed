package repository

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisPlatformVersions keeps one INCR counter per platform so registry
// caches on every instance notice administrative writes.
type RedisPlatformVersions struct {
	client *RedisClient
	prefix string
}

func NewRedisPlatformVersions(client *RedisClient, prefix string) *RedisPlatformVersions {
	if prefix == "" {
		prefix = "platform_version"
	}
	return &RedisPlatformVersions{client: client, prefix: prefix}
}

func (v *RedisPlatformVersions) key(id string) string {
	return v.prefix + ":" + id
}

// Version is 0 for a platform that was never written through the admin API.
func (v *RedisPlatformVersions) Version(ctx context.Context, id string) (int64, error) {
	n, err := v.client.Client.Get(ctx, v.key(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (v *RedisPlatformVersions) Bump(ctx context.Context, id string) error {
	return v.client.Client.Incr(ctx, v.key(id)).Err()
}
