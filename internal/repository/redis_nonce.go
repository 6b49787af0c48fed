package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/redis/go-redis/v9"
)

type RedisNonceStore struct {
	client *RedisClient
	prefix string
}

func NewRedisNonceStore(client *RedisClient) *RedisNonceStore {
	return &RedisNonceStore{client: client, prefix: "nonce:"}
}

type nonceWire struct {
	Status     int    `json:"status"`
	Body       []byte `json:"body"` // base64 via encoding/json
	CreatedAt  int64  `json:"created_at"`
	Processing bool   `json:"processing"`
}

// GetOrLock claims key with SET NX. It returns (nil, false) when the caller
// now owns the nonce, or the existing record with true.
func (s *RedisNonceStore) GetOrLock(ctx context.Context, key string, ttl time.Duration) (*model.NonceRecord, bool, error) {
	payload, err := encodeNonce(&model.NonceRecord{CreatedAt: time.Now().UTC(), Processing: true})
	if err != nil {
		return nil, false, err
	}
	ok, err := s.client.Client.SetNX(ctx, s.prefix+key, payload, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if ok {
		return nil, false, nil
	}
	raw, err := s.client.Client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; treat as in flight rather than racing.
		return &model.NonceRecord{Processing: true}, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	rec, err := decodeNonce(raw)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *RedisNonceStore) Save(ctx context.Context, key string, status int, body []byte, ttl time.Duration) error {
	payload, err := encodeNonce(&model.NonceRecord{Status: status, Body: body, CreatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return s.client.Client.Set(ctx, s.prefix+key, payload, ttl).Err()
}

func (s *RedisNonceStore) Unlock(ctx context.Context, key string) error {
	return s.client.Client.Del(ctx, s.prefix+key).Err()
}

func encodeNonce(rec *model.NonceRecord) ([]byte, error) {
	return json.Marshal(nonceWire{
		Status:     rec.Status,
		Body:       rec.Body,
		CreatedAt:  rec.CreatedAt.Unix(),
		Processing: rec.Processing,
	})
}

func decodeNonce(raw []byte) (*model.NonceRecord, error) {
	var wire nonceWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	return &model.NonceRecord{
		Status:     wire.Status,
		Body:       wire.Body,
		CreatedAt:  time.Unix(wire.CreatedAt, 0).UTC(),
		Processing: wire.Processing,
	}, nil
}
