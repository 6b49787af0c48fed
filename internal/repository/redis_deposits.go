package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/GoPolymarket/settlegate/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// ErrQueueEmpty is returned by Next when the poll timed out.
var ErrQueueEmpty = errors.New("deposit queue empty")

// RedisDepositQueue reads verified chain deposits pushed (RPUSH) by the chain
// watcher onto a list.
type RedisDepositQueue struct {
	client  *RedisClient
	key     string
	timeout time.Duration
}

func NewRedisDepositQueue(client *RedisClient, key string, pollTimeout time.Duration) *RedisDepositQueue {
	if key == "" {
		key = "chain_deposits"
	}
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	return &RedisDepositQueue{client: client, key: key, timeout: pollTimeout}
}

// Next blocks up to the poll timeout. Undecodable payloads are dropped and
// logged, then the next entry is tried.
func (q *RedisDepositQueue) Next(ctx context.Context) (*model.ChainDeposit, error) {
	for {
		res, err := q.client.Client.BLPop(ctx, q.timeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, ErrQueueEmpty
		}
		if err != nil {
			return nil, err
		}
		// res is [key, value]
		var dep model.ChainDeposit
		if err := json.Unmarshal([]byte(res[1]), &dep); err != nil {
			logger.Warn("dropping undecodable chain deposit", "payload", res[1], "error", err.Error())
			continue
		}
		return &dep, nil
	}
}

// Push is used by tests and operator tooling to enqueue a deposit.
func (q *RedisDepositQueue) Push(ctx context.Context, dep *model.ChainDeposit) error {
	payload, err := json.Marshal(dep)
	if err != nil {
		return err
	}
	return q.client.Client.RPush(ctx, q.key, payload).Err()
}

// Requeue puts a deposit back at the head of the list so it is the next one
// read. Used when a consumer stops before recording it.
func (q *RedisDepositQueue) Requeue(ctx context.Context, dep *model.ChainDeposit) error {
	payload, err := json.Marshal(dep)
	if err != nil {
		return err
	}
	return q.client.Client.LPush(ctx, q.key, payload).Err()
}
