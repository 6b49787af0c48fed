package repository

import (
	"context"
	"testing"
	"time"

	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, WrapRedis(rdb)
}

func TestRedisCounterStoreWindow(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisCounterStore(client)
	ctx := context.Background()

	n, resetAt, err := store.Incr(ctx, "rl:casino:10.0.0.1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.WithinDuration(t, time.Now().Add(time.Minute), resetAt, 2*time.Second)

	n, _, err = store.Incr(ctx, "rl:casino:10.0.0.1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// other origins count separately
	n, _, err = store.Incr(ctx, "rl:casino:10.0.0.2", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.True(t, mr.TTL("rl:casino:10.0.0.1") > 0)
	mr.FastForward(time.Minute + time.Second)

	n, _, err = store.Incr(ctx, "rl:casino:10.0.0.1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "window should restart after expiry")
}

func TestRedisCounterStoreRepairsMissingExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisCounterStore(client)

	require.NoError(t, mr.Set("rl:casino:stale", "7"))
	n, _, err := store.Incr(context.Background(), "rl:casino:stale", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
	assert.True(t, mr.TTL("rl:casino:stale") > 0)
}

func TestRedisNonceStoreLifecycle(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisNonceStore(client)
	ctx := context.Background()

	rec, found, err := store.GetOrLock(ctx, "casino:n-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, rec)

	rec, found, err = store.GetOrLock(ctx, "casino:n-1", time.Minute)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, rec.Processing)

	require.NoError(t, store.Save(ctx, "casino:n-1", 201, []byte(`{"success":true}`), time.Minute))
	rec, found, err = store.GetOrLock(ctx, "casino:n-1", time.Minute)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, rec.Processing)
	assert.Equal(t, 201, rec.Status)
	assert.JSONEq(t, `{"success":true}`, string(rec.Body))

	require.NoError(t, store.Unlock(ctx, "casino:n-1"))
	_, found, err = store.GetOrLock(ctx, "casino:n-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisNonceStoreExpires(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisNonceStore(client)
	ctx := context.Background()

	_, _, err := store.GetOrLock(ctx, "casino:n-2", 5*time.Minute)
	require.NoError(t, err)
	mr.FastForward(6 * time.Minute)

	_, found, err := store.GetOrLock(ctx, "casino:n-2", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisAuditRepoCapsAndFilters(t *testing.T) {
	_, client := newTestRedis(t)
	repo := NewRedisAuditRepo(client, "audit_test", 3)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i, platform := range []string{"casino", "arcade", "casino", "casino"} {
		require.NoError(t, repo.Insert(ctx, &model.AuditLog{
			ID:         string(rune('a' + i)),
			PlatformID: platform,
			Method:     "POST",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := repo.List(ctx, "", 10, nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 3, "oldest record trimmed")
	assert.Equal(t, "d", all[0].ID)

	casino, err := repo.List(ctx, "casino", 10, nil, nil)
	require.NoError(t, err)
	assert.Len(t, casino, 2)

	from := base.Add(150 * time.Second)
	recent, err := repo.List(ctx, "", 10, &from, nil)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "d", recent[0].ID)
}

func TestRedisDepositQueue(t *testing.T) {
	mr, client := newTestRedis(t)
	queue := NewRedisDepositQueue(client, "deposits_test", time.Second)
	ctx := context.Background()

	_, err := mr.RPush("deposits_test", "not json")
	require.NoError(t, err)
	require.NoError(t, queue.Push(ctx, &model.ChainDeposit{
		PlatformID:     "casino",
		PlatformUserID: "u-1",
		TokenAmount:    decimal.RequireFromString("2.5"),
		TxHash:         "0xABC",
	}))

	dep, err := queue.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u-1", dep.PlatformUserID)
	assert.True(t, dep.TokenAmount.Equal(decimal.RequireFromString("2.5")))

	_, err = queue.Next(ctx)
	assert.ErrorIs(t, err, ErrQueueEmpty)

	require.NoError(t, queue.Push(ctx, &model.ChainDeposit{PlatformID: "casino", PlatformUserID: "u-2", TokenAmount: decimal.NewFromInt(1), TxHash: "0x2"}))
	require.NoError(t, queue.Requeue(ctx, dep))
	first, err := queue.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0xABC", first.TxHash, "requeued deposit is read first")
}

func TestRedisPlatformVersions(t *testing.T) {
	_, client := newTestRedis(t)
	versions := NewRedisPlatformVersions(client, "pv")
	ctx := context.Background()

	v, err := versions.Version(ctx, "casino")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	require.NoError(t, versions.Bump(ctx, "casino"))
	require.NoError(t, versions.Bump(ctx, "casino"))
	v, err = versions.Version(ctx, "casino")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	v, err = versions.Version(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}
