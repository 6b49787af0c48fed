package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoPolymarket/settlegate/internal/config"
	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/GoPolymarket/settlegate/internal/repository"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRepo struct {
	*MemoryPlatformRepo
	gets atomic.Int64
}

func (c *countingRepo) GetByID(ctx context.Context, id string) (*model.Platform, error) {
	c.gets.Add(1)
	return c.MemoryPlatformRepo.GetByID(ctx, id)
}

func newSeededRepo(t *testing.T) *countingRepo {
	t.Helper()
	repo := &countingRepo{MemoryPlatformRepo: NewMemoryPlatformRepo()}
	require.NoError(t, repo.Create(context.Background(), &model.Platform{
		ID: "casino", Name: "Casino", Secret: "old-secret", Active: true, RateBudget: 10,
	}))
	return repo
}

func TestRegistry_CachesWithinTTL(t *testing.T) {
	repo := newSeededRepo(t)
	reg := NewPlatformRegistry(repo, time.Minute)

	for i := 0; i < 5; i++ {
		p, err := reg.Lookup(context.Background(), "casino")
		require.NoError(t, err)
		assert.Equal(t, "old-secret", p.Secret)
	}
	assert.Equal(t, int64(1), repo.gets.Load())
}

func TestRegistry_ExpiresAfterTTL(t *testing.T) {
	repo := newSeededRepo(t)
	reg := NewPlatformRegistry(repo, time.Second)
	now := time.Unix(1_700_000_000, 0)
	reg.now = func() time.Time { return now }

	_, err := reg.Lookup(context.Background(), "casino")
	require.NoError(t, err)
	now = now.Add(2 * time.Second)
	_, err = reg.Lookup(context.Background(), "casino")
	require.NoError(t, err)
	assert.Equal(t, int64(2), repo.gets.Load())
}

func TestRegistry_UnknownPlatform(t *testing.T) {
	reg := NewPlatformRegistry(newSeededRepo(t), time.Minute)
	_, err := reg.Lookup(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrPlatformNotFound)
	_, err = reg.Lookup(context.Background(), "")
	assert.ErrorIs(t, err, ErrPlatformNotFound)
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	reg := NewPlatformRegistry(newSeededRepo(t), time.Minute)
	p, err := reg.Lookup(context.Background(), "casino")
	require.NoError(t, err)
	p.Secret = "tampered"

	again, err := reg.Lookup(context.Background(), "casino")
	require.NoError(t, err)
	assert.Equal(t, "old-secret", again.Secret)
}

func TestRegistry_RotationTakesEffectImmediately(t *testing.T) {
	repo := newSeededRepo(t)
	reg := NewPlatformRegistry(repo, time.Hour)
	svc := NewPlatformService(repo, reg)
	ctx := context.Background()

	_, err := reg.Lookup(ctx, "casino")
	require.NoError(t, err)

	_, secret, err := svc.RotateSecret(ctx, "casino")
	require.NoError(t, err)
	require.Len(t, secret, 64)

	p, err := reg.Lookup(ctx, "casino")
	require.NoError(t, err)
	assert.Equal(t, secret, p.Secret)

	_, err = svc.SetActive(ctx, "casino", false)
	require.NoError(t, err)
	p, err = reg.Lookup(ctx, "casino")
	require.NoError(t, err)
	assert.False(t, p.Active)
}

// Two instances share the platform repo and a redis version counter; a
// rotation on one must stop the old secret on the other at once.
func TestRegistry_RotationReachesOtherInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	versions := repository.NewRedisPlatformVersions(repository.WrapRedis(rdb), "pv")

	repo := newSeededRepo(t)
	regA := NewPlatformRegistry(repo, time.Hour).WithSharedVersions(versions)
	regB := NewPlatformRegistry(repo, time.Hour).WithSharedVersions(versions)
	svcA := NewPlatformService(repo, regA)
	ctx := context.Background()

	p, err := regB.Lookup(ctx, "casino")
	require.NoError(t, err)
	assert.Equal(t, "old-secret", p.Secret)
	gets := repo.gets.Load()

	_, err = regB.Lookup(ctx, "casino")
	require.NoError(t, err)
	assert.Equal(t, gets, repo.gets.Load(), "unchanged platform is served from cache")

	_, secret, err := svcA.RotateSecret(ctx, "casino")
	require.NoError(t, err)

	p, err = regB.Lookup(ctx, "casino")
	require.NoError(t, err)
	assert.Equal(t, secret, p.Secret)
}

func TestRegistry_VersionStoreDownFailsClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	reg := NewPlatformRegistry(newSeededRepo(t), time.Hour).
		WithSharedVersions(repository.NewRedisPlatformVersions(repository.WrapRedis(rdb), ""))

	_, err := reg.Lookup(context.Background(), "casino")
	require.NoError(t, err)

	mr.Close()
	_, err = reg.Lookup(context.Background(), "casino")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPlatformNotFound)
}

func TestRegistry_ConcurrentMissesCollapse(t *testing.T) {
	repo := newSeededRepo(t)
	reg := NewPlatformRegistry(repo, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Lookup(context.Background(), "casino")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, repo.gets.Load(), int64(50))
	assert.GreaterOrEqual(t, repo.gets.Load(), int64(1))
}

func TestSeedFromConfig(t *testing.T) {
	repo := NewMemoryPlatformRepo()
	seeds := []config.PlatformConfig{
		{ID: "a", Secret: "sa", Active: true, RateBudget: 5},
		{ID: "", Secret: "skipped"},
		{ID: "b", Secret: "sb"},
	}
	require.NoError(t, SeedFromConfig(context.Background(), repo, seeds))
	// A second seed keeps existing rows.
	seeds[0].Secret = "changed"
	require.NoError(t, SeedFromConfig(context.Background(), repo, seeds))

	a, err := repo.GetByID(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "sa", a.Secret)

	all, err := repo.List(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPlatformService_CreateAndUpdate(t *testing.T) {
	repo := NewMemoryPlatformRepo()
	reg := NewPlatformRegistry(repo, time.Minute)
	svc := NewPlatformService(repo, reg)
	ctx := context.Background()

	p, secret, err := svc.Create(ctx, PlatformCreateRequest{ID: " poker ", Name: "Poker", RateBudget: 100})
	require.NoError(t, err)
	assert.Equal(t, "poker", p.ID)
	assert.True(t, p.Active)
	assert.Len(t, secret, 64)

	_, _, err = svc.Create(ctx, PlatformCreateRequest{ID: "poker"})
	assert.Error(t, err)

	_, _, err = svc.Create(ctx, PlatformCreateRequest{ID: "bad", WebhookURL: "ftp://x"})
	assert.ErrorIs(t, err, ErrValidation)

	budget := 0
	url := "https://poker.example/hooks"
	updated, err := svc.Update(ctx, "poker", PlatformUpdateRequest{RateBudget: &budget, WebhookURL: &url})
	require.NoError(t, err)
	assert.Equal(t, 0, updated.RateBudget)
	assert.Equal(t, url, updated.WebhookURL)

	cached, err := reg.Lookup(ctx, "poker")
	require.NoError(t, err)
	assert.False(t, cached.RateLimitEnabled())

	_, err = svc.Update(ctx, "ghost", PlatformUpdateRequest{})
	assert.True(t, IsPlatformNotFound(err))
}
