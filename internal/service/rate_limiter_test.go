package service

import (
	"context"
	"testing"
	"time"

	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClockedLimiter(budget int) (*RateLimiter, *MemoryCounterStore, *model.Platform, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	store := NewMemoryCounterStore()
	store.now = func() time.Time { return now }
	l := NewRateLimiter(store, time.Hour, "rl")
	l.now = func() time.Time { return now }
	return l, store, &model.Platform{ID: "P", RateBudget: budget}, &now
}

func TestRateLimiter_BudgetPerOrigin(t *testing.T) {
	l, _, p, _ := newClockedLimiter(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, p, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
		assert.Equal(t, 3, d.Limit)
	}

	d, err := l.Allow(ctx, p, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Hour, d.RetryAfter)
	assert.LessOrEqual(t, d.RetryAfter, l.Window())

	other, err := l.Allow(ctx, p, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "a different origin has its own budget")
}

func TestRateLimiter_WindowResets(t *testing.T) {
	l, _, p, now := newClockedLimiter(1)
	ctx := context.Background()

	d, err := l.Allow(ctx, p, "o")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	*now = now.Add(30 * time.Minute)
	d, err = l.Allow(ctx, p, "o")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30*time.Minute, d.RetryAfter)

	*now = now.Add(30 * time.Minute)
	d, err = l.Allow(ctx, p, "o")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRateLimiter_NonPositiveBudgetBlocks(t *testing.T) {
	for _, budget := range []int{0, -5} {
		l, store, p, _ := newClockedLimiter(budget)
		_, err := l.Allow(context.Background(), p, "o")
		assert.ErrorIs(t, err, ErrRateBudgetDisabled)
		assert.Equal(t, 0, store.Len(), "a blocked platform must not create windows")
	}
}

func TestMemoryCounterStore_Sweep(t *testing.T) {
	l, store, p, now := newClockedLimiter(5)
	ctx := context.Background()
	_, _ = l.Allow(ctx, p, "a")
	_, _ = l.Allow(ctx, p, "b")
	require.Equal(t, 2, store.Len())

	*now = now.Add(59 * time.Minute)
	assert.Equal(t, 0, store.Sweep())

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, store.Sweep())
	assert.Equal(t, 0, store.Len())
}

func TestMemoryCounterStore_RunStopsWithContext(t *testing.T) {
	store := NewMemoryCounterStore()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep loop did not stop")
	}
}
