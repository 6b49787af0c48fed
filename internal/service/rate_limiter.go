package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoPolymarket/settlegate/internal/model"
)

// ErrRateBudgetDisabled means the platform has no positive budget. Such a
// platform is blocked, not unlimited.
var ErrRateBudgetDisabled = errors.New("platform rate budget not configured")

const DefaultRateWindow = time.Hour

type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RateLimiter enforces each platform's budget per client origin: every
// origin gets the full budget within one window.
type RateLimiter struct {
	store  CounterStore
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRateLimiter(store CounterStore, window time.Duration, prefix string) *RateLimiter {
	if window <= 0 {
		window = DefaultRateWindow
	}
	if prefix == "" {
		prefix = "rl"
	}
	return &RateLimiter{store: store, window: window, prefix: prefix, now: time.Now}
}

func (l *RateLimiter) Window() time.Duration { return l.window }

// Allow counts the request and decides. Store failures are returned as
// errors; callers must refuse the request.
func (l *RateLimiter) Allow(ctx context.Context, p *model.Platform, origin string) (RateDecision, error) {
	if !p.RateLimitEnabled() {
		return RateDecision{}, ErrRateBudgetDisabled
	}
	key := fmt.Sprintf("%s:%s:%s", l.prefix, p.ID, origin)
	count, resetAt, err := l.store.Incr(ctx, key, l.window)
	if err != nil {
		return RateDecision{}, fmt.Errorf("rate counter: %w", err)
	}
	d := RateDecision{
		Limit:   p.RateBudget,
		ResetAt: resetAt,
	}
	if count > int64(p.RateBudget) {
		d.RetryAfter = resetAt.Sub(l.now())
		if d.RetryAfter < 0 {
			d.RetryAfter = 0
		}
		return d, nil
	}
	d.Allowed = true
	d.Remaining = p.RateBudget - int(count)
	return d, nil
}
