package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/GoPolymarket/settlegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/settlegate/internal/pkg/logger"
	"github.com/GoPolymarket/settlegate/internal/pkg/metrics"
	"github.com/GoPolymarket/settlegate/internal/service"
	"github.com/gin-gonic/gin"
)

const (
	HeaderRateLimit     = "X-RateLimit-Limit"
	HeaderRateRemaining = "X-RateLimit-Remaining"
	HeaderRateReset     = "X-RateLimit-Reset"
)

// RateLimitMiddleware runs after AuthMiddleware. Any doubt refuses the
// request: no platform, no budget, or an unreachable counter store.
func RateLimitMiddleware(limiter *service.RateLimiter) gin.HandlerFunc {
	throttled := logger.NewThrottled(10 * time.Second)
	return func(c *gin.Context) {
		// 1. 获取当前平台 (必须在 AuthMiddleware 之后使用)
		platform := PlatformFrom(c)
		if platform == nil {
			c.Error(apperrors.NewAuthFailed(errors.New("rate limiter reached without authenticated platform")))
			c.Abort()
			return
		}

		// 2. 计数并判定
		decision, err := limiter.Allow(c.Request.Context(), platform, c.ClientIP())
		if errors.Is(err, service.ErrRateBudgetDisabled) {
			metrics.RateLimited.WithLabelValues("budget_disabled").Inc()
			throttled.Warn("platform has no rate budget", "platform_id", platform.ID)
			c.Error(apperrors.NewPlatformForbidden("platform is not enabled for settlement traffic"))
			c.Abort()
			return
		}
		if err != nil {
			metrics.RateLimited.WithLabelValues("store_error").Inc()
			logger.LogError(c.Request.Context(), err, "rate limiter unavailable", "platform_id", platform.ID)
			c.Error(apperrors.New(apperrors.ErrInternal, "rate limiter unavailable", err))
			c.Abort()
			return
		}

		c.Header(HeaderRateLimit, strconv.Itoa(decision.Limit))
		c.Header(HeaderRateRemaining, strconv.Itoa(decision.Remaining))
		c.Header(HeaderRateReset, strconv.FormatInt(decision.ResetAt.Unix(), 10))

		// 3. 超出预算
		if !decision.Allowed {
			metrics.RateLimited.WithLabelValues("exceeded").Inc()
			throttled.Warn("rate limit exceeded", "platform_id", platform.ID, "client_ip", c.ClientIP())
			appErr := apperrors.NewRateLimited(decision.RetryAfter, decision.Limit)
			c.Header("Retry-After", strconv.FormatInt(*appErr.RetryAfter, 10))
			c.Error(appErr)
			c.Abort()
			return
		}

		c.Next()
	}
}
