package middleware

import (
	"crypto/subtle"
	"errors"

	"github.com/GoPolymarket/settlegate/internal/config"
	"github.com/GoPolymarket/settlegate/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const HeaderAdminKey = "X-Admin-Key"
const HeaderAdminSecretKey = "X-Admin-Secret"

func AdminMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg == nil || cfg.Auth.AdminKey == "" {
			c.Error(apperrors.New(apperrors.ErrForbidden, "admin key not configured", nil))
			c.Abort()
			return
		}
		if !equalKey(c.GetHeader(HeaderAdminKey), cfg.Auth.AdminKey) {
			c.Error(apperrors.NewAuthFailed(errors.New("invalid admin key")))
			c.Abort()
			return
		}
		c.Next()
	}
}

// AdminSecretMiddleware guards operations that reveal secrets.
func AdminSecretMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg == nil || cfg.Auth.AdminSecretKey == "" {
			c.Error(apperrors.New(apperrors.ErrForbidden, "admin secret key not configured", nil))
			c.Abort()
			return
		}
		if !equalKey(c.GetHeader(HeaderAdminSecretKey), cfg.Auth.AdminSecretKey) {
			c.Error(apperrors.NewAuthFailed(errors.New("invalid admin secret key")))
			c.Abort()
			return
		}
		c.Next()
	}
}

// AdminRateLimit is one token bucket shared by all admin callers.
func AdminRateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		r := limiter.Reserve()
		if delay := r.Delay(); delay > 0 {
			r.Cancel()
			c.Error(apperrors.NewRateLimited(delay, burst))
			c.Abort()
			return
		}
		c.Next()
	}
}

func equalKey(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
