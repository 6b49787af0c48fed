package handler

import (
	"net/http"

	"github.com/GoPolymarket/settlegate/internal/config"
	"github.com/GoPolymarket/settlegate/internal/middleware"
	"github.com/GoPolymarket/settlegate/internal/service"
	"github.com/GoPolymarket/settlegate/internal/signer"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the services the HTTP surface is built from. Audit and Events
// may be nil.
type Deps struct {
	Config      *config.Config
	Verifier    *signer.Verifier
	Registry    *service.PlatformRegistry
	RateLimiter *service.RateLimiter
	Nonces      middleware.NonceStore
	Ledger      *service.Ledger
	Platforms   *service.PlatformService
	Audit       *service.AuditService
	Events      *service.EventBus
}

func NewRouter(d Deps) *gin.Engine {
	cfg := d.Config
	r := gin.New()
	r.Use(gin.Recovery())

	// Global Middleware
	r.Use(middleware.MetricsMiddleware())
	if d.Audit != nil {
		r.Use(middleware.AuditMiddleware(d.Audit))
	}
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.ReadOnlyMiddleware(cfg.Server.ReadOnly))

	// Health Check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "settlegate"})
	})

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// Platform API: registry -> authenticator -> rate limiter -> nonce cache -> handler
	settlement := NewSettlementHandler(d.Ledger)
	nonceTTL := d.Verifier.Skew() * 2
	if nonceTTL <= 0 {
		nonceTTL = 2 * signer.DefaultSkew
	}
	p := r.Group("/v1/platforms/:platformId")
	p.Use(middleware.AuthMiddleware(d.Verifier, d.Registry))
	p.Use(middleware.RateLimitMiddleware(d.RateLimiter))
	p.Use(middleware.NonceMiddleware(d.Nonces, nonceTTL))
	{
		p.GET("/users/:userId/balance", settlement.GetBalance)
		p.GET("/users/:userId/transactions", settlement.ListTransactions)
		p.POST("/deposits", settlement.Deposit)
		p.POST("/withdrawals", settlement.Withdraw)
	}

	// Admin API
	admin := r.Group("/v1/admin")
	admin.Use(middleware.AdminRateLimit(cfg.Auth.AdminRPS, cfg.Auth.AdminBurst))
	admin.Use(middleware.AdminMiddleware(cfg))
	{
		platforms := NewPlatformHandler(d.Platforms)
		admin.GET("/platforms", platforms.List)
		admin.GET("/platforms/:id", platforms.Get)
		admin.PATCH("/platforms/:id", platforms.Update)
		admin.POST("/platforms/:id/activate", platforms.Activate)
		admin.POST("/platforms/:id/deactivate", platforms.Deactivate)
		// plain secrets only leave through these two
		admin.POST("/platforms", middleware.AdminSecretMiddleware(cfg), platforms.Create)
		admin.POST("/platforms/:id/rotate-secret", middleware.AdminSecretMiddleware(cfg), platforms.RotateSecret)

		if d.Audit != nil {
			admin.GET("/audit", NewAuditHandler(d.Audit).List)
		}
		if d.Events != nil {
			admin.GET("/feed", NewFeedHandler(d.Events).Stream)
		}
	}

	return r
}
