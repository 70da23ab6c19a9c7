package handler

import (
	"net/http"
	"time"

	"github.com/GoPolymarket/credcalls/internal/config"
	"github.com/GoPolymarket/credcalls/internal/events"
	"github.com/GoPolymarket/credcalls/internal/manager"
	"github.com/GoPolymarket/credcalls/internal/middleware"
	"github.com/GoPolymarket/credcalls/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators the HTTP surface needs. Hub and Dispatcher are
// optional; missing stores and guards fall back to in-memory ones.
type Deps struct {
	Config      *config.Config
	Engine      *service.SettlementEngine
	Idempotency middleware.IdempotencyStore
	Limiter     *middleware.RateLimiter
	Replay      *manager.ReplayGuard
	Hub         *events.Hub
	Dispatcher  *events.Dispatcher
	Now         func() time.Time
}

func NewRouter(d Deps) *gin.Engine {
	cfg := d.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if d.Idempotency == nil {
		d.Idempotency = middleware.NewInMemIdempotencyStore(time.Duration(cfg.Redis.IdempotencyTTLSeconds) * time.Second)
	}
	if d.Replay == nil && cfg.Auth.RequireSignature {
		d.Replay = manager.NewReplayGuard(time.Duration(cfg.Auth.MaxClockSkewSeconds)*time.Second, d.Now)
	}
	if d.Limiter == nil {
		d.Limiter = middleware.NewRateLimiter(cfg.Rate.QPS, cfg.Rate.Burst)
	}

	platformHandler := NewPlatformHandler(d.Engine)
	callHandler := NewCallHandler(d.Engine)
	vaultHandler := NewVaultHandler(d.Engine)
	accountHandler := NewAccountHandler(d.Engine)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogMiddleware())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.ReadOnlyMiddleware(cfg.Server.ReadOnly))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "credcalls"})
	})
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/v1")
	{
		v1.GET("/platform", platformHandler.Get)
		v1.GET("/calls", callHandler.List)
		v1.GET("/calls/:id", callHandler.Get)
		v1.GET("/vaults/:owner", vaultHandler.Get)
		v1.GET("/accounts/:name", accountHandler.Get)
		if d.Hub != nil {
			v1.GET("/events", gin.WrapH(d.Hub))
		}
		if d.Dispatcher != nil {
			v1.GET("/events/recent", NewEventHandler(d.Dispatcher).Recent)
		}
	}

	writes := v1.Group("")
	writes.Use(middleware.IdentityMiddleware(cfg, d.Now, d.Replay))
	writes.Use(middleware.RateLimitMiddleware(d.Limiter))
	writes.Use(middleware.IdempotencyMiddleware(d.Idempotency))
	{
		writes.POST("/platform/init", platformHandler.Initialize)
		writes.POST("/counter/init", platformHandler.InitializeCounter)
		writes.POST("/counter/reset", platformHandler.ResetCounter)
		writes.POST("/vaults", vaultHandler.Create)
		writes.POST("/vaults/deposit", vaultHandler.Deposit)
		writes.POST("/vaults/withdraw", vaultHandler.Withdraw)
		writes.POST("/calls", callHandler.Create)
		writes.POST("/calls/:id/follow", callHandler.Follow)
		writes.POST("/calls/:id/resolve/success", callHandler.ResolveSuccess)
		writes.POST("/calls/:id/resolve/failure", callHandler.ResolveFailure)
		writes.POST("/calls/:id/claim", callHandler.Claim)
	}

	admin := v1.Group("/admin")
	admin.Use(middleware.AdminMiddleware(cfg))
	{
		admin.POST("/fund", accountHandler.Fund)
	}

	return r
}
