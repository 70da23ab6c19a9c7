package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoPolymarket/credcalls/internal/config"
	"github.com/GoPolymarket/credcalls/internal/events"
	"github.com/GoPolymarket/credcalls/internal/handler"
	"github.com/GoPolymarket/credcalls/internal/middleware"
	"github.com/GoPolymarket/credcalls/internal/model"
	"github.com/GoPolymarket/credcalls/internal/pkg/logger"
	"github.com/GoPolymarket/credcalls/internal/repository"
	"github.com/GoPolymarket/credcalls/internal/service"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func main() {
	// 0. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	followFee, err := cfg.Platform.FollowFeeBaseUnits()
	if err != nil {
		log.Fatalf("Invalid platform config: %v", err)
	}
	var pinnedAdmin *common.Address
	if cfg.Platform.Admin != "" {
		admin, err := model.ParseIdentity(cfg.Platform.Admin)
		if err != nil {
			log.Fatalf("Invalid platform.admin: %v", err)
		}
		pinnedAdmin = &admin
	}

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// 1. Initialize Persistence
	// Settlement state (Postgres > Memory)
	var (
		store repository.Store
		db    *gorm.DB
	)
	if cfg.Database.DSN != "" {
		db, err = repository.NewDB(cfg)
		if err == nil {
			pgStore, err := repository.NewPostgresStore(db)
			if err != nil {
				log.Fatalf("Failed to migrate settlement schema: %v", err)
			}
			logger.Info("Connected to PostgreSQL")
			store = pgStore
		} else {
			logger.Error("Failed to connect to DB, falling back to memory store", "error", err)
			db = nil
		}
	}
	if store == nil {
		logger.Warn("Using in-memory settlement store; state is lost on restart")
		store = repository.NewMemoryStore()
	}

	// Idempotency keys (Redis > Postgres > Memory)
	idemTTL := time.Duration(cfg.Redis.IdempotencyTTLSeconds) * time.Second
	var (
		idemStore   middleware.IdempotencyStore
		redisClient *repository.RedisClient
	)
	if cfg.Redis.Addr != "" {
		redisClient, err = repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("Connected to Redis")
			idemStore = repository.NewRedisIdempotencyStore(redisClient.Client, idemTTL)
		} else {
			logger.Error("Failed to connect to Redis, falling back", "error", err)
			redisClient = nil
		}
	}
	if idemStore == nil && db != nil {
		pgIdem, err := repository.NewPostgresIdempotencyStore(db)
		if err == nil {
			idemStore = pgIdem
			go cleanupIdempotency(rootCtx, pgIdem, idemTTL)
		} else {
			logger.Error("Failed to prepare idempotency table", "error", err)
		}
	}
	if idemStore == nil {
		idemStore = middleware.NewInMemIdempotencyStore(idemTTL)
	}

	// 2. Event fan-out (WebSocket hub, optional NATS)
	hub := events.NewHub()
	go hub.Run(rootCtx)
	sinks := []events.Sink{hub}
	var natsSink *events.NATSSink
	if cfg.NATS.URL != "" {
		natsSink, err = events.NewNATSSink(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err == nil {
			logger.Info("Connected to NATS", "subject_prefix", cfg.NATS.SubjectPrefix)
			sinks = append(sinks, natsSink)
		} else {
			logger.Error("Failed to connect to NATS, events stay local", "error", err)
			natsSink = nil
		}
	}
	dispatcher := events.NewDispatcher(1000, sinks...)

	// 3. Initialize Core Services
	engine := service.NewSettlementEngine(store, service.EngineOptions{
		FollowFee:    followFee,
		MaxFollowers: cfg.Platform.MaxFollowers,
		MaxClaimed:   cfg.Platform.MaxClaimed,
		Refund:       service.RefundPolicy(cfg.Platform.FailureFeeRefund),
		UnitDecimals: cfg.Platform.UnitDecimals,
		PinnedAdmin:  pinnedAdmin,
		Publisher:    dispatcher,
	})

	// 4. Setup Router
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := handler.NewRouter(handler.Deps{
		Config:      cfg,
		Engine:      engine,
		Idempotency: idemStore,
		Limiter:     middleware.NewRateLimiter(cfg.Rate.QPS, cfg.Rate.Burst),
		Hub:         hub,
		Dispatcher:  dispatcher,
	})

	// 5. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("credcalls started", "port", cfg.Server.Port, "follow_fee", followFee, "read_only", cfg.Server.ReadOnly)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	dispatcher.Close()
	stop()
	if natsSink != nil {
		natsSink.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}

	logger.Info("Server exiting")
}

func cleanupIdempotency(ctx context.Context, s *repository.PostgresIdempotencyStore, ttl time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Cleanup(ctx, ttl); err != nil {
				logger.Error("idempotency cleanup failed", "error", err)
			}
		}
	}
}
