package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jwtpkg "tempinbox/backend/internal/auth/jwt"
	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/health"
	"tempinbox/backend/internal/logger"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/outbound"
	"tempinbox/backend/internal/service"
	"tempinbox/backend/internal/smtp"
	"tempinbox/backend/internal/storage"
	"tempinbox/backend/internal/storage/memory"
	redisstore "tempinbox/backend/internal/storage/redis"
	"tempinbox/backend/internal/storage/sqlstore"
	httptransport "tempinbox/backend/internal/transport/http"
	"tempinbox/backend/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

// coordination 提供租约与限流计数，多副本部署时必须指向 redis。
type coordination interface {
	storage.LeaseRepository
	storage.RateLimitRepository
}

// main 启动同时包含 HTTP API、SMTP 收信与定时清理的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(cfg.Log, "tempinbox-server")
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting tempinbox server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	store, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	metrics := monitoring.NewMetrics(nil)
	checker := health.NewChecker(log)
	checker.AddDependency("store", store)

	// 租约与限流：配置了 redis 时跨实例共享，否则使用进程内计数
	var coord coordination
	if cfg.Redis.Address != "" {
		redisClient, err := redisstore.New(&cfg.Redis, log)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		checker.AddDependency("redis", redisClient)
		coord = redisClient
	} else if mem, ok := store.(*memory.Store); ok {
		coord = mem
	} else {
		log.Warn("redis not configured, sweep leases and rate limits are local to this instance")
		coord = memory.NewStore()
	}

	attachments := service.NewAttachmentService(store, log)
	attachments.SetMetrics(metrics)
	attachments.SetAtomicWrites(cfg.Storage.AtomicAttachmentWrites)

	emails := service.NewEmailService(store, attachments, log)
	emails.SetMetrics(metrics)

	mailboxes := service.NewMailboxService(store, attachments, cfg.Mailbox, log)
	mailboxes.SetMetrics(metrics)
	mailboxes.SetRateLimiter(coord)

	retention := service.NewRetentionService(store, attachments, cfg.Retention, log)
	retention.SetMetrics(metrics)

	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, log)

	inbound := service.NewInboundService(mailboxes, emails, attachments, log)
	inbound.SetMetrics(metrics)
	inbound.SetNotifier(wsHub)

	sender, err := outbound.New(cfg.Outbound, log)
	if err != nil {
		log.Fatal("failed to initialize outbound transport", zap.Error(err))
	}
	outboundService := service.NewOutboundService(mailboxes, sender, log)
	outboundService.SetMetrics(metrics)

	var jwtManager *jwtpkg.Manager
	if cfg.JWT.Secret != "" {
		jwtManager = jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry)
	} else {
		log.Warn("JWT secret not configured, admin endpoints are disabled")
	}

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:      cfg,
		Mailboxes:   mailboxes,
		Emails:      emails,
		Attachments: attachments,
		Inbound:     inbound,
		Outbound:    outboundService,
		Retention:   retention,
		Hub:         wsHub,
		JWT:         jwtManager,
		Metrics:     metrics,
		Health:      checker,
		Logger:      log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	var smtpServer interface{ Close() error }
	if cfg.SMTP.Enabled {
		limiter := smtp.NewConnectionLimiter(cfg.SMTP.MaxConnections, cfg.SMTP.ConnectionsPerSecond, cfg.SMTP.ConnectionBurst)
		backend := smtp.NewBackend(mailboxes, inbound, cfg.Mailbox.AllowedDomains, cfg.SMTP.MaxRecipients, limiter, log)
		server := smtp.NewServer(backend, cfg.SMTP)
		smtpServer = server

		group.Go(func() error {
			log.Info("starting SMTP server",
				zap.String("address", cfg.SMTP.BindAddr),
				zap.String("domain", cfg.SMTP.Domain),
			)
			if err := server.ListenAndServe(); err != nil && groupCtx.Err() == nil {
				log.Error("SMTP server error", zap.Error(err))
				return err
			}
			return nil
		})
	}

	if cfg.Retention.Enabled {
		kinds := []service.SweepKind{service.SweepExpired, service.SweepAged}
		if cfg.Retention.SweepReadEmails {
			kinds = append(kinds, service.SweepRead)
		}
		scheduler := service.NewScheduler(retention, coord, cfg.Retention.SweepInterval, kinds, log)
		group.Go(func() error {
			return scheduler.Run(groupCtx)
		})
	}

	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if smtpServer != nil {
			if err := smtpServer.Close(); err != nil {
				log.Warn("SMTP server close warning", zap.Error(err))
			}
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// openStore 按配置选择记录存储，未配置数据库时使用内存存储。
func openStore(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.Type == "" {
		log.Info("using memory storage")
		return memory.NewStore(), nil
	}

	return sqlstore.Open(sqlstore.Options{
		Driver:          cfg.Database.Type,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		AutoMigrate:     cfg.Database.AutoMigrate,
	}, log)
}
