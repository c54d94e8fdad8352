package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/appointment-sync/internal/api"
	"github.com/hackgods/appointment-sync/internal/booking"
	"github.com/hackgods/appointment-sync/internal/clinicapi"
	"github.com/hackgods/appointment-sync/internal/config"
	"github.com/hackgods/appointment-sync/internal/counters"
	"github.com/hackgods/appointment-sync/internal/dashboard"
	"github.com/hackgods/appointment-sync/internal/db"
	"github.com/hackgods/appointment-sync/internal/directory"
	"github.com/hackgods/appointment-sync/internal/logging"
	"github.com/hackgods/appointment-sync/internal/notifications"
	"github.com/hackgods/appointment-sync/internal/observability/metrics"
	"github.com/hackgods/appointment-sync/internal/payment"
	redisclient "github.com/hackgods/appointment-sync/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("prod", "error")
		fallback.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("backend", cfg.BackendURL).Msg("portal starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		rdb    *redis.Client
		pgPool *pgxpool.Pool
	)

	if cfg.RedisAddr != "" {
		rdb, err = redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Msg("connected to Redis")
	}

	if cfg.PostgresDSN != "" {
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		if err == nil {
			err = db.EnsureSchema(pgCtx, pgPool)
		}
		cancelPg()
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection error")
		}
		defer pgPool.Close()
		logger.Info().Msg("connected to Postgres")
	}

	m := metrics.NewSyncMetrics(prometheus.DefaultRegisterer)
	client := clinicapi.New(cfg.BackendURL, cfg.RequestTimeout, logger, m)

	var counterStore counters.Store
	switch cfg.ResolvedCounterStore() {
	case "redis":
		counterStore = counters.NewRedisStore(rdb)
	case "postgres":
		counterStore = counters.NewPgStore(pgPool)
	default:
		counterStore = counters.NewMemoryStore()
	}
	logger.Info().Str("store", cfg.ResolvedCounterStore()).Msg("dashboard counters store selected")

	var (
		noteStore notifications.Store = notifications.NewMemoryStore()
		locker                        = redisclient.NewLocalKeyLocker(cfg.LockTTL)
	)
	if rdb != nil {
		noteStore = notifications.NewRedisStore(rdb, cfg.NotificationWindow)
		locker = redisclient.NewRedisKeyLocker(rdb, cfg.LockTTL)
	}

	dir, err := directory.New(client, cfg.DoctorCacheSize, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("doctor directory init error")
	}
	if err := dir.Refresh(rootCtx); err != nil {
		// the directory refreshes on demand, a cold start is not fatal
		logger.Warn().Err(err).Msg("initial doctor refresh failed")
	}

	hub := dashboard.NewHub(logger, m)
	hub.AllowOrigins(cfg.AllowedOrigins...)
	sessions := dashboard.NewManager(dashboard.Deps{
		Backend:       client,
		CounterStore:  counterStore,
		Notifications: notifications.NewLog(noteStore, cfg.NotificationCap, cfg.NotificationWindow, logger),
		Payment: payment.NewFlow(payment.Config{
			VPA:           cfg.UPIVPA,
			MerchantName:  cfg.MerchantName,
			Currency:      cfg.CurrencyCode,
			NetBankingURL: cfg.NetBankingURL,
			QRImageURL:    cfg.UPIQRURL,
		}, logger),
		PollInterval:    cfg.PollInterval,
		RetryMin:        cfg.StreamRetryMin,
		RetryMax:        cfg.StreamRetryMax,
		BulkConcurrency: cfg.BulkConcurrency,
		Logger:          logger,
		Metrics:         m,
	}, hub, cfg.SessionIdleTTL)
	go sessions.Run(rootCtx)

	var redisPinger, pgPinger api.Pinger
	if rdb != nil {
		redisPinger = api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	if pgPool != nil {
		pgPinger = pgPool
	}

	router := api.NewRouter(api.RouterConfig{
		Sessions:  sessions,
		Hub:       hub,
		Booking:   booking.NewFlow(client, dir, locker, logger),
		Directory: dir,
		Health:    api.NewHealthHandler(client, pgPinger, redisPinger, cfg.Env, version),
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutting down portal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	sessions.CloseAll()

	logger.Info().Msg("portal stopped")
}
