// Command watch keeps a headless admin dashboard open and logs the
// aggregate counters as they move. It shares the portal's configuration.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-sync/internal/clinicapi"
	"github.com/hackgods/appointment-sync/internal/config"
	"github.com/hackgods/appointment-sync/internal/counters"
	"github.com/hackgods/appointment-sync/internal/dashboard"
	"github.com/hackgods/appointment-sync/internal/logging"
	redisclient "github.com/hackgods/appointment-sync/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("prod", "error")
		fallback.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.Component(logging.New(cfg.Env, cfg.LogLevel), "watch")

	token := os.Getenv("ADMIN_TOKEN")
	if token == "" {
		logger.Fatal().Msg("ADMIN_TOKEN is required")
	}
	interval := 30 * time.Second
	if v := os.Getenv("WATCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			interval = d
		}
	}

	logger.Info().Str("env", cfg.Env).Dur("interval", interval).Msg("watch starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store counters.Store = counters.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection error")
		}
		defer rdb.Close()
		store = counters.NewRedisStore(rdb)
	}

	client := clinicapi.New(cfg.BackendURL, cfg.RequestTimeout, logger, nil)
	s, err := dashboard.NewSession(dashboard.Identity{Role: clinicapi.RoleAdmin, Credential: token}, dashboard.Deps{
		Backend:      client,
		CounterStore: store,
		RetryMin:     cfg.StreamRetryMin,
		RetryMax:     cfg.StreamRetryMax,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("open admin session")
	}
	defer s.Close()

	var (
		mu   sync.Mutex
		last counters.Counters
	)
	unsubscribe := s.Subscribe(func(v dashboard.View) {
		mu.Lock()
		defer mu.Unlock()
		if v.Counters != nil && *v.Counters != last {
			last = *v.Counters
			logCounters(logger.Info(), last, "counters changed")
		}
	})
	defer unsubscribe()

	s.Start(rootCtx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping watch")
			return
		case <-ticker.C:
			v := s.View(rootCtx)
			if v.Counters == nil {
				continue
			}
			ev := logger.Info().Int("appointments_held", len(v.Appointments))
			if v.RefreshedAt != nil {
				ev = ev.Time("refreshed_at", *v.RefreshedAt)
			}
			logCounters(ev, *v.Counters, "counters")
		}
	}
}

func logCounters(ev *zerolog.Event, c counters.Counters, msg string) {
	ev.Int64("doctors", c.Doctors).
		Int64("appointments", c.Appointments).
		Int64("pending", c.Pending).
		Int64("patients", c.Patients).
		Msg(msg)
}
