package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-sync/internal/booking"
	"github.com/hackgods/appointment-sync/internal/dashboard"
	"github.com/hackgods/appointment-sync/internal/directory"
)

type RouterConfig struct {
	Sessions  *dashboard.Manager
	Hub       *dashboard.Hub
	Booking   *booking.Flow
	Directory *directory.Directory
	Health    *HealthHandler
	Gatherer  prometheus.Gatherer // nil serves the default registry
	Logger    zerolog.Logger
	Now       func() time.Time
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	r.Get("/health/live", cfg.Health.Liveness)
	r.Get("/health/ready", cfg.Health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	h := &handlers{
		sessions:  cfg.Sessions,
		hub:       cfg.Hub,
		booking:   cfg.Booking,
		directory: cfg.Directory,
		logger:    cfg.Logger,
		now:       now,
	}

	r.Get("/doctors/{id}/slots", h.slots)

	// Dashboard sessions
	r.Post("/sessions", h.openSession)
	r.Delete("/sessions", h.closeSession)
	r.Get("/dashboard", h.getDashboard)
	r.Post("/dashboard/focus", h.focus)
	r.Get("/ws", h.websocket)

	// Appointment endpoints
	r.Post("/appointments", h.book)
	r.Post("/appointments/approve-all", h.approveAll)
	r.Post("/appointments/{id}/approve", h.approve)
	r.Post("/appointments/{id}/reject", h.reject)
	r.Post("/appointments/{id}/cancel", h.cancel)
	r.Post("/appointments/{id}/payment", h.pay)

	r.Get("/notifications", h.listNotifications)
	r.Post("/notifications/read", h.markRead)

	return r
}
