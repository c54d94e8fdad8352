package api

import (
	"context"
	"net/http"
	"time"
)

// Pinger is a dependency the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	backend  Pinger
	postgres Pinger // nil when not configured
	redis    Pinger // nil when not configured
	env      string
	version  string
}

func NewHealthHandler(backend, postgres, redis Pinger, env, version string) *HealthHandler {
	return &HealthHandler{
		backend:  backend,
		postgres: postgres,
		redis:    redis,
		env:      env,
		version:  version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	resp := LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	}
	writeJSON(w, http.StatusOK, resp)
}

// Readiness fails when the clinic backend is down. Redis and Postgres only
// back caches, so losing them degrades the portal without failing it.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string)
	status := "ok"

	if check(ctx, h.backend) {
		deps["backend"] = "ok"
	} else {
		deps["backend"] = "down"
		status = "error"
	}

	for name, p := range map[string]Pinger{"postgres": h.postgres, "redis": h.redis} {
		switch {
		case p == nil:
			deps[name] = "disabled"
		case check(ctx, p):
			deps[name] = "ok"
		default:
			deps[name] = "down"
			if status == "ok" {
				status = "degraded"
			}
		}
	}

	resp := ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, resp)
}

func check(ctx context.Context, p Pinger) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return p.Ping(ctx) == nil
}
