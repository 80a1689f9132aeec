// Package api exposes the dispatch engine over HTTP: the dispatch endpoint,
// provider status, admin enable/disable, health probes, and Prometheus
// metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/execroute/execroute/internal/auth"
	"github.com/execroute/execroute/internal/cache"
	"github.com/execroute/execroute/internal/domain"
	"github.com/execroute/execroute/internal/queue"
	"github.com/execroute/execroute/internal/registry"
	"github.com/execroute/execroute/internal/router"
)

const defaultCacheTTL = 5 * time.Minute

type HandlerConfig struct {
	Router   *router.Router
	Registry *registry.Registry
	Admin    *auth.Admin
	Cache    cache.Cache
	CacheTTL time.Duration
	Queue    queue.Queue
	Checkers []HealthChecker
	Logger   *slog.Logger
}

type Handler struct {
	router   *router.Router
	registry *registry.Registry
	cache    cache.Cache
	cacheTTL time.Duration
	queue    queue.Queue
	logger   *slog.Logger
	mux      *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	h := &Handler{
		router:   cfg.Router,
		registry: cfg.Registry,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		queue:    cfg.Queue,
		logger:   cfg.Logger,
		mux:      http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/dispatch", h.handleDispatch)
	h.mux.HandleFunc("POST /v1/dispatch/async", h.handleDispatchAsync)
	h.mux.HandleFunc("GET /v1/providers", h.handleListProviders)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", handleHealthReady(cfg.Checkers, 5*time.Second))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	if cfg.Admin != nil && cfg.Admin.Enabled() {
		h.mux.Handle("POST /admin/providers/{name}/enable", cfg.Admin.Middleware(http.HandlerFunc(h.handleSetEnabled(true))))
		h.mux.Handle("POST /admin/providers/{name}/disable", cfg.Admin.Middleware(http.HandlerFunc(h.handleSetEnabled(false))))
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	var req domain.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	skipCache := r.Header.Get("X-Skip-Cache") == "true"

	var cacheKey string
	if h.cache != nil && !skipCache {
		cacheKey = cache.Key(req)
		if cached, ok := h.cache.Get(ctx, cacheKey); ok {
			out := *cached
			out.RequestID = requestID
			out.LatencyMs = time.Since(start).Milliseconds()
			h.logger.Info("cache hit", "request_id", requestID, "provider", out.Provider)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Request-ID", requestID)
			w.Header().Set("X-Cache", "HIT")
			json.NewEncoder(w).Encode(&out)
			return
		}
	}

	resp, err := h.router.Route(ctx, req)
	if err != nil {
		h.writeRouteError(w, requestID, err)
		return
	}
	resp.RequestID = requestID

	if h.cache != nil && cacheKey != "" {
		if cerr := h.cache.Set(ctx, cacheKey, resp, h.cacheTTL); cerr != nil {
			h.logger.Warn("failed to cache response", "error", cerr, "request_id", requestID)
		}
	}

	h.logger.Info("dispatch completed",
		"request_id", requestID,
		"provider", resp.Provider,
		"latency_ms", resp.LatencyMs,
	)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("X-Cache", "MISS")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleDispatchAsync(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		writeError(w, http.StatusNotImplemented, "async dispatch not configured")
		return
	}

	var req domain.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d := queue.AsyncDispatch{
		ID:        uuid.New().String(),
		Request:   req,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.queue.Enqueue(r.Context(), d); err != nil {
		h.logger.Error("enqueue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"request_id": d.ID})
}

// writeRouteError maps the routing failure taxonomy onto HTTP statuses.
func (h *Handler) writeRouteError(w http.ResponseWriter, requestID string, err error) {
	w.Header().Set("X-Request-ID", requestID)

	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, domain.ErrExplicitProviderUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())

	case errors.Is(err, domain.ErrRoutingExhausted):
		var exhausted *domain.RoutingExhaustedError
		body := map[string]any{
			"error": map[string]any{
				"message": err.Error(),
				"type":    "routing_exhausted",
				"code":    http.StatusBadGateway,
			},
		}
		if errors.As(err, &exhausted) {
			body["attempts"] = exhausted.Attempts
		}
		h.logger.Error("routing exhausted", "request_id", requestID, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(body)

	case errors.Is(err, context.Canceled):
		// Client went away; 499 in nginx parlance, 408 is the closest standard.
		writeError(w, http.StatusRequestTimeout, "request cancelled")

	default:
		h.logger.Error("dispatch failed", "request_id", requestID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) handleListProviders(w http.ResponseWriter, r *http.Request) {
	snapshots := h.registry.Snapshots()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"providers": snapshots})
}

func (h *Handler) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		entry, ok := h.registry.Get(name)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown provider")
			return
		}

		entry.SetEnabled(enabled)
		h.logger.Info("provider toggled", "provider", name, "enabled", enabled)

		snap, _ := h.registry.Snapshot(name)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshots := h.registry.Snapshots()

	status := "healthy"
	httpStatus := http.StatusOK
	anyAvailable := len(snapshots) == 0
	allAvailable := true
	for _, s := range snapshots {
		if s.Available && s.Enabled {
			anyAvailable = true
		} else {
			allAvailable = false
		}
	}
	if !allAvailable {
		status = "degraded"
	}
	if !anyAvailable {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status":    status,
		"providers": snapshots,
	})
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "error",
			"code":    status,
		},
	})
}
