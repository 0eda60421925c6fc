package handler

import (
	"context"
	"net/http"
	"time"

	"reslock/internal/locks/sweeper"
	httputil "reslock/pkg/http"
	"reslock/pkg/logger"

	"github.com/julienschmidt/httprouter"
)

type HealthResponse struct {
	Status   string         `json:"status"`
	Database string         `json:"database,omitempty"`
	Sweeper  string         `json:"sweeper,omitempty"`
	Sweeps   *sweeper.Stats `json:"sweeps,omitempty"`
}

// Pinger is the part of the lock store the readiness probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

type SweeperStatus interface {
	Running() bool
	Stats() sweeper.Stats
}

type HealthHandler struct {
	store   Pinger
	sweeper SweeperStatus
	log     *logger.Logger
}

func NewHealthHandler(store Pinger, sw SweeperStatus, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		store:   store,
		sweeper: sw,
		log:     log,
	}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := httputil.WriteJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
	}); err != nil {
		h.log.Error("failed to write JSON response", "handler", "Health", "operation", "WriteJSON", "error", err)
	}
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	state, stats := h.sweeperState()

	if err := h.store.Ping(ctx); err != nil {
		h.log.Error("Lock store health check failed",
			"error", err,
			"path", r.URL.Path,
		)
		if writeErr := httputil.WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:   "unavailable",
			Database: "error",
			Sweeper:  state,
			Sweeps:   stats,
		}); writeErr != nil {
			h.log.Error("failed to write JSON response", "handler", "Ready", "operation", "WriteJSON", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:   "ready",
		Database: "ok",
		Sweeper:  state,
		Sweeps:   stats,
	}); err != nil {
		h.log.Error("failed to write JSON response", "handler", "Ready", "operation", "WriteJSON", "error", err)
	}
}

func (h *HealthHandler) sweeperState() (string, *sweeper.Stats) {
	if h.sweeper == nil {
		return "", nil
	}
	stats := h.sweeper.Stats()
	if !h.sweeper.Running() {
		return "stopped", &stats
	}
	return "running", &stats
}

func (h *HealthHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}
