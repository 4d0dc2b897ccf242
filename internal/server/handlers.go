package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jujuci/bundleverify/internal/cache"
	"github.com/jujuci/bundleverify/internal/observability"
)

// HealthConfig holds the inputs for the health handler.
type HealthConfig struct {
	// WatchInterval is the verification interval; a report older than twice
	// this is considered stale.
	WatchInterval time.Duration
	StartTime     time.Time
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	// BreakerState, when set, reports the juju client breaker state string.
	BreakerState func() string
}

// Handler serves the verification report surface for serve mode.
type Handler struct {
	store        cache.ReportCache
	model        string
	healthConfig *HealthConfig
	logger       *zap.Logger

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler reading reports for model from store.
func NewHandler(store cache.ReportCache, model string, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	return &Handler{
		store:        store,
		model:        model,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// NewRouter wires the middleware and routes for serve mode.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.Use(RateLimitMiddleware(limiter))
	router.HandleFunc("/report", h.GetReport).Methods("GET")
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	return router
}

// GetReport handles GET /report.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	report, ok, err := h.store.Get(r.Context(), h.model)
	if err != nil {
		observability.ReportCacheErrorsTotal.WithLabelValues("get").Inc()
		writeError(w, r, http.StatusServiceUnavailable, "REPORT_UNAVAILABLE", "report cache unreachable")
		return
	}
	if !ok {
		writeError(w, r, http.StatusServiceUnavailable, "NO_REPORT", "no verification run has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health. Degraded means the daemon is up but the
// latest verification failed or is stale.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r)

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	checks["verification"] = "healthy"
	if result.status == "degraded" {
		checks["verification"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	if h.healthConfig != nil && h.healthConfig.BreakerState != nil {
		checks["jujuBreaker"] = h.healthConfig.BreakerState()
	}

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "bundleverify",
		"model":     h.model,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if result.reason != "" {
		resp["reason"] = result.reason
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) computeHealthStatus(r *http.Request) healthResult {
	report, ok, err := h.store.Get(r.Context(), h.model)
	if err != nil {
		return healthResult{status: "degraded", statusCode: http.StatusServiceUnavailable, reason: "report cache unreachable"}
	}
	if !ok {
		// No run yet. Healthy during the first interval after startup,
		// degraded once a run should have landed.
		if h.healthConfig != nil && time.Since(h.healthConfig.StartTime) > h.healthConfig.WatchInterval {
			return healthResult{status: "degraded", statusCode: http.StatusServiceUnavailable, reason: "no verification run has completed"}
		}
		return healthResult{status: "ok", statusCode: http.StatusOK}
	}
	if h.healthConfig != nil && time.Since(report.FinishedAt) > 2*h.healthConfig.WatchInterval {
		return healthResult{status: "degraded", statusCode: http.StatusServiceUnavailable, reason: "latest report is stale"}
	}
	if !report.OK() {
		return healthResult{status: "degraded", statusCode: http.StatusServiceUnavailable, reason: "latest verification failed"}
	}
	return healthResult{status: "ok", statusCode: http.StatusOK}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}
