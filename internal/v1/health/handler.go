// Package health serves the Kubernetes-style liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/turingden/find-the-ai/internal/v1/bus"
	"github.com/turingden/find-the-ai/internal/v1/logging"
)

// Handler manages health check endpoints.
type Handler struct {
	mirror   *bus.Mirror
	statsDir string
}

// NewHandler creates a health check handler. mirror may be nil when Redis is
// disabled; the readiness check then reports it healthy.
func NewHandler(mirror *bus.Mirror, statsDir string) *Handler {
	return &Handler{mirror: mirror, statsDir: statsDir}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. Returns 200 if the process is alive; no
// dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. Returns 200 only when every dependency
// is healthy, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{
		"redis":     h.checkRedis(ctx),
		"stats_dir": h.checkStatsDir(),
	}

	status := "ready"
	statusCode := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "unavailable"
			statusCode = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// checkRedis verifies connectivity with a PING. Single-instance deployments
// without Redis are healthy by definition.
func (h *Handler) checkRedis(ctx context.Context) string {
	if h.mirror == nil {
		return "healthy"
	}
	if err := h.mirror.Ping(ctx); err != nil {
		logging.Error(ctx, "Redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

// checkStatsDir verifies the stats directory is writable, since a finished
// game cannot persist its record otherwise.
func (h *Handler) checkStatsDir() string {
	probe := filepath.Join(h.statsDir, ".ready")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return "unhealthy"
	}
	_ = os.Remove(probe)
	return "healthy"
}
