package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-engine-api/internal/service"
)

// ReadinessCheck pings one backing dependency.
type ReadinessCheck func(ctx context.Context) error

// ErrDegraded marks a failed check on a dependency the service can run without.
var ErrDegraded = errors.New("degraded")

// Degraded returns a check that always reports reason as degraded.
func Degraded(reason string) ReadinessCheck {
	err := fmt.Errorf("%w: %s", ErrDegraded, reason)
	return func(context.Context) error { return err }
}

// MetricsHandler exposes observability endpoints.
type MetricsHandler struct {
	metrics *service.MetricsService
	checks  map[string]ReadinessCheck
	timeout time.Duration
}

// NewMetricsHandler constructs a metrics handler. Checks are run by Ready.
func NewMetricsHandler(metrics *service.MetricsService, checks map[string]ReadinessCheck) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, checks: checks, timeout: 2 * time.Second}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health godoc
// @Summary Liveness check
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready godoc
// @Summary Readiness check
// @Description Pings the database and, when enabled, Redis. A Redis that was unreachable at startup is reported as degraded.
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /ready [get]
func (h *MetricsHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	degraded := false
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		err := check(ctx)
		switch {
		case err == nil:
			results[name] = "ok"
		case errors.Is(err, ErrDegraded):
			results[name] = err.Error()
			degraded = true
		default:
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	state := "ready"
	switch {
	case status != http.StatusOK:
		state = "unavailable"
	case degraded:
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": results})
}
