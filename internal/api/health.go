package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const checkTimeout = 3 * time.Second

// Check is one named readiness dependency.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// HealthHandler provides liveness and readiness endpoints for the service.
//
// Responsibilities:
//   - /healthz: Basic liveness probe (always returns 200 OK).
//   - /readyz: Readiness probe running every registered Check.
type HealthHandler struct {
	checks []Check
}

// NewHealthHandler constructs a HealthHandler running checks on /readyz.
// Typical checks are the Postgres ping and a broker dial.
func NewHealthHandler(checks ...Check) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Register mounts the health and readiness endpoints into the provided Gin router.
//
// Routes:
//   - GET /healthz: Always returns 200 OK.
//   - GET /readyz: 200 when every check passes; 503 with the failing check names otherwise.
func (h *HealthHandler) Register(r *gin.Engine) {
	// @Summary      Liveness probe
	// @Description  Always returns OK if the service is running
	// @Tags         health
	// @Produce      json
	// @Success      200  {object}  map[string]string
	// @Router       /healthz [get]
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// @Summary      Readiness probe
	// @Description  Returns ready if Postgres and RabbitMQ are reachable
	// @Tags         health
	// @Produce      json
	// @Success      200  {object}  map[string]string
	// @Failure      503  {object}  map[string]any
	// @Router       /readyz [get]
	r.GET("/readyz", func(c *gin.Context) {
		if failed := h.run(c.Request.Context()); len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "failed": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}

// run executes the checks in order and returns the names of those that failed.
func (h *HealthHandler) run(ctx context.Context) []string {
	var failed []string
	for _, chk := range h.checks {
		if chk.Fn == nil {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := chk.Fn(cctx)
		cancel()
		if err != nil {
			failed = append(failed, chk.Name)
		}
	}
	return failed
}
