package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/termcast/termcast-api/src/handler/session"
)

// Build information - set via ldflags at build time
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// SystemHandler handles system-level operations
type SystemHandler struct {
	*BaseHandler
	registry *session.Manager
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(registry *session.Manager) *SystemHandler {
	return &SystemHandler{
		BaseHandler: NewBaseHandler(),
		registry:    registry,
	}
}

// HealthResponse is the response body for the health endpoint
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	GoVersion string `json:"goVersion"`
	Uptime    string `json:"uptime"`
	Sessions  int    `json:"sessions"`
} // @name HealthResponse

// HandleHealth handles GET requests to /api/health
// @Summary Health check
// @Description Liveness probe; also used by the HQ to track remote health
// @Tags system
// @Produce json
// @Success 200 {object} HealthResponse "Healthy"
// @Router /api/health [get]
func (h *SystemHandler) HandleHealth(c *gin.Context) {
	h.SendJSON(c, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   Version,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Sessions:  len(h.registry.List()),
	})
}
