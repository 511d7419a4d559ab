// Package management implements the key-guarded operations endpoints:
// aggregate usage and the request log ring buffer.
package management

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/modelgate/modelgate/internal/api/handlers"
	"github.com/modelgate/modelgate/internal/apierror"
	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/requestlog"
)

// Handler serves the /v0/management routes.
type Handler struct {
	cfg     *config.Store
	metrics *metrics.Metrics
	logs    *requestlog.Store
}

// NewHandler creates the management handler.
func NewHandler(cfg *config.Store, m *metrics.Metrics, logs *requestlog.Store) *Handler {
	return &Handler{cfg: cfg, metrics: m, logs: logs}
}

// Middleware guards the management routes. With no management keys
// configured the surface is hidden entirely (404); otherwise the caller must
// present a listed key.
func (h *Handler) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := h.cfg.Load()
		if len(cfg.ManagementKeys) == 0 {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		if !cfg.HasManagementKey(handlers.ClientToken(c)) {
			handlers.RenderError(c, apierror.Auth("Invalid management key"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUsage handles GET /v0/management/usage: the full metrics snapshot.
func (h *Handler) GetUsage(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// GetRequestLogs handles GET /v0/management/request-logs. Query parameters:
// page, page_size, provider, model, status (class like "5xx" or exact code),
// from, to (unix milliseconds).
func (h *Handler) GetRequestLogs(c *gin.Context) {
	q := requestlog.Query{
		Page:     intQuery(c, "page"),
		PageSize: intQuery(c, "page_size"),
		Provider: c.Query("provider"),
		Model:    c.Query("model"),
		Status:   c.Query("status"),
		From:     int64Query(c, "from"),
		To:       int64Query(c, "to"),
	}
	c.JSON(http.StatusOK, h.logs.Query(q))
}

// GetRequestLogStats handles GET /v0/management/request-logs/stats.
func (h *Handler) GetRequestLogStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.logs.Stats())
}

func intQuery(c *gin.Context, name string) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return n
}

func int64Query(c *gin.Context, name string) int64 {
	n, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
