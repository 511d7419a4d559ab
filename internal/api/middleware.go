package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/modelgate/modelgate/internal/api/handlers"
	"github.com/modelgate/modelgate/internal/apierror"
	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/dispatch"
	"github.com/modelgate/modelgate/internal/ratelimit"
	"github.com/modelgate/modelgate/internal/requestlog"
)

// requestIDMiddleware assigns every request a UUID, echoed back in the
// X-Request-Id response header and used to key log lines and ring entries.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(handlers.CtxRequestID, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// requestLoggingMiddleware logs request completion and files an entry into
// the request log ring buffer, enriched with whatever dispatch metadata the
// handlers left in the context.
func requestLoggingMiddleware(logs *requestlog.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		requestID := c.GetString(handlers.CtxRequestID)

		log.Debugf("request received: %s %s (id %s, from %s)", method, path, requestID, c.ClientIP())

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start).Milliseconds()

		entry := requestlog.Entry{
			Timestamp: start.UnixMilli(),
			RequestID: requestID,
			Method:    method,
			Path:      path,
			Status:    status,
			LatencyMS: latency,
		}
		if v, ok := c.Get(handlers.CtxDispatchMeta); ok {
			if meta, isMeta := v.(dispatch.Meta); isMeta {
				entry.Provider = meta.Provider
				entry.Model = meta.Model
				entry.InputTokens = meta.InputTokens
				entry.OutputTokens = meta.OutputTokens
				entry.Cost = meta.Cost
			}
		}
		if v, ok := c.Get(handlers.CtxDispatchError); ok {
			if msg, isString := v.(string); isString {
				entry.Error = msg
			}
		}
		logs.Push(entry)

		log.Infof("request completed: %s %s -> %d in %dms (id %s)", method, path, status, latency, requestID)
	}
}

// clientAuthMiddleware enforces the inbound API key allowlist. An empty
// allowlist disables client authentication entirely.
func clientAuthMiddleware(cfg *config.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		current := cfg.Load()
		if !current.ClientAuthRequired() {
			c.Next()
			return
		}
		if !current.HasAPIKey(handlers.ClientToken(c)) {
			handlers.RenderError(c, apierror.Auth("Invalid API key"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// rateLimitMiddleware applies the global and per-key RPM limits and reports
// quota state through x-ratelimit-* response headers.
func rateLimitMiddleware(limiter *ratelimit.Limiter, cfg *config.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Load().RateLimit.Enabled {
			c.Next()
			return
		}
		info := limiter.Allow(handlers.ClientToken(c))
		if !info.Allowed {
			handlers.RenderError(c, apierror.RateLimited(fmt.Sprintf("Rate limit exceeded. Retry after %ds", info.ResetSecs)))
			c.Abort()
			return
		}
		if info.Limit > 0 {
			c.Header("x-ratelimit-limit", strconv.Itoa(info.Limit))
			c.Header("x-ratelimit-remaining", strconv.Itoa(info.Remaining))
			c.Header("x-ratelimit-reset", strconv.FormatInt(info.ResetSecs, 10))
		}
		c.Next()
	}
}

// bodyLimitMiddleware rejects oversized request bodies. Requests that
// declare an oversized Content-Length fail fast with 413; bodies without a
// declared length are capped while the handler reads them.
func bodyLimitMiddleware(cfg *config.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limitMB := cfg.Load().BodyLimitMB
		if limitMB <= 0 {
			c.Next()
			return
		}
		limit := int64(limitMB) * 1024 * 1024
		if c.Request.ContentLength > limit {
			c.Set(handlers.CtxDispatchError, "request body too large")
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": gin.H{
				"message": fmt.Sprintf("request body exceeds %dMB limit", limitMB),
				"type":    "invalid_request_error",
				"code":    "request_too_large",
			}})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// corsMiddleware adds permissive CORS headers; preflights short-circuit.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Api-Key, X-Debug")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
