package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// health reports liveness and the server version.
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": Version,
	})
}

// metricsSnapshot returns the aggregated usage counters.
func (s *Server) metricsSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

// adminConfig returns a sanitized view of the live configuration. Secrets
// are reported as counts, never as values. Nested sections keep the config
// file's kebab-case keys.
func (s *Server) adminConfig(c *gin.Context) {
	cfg := s.cfg.Load()
	c.JSON(http.StatusOK, gin.H{
		"host": cfg.Host,
		"port": cfg.Port,
		"tls": gin.H{
			"enable": cfg.TLS.Enable,
		},
		"api_keys_count": len(cfg.APIKeys),
		"routing": gin.H{
			"strategy": cfg.Routing.Strategy,
		},
		"retry": gin.H{
			"max-retries":           cfg.Retry.MaxRetries,
			"max-backoff-secs":      cfg.Retry.MaxBackoffSecs,
			"cooldown-429-secs":     cfg.Retry.Cooldown429Secs,
			"cooldown-5xx-secs":     cfg.Retry.Cooldown5xxSecs,
			"cooldown-network-secs": cfg.Retry.CooldownNetworkSecs,
		},
		"body_limit_mb": cfg.BodyLimitMB,
		"streaming": gin.H{
			"keepalive-seconds": cfg.Streaming.KeepaliveSeconds,
			"bootstrap-retries": cfg.Streaming.BootstrapRetries,
		},
		"connect_timeout":   cfg.ConnectTimeout,
		"request_timeout":   cfg.RequestTimeout,
		"claude_keys_count": len(cfg.ClaudeKeys),
		"openai_keys_count": len(cfg.OpenAIKeys),
		"gemini_keys_count": len(cfg.GeminiKeys),
		"compat_keys_count": len(cfg.OpenAICompat),
	})
}

// adminModels lists every model the credential pools currently serve.
func (s *Server) adminModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models": s.router.AllModels(),
	})
}
