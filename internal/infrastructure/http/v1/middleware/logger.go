package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"shopfiscal/pkg/logger"
)

// Logger writes one access line per request. Health probes log at debug level.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		kv := []any{
			"method", c.Request.Method,
			"route", c.FullPath(),
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if orgID, ok := GetOrgID(c); ok {
			kv = append(kv, "org_id", orgID.String())
		}
		if len(c.Errors) > 0 {
			kv = append(kv, "errors", c.Errors.String())
		}

		entry := log.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			entry.Warnw("http request", kv...)
		case strings.HasPrefix(c.Request.URL.Path, "/health/"):
			entry.Debugw("http request", kv...)
		default:
			entry.Infow("http request", kv...)
		}
	}
}
