package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger writes one slog record per request. Request headers are logged at
// debug level with credentials masked.
func Logger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		if log.Enabled(c.Request.Context(), slog.LevelDebug) {
			for key, values := range c.Request.Header {
				for _, value := range values {
					log.Debug("header", slog.String("key", key), slog.String("value", maskHeader(key, value)))
				}
			}
		}

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		}
		if c.Writer.Header().Get(NewTokenHeader) != "" {
			attrs = append(attrs, slog.Bool("token_refreshed", true))
		}

		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request completed", attrs...)
		case status >= http.StatusBadRequest:
			log.Warn("request completed", attrs...)
		default:
			log.Info("request completed", attrs...)
		}
	}
}

// Recovery turns a panic into a generic 500 and logs it.
func Recovery(log *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, p any) {
		log.Error("recovered from panic", slog.Any("panic", p), slog.String("path", c.Request.URL.Path))
		ServerError(c)
	})
}

var sensitiveHeaders = map[string]bool{
	"authorization":      true,
	"cookie":             true,
	"x-new-access-token": true,
}

func maskHeader(key, value string) string {
	if !sensitiveHeaders[strings.ToLower(key)] {
		return value
	}
	return mask(value)
}

func mask(value string) string {
	if len(value) > 4 {
		return value[:1] + "****" + value[len(value)-1:]
	}
	return "****"
}
