package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/pawtrack/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-Id"

// MiddlewareConfig controls request logging.
type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier maps the last handler error to (type, code) log fields.
	ErrorClassifier func(err error) (string, string)
	// ContextKeys are gin context values copied onto the log line when set,
	// e.g. the ledger category a metered handler charged.
	ContextKeys []string
	// QuietRoutes log at debug level.
	QuietRoutes []string
}

// GinMiddleware assigns request and correlation ids and logs one line per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	quiet := make(map[string]struct{}, len(cfg.QuietRoutes))
	for _, r := range cfg.QuietRoutes {
		quiet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx = obscontext.WithCorrelationID(ctx, c.GetHeader(obscontext.CorrelationHeader))
		ctx, cid := obscontext.EnsureCorrelationID(ctx)
		c.Header(obscontext.CorrelationHeader, cid)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		for _, key := range cfg.ContextKeys {
			if v := strings.TrimSpace(c.GetString(key)); v != "" {
				fields = append(fields, zap.String(key, v))
			}
		}
		if lastErr := c.Errors.Last(); lastErr != nil && cfg.ErrorClassifier != nil {
			errorType, errorCode := cfg.ErrorClassifier(lastErr.Err)
			fields = append(fields, zap.String("error_type", errorType), zap.String("error_code", errorCode))
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		level := zapcore.InfoLevel
		switch _, isQuiet := quiet[route]; {
		case isQuiet:
			level = zapcore.DebugLevel
		case status >= http.StatusInternalServerError:
			level = zapcore.ErrorLevel
		}
		if ce := FromContext(c.Request.Context()).Check(level, "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}
