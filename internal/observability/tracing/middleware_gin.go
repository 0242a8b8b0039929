package tracing

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/pawtrack/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type MiddlewareConfig struct {
	// ErrorClassifier names the kind of the last handler error, e.g. "insufficient_balance".
	ErrorClassifier func(err error) (string, string)
	// SkipRoutes are not traced at all.
	SkipRoutes []string
}

// GinMiddleware opens one server span per request. Rejected metered writes
// (4xx) keep an ok status and carry their kind as an attribute; only 5xx
// responses mark the span as failed.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	tracer := otel.Tracer("pawtrack/http")
	skip := make(map[string]struct{}, len(cfg.SkipRoutes))
	for _, r := range cfg.SkipRoutes {
		skip[r] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.FullPath()]; ok {
			c.Next()
			return
		}

		method := strings.ToUpper(c.Request.Method)
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, spanName(method, c.FullPath()), trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		// downstream middleware may have replaced the request context
		reqCtx := c.Request.Context()
		status := c.Writer.Status()
		attrs := []attribute.KeyValue{
			attribute.String("http.method", method),
			attribute.String("http.route", routeOrUnknown(c.FullPath())),
			attribute.Int("http.status_code", status),
		}
		if requestID := obscontext.RequestIDFromContext(reqCtx); requestID != "" {
			attrs = append(attrs, attribute.String("request_id", requestID))
		}
		if kind, id := obscontext.ActorFromContext(reqCtx); id != "" {
			attrs = append(attrs, attribute.String("actor.kind", kind), attribute.String("actor.id", id))
		}

		lastErr := c.Errors.Last()
		if lastErr != nil && cfg.ErrorClassifier != nil {
			errorType, _ := cfg.ErrorClassifier(lastErr.Err)
			attrs = append(attrs, attribute.String("error.type", errorType))
		}
		span.SetName(spanName(method, c.FullPath()))
		span.SetAttributes(SafeAttributes(attrs...)...)

		if status >= http.StatusInternalServerError {
			if lastErr != nil {
				span.RecordError(SafeError(lastErr.Err))
			}
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func spanName(method, route string) string {
	return "HTTP " + method + " " + routeOrUnknown(route)
}

func routeOrUnknown(route string) string {
	if route == "" {
		return "unknown"
	}
	return route
}

// ExtractContext pulls a remote span context out of carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

var blockedAttributeKeys = map[attribute.Key]struct{}{
	"authorization":  {},
	"http.url.query": {},
	"user.email":     {},
}

// SafeAttributes removes attributes that may carry credentials or personal data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := blockedAttributeKeys[attr.Key]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError strips the error down to its message, dropping wrapped payloads.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(err.Error())
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return errors.New(msg)
}
