// Package context carries request-scoped identifiers that logs, spans and
// ledger metadata pick up along the way.
package context

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

// CorrelationHeader is echoed back on every response so clients can quote it
// when reporting a failed write.
const CorrelationHeader = "X-Correlation-Id"

type (
	requestIDKey    struct{}
	correlationKey  struct{}
	actorKey        struct{}
	meteredWriteKey struct{}
)

type actor struct {
	kind string
	id   string
}

// MeteredWrite identifies the metered operation a context is running.
type MeteredWrite struct {
	Action         string
	IdempotencyKey string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withString(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, requestIDKey{})
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return withString(ctx, correlationKey{}, id)
}

func CorrelationIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, correlationKey{})
}

// EnsureCorrelationID keeps an inbound id or mints a ULID.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if cid := CorrelationIDFromContext(ctx); cid != "" {
		return ctx, cid
	}
	cid := ulid.Make().String()
	return WithCorrelationID(ctx, cid), cid
}

// WithActor records who the request runs on behalf of (kind is "user" or "admin").
func WithActor(ctx context.Context, kind, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor{kind: kind, id: id})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	if v, ok := ctx.Value(actorKey{}).(actor); ok {
		return v.kind, v.id
	}
	return "", ""
}

func WithMeteredWrite(ctx context.Context, action, idempotencyKey string) context.Context {
	return context.WithValue(ctx, meteredWriteKey{}, MeteredWrite{
		Action:         action,
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
	})
}

func MeteredWriteFromContext(ctx context.Context) (MeteredWrite, bool) {
	if ctx == nil {
		return MeteredWrite{}, false
	}
	mw, ok := ctx.Value(meteredWriteKey{}).(MeteredWrite)
	return mw, ok
}

func withString(ctx context.Context, key any, value string) context.Context {
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
