package internal

import (
	"context"
	"time"
)

type ctxKey string

const ContextActorKey ctxKey = "actor"

// ActorFromContext returns the acting principal recorded for audit purposes,
// or "system" when the call did not come through the API layer.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return "system"
	}
	if actor, ok := ctx.Value(ContextActorKey).(string); ok && actor != "" {
		return actor
	}
	return "system"
}

func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ContextActorKey, actor)
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
