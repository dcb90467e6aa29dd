package util

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	clientContextKey    contextKey = "client"
	requestIDContextKey contextKey = "requestID"
)

func NewContext(ctx context.Context, client string) context.Context {
	ctx = context.WithValue(ctx, clientContextKey, client)
	return context.WithValue(ctx, requestIDContextKey, uuid.NewString())
}

// GetClientFromContext returns the client id stored in ctx, if any.
func GetClientFromContext(ctx context.Context) string {
	if client := ctx.Value(clientContextKey); client != nil {
		//nolint:errcheck // ignore error
		return client.(string)
	}

	return ""
}

// GetRequestIDFromContext returns the request id stamped by NewContext, for
// correlating a request's log lines. Empty if ctx wasn't built by NewContext.
func GetRequestIDFromContext(ctx context.Context) string {
	if id := ctx.Value(requestIDContextKey); id != nil {
		//nolint:errcheck // ignore error
		return id.(string)
	}

	return ""
}
