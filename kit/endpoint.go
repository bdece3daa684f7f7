// Package kit holds the transport-neutral plumbing shared by the recsnap
// surfaces: request-scoped context values and the endpoint/middleware shape
// used to expose operations as MCP tools.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is a transport-agnostic operation.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware decorates an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so that the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs every call at debug level and failures at warn level.
func Logging(logger *slog.Logger, name string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			if err != nil {
				logger.Warn("kit: endpoint failed", "endpoint", name, "transport", GetTransport(ctx),
					"duration", time.Since(start), "error", err)
				return resp, err
			}
			logger.Debug("kit: endpoint", "endpoint", name, "transport", GetTransport(ctx),
				"duration", time.Since(start))
			return resp, nil
		}
	}
}
