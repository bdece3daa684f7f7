package shield

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/hazyhaar/recsnap/idgen"
	"github.com/hazyhaar/recsnap/kit"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// ActorHeader names the caller on behalf of whom the request is made.
const ActorHeader = "X-Actor"

// RequestContext returns middleware that records the request origin in the
// context (request id, remote address, user agent, actor) and attaches a
// per-request logger. An incoming X-Request-ID is kept; otherwise one is
// generated and echoed back.
func RequestContext(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = idgen.New()
			}
			w.Header().Set(RequestIDHeader, id)

			ctx := kit.WithTransport(r.Context(), "http")
			ctx = kit.WithRequestID(ctx, id)
			ctx = kit.WithRemoteAddr(ctx, remoteHost(r.RemoteAddr))
			if ua := r.UserAgent(); ua != "" {
				ctx = kit.WithUserAgent(ctx, ua)
			}
			if actor := r.Header.Get(ActorHeader); actor != "" {
				ctx = kit.WithActor(ctx, actor)
			}

			reqLogger := logger.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx = context.WithValue(ctx, LoggerKey, reqLogger)
			reqLogger.Debug("request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
