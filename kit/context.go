package kit

import "context"

type contextKey string

const (
	ActorKey      contextKey = "kit_actor"
	TransportKey  contextKey = "kit_transport" // "http", "mcp"
	RequestIDKey  contextKey = "kit_request_id"
	RemoteAddrKey contextKey = "kit_remote_addr"
	UserAgentKey  contextKey = "kit_user_agent"
)

func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}
func GetActor(ctx context.Context) string {
	v, _ := ctx.Value(ActorKey).(string)
	return v
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, RemoteAddrKey, addr)
}
func GetRemoteAddr(ctx context.Context) string {
	v, _ := ctx.Value(RemoteAddrKey).(string)
	return v
}

func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, UserAgentKey, ua)
}
func GetUserAgent(ctx context.Context) string {
	v, _ := ctx.Value(UserAgentKey).(string)
	return v
}

// Origin returns the caller attributes carried by ctx as a flat map, omitting
// empty values. Snapshot metadata is seeded from it.
func Origin(ctx context.Context) map[string]any {
	out := make(map[string]any, 4)
	if v := GetActor(ctx); v != "" {
		out["actor"] = v
	}
	if v := GetRemoteAddr(ctx); v != "" {
		out["ip"] = v
	}
	if v := GetUserAgent(ctx); v != "" {
		out["user_agent"] = v
	}
	if v := GetRequestID(ctx); v != "" {
		out["request_id"] = v
	}
	return out
}
