package auditcontext

import "context"

type actorKey struct{}
type ipKey struct{}
type userAgentKey struct{}
type requestIDKey struct{}

type actor struct {
	Type string
	ID   string
}

const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// WithActor records who performed the action in this context.
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{Type: actorType, ID: actorID})
}

// ActorFromContext returns the acting principal. Background jobs that never
// set an actor resolve to the system actor.
func ActorFromContext(ctx context.Context) (string, string) {
	a, ok := ctx.Value(actorKey{}).(actor)
	if !ok {
		return ActorTypeSystem, "system"
	}
	return a.Type, a.ID
}

func WithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipKey{}, ip)
}

func IPAddressFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ipKey{}).(string)
	return ip
}

func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, ua)
}

func UserAgentFromContext(ctx context.Context) string {
	ua, _ := ctx.Value(userAgentKey{}).(string)
	return ua
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
