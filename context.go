package callstream

import "context"

type sessionContextKey struct{}

func withSession(ctx context.Context, s *CallSession) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext returns the CallSession a business function is running
// under. Every context the engine passes to a business function carries its
// session; for any other context this returns nil.
func SessionFromContext(ctx context.Context) *CallSession {
	s, _ := ctx.Value(sessionContextKey{}).(*CallSession)
	return s
}
