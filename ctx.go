package auth

import "context"

var managerCtxKey = &contextKey{"session_manager"}
var sessionCtxKey = &contextKey{"session"}

type contextKey struct {
	name string
}

// WithSessionManager sets the SessionManager in the given context
func WithSessionManager(ctx context.Context, m *SessionManager) context.Context {
	return context.WithValue(ctx, managerCtxKey, m)
}

// SessionManagerFromContext finds the SessionManager in the context.
func SessionManagerFromContext(ctx context.Context) (*SessionManager, bool) {
	m, ok := ctx.Value(managerCtxKey).(*SessionManager)
	return m, ok && m != nil
}

// WithSession stores a session snapshot in the context
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey, s)
}

// SessionFromContext returns the snapshot stored with WithSession, falling
// back to the current state of a SessionManager stored in ctx.
func SessionFromContext(ctx context.Context) (Session, bool) {
	if s, ok := ctx.Value(sessionCtxKey).(Session); ok {
		return s, true
	}
	if m, ok := SessionManagerFromContext(ctx); ok {
		return m.CurrentState(), true
	}
	return Session{}, false
}

// IdentityFromContext returns the signed in identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	s, ok := SessionFromContext(ctx)
	if !ok || s.Identity == nil {
		return nil, false
	}
	return s.Identity, true
}
