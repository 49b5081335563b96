package auth

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Identity holds the attributes of an external identity record.
// Implementations are owned by the identity provider and treated as
// read only by consumers.
type Identity interface {
	ID() string
	Email() string
	DisplayName() string
	AvatarURL() string
	EmailVerified() bool
}

// IdentityListener receives identity change notifications. A nil identity
// means nobody is signed in.
type IdentityListener func(identity Identity)

// Subscription is the handle returned by an IdentityProvider.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a function to the Subscription interface.
type SubscriptionFunc func()

// Unsubscribe implements Subscription.
func (f SubscriptionFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}

// IdentityProvider delivers identity changes, any number of times, until the
// returned Subscription is released.
type IdentityProvider interface {
	Subscribe(ctx context.Context, listener IdentityListener) (Subscription, error)
}

// ProfileStore resolves supplementary profile fields for an identity.
// Lookup returns ErrProfileNotFound when no record exists.
type ProfileStore interface {
	Lookup(ctx context.Context, id string) (*Profile, error)
}

// ProfileStoreFunc adapts a function to the ProfileStore interface.
type ProfileStoreFunc func(ctx context.Context, id string) (*Profile, error)

// Lookup implements ProfileStore.
func (f ProfileStoreFunc) Lookup(ctx context.Context, id string) (*Profile, error) {
	if f == nil {
		return nil, ErrProfileNotFound
	}
	return f(ctx, id)
}

// TokenSource mints a bearer credential for an identity. Tokens are minted
// on every call and never cached.
type TokenSource interface {
	Token(ctx context.Context, identity Identity) (string, error)
}

// Config holds token options
type Config interface {
	GetSigningKey() string
	GetTokenExpiration() int
	GetIssuer() string
	GetAudience() []string
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

// DefaultLogger returns the logger used when none is configured.
func DefaultLogger() Logger {
	return defLogger{}
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
