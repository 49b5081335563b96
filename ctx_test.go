package auth_test

import (
	"context"
	"testing"

	auth "github.com/resmoai/resmo-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionFromContextEmpty(t *testing.T) {
	_, ok := auth.SessionFromContext(context.Background())
	assert.False(t, ok)

	_, ok = auth.IdentityFromContext(context.Background())
	assert.False(t, ok)

	_, ok = auth.SessionManagerFromContext(context.Background())
	assert.False(t, ok)
}

func TestSessionFromContextSnapshot(t *testing.T) {
	ctx := auth.WithSession(context.Background(), auth.Session{Identity: jane(true)})

	s, ok := auth.SessionFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "uid-jane", s.UserID())

	identity, ok := auth.IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "jane@example.com", identity.Email())
}

func TestSessionFromContextSignedOut(t *testing.T) {
	ctx := auth.WithSession(context.Background(), auth.Session{})

	_, ok := auth.SessionFromContext(ctx)
	assert.True(t, ok)

	_, ok = auth.IdentityFromContext(ctx)
	assert.False(t, ok)
}

func TestSessionFromContextFallsBackToManager(t *testing.T) {
	manager := auth.NewSessionManager(&fakeProvider{}, nil)
	ctx := auth.WithSessionManager(context.Background(), manager)

	got, ok := auth.SessionManagerFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, manager, got)

	s, ok := auth.SessionFromContext(ctx)
	require.True(t, ok)
	assert.True(t, s.IsLoading)

	ctx = auth.WithSession(ctx, auth.Session{Identity: jane(true)})
	s, ok = auth.SessionFromContext(ctx)
	require.True(t, ok)
	assert.False(t, s.IsLoading)
	assert.Equal(t, "uid-jane", s.UserID())
}

func TestWithNilSessionManager(t *testing.T) {
	ctx := auth.WithSessionManager(context.Background(), nil)
	_, ok := auth.SessionManagerFromContext(ctx)
	assert.False(t, ok)
}
