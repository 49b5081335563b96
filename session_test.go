package auth_test

import (
	"testing"

	auth "github.com/resmoai/resmo-auth"
	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string {
	return &s
}

func TestSessionLabel(t *testing.T) {
	tests := []struct {
		name        string
		session     auth.Session
		wantLabel   string
		wantInitial string
	}{
		{
			name:        "resolved name",
			session:     auth.Session{Identity: jane(true), ResolvedDisplayName: strPtr("jdoe")},
			wantLabel:   "jdoe",
			wantInitial: "J",
		},
		{
			name:        "pending lookup uses identity name",
			session:     auth.Session{Identity: jane(true), IsLoading: true},
			wantLabel:   "Jane Doe",
			wantInitial: "J",
		},
		{
			name:        "empty resolved name falls back",
			session:     auth.Session{Identity: auth.NewIdentity("u", "sam@example.com", "", true), ResolvedDisplayName: strPtr("")},
			wantLabel:   "sam@example.com",
			wantInitial: "S",
		},
		{
			name:        "lowercase initial is upper cased",
			session:     auth.Session{Identity: auth.NewIdentity("u", "e@example.com", "", true), ResolvedDisplayName: strPtr("élodie")},
			wantLabel:   "élodie",
			wantInitial: "É",
		},
		{
			name:        "signed out",
			session:     auth.Session{},
			wantLabel:   "User",
			wantInitial: "U",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantLabel, tt.session.Label())
			assert.Equal(t, tt.wantInitial, tt.session.Initial())
		})
	}
}

func TestSessionBasics(t *testing.T) {
	initial := auth.InitialSession()
	assert.True(t, initial.IsLoading)
	assert.False(t, initial.IsAuthenticated())
	assert.Empty(t, initial.UserID())
	assert.Equal(t, "user= name=<nil> loading=true", initial.String())

	signed := auth.Session{Identity: jane(true), ResolvedDisplayName: strPtr("jdoe")}
	assert.True(t, signed.IsAuthenticated())
	assert.Equal(t, "uid-jane", signed.UserID())
	assert.Equal(t, "user=uid-jane name=jdoe loading=false", signed.String())
}

func TestResolveDisplayName(t *testing.T) {
	identity := jane(true)

	assert.Equal(t, "jdoe", auth.ResolveDisplayName(identity, &auth.Profile{Username: "jdoe", DisplayName: "J"}, nil))
	assert.Equal(t, "J", auth.ResolveDisplayName(identity, &auth.Profile{DisplayName: "J"}, nil))
	assert.Equal(t, "", auth.ResolveDisplayName(identity, &auth.Profile{}, nil))
	assert.Equal(t, "Jane Doe", auth.ResolveDisplayName(identity, nil, auth.ErrProfileNotFound))
	assert.Equal(t, "Jane Doe", auth.ResolveDisplayName(identity, nil, nil))
	assert.Equal(t, "", auth.ResolveDisplayName(nil, nil, auth.ErrProfileNotFound))
	assert.Equal(t, "", auth.ProfileDisplayName(nil))
}

func TestGate(t *testing.T) {
	tests := []struct {
		name       string
		session    auth.Session
		protected  auth.RouteDecision
		publicPage auth.RouteDecision
	}{
		{"loading", auth.InitialSession(), auth.DecisionPending, auth.DecisionPending},
		{"signed out", auth.Session{}, auth.DecisionSignIn, auth.DecisionAllow},
		{"name pending", auth.Session{Identity: jane(true), IsLoading: true}, auth.DecisionAllow, auth.DecisionAllow},
		{"signed in", auth.Session{Identity: jane(true), ResolvedDisplayName: strPtr("jdoe")}, auth.DecisionAllow, auth.DecisionAllow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.protected, auth.Gate(tt.session))
			assert.Equal(t, tt.publicPage, auth.GatePublic(tt.session))
		})
	}

	assert.Equal(t, "pending", auth.DecisionPending.String())
	assert.Equal(t, "sign_in", auth.DecisionSignIn.String())
	assert.Equal(t, "allow", auth.DecisionAllow.String())
	assert.Equal(t, "unknown", auth.RouteDecision(42).String())
}

type customIdentity struct{}

func (customIdentity) ID() string          { return "c1" }
func (customIdentity) Email() string       { return "c@example.com" }
func (customIdentity) DisplayName() string { return "Custom" }
func (customIdentity) AvatarURL() string   { return "https://img/c.png" }
func (customIdentity) EmailVerified() bool { return true }

func TestIdentityFrom(t *testing.T) {
	_, ok := auth.IdentityFrom(nil)
	assert.False(t, ok)

	got, ok := auth.IdentityFrom(customIdentity{})
	assert.True(t, ok)
	assert.Equal(t, auth.AccountIdentity{
		UID:        "c1",
		Mail:       "c@example.com",
		Name:       "Custom",
		PhotoURL:   "https://img/c.png",
		IsVerified: true,
	}, got)

	same, ok := auth.IdentityFrom(jane(false))
	assert.True(t, ok)
	assert.Equal(t, "uid-jane", same.ID())
	assert.False(t, same.EmailVerified())
}

func TestRegistrationInputValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   auth.RegistrationInput
		wantErr bool
	}{
		{"valid", auth.RegistrationInput{Email: "jane@example.com", Password: "long-enough", Username: "jane_doe"}, false},
		{"username optional", auth.RegistrationInput{Email: "jane@example.com", Password: "long-enough"}, false},
		{"bad email", auth.RegistrationInput{Email: "jane", Password: "long-enough"}, true},
		{"short password", auth.RegistrationInput{Email: "jane@example.com", Password: "short"}, true},
		{"bad username", auth.RegistrationInput{Email: "jane@example.com", Password: "long-enough", Username: "jane doe"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}

	normalized := auth.RegistrationInput{Email: "  Jane@Example.COM ", Username: " jdoe "}.Normalize()
	assert.Equal(t, "jane@example.com", normalized.Email)
	assert.Equal(t, "jdoe", normalized.Username)
}

func TestSignInInputValidate(t *testing.T) {
	assert.NoError(t, auth.SignInInput{Email: "jane@example.com", Password: "x"}.Validate())
	assert.Error(t, auth.SignInInput{Email: "jane@example.com"}.Validate())
	assert.Error(t, auth.SignInInput{Password: "x"}.Validate())
}
