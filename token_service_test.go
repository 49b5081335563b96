package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/resmoai/resmo-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenConfig struct {
	key      string
	minutes  int
	issuer   string
	audience []string
}

func (c tokenConfig) GetSigningKey() string   { return c.key }
func (c tokenConfig) GetTokenExpiration() int { return c.minutes }
func (c tokenConfig) GetIssuer() string       { return c.issuer }
func (c tokenConfig) GetAudience() []string   { return c.audience }

var testSigningKey = []byte("test-signing-key-with-enough-bytes")

func newTokenService(now *time.Time) *auth.TokenServiceImpl {
	ts := auth.NewTokenService(testSigningKey, time.Hour, "resmo", jwt.ClaimStrings{"resmo-backend"}, nil)
	if now != nil {
		ts.WithClock(func() time.Time { return *now })
	}
	return ts
}

func TestTokenServiceMintAndValidate(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	ts := newTokenService(&now)

	identity := auth.AccountIdentity{
		UID:        "uid-jane",
		Mail:       "jane@example.com",
		Name:       "Jane Doe",
		PhotoURL:   "https://img/jane.png",
		IsVerified: true,
	}

	token, expiresAt, err := ts.Mint(identity)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, now.Add(time.Hour), expiresAt)

	claims, err := ts.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "uid-jane", claims.UserID())
	assert.Equal(t, "uid-jane", claims.Subject)
	assert.Equal(t, "resmo", claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{"resmo-backend"}, claims.Audience)
	assert.NotEmpty(t, claims.ID)
	assert.True(t, claims.Expires().Equal(expiresAt))

	assert.Equal(t, identity, claims.Identity())
}

func TestTokenServiceMintsFreshTokens(t *testing.T) {
	ts := newTokenService(nil)
	identity := jane(true)

	first, err := ts.Token(context.Background(), identity)
	require.NoError(t, err)
	second, err := ts.Token(context.Background(), identity)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestTokenServiceRejectsNilIdentity(t *testing.T) {
	_, _, err := newTokenService(nil).Mint(nil)
	assert.Error(t, err)
}

func TestTokenServiceTokenHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTokenService(nil).Token(ctx, jane(true))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenServiceExpired(t *testing.T) {
	now := time.Now()
	ts := newTokenService(&now)

	token, _, err := ts.Mint(jane(true))
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = ts.Validate(token)
	require.Error(t, err)
	assert.True(t, auth.IsTokenExpiredError(err))
}

func TestTokenServiceRejectsForeignTokens(t *testing.T) {
	token, _, err := newTokenService(nil).Mint(jane(true))
	require.NoError(t, err)

	tests := []struct {
		name string
		ts   *auth.TokenServiceImpl
	}{
		{"other key", auth.NewTokenService([]byte("another-signing-key-entirely-1234"), time.Hour, "resmo", jwt.ClaimStrings{"resmo-backend"}, nil)},
		{"other issuer", auth.NewTokenService(testSigningKey, time.Hour, "someone-else", jwt.ClaimStrings{"resmo-backend"}, nil)},
		{"other audience", auth.NewTokenService(testSigningKey, time.Hour, "resmo", jwt.ClaimStrings{"billing"}, nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.ts.Validate(token)
			require.Error(t, err)
			assert.False(t, auth.IsTokenExpiredError(err))
		})
	}

	_, err = newTokenService(nil).Validate("not.a.token")
	assert.Error(t, err)
}

func TestNewTokenServiceFromConfig(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	ts := auth.NewTokenServiceFromConfig(tokenConfig{
		key:      string(testSigningKey),
		minutes:  15,
		issuer:   "resmo",
		audience: []string{"resmo-backend"},
	}, nil).WithClock(func() time.Time { return now })

	_, expiresAt, err := ts.Mint(jane(true))
	require.NoError(t, err)
	assert.Equal(t, now.Add(15*time.Minute), expiresAt)
}

func TestIdentityClaimsFallbacks(t *testing.T) {
	claims := &auth.IdentityClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-1"}}
	assert.Equal(t, "sub-1", claims.UserID())
	assert.True(t, claims.Expires().IsZero())
	assert.Equal(t, "sub-1", claims.Identity().ID())
}

func TestTokenServiceMultipleAudiences(t *testing.T) {
	issuer := auth.NewTokenService(testSigningKey, time.Hour, "resmo", jwt.ClaimStrings{"resmo-backend", "worker"}, nil)
	token, _, err := issuer.Mint(jane(true))
	require.NoError(t, err)

	claims, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, jwt.ClaimStrings{"resmo-backend", "worker"}, claims.Audience)

	tests := []struct {
		name     string
		audience jwt.ClaimStrings
		wantErr  bool
	}{
		{"one matching audience", jwt.ClaimStrings{"worker"}, false},
		{"any of several", jwt.ClaimStrings{"billing", "resmo-backend"}, false},
		{"no audience configured", nil, false},
		{"none matching", jwt.ClaimStrings{"billing", "reports"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator := auth.NewTokenService(testSigningKey, time.Hour, "resmo", tt.audience, nil)
			_, err := validator.Validate(token)
			if tt.wantErr {
				assert.ErrorIs(t, err, jwt.ErrTokenInvalidAudience)
				return
			}
			assert.NoError(t, err)
		})
	}
}
