package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/goliatone/go-errors"
)

// TokenService mints and validates id tokens for identities.
type TokenService interface {
	TokenSource
	Mint(identity Identity) (string, time.Time, error)
	Validate(tokenString string) (*IdentityClaims, error)
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey []byte
	ttl        time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	logger     Logger
	now        func() time.Time
}

// NewTokenService creates a new TokenService instance
func NewTokenService(signingKey []byte, ttl time.Duration, issuer string, audience jwt.ClaimStrings, logger Logger) *TokenServiceImpl {
	if logger == nil {
		logger = defLogger{}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenServiceImpl{
		signingKey: signingKey,
		ttl:        ttl,
		issuer:     issuer,
		audience:   audience,
		logger:     logger,
		now:        time.Now,
	}
}

// NewTokenServiceFromConfig builds a TokenService from Config getters.
// GetTokenExpiration is expressed in minutes.
func NewTokenServiceFromConfig(cfg Config, logger Logger) *TokenServiceImpl {
	return NewTokenService(
		[]byte(cfg.GetSigningKey()),
		time.Duration(cfg.GetTokenExpiration())*time.Minute,
		cfg.GetIssuer(),
		cfg.GetAudience(),
		logger,
	)
}

// Token implements TokenSource. Every call mints a new token.
func (ts *TokenServiceImpl) Token(ctx context.Context, identity Identity) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	token, _, err := ts.Mint(identity)
	return token, err
}

// Mint signs a fresh id token for identity.
func (ts *TokenServiceImpl) Mint(identity Identity) (string, time.Time, error) {
	if identity == nil {
		return "", time.Time{}, errors.New("identity is required", errors.CategoryBadInput)
	}

	now := ts.now()
	expiresAt := now.Add(ts.ttl)

	var aud jwt.ClaimStrings
	if len(ts.audience) > 0 {
		aud = make(jwt.ClaimStrings, len(ts.audience))
		copy(aud, ts.audience)
	}

	claims := &IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   identity.ID(),
			Audience:  aud,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UID:           identity.ID(),
		Email:         identity.Email(),
		EmailVerified: identity.EmailVerified(),
		Name:          identity.DisplayName(),
		Picture:       identity.AvatarURL(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, errors.CategoryInternal, "failed to sign id token")
	}

	return signed, expiresAt, nil
}

// Validate parses and validates a token string, returning its claims
func (ts *TokenServiceImpl) Validate(tokenString string) (*IdentityClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 2)
	parserOptions = append(parserOptions, jwt.WithTimeFunc(ts.now))
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService validate encountered unexpected signing method %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).WithTextCode(ErrTokenMalformed.TextCode)
	}

	if claims, ok := token.Claims.(*IdentityClaims); ok && token.Valid {
		if !ts.audienceAllowed(claims.Audience) {
			return nil, errors.Wrap(jwt.ErrTokenInvalidAudience, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
				WithTextCode(ErrTokenMalformed.TextCode)
		}
		return claims, nil
	}

	ts.logger.Error("TokenService validate could not decode claims")
	return nil, ErrTokenMalformed
}

// audienceAllowed accepts a token naming any of the configured audiences.
// An empty configuration accepts every token.
func (ts *TokenServiceImpl) audienceAllowed(aud jwt.ClaimStrings) bool {
	if len(ts.audience) == 0 {
		return true
	}
	for _, want := range ts.audience {
		for _, got := range aud {
			if got == want {
				return true
			}
		}
	}
	return false
}

// WithClock overrides the clock used for issuing and validating tokens.
func (ts *TokenServiceImpl) WithClock(now func() time.Time) *TokenServiceImpl {
	if now != nil {
		ts.now = now
	}
	return ts
}
