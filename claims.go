package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityClaims are the claims carried by id tokens minted for an identity.
// The backend reads uid from them.
type IdentityClaims struct {
	jwt.RegisteredClaims
	UID           string `json:"uid,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
}

// UserID returns the identity id
func (c *IdentityClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.RegisteredClaims.Subject
}

// Expires returns the expiration time
func (c *IdentityClaims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Identity rebuilds the identity the token was minted for.
func (c *IdentityClaims) Identity() Identity {
	return AccountIdentity{
		UID:        c.UserID(),
		Mail:       c.Email,
		Name:       c.Name,
		PhotoURL:   c.Picture,
		IsVerified: c.EmailVerified,
	}
}
