package auth

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Session is a snapshot of who is signed in.
//
// A zero Identity with IsLoading set means the first identity notification
// has not settled yet: consumers must render a placeholder, not a signed
// out view.
type Session struct {
	Identity            Identity
	ResolvedDisplayName *string
	IsLoading           bool
}

// InitialSession is the state every SessionManager starts in.
func InitialSession() Session {
	return Session{IsLoading: true}
}

// IsAuthenticated reports whether a verified identity is signed in.
func (s Session) IsAuthenticated() bool {
	return s.Identity != nil
}

// UserID returns the signed in identity id or an empty string.
func (s Session) UserID() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.ID()
}

// Label returns the name shown for the signed in user: resolved name,
// identity display name, email, then "User".
func (s Session) Label() string {
	if s.ResolvedDisplayName != nil && *s.ResolvedDisplayName != "" {
		return *s.ResolvedDisplayName
	}
	if s.Identity != nil {
		if name := firstNonEmpty(s.Identity.DisplayName(), s.Identity.Email()); name != "" {
			return name
		}
	}
	return "User"
}

// Initial returns the avatar fallback letter.
func (s Session) Initial() string {
	candidates := []string{}
	if s.ResolvedDisplayName != nil {
		candidates = append(candidates, *s.ResolvedDisplayName)
	}
	if s.Identity != nil {
		candidates = append(candidates, s.Identity.DisplayName(), s.Identity.Email())
	}
	for _, c := range candidates {
		if r, _ := utf8.DecodeRuneInString(c); r != utf8.RuneError {
			return strings.ToUpper(string(r))
		}
	}
	return "U"
}

func (s Session) String() string {
	name := "<nil>"
	if s.ResolvedDisplayName != nil {
		name = *s.ResolvedDisplayName
	}
	return fmt.Sprintf("user=%s name=%s loading=%t", s.UserID(), name, s.IsLoading)
}

// Profile holds user chosen fields stored apart from the identity provider.
type Profile struct {
	ID          string    `json:"id,omitempty"`
	Username    string    `json:"username,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Email       string    `json:"email,omitempty"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// ProfileDisplayName picks the name for a stored profile record:
// username, then stored display name, then empty.
func ProfileDisplayName(p *Profile) string {
	if p == nil {
		return ""
	}
	return firstNonEmpty(p.Username, p.DisplayName)
}

// ResolveDisplayName evaluates the display name fallback chain once for a
// settled profile lookup. err is the lookup error, if any.
func ResolveDisplayName(identity Identity, profile *Profile, err error) string {
	switch {
	case err == nil && profile != nil:
		return ProfileDisplayName(profile)
	case identity != nil:
		return identity.DisplayName()
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
