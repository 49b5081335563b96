package auth

// AccountIdentity is a plain Identity value. Providers that do not carry
// their own record type can hand these out.
type AccountIdentity struct {
	UID        string `json:"uid"`
	Mail       string `json:"email"`
	Name       string `json:"display_name,omitempty"`
	PhotoURL   string `json:"avatar_url,omitempty"`
	IsVerified bool   `json:"email_verified"`
}

var _ Identity = AccountIdentity{}

// NewIdentity returns an Identity adapter for the provided fields.
func NewIdentity(id, email, displayName string, verified bool) Identity {
	return AccountIdentity{
		UID:        id,
		Mail:       email,
		Name:       displayName,
		IsVerified: verified,
	}
}

// IdentityFrom copies any Identity into an AccountIdentity.
func IdentityFrom(identity Identity) (AccountIdentity, bool) {
	if identity == nil {
		return AccountIdentity{}, false
	}
	if a, ok := identity.(AccountIdentity); ok {
		return a, true
	}
	return AccountIdentity{
		UID:        identity.ID(),
		Mail:       identity.Email(),
		Name:       identity.DisplayName(),
		PhotoURL:   identity.AvatarURL(),
		IsVerified: identity.EmailVerified(),
	}, true
}

// ID returns the external identity id.
func (a AccountIdentity) ID() string {
	return a.UID
}

// Email returns the account email address.
func (a AccountIdentity) Email() string {
	return a.Mail
}

// DisplayName returns the provider display name.
func (a AccountIdentity) DisplayName() string {
	return a.Name
}

// AvatarURL returns the avatar URL, if any.
func (a AccountIdentity) AvatarURL() string {
	return a.PhotoURL
}

// EmailVerified reports the provider's verification flag.
func (a AccountIdentity) EmailVerified() bool {
	return a.IsVerified
}
