// Package local provides an in-process identity provider. Accounts live in
// memory; sign in, sign out, registration and verification are reported to
// subscribers the same way a hosted identity service reports them.
package local

import (
	"context"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	auth "github.com/resmoai/resmo-auth"
)

// ErrEmailTaken is returned when registering an email that already exists.
var ErrEmailTaken = goerrors.New("email already registered", goerrors.CategoryConflict).
	WithTextCode("EMAIL_TAKEN").
	WithCode(goerrors.CodeConflict)

// ErrInvalidVerificationCode is returned by VerifyEmail for a wrong code.
var ErrInvalidVerificationCode = goerrors.New("invalid verification code", goerrors.CategoryValidation).
	WithTextCode("INVALID_VERIFICATION_CODE").
	WithCode(goerrors.CodeBadRequest)

// ProfileWriter persists the profile record written at registration.
type ProfileWriter interface {
	SaveProfile(ctx context.Context, profile *auth.Profile) error
}

// Option customizes the provider.
type Option func(*Provider)

// WithTokenService sets the service minting id tokens.
func WithTokenService(ts auth.TokenService) Option {
	return func(p *Provider) {
		if ts != nil {
			p.tokens = ts
		}
	}
}

// WithProfileWriter sets where registration profiles are written.
func WithProfileWriter(w ProfileWriter) Option {
	return func(p *Provider) {
		p.profiles = w
	}
}

// WithLogger overrides the provider logger.
func WithLogger(logger auth.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock injects a custom clock.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

type account struct {
	identity auth.AccountIdentity
	hash     string
	code     string
}

// Provider is an in-memory auth.IdentityProvider.
type Provider struct {
	mu          sync.Mutex
	accounts    map[string]*account
	byEmail     map[string]string
	current     string
	subscribers map[uint64]*subscriber
	nextSubID   uint64

	tokens   auth.TokenService
	profiles ProfileWriter
	logger   auth.Logger
	now      func() time.Time
}

var _ auth.IdentityProvider = (*Provider)(nil)
var _ auth.TokenSource = (*Provider)(nil)

// New returns an empty provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		accounts:    map[string]*account{},
		byEmail:     map[string]string{},
		subscribers: map[uint64]*subscriber{},
		logger:      auth.DefaultLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Subscribe delivers the current identity, then every change, in order.
func (p *Provider) Subscribe(ctx context.Context, listener auth.IdentityListener) (auth.Subscription, error) {
	if listener == nil {
		return nil, goerrors.New("listener is required", goerrors.CategoryBadInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := newSubscriber(listener)

	p.mu.Lock()
	p.nextSubID++
	id := p.nextSubID
	p.subscribers[id] = s
	s.enqueue(p.currentIdentityLocked())
	p.mu.Unlock()

	go s.run()

	return auth.SubscriptionFunc(func() {
		p.mu.Lock()
		delete(p.subscribers, id)
		p.mu.Unlock()
		s.stop()
	}), nil
}

// Register creates an unverified account and signs it in. The returned code
// must be passed to VerifyEmail, the way an emailed link would.
func (p *Provider) Register(ctx context.Context, input auth.RegistrationInput) (auth.Identity, string, error) {
	identity, code, err := p.createAccount(ctx, input, false, true)
	if identity == nil {
		return nil, "", err
	}
	p.logger.Info("registered user=%s, verification pending", identity.ID())
	return identity, code, err
}

// CreateAccount adds an account without signing it in. It seeds the
// provider from configuration, e.g. for CLI sessions.
func (p *Provider) CreateAccount(ctx context.Context, input auth.RegistrationInput, verified bool) (auth.Identity, error) {
	identity, _, err := p.createAccount(ctx, input, verified, false)
	if identity == nil {
		return nil, err
	}
	return identity, err
}

func (p *Provider) createAccount(ctx context.Context, input auth.RegistrationInput, verified, signIn bool) (auth.Identity, string, error) {
	input = input.Normalize()
	if err := input.Validate(); err != nil {
		return nil, "", err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return nil, "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	p.mu.Lock()
	if _, exists := p.byEmail[input.Email]; exists {
		p.mu.Unlock()
		return nil, "", ErrEmailTaken
	}

	acc := &account{
		identity: auth.AccountIdentity{
			UID:        accountID(input.Email),
			Mail:       input.Email,
			Name:       input.Username,
			IsVerified: verified,
		},
		hash: hash,
	}
	if !verified {
		acc.code = uuid.NewString()
	}
	p.accounts[acc.identity.UID] = acc
	p.byEmail[input.Email] = acc.identity.UID
	if signIn {
		p.current = acc.identity.UID
		p.broadcastLocked()
	}
	identity := acc.identity
	code := acc.code
	p.mu.Unlock()

	if p.profiles != nil {
		profile := &auth.Profile{
			ID:          identity.UID,
			Email:       identity.Mail,
			Username:    input.Username,
			DisplayName: input.Username,
			CreatedAt:   p.now(),
		}
		if err := p.profiles.SaveProfile(ctx, profile); err != nil {
			p.logger.Error("failed to save profile for user=%s: %v", identity.UID, err)
			return identity, code, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save profile")
		}
	}

	return identity, code, nil
}

// VerifyEmail marks the account verified.
func (p *Provider) VerifyEmail(ctx context.Context, id, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.accounts[id]
	if !ok {
		return goerrors.New("account not found", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound)
	}
	if acc.code == "" || acc.code != code {
		return ErrInvalidVerificationCode
	}

	acc.identity.IsVerified = true
	acc.code = ""
	if p.current == id {
		p.broadcastLocked()
	}
	return nil
}

// SignIn signs in with email and password. For unverified accounts the
// identity is still reported, with ErrEmailNotVerified.
func (p *Provider) SignIn(ctx context.Context, email, password string) (auth.Identity, error) {
	input := auth.SignInInput{Email: strings.TrimSpace(strings.ToLower(email)), Password: password}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	id, ok := p.byEmail[input.Email]
	var hash string
	if ok {
		hash = p.accounts[id].hash
	}
	p.mu.Unlock()

	if !ok {
		return nil, auth.ErrMismatchedHashAndPassword
	}
	if err := auth.ComparePasswordAndHash(password, hash); err != nil {
		return nil, err
	}

	p.mu.Lock()
	acc, ok := p.accounts[id]
	if !ok {
		p.mu.Unlock()
		return nil, auth.ErrMismatchedHashAndPassword
	}
	p.current = id
	identity := acc.identity
	p.broadcastLocked()
	p.mu.Unlock()

	if !identity.IsVerified {
		return identity, auth.ErrEmailNotVerified
	}
	return identity, nil
}

// SignOut signs the current account out.
func (p *Provider) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == "" {
		return nil
	}
	p.current = ""
	p.broadcastLocked()
	return nil
}

// UpdateDisplayName changes the provider display name of an account.
func (p *Provider) UpdateDisplayName(ctx context.Context, id, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[id]
	if !ok {
		return goerrors.New("account not found", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound)
	}
	acc.identity.Name = name
	if p.current == id {
		p.broadcastLocked()
	}
	return nil
}

// CurrentIdentity returns the signed in identity, verified or not.
func (p *Provider) CurrentIdentity() (auth.Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	identity := p.currentIdentityLocked()
	return identity, identity != nil
}

// Token mints a fresh id token for identity. The identity must be the one
// currently signed in.
func (p *Provider) Token(ctx context.Context, identity auth.Identity) (string, error) {
	if p.tokens == nil {
		return "", goerrors.New("token service is not configured", goerrors.CategoryInternal)
	}
	if identity == nil {
		return "", auth.ErrNotAuthenticated
	}

	p.mu.Lock()
	current := p.currentIdentityLocked()
	p.mu.Unlock()

	if current == nil || current.ID() != identity.ID() {
		return "", auth.ErrNotAuthenticated
	}
	return p.tokens.Token(ctx, current)
}

func (p *Provider) currentIdentityLocked() auth.Identity {
	if p.current == "" {
		return nil
	}
	acc, ok := p.accounts[p.current]
	if !ok {
		return nil
	}
	return acc.identity
}

func (p *Provider) broadcastLocked() {
	identity := p.currentIdentityLocked()
	for _, s := range p.subscribers {
		s.enqueue(identity)
	}
}

// accountID derives a stable id from the email so profile rows written in a
// previous run still match the account after a restart.
func accountID(email string) string {
	id, err := hashid.NewUUID(email)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
