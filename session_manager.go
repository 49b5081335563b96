package auth

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// DefaultLookupTimeout bounds a single profile lookup.
var DefaultLookupTimeout = 10 * time.Second

// SessionManagerOption customizes SessionManager construction.
type SessionManagerOption func(*SessionManager)

// WithLogger overrides the logger used by the manager.
func WithLogger(logger Logger) SessionManagerOption {
	return func(m *SessionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithActivitySink sets the ActivitySink used to publish session events.
func WithActivitySink(sink ActivitySink) SessionManagerOption {
	return func(m *SessionManager) {
		m.activitySink = normalizeActivitySink(sink)
	}
}

// WithLookupTimeout bounds each profile lookup. Zero disables the bound.
func WithLookupTimeout(d time.Duration) SessionManagerOption {
	return func(m *SessionManager) {
		if d >= 0 {
			m.lookupTimeout = d
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) SessionManagerOption {
	return func(m *SessionManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// SessionManager keeps the single view of who is signed in. It is the only
// writer of its Session; consumers read snapshots through CurrentState.
type SessionManager struct {
	provider      IdentityProvider
	profiles      ProfileStore
	logger        Logger
	activitySink  ActivitySink
	lookupTimeout time.Duration
	now           func() time.Time

	mu         sync.Mutex
	state      Session
	generation uint64
	active     *SubscriptionHandle
	ready      chan struct{}
	isReady    bool
	watchers   map[chan Session]struct{}
}

// SubscriptionHandle ties a provider subscription to the manager. State is
// only mutated while the handle that received a notification is active.
type SubscriptionHandle struct {
	manager  *SessionManager
	ctx      context.Context
	sub      Subscription
	released bool
	once     sync.Once
}

// Close releases the handle. Equivalent to SessionManager.Cancel.
func (h *SubscriptionHandle) Close() {
	if h == nil || h.manager == nil {
		return
	}
	h.manager.Cancel(h)
}

// NewSessionManager returns a manager in the initial loading state. Nothing
// is received until Subscribe is called.
func NewSessionManager(provider IdentityProvider, profiles ProfileStore, opts ...SessionManagerOption) *SessionManager {
	if profiles == nil {
		profiles = ProfileStoreFunc(func(context.Context, string) (*Profile, error) {
			return nil, ErrProfileNotFound
		})
	}

	m := &SessionManager{
		provider:      provider,
		profiles:      profiles,
		logger:        defLogger{},
		activitySink:  noopActivitySink{},
		lookupTimeout: DefaultLookupTimeout,
		now:           time.Now,
		state:         InitialSession(),
		ready:         make(chan struct{}),
		watchers:      map[chan Session]struct{}{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// Subscribe registers with the identity provider. Only one handle may be
// active at a time; the caller must Cancel it when its scope ends.
func (m *SessionManager) Subscribe(ctx context.Context) (*SubscriptionHandle, error) {
	if m.provider == nil {
		return nil, goerrors.New("identity provider is required", goerrors.CategoryBadInput)
	}

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		m.logger.Warn("session manager subscribe called while a subscription is active")
		return nil, ErrAlreadySubscribed
	}

	h := &SubscriptionHandle{
		manager: m,
		ctx:     context.WithoutCancel(ctx),
	}
	m.active = h
	m.resetLocked()
	m.mu.Unlock()

	sub, err := m.provider.Subscribe(ctx, func(identity Identity) {
		m.handleNotification(h, identity)
	})
	if err != nil {
		m.mu.Lock()
		if m.active == h {
			m.active = nil
		}
		h.released = true
		m.mu.Unlock()
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to subscribe to identity provider")
	}

	m.mu.Lock()
	released := h.released
	if !released {
		h.sub = sub
	}
	m.mu.Unlock()

	if released && sub != nil {
		sub.Unsubscribe()
	}

	return h, nil
}

// Cancel releases the subscription exactly once. Late notifications and
// lookups delivered after Cancel never mutate state.
func (m *SessionManager) Cancel(h *SubscriptionHandle) {
	if h == nil || h.manager != m {
		return
	}

	h.once.Do(func() {
		m.mu.Lock()
		h.released = true
		if m.active == h {
			m.active = nil
		}
		sub := h.sub
		h.sub = nil
		m.mu.Unlock()

		if sub != nil {
			sub.Unsubscribe()
		}
		m.logger.Debug("session subscription released")
	})
}

// CurrentState returns a snapshot of the session. It never blocks on I/O.
func (m *SessionManager) CurrentState() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// RequireAuthenticated runs action with the signed in identity, or returns
// ErrNotAuthenticated without running it. It trusts the cached state.
func (m *SessionManager) RequireAuthenticated(ctx context.Context, action func(ctx context.Context, identity Identity) error) error {
	state := m.CurrentState()
	if state.Identity == nil {
		return ErrNotAuthenticated
	}
	if action == nil {
		return nil
	}
	return action(ctx, state.Identity)
}

// WaitReady blocks until the first notification has settled or ctx is done.
func (m *SessionManager) WaitReady(ctx context.Context) (Session, error) {
	m.mu.Lock()
	ready := m.ready
	m.mu.Unlock()

	select {
	case <-ready:
		return m.CurrentState(), nil
	case <-ctx.Done():
		return m.CurrentState(), ctx.Err()
	}
}

// Watch returns a channel receiving state snapshots after each change.
// Slow readers only see the latest snapshot. Call stop to unregister.
func (m *SessionManager) Watch() (updates <-chan Session, stop func()) {
	ch := make(chan Session, 1)

	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	ch <- m.snapshotLocked()
	m.mu.Unlock()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, ch)
			m.mu.Unlock()
		})
	}
	return ch, stop
}

func (m *SessionManager) handleNotification(h *SubscriptionHandle, raw Identity) {
	identity := raw
	unverified := identity != nil && !identity.EmailVerified()
	if unverified {
		identity = nil
	}

	var events []ActivityEvent

	m.mu.Lock()
	if !m.isActiveLocked(h) {
		m.mu.Unlock()
		m.logger.Debug("dropping identity notification for released subscription")
		return
	}

	previous := m.state.UserID()
	m.generation++

	if unverified {
		events = append(events, m.newEvent(ActivityEventUnverifiedIdentity, raw.ID(), nil))
	}

	if identity == nil {
		m.state = Session{IsLoading: false}
		m.markReadyLocked()
		m.publishLocked()
		if previous != "" {
			events = append(events, m.newEvent(ActivityEventSignedOut, previous, nil))
		}
		m.mu.Unlock()

		m.logger.Debug("identity notification: signed out")
		m.recordActivity(h.ctx, events...)
		return
	}

	if previous != identity.ID() {
		m.state.ResolvedDisplayName = nil
		events = append(events, m.newEvent(ActivityEventSignedIn, identity.ID(), map[string]any{
			"email": identity.Email(),
		}))
	}
	m.state.Identity = identity
	generation := m.generation
	m.publishLocked()
	m.mu.Unlock()

	m.logger.Debug("identity notification: user=%s, resolving profile", identity.ID())
	m.recordActivity(h.ctx, events...)

	go m.resolveProfile(h, identity, generation)
}

func (m *SessionManager) resolveProfile(h *SubscriptionHandle, identity Identity, generation uint64) {
	ctx := h.ctx
	if m.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.lookupTimeout)
		defer cancel()
	}

	profile, err := m.profiles.Lookup(ctx, identity.ID())
	name := ResolveDisplayName(identity, profile, err)

	var events []ActivityEvent
	if err != nil && !IsProfileNotFound(err) {
		m.logger.Warn("profile lookup failed for user=%s: %v", identity.ID(), err)
		events = append(events, m.newEvent(ActivityEventLookupFailed, identity.ID(), map[string]any{
			"error": err.Error(),
		}))
	}

	m.mu.Lock()
	if !m.isActiveLocked(h) {
		m.mu.Unlock()
		m.logger.Debug("discarding profile lookup for released subscription")
		return
	}

	current := m.state.Identity
	if generation == m.generation && current != nil && current.ID() == identity.ID() {
		m.state.ResolvedDisplayName = &name
		events = append(events, m.newEvent(ActivityEventDisplayNameResolved, identity.ID(), map[string]any{
			"display_name": name,
		}))
	} else {
		events = append(events, m.newEvent(ActivityEventLookupDiscarded, identity.ID(), nil))
	}

	m.markReadyLocked()
	m.publishLocked()
	m.mu.Unlock()

	m.recordActivity(h.ctx, events...)
}

func (m *SessionManager) isActiveLocked(h *SubscriptionHandle) bool {
	return h != nil && !h.released && m.active == h
}

func (m *SessionManager) resetLocked() {
	m.generation++
	m.state = InitialSession()
	if m.isReady {
		m.ready = make(chan struct{})
		m.isReady = false
	}
	m.publishLocked()
}

func (m *SessionManager) markReadyLocked() {
	m.state.IsLoading = false
	if !m.isReady {
		m.isReady = true
		close(m.ready)
	}
}

func (m *SessionManager) snapshotLocked() Session {
	s := m.state
	if s.ResolvedDisplayName != nil {
		name := *s.ResolvedDisplayName
		s.ResolvedDisplayName = &name
	}
	return s
}

func (m *SessionManager) publishLocked() {
	if len(m.watchers) == 0 {
		return
	}
	snapshot := m.snapshotLocked()
	for ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}

func (m *SessionManager) newEvent(kind ActivityEventType, userID string, metadata map[string]any) ActivityEvent {
	return ActivityEvent{
		EventType:  kind,
		UserID:     userID,
		Metadata:   metadata,
		OccurredAt: m.now(),
	}
}

func (m *SessionManager) recordActivity(ctx context.Context, events ...ActivityEvent) {
	for _, event := range events {
		if err := m.activitySink.Record(ctx, event); err != nil {
			m.logger.Warn("session activity sink error: %v", err)
		}
	}
}
