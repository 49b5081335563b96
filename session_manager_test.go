package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	auth "github.com/resmoai/resmo-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeProvider struct {
	mu           sync.Mutex
	listener     auth.IdentityListener
	subscribed   int
	unsubscribed int
	err          error
}

func (p *fakeProvider) Subscribe(ctx context.Context, listener auth.IdentityListener) (auth.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.listener = listener
	p.subscribed++
	return auth.SubscriptionFunc(func() {
		p.mu.Lock()
		p.unsubscribed++
		p.mu.Unlock()
	}), nil
}

func (p *fakeProvider) emit(identity auth.Identity) {
	p.mu.Lock()
	listener := p.listener
	p.mu.Unlock()
	if listener != nil {
		listener(identity)
	}
}

func (p *fakeProvider) unsubscribeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unsubscribed
}

type lookupResult struct {
	profile *auth.Profile
	err     error
}

// fakeProfiles blocks each lookup until release is called for that id.
type fakeProfiles struct {
	mu      sync.Mutex
	pending map[string]chan lookupResult
	calls   []string
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{pending: map[string]chan lookupResult{}}
}

func (f *fakeProfiles) gate(id string) chan lookupResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.pending[id]
	if !ok {
		ch = make(chan lookupResult, 1)
		f.pending[id] = ch
	}
	return ch
}

func (f *fakeProfiles) Lookup(ctx context.Context, id string) (*auth.Profile, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()

	select {
	case res := <-f.gate(id):
		return res.profile, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeProfiles) release(id string, profile *auth.Profile, err error) {
	f.gate(id) <- lookupResult{profile: profile, err: err}
}

func (f *fakeProfiles) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func newTestManager(t *testing.T, opts ...auth.SessionManagerOption) (*auth.SessionManager, *fakeProvider, *fakeProfiles, *auth.SubscriptionHandle) {
	t.Helper()
	provider := &fakeProvider{}
	profiles := newFakeProfiles()
	manager := auth.NewSessionManager(provider, profiles, opts...)

	handle, err := manager.Subscribe(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Cancel(handle) })
	return manager, provider, profiles, handle
}

func resolvedName(s auth.Session) string {
	if s.ResolvedDisplayName == nil {
		return "<nil>"
	}
	return *s.ResolvedDisplayName
}

func jane(verified bool) auth.Identity {
	return auth.NewIdentity("uid-jane", "jane@example.com", "Jane Doe", verified)
}

func TestSessionManagerStartsLoading(t *testing.T) {
	manager := auth.NewSessionManager(&fakeProvider{}, nil)

	state := manager.CurrentState()
	assert.True(t, state.IsLoading)
	assert.Nil(t, state.Identity)
	assert.Nil(t, state.ResolvedDisplayName)
	assert.Equal(t, auth.DecisionPending, auth.Gate(state))
}

func TestSessionManagerSignedOutNotification(t *testing.T) {
	manager, provider, profiles, _ := newTestManager(t)

	provider.emit(nil)

	state := manager.CurrentState()
	assert.False(t, state.IsLoading)
	assert.Nil(t, state.Identity)
	assert.Equal(t, 0, profiles.callCount())
	assert.Equal(t, auth.DecisionSignIn, auth.Gate(state))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, err := manager.WaitReady(ctx)
	assert.NoError(t, err)
}

func TestSessionManagerResolvesDisplayName(t *testing.T) {
	manager, provider, profiles, _ := newTestManager(t)

	provider.emit(jane(true))

	// identity is visible right away, loading holds until the lookup settles
	state := manager.CurrentState()
	require.NotNil(t, state.Identity)
	assert.Equal(t, "uid-jane", state.UserID())
	assert.True(t, state.IsLoading)
	assert.Nil(t, state.ResolvedDisplayName)

	profiles.release("uid-jane", &auth.Profile{ID: "uid-jane", Username: "jdoe"}, nil)

	assert.Eventually(t, func() bool {
		return !manager.CurrentState().IsLoading
	}, waitFor, tick)

	state = manager.CurrentState()
	assert.Equal(t, "jdoe", resolvedName(state))
	assert.Equal(t, "jdoe", state.Label())
	assert.Equal(t, "J", state.Initial())
	assert.Equal(t, auth.DecisionAllow, auth.Gate(state))
}

func TestSessionManagerUnverifiedIdentityIsSignedOut(t *testing.T) {
	manager, provider, profiles, _ := newTestManager(t)

	provider.emit(jane(false))

	state := manager.CurrentState()
	assert.False(t, state.IsLoading)
	assert.Nil(t, state.Identity)
	assert.Equal(t, 0, profiles.callCount())
}

func TestSessionManagerLookupFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		profile *auth.Profile
		err     error
		want    string
	}{
		{
			name:    "username wins",
			profile: &auth.Profile{Username: "jdoe", DisplayName: "Stored"},
			want:    "jdoe",
		},
		{
			name:    "stored display name",
			profile: &auth.Profile{DisplayName: "Stored"},
			want:    "Stored",
		},
		{
			name:    "empty profile resolves empty",
			profile: &auth.Profile{},
			want:    "",
		},
		{
			name: "missing profile uses identity name",
			err:  auth.ErrProfileNotFound,
			want: "Jane Doe",
		},
		{
			name: "failed lookup uses identity name",
			err:  errors.New("connection refused"),
			want: "Jane Doe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, provider, profiles, _ := newTestManager(t)

			provider.emit(jane(true))
			profiles.release("uid-jane", tt.profile, tt.err)

			assert.Eventually(t, func() bool {
				return manager.CurrentState().ResolvedDisplayName != nil
			}, waitFor, tick)

			state := manager.CurrentState()
			assert.Equal(t, tt.want, resolvedName(state))
			assert.False(t, state.IsLoading)
			assert.NotNil(t, state.Identity)
		})
	}
}

func TestSessionManagerEmptyNameLabelFallsBack(t *testing.T) {
	manager, provider, profiles, _ := newTestManager(t)

	provider.emit(auth.NewIdentity("uid-1", "sam@example.com", "", true))
	profiles.release("uid-1", &auth.Profile{}, nil)

	assert.Eventually(t, func() bool {
		return !manager.CurrentState().IsLoading
	}, waitFor, tick)

	state := manager.CurrentState()
	assert.Equal(t, "", resolvedName(state))
	assert.Equal(t, "sam@example.com", state.Label())
	assert.Equal(t, "S", state.Initial())
}

func TestSessionManagerDiscardsStaleLookup(t *testing.T) {
	manager, provider, profiles, _ := newTestManager(t)

	provider.emit(auth.NewIdentity("uid-a", "a@example.com", "A", true))
	provider.emit(auth.NewIdentity("uid-b", "b@example.com", "B", true))

	profiles.release("uid-a", &auth.Profile{Username: "alice"}, nil)

	// the stale result must not land on B; B's lookup is still pending
	assert.Never(t, func() bool {
		return manager.CurrentState().ResolvedDisplayName != nil
	}, 100*time.Millisecond, tick)
	assert.Equal(t, "uid-b", manager.CurrentState().UserID())

	profiles.release("uid-b", &auth.Profile{Username: "bob"}, nil)

	assert.Eventually(t, func() bool {
		return resolvedName(manager.CurrentState()) == "bob"
	}, waitFor, tick)
}

func TestSessionManagerDiscardsLateLookupForPreviousIdentity(t *testing.T) {
	sink := &recordingSink{}
	manager, provider, profiles, _ := newTestManager(t, auth.WithActivitySink(sink))

	provider.emit(auth.NewIdentity("uid-a", "a@example.com", "A", true))
	provider.emit(auth.NewIdentity("uid-b", "b@example.com", "B", true))

	profiles.release("uid-b", &auth.Profile{Username: "bob"}, nil)
	require.Eventually(t, func() bool {
		return resolvedName(manager.CurrentState()) == "bob"
	}, waitFor, tick)

	profiles.release("uid-a", &auth.Profile{Username: "alice"}, nil)
	require.Eventually(t, func() bool {
		for _, kind := range sink.types() {
			if kind == auth.ActivityEventLookupDiscarded {
				return true
			}
		}
		return false
	}, waitFor, tick)

	state := manager.CurrentState()
	assert.Equal(t, "uid-b", state.UserID())
	assert.Equal(t, "bob", resolvedName(state))
	assert.False(t, state.IsLoading)
}

func TestSessionManagerStaleLookupAfterSignOut(t *testing.T) {
	manager, provider, profiles, _ := newTestManager(t)

	provider.emit(jane(true))
	provider.emit(nil)
	profiles.release("uid-jane", &auth.Profile{Username: "jdoe"}, nil)

	assert.Never(t, func() bool {
		s := manager.CurrentState()
		return s.Identity != nil || s.ResolvedDisplayName != nil
	}, 100*time.Millisecond, tick)
	assert.False(t, manager.CurrentState().IsLoading)
}

func TestSessionManagerSignOutClearsName(t *testing.T) {
	manager, provider, profiles, _ := newTestManager(t)

	provider.emit(jane(true))
	profiles.release("uid-jane", &auth.Profile{Username: "jdoe"}, nil)
	assert.Eventually(t, func() bool {
		return resolvedName(manager.CurrentState()) == "jdoe"
	}, waitFor, tick)

	provider.emit(nil)

	state := manager.CurrentState()
	assert.Nil(t, state.Identity)
	assert.Nil(t, state.ResolvedDisplayName)
	assert.False(t, state.IsLoading)
}

func TestSessionManagerCancel(t *testing.T) {
	provider := &fakeProvider{}
	profiles := newFakeProfiles()
	manager := auth.NewSessionManager(provider, profiles)

	handle, err := manager.Subscribe(context.Background())
	require.NoError(t, err)

	provider.emit(jane(true))
	manager.Cancel(handle)
	manager.Cancel(handle)
	handle.Close()

	assert.Equal(t, 1, provider.unsubscribeCount())

	before := manager.CurrentState()
	profiles.release("uid-jane", &auth.Profile{Username: "jdoe"}, nil)
	provider.emit(nil)

	assert.Never(t, func() bool {
		s := manager.CurrentState()
		return s.ResolvedDisplayName != nil || s.Identity == nil
	}, 100*time.Millisecond, tick)
	assert.Equal(t, before.UserID(), manager.CurrentState().UserID())
}

func TestSessionManagerSubscribeTwice(t *testing.T) {
	manager, provider, _, handle := newTestManager(t)

	_, err := manager.Subscribe(context.Background())
	assert.ErrorIs(t, err, auth.ErrAlreadySubscribed)

	provider.emit(nil)
	assert.False(t, manager.CurrentState().IsLoading)

	manager.Cancel(handle)

	again, err := manager.Subscribe(context.Background())
	require.NoError(t, err)
	defer manager.Cancel(again)

	// a new subscription starts over from loading
	assert.True(t, manager.CurrentState().IsLoading)
	provider.emit(nil)
	assert.False(t, manager.CurrentState().IsLoading)
}

func TestSessionManagerSubscribeError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("provider offline")}
	manager := auth.NewSessionManager(provider, nil)

	_, err := manager.Subscribe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to subscribe")

	provider.mu.Lock()
	provider.err = nil
	provider.mu.Unlock()

	handle, err := manager.Subscribe(context.Background())
	require.NoError(t, err)
	manager.Cancel(handle)
}

func TestSessionManagerSubscribeWithoutProvider(t *testing.T) {
	manager := auth.NewSessionManager(nil, nil)
	_, err := manager.Subscribe(context.Background())
	assert.Error(t, err)
}

func TestRequireAuthenticated(t *testing.T) {
	manager, provider, profiles, _ := newTestManager(t)
	ctx := context.Background()

	called := false
	err := manager.RequireAuthenticated(ctx, func(context.Context, auth.Identity) error {
		called = true
		return nil
	})
	assert.True(t, auth.IsNotAuthenticated(err))
	assert.False(t, called, "action must not run while loading")

	provider.emit(nil)
	err = manager.RequireAuthenticated(ctx, func(context.Context, auth.Identity) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
	assert.False(t, called)

	provider.emit(jane(true))
	profiles.release("uid-jane", nil, auth.ErrProfileNotFound)

	var got auth.Identity
	err = manager.RequireAuthenticated(ctx, func(_ context.Context, identity auth.Identity) error {
		got = identity
		return errors.New("action failed")
	})
	assert.EqualError(t, err, "action failed")
	require.NotNil(t, got)
	assert.Equal(t, "uid-jane", got.ID())
}

func TestSessionManagerWatch(t *testing.T) {
	manager, provider, profiles, _ := newTestManager(t)

	updates, stop := manager.Watch()
	defer stop()

	first := <-updates
	assert.True(t, first.IsLoading)

	provider.emit(jane(true))
	profiles.release("uid-jane", &auth.Profile{Username: "jdoe"}, nil)

	deadline := time.After(waitFor)
	for {
		select {
		case s := <-updates:
			if resolvedName(s) == "jdoe" {
				assert.False(t, s.IsLoading)
				return
			}
		case <-deadline:
			t.Fatal("watch never delivered the resolved name")
		}
	}
}

func TestSessionManagerLoadingSettlesOnce(t *testing.T) {
	manager, provider, profiles, _ := newTestManager(t)

	updates, stop := manager.Watch()
	defer stop()

	var (
		mu   sync.Mutex
		seen []bool
	)
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			select {
			case s := <-updates:
				mu.Lock()
				seen = append(seen, s.IsLoading)
				mu.Unlock()
			case <-done:
				return
			}
		}
	}()

	settled := false
	check := func() {
		t.Helper()
		loading := manager.CurrentState().IsLoading
		if settled {
			assert.False(t, loading, "loading came back after settling")
		}
		if !loading {
			settled = true
		}
	}

	check()
	provider.emit(jane(true))
	check()
	assert.True(t, manager.CurrentState().IsLoading, "first lookup still pending")

	profiles.release("uid-jane", &auth.Profile{Username: "jdoe"}, nil)
	require.Eventually(t, func() bool { return !manager.CurrentState().IsLoading }, waitFor, tick)
	check()

	provider.emit(nil)
	check()
	provider.emit(auth.NewIdentity("uid-b", "b@example.com", "B", true))
	check()
	provider.emit(jane(false))
	check()
	provider.emit(auth.NewIdentity("uid-b", "b@example.com", "B", true))
	check()
	profiles.release("uid-b", nil, auth.ErrProfileNotFound)
	profiles.release("uid-b", nil, auth.ErrProfileNotFound)
	require.Eventually(t, func() bool { return resolvedName(manager.CurrentState()) == "B" }, waitFor, tick)
	check()

	close(done)
	<-finished

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.True(t, seen[0], "first snapshot is loading")
	flipped := false
	for _, loading := range seen {
		if !loading {
			flipped = true
			continue
		}
		assert.False(t, flipped, "watch saw loading again after it settled")
	}
	assert.True(t, flipped)
}

func TestSessionManagerWatchCoalesces(t *testing.T) {
	manager, provider, _, _ := newTestManager(t)

	updates, stop := manager.Watch()
	defer stop()

	provider.emit(nil)
	provider.emit(jane(false))
	provider.emit(nil)

	// buffered channel keeps only the latest snapshot
	s := <-updates
	assert.False(t, s.IsLoading)
	assert.Nil(t, s.Identity)
	select {
	case extra := <-updates:
		t.Fatalf("unexpected extra snapshot %v", extra)
	default:
	}

	stop()
	stop()
}

func TestSessionSnapshotIsolation(t *testing.T) {
	manager, provider, profiles, _ := newTestManager(t)

	provider.emit(jane(true))
	profiles.release("uid-jane", &auth.Profile{Username: "jdoe"}, nil)
	assert.Eventually(t, func() bool {
		return manager.CurrentState().ResolvedDisplayName != nil
	}, waitFor, tick)

	snapshot := manager.CurrentState()
	*snapshot.ResolvedDisplayName = "mallory"

	assert.Equal(t, "jdoe", resolvedName(manager.CurrentState()))
}

func TestSessionManagerLookupTimeout(t *testing.T) {
	manager, provider, _, _ := newTestManager(t, auth.WithLookupTimeout(20*time.Millisecond))

	provider.emit(jane(true))

	// the lookup never returns; the timeout settles it with the identity name
	assert.Eventually(t, func() bool {
		return !manager.CurrentState().IsLoading
	}, waitFor, tick)
	assert.Equal(t, "Jane Doe", resolvedName(manager.CurrentState()))
}

func TestSessionManagerActivity(t *testing.T) {
	sink := &recordingSink{}
	manager, provider, profiles, _ := newTestManager(t, auth.WithActivitySink(sink))

	provider.emit(jane(false))
	provider.emit(jane(true))
	profiles.release("uid-jane", &auth.Profile{Username: "jdoe"}, nil)
	require.Eventually(t, func() bool {
		return !manager.CurrentState().IsLoading && len(sink.types()) == 3
	}, waitFor, tick)
	provider.emit(nil)

	assert.Equal(t, []auth.ActivityEventType{
		auth.ActivityEventUnverifiedIdentity,
		auth.ActivityEventSignedIn,
		auth.ActivityEventDisplayNameResolved,
		auth.ActivityEventSignedOut,
	}, sink.types())
}

func TestSessionManagerContext(t *testing.T) {
	manager, provider, _, _ := newTestManager(t)
	provider.emit(nil)

	ctx := auth.WithSessionManager(context.Background(), manager)
	got, ok := auth.SessionManagerFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, manager, got)

	state, ok := auth.SessionFromContext(ctx)
	require.True(t, ok)
	assert.False(t, state.IsLoading)

	_, ok = auth.IdentityFromContext(ctx)
	assert.False(t, ok)
}
