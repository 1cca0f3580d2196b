package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

// SessionMirror mirrors the identity provider's auth state and fans every
// change out to registered listeners.
//
// The provider's auth-change callback is the only writer of the state once
// initialized. Listeners are invoked synchronously, in registration order,
// outside of the internal lock, each with its own copy of the snapshot.
type SessionMirror struct {
	source   ConfigSource
	factory  ClientFactory
	logger   Logger
	activity ActivitySink
	debug    bool

	initMu sync.Mutex

	mu          sync.Mutex
	state       AuthState
	client      IdentityClient
	listeners   []registration
	unsubscribe func()
	generation  uint64
}

// SessionMirrorOption configures a SessionMirror.
type SessionMirrorOption func(*SessionMirror)

// WithMirrorLogger sets the logger.
func WithMirrorLogger(logger Logger) SessionMirrorOption {
	return func(m *SessionMirror) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMirrorActivitySink configures an ActivitySink for state changes and
// initialization failures.
func WithMirrorActivitySink(sink ActivitySink) SessionMirrorOption {
	return func(m *SessionMirror) {
		m.activity = normalizeActivitySink(sink)
	}
}

// WithMirrorDebug dumps every published snapshot.
func WithMirrorDebug(debug bool) SessionMirrorOption {
	return func(m *SessionMirror) {
		m.debug = debug
	}
}

// NewSessionMirror returns an uninitialized mirror.
func NewSessionMirror(source ConfigSource, factory ClientFactory, opts ...SessionMirrorOption) *SessionMirror {
	m := &SessionMirror{
		source:   source,
		factory:  factory,
		logger:   defLogger{},
		activity: noopActivitySink{},
		state:    InitialAuthState(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// Initialize fetches the provider config, constructs the identity client and
// subscribes to its auth changes. It is a no-op once initialized. On failure
// the mirror is left uninitialized and Initialize may be called again.
func (m *SessionMirror) Initialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.State().IsInitialized {
		return nil
	}

	if m.source == nil || m.factory == nil {
		return m.initFailure(ctx, ErrClientInitFailed, errors.New("session mirror is missing a config source or client factory"))
	}

	values, err := m.source.Fetch(ctx, ConfigKeys...)
	if err != nil {
		return m.initFailure(ctx, ErrConfigFetchFailed, err)
	}

	cfg, err := ProviderConfigFromValues(values)
	if err != nil {
		return m.initFailure(ctx, ErrConfigFetchFailed, err)
	}

	m.logger.Debug("fetched identity provider config: auth domain %s tenant %s", cfg.AuthDomain, cfg.TenantID)

	client, err := m.factory.NewClient(ctx, cfg)
	if err != nil {
		return m.initFailure(ctx, ErrClientInitFailed, err)
	}
	if client == nil {
		return m.initFailure(ctx, ErrClientInitFailed, errors.New("client factory returned a nil client"))
	}

	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.client = client
	m.state = AuthState{IsInitialized: true, Client: client}
	m.mu.Unlock()

	unsubscribe := client.OnAuthStateChanged(func(user *UserIdentity) {
		m.handleAuthChange(ctx, gen, user)
	})

	m.mu.Lock()
	if m.generation != gen {
		// destroyed while subscribing
		m.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return failure(ErrClientInitFailed, errors.New("session mirror destroyed during initialization"), nil)
	}
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	m.logger.Info("auth service initialized for tenant %s", client.TenantID())

	return nil
}

func (m *SessionMirror) initFailure(ctx context.Context, base *goerrors.Error, cause error) error {
	m.logger.Error("failed to initialize auth service: %v", cause)
	emitActivity(ctx, m.activity, m.logger, ActivityEvent{
		EventType: ActivityEventInitFailure,
		Metadata: map[string]any{
			"error": cause.Error(),
		},
	})

	return failure(base, cause, nil)
}

func (m *SessionMirror) handleAuthChange(ctx context.Context, gen uint64, user *UserIdentity) {
	m.mu.Lock()
	if m.generation != gen || m.client == nil {
		m.mu.Unlock()
		return
	}
	next := newAuthState(user, m.client)
	m.state = next
	listeners := make([]registration, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if next.IsLoggedIn {
		m.logger.Info("auth state changed: logged in (tenant %s)", next.User.TenantID)
	} else {
		m.logger.Info("auth state changed: not logged in")
	}

	if m.debug {
		fmt.Println("======= AUTH STATE ======")
		fmt.Println(print.MaybePrettyJSON(next))
		fmt.Println("=========================")
	}

	emitActivity(context.WithoutCancel(ctx), m.activity, m.logger, userActivity(ActivityEventStateChanged, next.User, map[string]any{
		"logged_in": next.IsLoggedIn,
	}))

	for _, r := range listeners {
		r.listener.OnAuthStateChange(next.Copy())
	}
}

// State returns a copy of the current snapshot.
func (m *SessionMirror) State() AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Copy()
}

// Client returns the live identity client, or nil before initialization.
func (m *SessionMirror) Client() IdentityClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// Subscribe registers a listener for every subsequent state change.
func (m *SessionMirror) Subscribe(listener Listener) *Subscription {
	sub := newSubscription(m.removeListener)
	if listener == nil {
		return sub
	}

	m.mu.Lock()
	m.listeners = append(m.listeners, registration{id: sub.id, listener: listener})
	m.mu.Unlock()

	return sub
}

// SubscribeFunc registers a function listener.
func (m *SessionMirror) SubscribeFunc(fn func(state AuthState)) *Subscription {
	if fn == nil {
		return m.Subscribe(nil)
	}
	return m.Subscribe(ListenerFunc(fn))
}

// ListenerCount returns the number of registered listeners.
func (m *SessionMirror) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

func (m *SessionMirror) removeListener(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := make([]registration, 0, len(m.listeners))
	for _, r := range m.listeners {
		if r.id != id {
			kept = append(kept, r)
		}
	}
	m.listeners = kept
}

// Destroy releases the provider subscription, clears listeners and resets
// the state. It is safe to call more than once.
func (m *SessionMirror) Destroy() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.generation++
	m.listeners = nil
	client := m.client
	m.client = nil
	m.state = InitialAuthState()
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	closeClient(client, m.logger)
}

// closeClient releases clients that hold background resources, such as a
// key set refresh loop.
func closeClient(client IdentityClient, logger Logger) {
	closer, ok := client.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Error("failed to close identity client: %v", err)
	}
}
