package auth

import (
	"context"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ScopeEmail   = "email"
	ScopeProfile = "profile"
)

// SignInScopes are requested from the provider on every popup sign in.
var SignInScopes = []string{ScopeEmail, ScopeProfile}

const (
	DefaultPopupTimeout   = 2 * time.Minute
	DefaultSignOutTimeout = 15 * time.Second
)

// ClientProvider exposes the live identity client handle.
type ClientProvider interface {
	Client() IdentityClient
}

type actionDeps struct {
	logger   Logger
	notifier Notifier
	activity ActivitySink
	timeout  time.Duration
}

// ActionOption configures the sign in and sign out handlers.
type ActionOption func(*actionDeps)

// WithActionLogger sets the logger.
func WithActionLogger(logger Logger) ActionOption {
	return func(d *actionDeps) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithActionNotifier sets where transient feedback is sent.
func WithActionNotifier(notifier Notifier) ActionOption {
	return func(d *actionDeps) {
		if notifier != nil {
			d.notifier = notifier
		}
	}
}

// WithActionActivitySink configures an ActivitySink for action outcomes.
func WithActionActivitySink(sink ActivitySink) ActionOption {
	return func(d *actionDeps) {
		d.activity = normalizeActivitySink(sink)
	}
}

// WithActionTimeout bounds the provider call.
func WithActionTimeout(timeout time.Duration) ActionOption {
	return func(d *actionDeps) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// notify sends n to the handler's notifier and to the caller's, when set.
func (d actionDeps) notify(caller Notifier, n Notification) {
	d.notifier.Notify(n)
	if caller != nil {
		caller.Notify(n)
	}
}

func newActionDeps(timeout time.Duration, opts ...ActionOption) actionDeps {
	d := actionDeps{
		logger:   defLogger{},
		notifier: noopNotifier{},
		activity: noopActivitySink{},
		timeout:  timeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&d)
		}
	}
	return d
}

// SignInMessage asks for a popup sign in. Notifier, when set, also receives
// the feedback of this sign in.
type SignInMessage struct {
	Scopes   []string
	Notifier Notifier
}

func (e SignInMessage) Type() string { return "auth.sign_in" }

// SignInHandler runs the provider popup sign in. It never touches the auth
// state: the result arrives through the provider's auth-change callback.
type SignInHandler struct {
	actionDeps
	clients    ClientProvider
	inProgress atomic.Bool
}

// NewSignInHandler returns a sign in handler reading the client from clients.
func NewSignInHandler(clients ClientProvider, opts ...ActionOption) *SignInHandler {
	return &SignInHandler{
		actionDeps: newActionDeps(DefaultPopupTimeout, opts...),
		clients:    clients,
	}
}

// InProgress reports whether a sign in is running.
func (h *SignInHandler) InProgress() bool {
	return h.inProgress.Load()
}

func (h *SignInHandler) Execute(ctx context.Context, msg SignInMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during sign in")
	default:
	}

	if !h.inProgress.CompareAndSwap(false, true) {
		return failure(ErrSignInInProgress, nil, nil)
	}
	defer h.inProgress.Store(false)

	return h.execute(ctx, msg)
}

func (h *SignInHandler) execute(ctx context.Context, msg SignInMessage) error {
	var client IdentityClient
	if h.clients != nil {
		client = h.clients.Client()
	}

	if client == nil {
		err := failure(ErrClientNotReady, nil, map[string]any{
			"message": "Authentication service not initialized",
		})
		h.signInFailed(ctx, msg, err)
		return err
	}

	scopes := msg.Scopes
	if len(scopes) == 0 {
		scopes = SignInScopes
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	user, err := client.SignInWithPopup(ctx, scopes...)
	if err != nil {
		err = failure(ErrSignInFailed, err, nil)
		h.signInFailed(ctx, msg, err)
		return err
	}

	if user != nil {
		h.logger.Info("popup sign in completed for user %s", user.ID)
	}
	emitActivity(context.WithoutCancel(ctx), h.activity, h.logger, userActivity(ActivityEventSignInSuccess, user, map[string]any{
		"scopes": scopes,
	}))

	return nil
}

func (h *SignInHandler) signInFailed(ctx context.Context, msg SignInMessage, err error) {
	message := FailureMessage(err)
	h.logger.Error("google sign-in error: %v", err)
	h.notify(msg.Notifier, Notification{
		Level:       NotificationError,
		Title:       "Failed to sign in",
		Description: message,
	})
	emitActivity(context.WithoutCancel(ctx), h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventSignInFailure,
		Metadata: map[string]any{
			"error": message,
		},
	})
}

// SignOutMessage asks for a sign out. OnAuthStateChange receives the signed
// out state as soon as the provider confirms, ahead of its auth-change
// callback. Notifier, when set, also receives the feedback of this sign out.
type SignOutMessage struct {
	OnAuthStateChange func(state AuthState)
	Notifier          Notifier
}

func (e SignOutMessage) Type() string { return "auth.sign_out" }

// SignOutHandler signs the current user out of the provider.
type SignOutHandler struct {
	actionDeps
	clients ClientProvider
}

// NewSignOutHandler returns a sign out handler reading the client from clients.
func NewSignOutHandler(clients ClientProvider, opts ...ActionOption) *SignOutHandler {
	return &SignOutHandler{
		actionDeps: newActionDeps(DefaultSignOutTimeout, opts...),
		clients:    clients,
	}
}

func (h *SignOutHandler) Execute(ctx context.Context, msg SignOutMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during sign out")
	default:
		return h.execute(ctx, msg)
	}
}

func (h *SignOutHandler) execute(ctx context.Context, msg SignOutMessage) error {
	var client IdentityClient
	if h.clients != nil {
		client = h.clients.Client()
	}

	if client == nil {
		h.logger.Debug("sign out requested without an identity client, ignoring")
		return nil
	}

	user := client.CurrentUser()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := client.SignOut(ctx); err != nil {
		h.logger.Error("sign out error: %v", err)
		h.notify(msg.Notifier, Notification{
			Level:       NotificationError,
			Title:       "Failed to sign out",
			Description: "Please try again or refresh the page.",
		})
		emitActivity(context.WithoutCancel(ctx), h.activity, h.logger, userActivity(ActivityEventSignOutFailure, user, map[string]any{
			"error": err.Error(),
		}))
		return failure(ErrSignOutFailed, err, nil)
	}

	h.notify(msg.Notifier, Notification{
		Level:       NotificationSuccess,
		Title:       "Signed out successfully",
		Description: "You have been logged out. See you next time!",
	})
	emitActivity(context.WithoutCancel(ctx), h.activity, h.logger, userActivity(ActivityEventSignOutSuccess, user, nil))

	if msg.OnAuthStateChange != nil {
		msg.OnAuthStateChange(SignedOutAuthState())
	}

	return nil
}
