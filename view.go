package auth

import (
	"context"
	"sync"
)

// ViewName identifies which of the mutually exclusive views is shown.
type ViewName string

const (
	ViewInitializing ViewName = "initializing"
	ViewLogin        ViewName = "login"
	ViewSecure       ViewName = "secure"
)

// InitErrorMessage is shown when the session mirror failed to initialize.
const InitErrorMessage = "Failed to initialize authentication"

// ViewSelector owns the AuthState the UI renders from.
type ViewSelector struct {
	mirror *SessionMirror
	logger Logger

	mu           sync.Mutex
	state        AuthState
	loading      bool
	errorMessage string
	sub          *Subscription
}

// NewViewSelector returns a selector holding the initial state.
func NewViewSelector(mirror *SessionMirror, logger Logger) *ViewSelector {
	if logger == nil {
		logger = defLogger{}
	}
	return &ViewSelector{
		mirror:  mirror,
		logger:  logger,
		state:   InitialAuthState(),
		loading: true,
	}
}

// Mount initializes the mirror, adopts its state whatever the outcome and
// subscribes to further changes. The initialization error, if any, is
// returned after the selector is fully mounted.
func (v *ViewSelector) Mount(ctx context.Context) error {
	err := v.mirror.Initialize(ctx)
	if err != nil {
		v.logger.Error("auth initialization error: %v", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err != nil {
		v.errorMessage = InitErrorMessage
	} else {
		v.errorMessage = ""
	}
	if v.sub == nil {
		v.sub = v.mirror.Subscribe(ListenerFunc(v.Apply))
	}
	v.state = v.mirror.State()
	v.loading = false

	return err
}

// Unmount releases the mirror subscription.
func (v *ViewSelector) Unmount() {
	v.mu.Lock()
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()

	sub.Unsubscribe()
}

// Apply replaces the held state.
func (v *ViewSelector) Apply(state AuthState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = state.Copy()
}

// State returns a copy of the held state.
func (v *ViewSelector) State() AuthState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.Copy()
}

// ErrorMessage returns the static initialization error, if any.
func (v *ViewSelector) ErrorMessage() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.errorMessage
}

// View picks the view to render from the held state.
func (v *ViewSelector) View() ViewName {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.loading {
		return ViewInitializing
	}
	return SelectView(v.state)
}

// SelectView maps a state to the login or secure view.
func SelectView(state AuthState) ViewName {
	if !state.IsInitialized || !state.IsLoggedIn {
		return ViewLogin
	}
	return ViewSecure
}
