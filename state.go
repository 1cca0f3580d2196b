package auth

import (
	"errors"
)

// AuthState is an immutable snapshot of the authentication state.
type AuthState struct {
	IsInitialized bool           `json:"is_initialized"`
	IsLoggedIn    bool           `json:"is_logged_in"`
	User          *UserIdentity  `json:"user"`
	Client        IdentityClient `json:"-"`
}

// InitialAuthState is the uninitialized, logged out state.
func InitialAuthState() AuthState {
	return AuthState{}
}

// SignedOutAuthState is the state pushed straight to the UI after a
// successful sign out, ahead of the provider callback.
func SignedOutAuthState() AuthState {
	return AuthState{IsInitialized: true}
}

func newAuthState(user *UserIdentity, client IdentityClient) AuthState {
	user = user.Clone()
	return AuthState{
		IsInitialized: true,
		IsLoggedIn:    user != nil,
		User:          user,
		Client:        client,
	}
}

// Copy returns a snapshot that shares no mutable data with s.
func (s AuthState) Copy() AuthState {
	s.User = s.User.Clone()
	return s
}

// UserID returns the signed in user id or an empty string.
func (s AuthState) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}

// Validate checks the state invariants.
func (s AuthState) Validate() error {
	if s.IsLoggedIn != (s.User != nil) {
		return errors.New("auth state: logged in flag does not match user presence")
	}
	if !s.IsInitialized && (s.IsLoggedIn || s.User != nil) {
		return errors.New("auth state: logged in before initialization")
	}
	return nil
}

// SameSession reports whether both snapshots describe the same signed in
// user, ignoring the client handle.
func (s AuthState) SameSession(o AuthState) bool {
	return s.IsInitialized == o.IsInitialized &&
		s.IsLoggedIn == o.IsLoggedIn &&
		s.UserID() == o.UserID()
}
