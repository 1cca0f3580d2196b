package auth

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeConfigFetchFailed       = "auth_config_fetch_failed"
	TextCodeClientInitFailed        = "auth_client_init_failed"
	TextCodeClientNotReady          = "auth_client_not_ready"
	TextCodeSignInFailed            = "auth_sign_in_failed"
	TextCodeSignInInProgress        = "auth_sign_in_in_progress"
	TextCodeSignOutFailed           = "auth_sign_out_failed"
	TextCodeAuthenticatedCallFailed = "auth_authenticated_call_failed"
	TextCodeNotAuthenticated        = "auth_not_authenticated"
)

// ErrConfigFetchFailed is returned when the remote config could not be
// fetched or did not contain every required key.
var ErrConfigFetchFailed = goerrors.New("failed to fetch identity provider config", goerrors.CategoryOperation).
	WithTextCode(TextCodeConfigFetchFailed)

// ErrClientInitFailed is returned when the identity client could not be built.
var ErrClientInitFailed = goerrors.New("failed to initialize identity client", goerrors.CategoryInternal).
	WithTextCode(TextCodeClientInitFailed)

// ErrClientNotReady is returned when an action needs a client handle before
// the session mirror was initialized.
var ErrClientNotReady = goerrors.New("authentication service not initialized", goerrors.CategoryOperation).
	WithTextCode(TextCodeClientNotReady)

// ErrSignInFailed wraps any popup sign-in rejection.
var ErrSignInFailed = goerrors.New("failed to sign in with Google", goerrors.CategoryAuth).
	WithTextCode(TextCodeSignInFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrSignInInProgress is returned while another sign-in attempt is running.
var ErrSignInInProgress = goerrors.New("sign in already in progress", goerrors.CategoryConflict).
	WithTextCode(TextCodeSignInInProgress).
	WithCode(goerrors.CodeConflict)

// ErrSignOutFailed wraps a provider sign-out failure.
var ErrSignOutFailed = goerrors.New("failed to sign out", goerrors.CategoryAuth).
	WithTextCode(TextCodeSignOutFailed)

// ErrAuthenticatedCallFailed is returned for non 2xx authenticated API calls.
var ErrAuthenticatedCallFailed = goerrors.New("authenticated API call failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeAuthenticatedCallFailed)

// ErrNotAuthenticated is returned when an operation needs a signed in user.
var ErrNotAuthenticated = goerrors.New("user not authenticated", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotAuthenticated).
	WithCode(goerrors.CodeUnauthorized)

func IsConfigFetchFailed(err error) bool { return hasTextCode(err, TextCodeConfigFetchFailed) }
func IsClientInitFailed(err error) bool  { return hasTextCode(err, TextCodeClientInitFailed) }
func IsClientNotReady(err error) bool    { return hasTextCode(err, TextCodeClientNotReady) }
func IsSignInFailed(err error) bool      { return hasTextCode(err, TextCodeSignInFailed) }
func IsSignInInProgress(err error) bool  { return hasTextCode(err, TextCodeSignInInProgress) }
func IsSignOutFailed(err error) bool     { return hasTextCode(err, TextCodeSignOutFailed) }
func IsNotAuthenticated(err error) bool  { return hasTextCode(err, TextCodeNotAuthenticated) }

func IsAuthenticatedCallFailed(err error) bool {
	return hasTextCode(err, TextCodeAuthenticatedCallFailed)
}

// FailureMessage returns the user facing message carried by an error
// produced in this package, falling back to err.Error().
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil {
		if msg, ok := rich.Metadata["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return err.Error()
}

// FailureStatus returns the HTTP status recorded on an authenticated call
// failure, or 0.
func FailureStatus(err error) int {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil {
		if status, ok := rich.Metadata["status"].(int); ok {
			return status
		}
	}
	return 0
}

func failure(base *goerrors.Error, source error, meta map[string]any) error {
	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if source != nil {
		clone.Source = source
		if meta == nil {
			meta = map[string]any{}
		}
		if _, ok := meta["message"]; !ok {
			meta["message"] = source.Error()
		}
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich == nil {
		return false
	}
	return rich.TextCode == code
}
