package auth

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// UserIdentity is the provider's view of an authenticated user.
type UserIdentity struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	PhotoURL      string `json:"photo_url,omitempty"`
	PhoneNumber   string `json:"phone_number,omitempty"`
	ProviderID    string `json:"provider_id,omitempty"`
}

// Clone returns a copy of the identity, nil safe.
func (u *UserIdentity) Clone() *UserIdentity {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// ProviderConfig holds the parameters needed to construct an identity client.
type ProviderConfig struct {
	APIKey     string `json:"apiKey"`
	AuthDomain string `json:"authDomain"`
	TenantID   string `json:"tenantId"`
}

// IdentityClient is the live handle to the identity provider.
//
// OnAuthStateChanged delivers the current user once on registration and then
// once per change, one event at a time and in emission order. A nil user
// means signed out.
type IdentityClient interface {
	OnAuthStateChanged(fn func(user *UserIdentity)) (unsubscribe func())
	SignInWithPopup(ctx context.Context, scopes ...string) (*UserIdentity, error)
	SignOut(ctx context.Context) error
	IDToken(ctx context.Context, user *UserIdentity) (string, error)
	CurrentUser() *UserIdentity
	TenantID() string
}

// ClientFactory constructs identity clients.
type ClientFactory interface {
	NewClient(ctx context.Context, cfg ProviderConfig) (IdentityClient, error)
}

// ClientFactoryFunc adapts a function to the ClientFactory interface.
type ClientFactoryFunc func(ctx context.Context, cfg ProviderConfig) (IdentityClient, error)

// NewClient implements ClientFactory.
func (f ClientFactoryFunc) NewClient(ctx context.Context, cfg ProviderConfig) (IdentityClient, error) {
	return f(ctx, cfg)
}

// ConfigSource retrieves remote initialization parameters.
type ConfigSource interface {
	Fetch(ctx context.Context, keys ...string) (map[string]string, error)
}

// ConfigSourceFunc adapts a function to the ConfigSource interface.
type ConfigSourceFunc func(ctx context.Context, keys ...string) (map[string]string, error)

// Fetch implements ConfigSource.
func (f ConfigSourceFunc) Fetch(ctx context.Context, keys ...string) (map[string]string, error) {
	return f(ctx, keys...)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] ACEBOOK "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] ACEBOOK "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] ACEBOOK "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] ACEBOOK "+newline(format), args...)
}

// DefaultLogger returns the stdout logger used when none is configured.
func DefaultLogger() Logger {
	return defLogger{}
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
