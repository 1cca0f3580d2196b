package identitytoolkit

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/acebook/go-auth"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com"
	defaultSecureTokenURL     = "https://securetoken.googleapis.com"
	defaultJWKSURL            = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
	defaultIssuerPrefix       = "https://securetoken.google.com/"

	// GoogleProviderID is the identity provider used for popup sign in.
	GoogleProviderID = "google.com"
)

// Popup shows authURL to the user and returns the redirect query once the
// provider calls back with state.
type Popup interface {
	Open(ctx context.Context, authURL, state string) (url.Values, error)
}

// PopupFunc adapts a function to the Popup interface.
type PopupFunc func(ctx context.Context, authURL, state string) (url.Values, error)

// Open implements Popup.
func (f PopupFunc) Open(ctx context.Context, authURL, state string) (url.Values, error) {
	return f(ctx, authURL, state)
}

// Session is what survives a restart: the user and the refresh token.
type Session struct {
	User         *auth.UserIdentity
	RefreshToken string
}

// Persistence stores the signed in session per tenant. Load returns nil
// without error when nothing is stored.
type Persistence interface {
	Load(ctx context.Context, tenantID string) (*Session, error)
	Save(ctx context.Context, tenantID string, session Session) error
	Clear(ctx context.Context, tenantID string) error
}

// Config holds the Google OAuth client and the provider endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	Popup       Popup
	Persistence Persistence
	HTTPClient  *http.Client
	Logger      auth.Logger

	// PhoneRegion is used to normalize phone numbers without a country code.
	// Default: "US".
	PhoneRegion string

	// ProjectID overrides the project derived from the auth domain.
	ProjectID string

	// TokenRefreshMargin is subtracted from the ID token expiry when caching.
	// Default: 5 minutes.
	TokenRefreshMargin time.Duration

	IdentityToolkitURL string
	SecureTokenURL     string
	JWKSURL            string
	AuthURL            string
	TokenURL           string

	// KeyFunc replaces the JWKS lookup when verifying ID tokens.
	KeyFunc jwt.Keyfunc
}

// Validate will run validation rules
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ClientID, validation.Required),
		validation.Field(&c.RedirectURL, validation.Required),
		validation.Field(&c.Popup, validation.Required),
	)
}

func (c Config) withDefaults() Config {
	if c.IdentityToolkitURL == "" {
		c.IdentityToolkitURL = defaultIdentityToolkitURL
	}
	if c.SecureTokenURL == "" {
		c.SecureTokenURL = defaultSecureTokenURL
	}
	if c.JWKSURL == "" {
		c.JWKSURL = defaultJWKSURL
	}
	if c.PhoneRegion == "" {
		c.PhoneRegion = "US"
	}
	if c.TokenRefreshMargin == 0 {
		c.TokenRefreshMargin = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = auth.DefaultLogger()
	}
	c.IdentityToolkitURL = strings.TrimSuffix(c.IdentityToolkitURL, "/")
	c.SecureTokenURL = strings.TrimSuffix(c.SecureTokenURL, "/")
	return c
}

// ProjectIDFromAuthDomain derives the project from an auth domain such as
// "acebook.firebaseapp.com".
func ProjectIDFromAuthDomain(authDomain string) string {
	domain := strings.TrimSpace(authDomain)
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimSuffix(domain, "/")
	for _, suffix := range []string{".firebaseapp.com", ".web.app"} {
		if strings.HasSuffix(domain, suffix) {
			return strings.TrimSuffix(domain, suffix)
		}
	}
	return domain
}
