package identitytoolkit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/acebook/go-auth"
	"github.com/golang-jwt/jwt/v5"
)

// IDTokenClaims are the claims carried by a provider ID token.
type IDTokenClaims struct {
	jwt.RegisteredClaims
	Email         string         `json:"email,omitempty"`
	EmailVerified bool           `json:"email_verified,omitempty"`
	Name          string         `json:"name,omitempty"`
	Picture       string         `json:"picture,omitempty"`
	PhoneNumber   string         `json:"phone_number,omitempty"`
	Firebase      FirebaseClaims `json:"firebase"`
}

// FirebaseClaims is the nested provider section of an ID token.
type FirebaseClaims struct {
	Tenant         string `json:"tenant,omitempty"`
	SignInProvider string `json:"sign_in_provider,omitempty"`
}

// TokenVerifier checks ID token signature, issuer, audience and expiry.
type TokenVerifier struct {
	projectID string
	issuer    string
	keyFunc   jwt.Keyfunc
	jwks      *keyfunc.JWKS
}

// NewTokenVerifier builds a verifier for projectID. Without keyFunc the
// signing keys are fetched from jwksURL and refreshed in the background
// until Close or ctx is done.
func NewTokenVerifier(ctx context.Context, projectID, jwksURL string, keyFunc jwt.Keyfunc, client *http.Client, logger auth.Logger) (*TokenVerifier, error) {
	if projectID == "" {
		return nil, fmt.Errorf("identitytoolkit: project id is required")
	}

	v := &TokenVerifier{
		projectID: projectID,
		issuer:    defaultIssuerPrefix + projectID,
		keyFunc:   keyFunc,
	}

	if v.keyFunc != nil {
		return v, nil
	}

	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Client: client,
		Ctx:    ctx,
		RefreshErrorHandler: func(err error) {
			logger.Warn("failed to do a background refresh of the token signing keys: %s", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("identitytoolkit: failed to get signing keys: %w", err)
	}

	v.jwks = jwks
	v.keyFunc = jwks.Keyfunc
	return v, nil
}

// Verify parses raw and returns its claims. tenantID, when set, must match
// the token's tenant.
func (v *TokenVerifier) Verify(raw, tenantID string) (*IDTokenClaims, error) {
	claims := &IDTokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, v.keyFunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("identitytoolkit: invalid id token: %w", err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("identitytoolkit: id token has no subject")
	}
	if tenantID != "" && claims.Firebase.Tenant != tenantID {
		return nil, fmt.Errorf("%w: want %q got %q", ErrTenantMismatch, tenantID, claims.Firebase.Tenant)
	}

	return claims, nil
}

// Issuer returns the expected token issuer.
func (v *TokenVerifier) Issuer() string {
	return v.issuer
}

// Close stops the background key refresh.
func (v *TokenVerifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}
