// Package identitytoolkit implements auth.IdentityClient on top of Google
// OAuth and the Identity Toolkit REST API, with tenant scoped sessions.
package identitytoolkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/acebook/go-auth"
	"github.com/google/uuid"
	cleanhttp "github.com/hashicorp/go-cleanhttp"
	"github.com/nyaruka/phonenumbers"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// Client is a tenant scoped identity client.
type Client struct {
	cfg        Config
	provider   auth.ProviderConfig
	oauth      *oauth2.Config
	verifier   *TokenVerifier
	tokens     *tokenCache
	httpClient *http.Client
	logger     auth.Logger

	mu          sync.Mutex
	session     *Session
	subscribers map[uuid.UUID]func(*auth.UserIdentity)
	order       []uuid.UUID

	emitMu    sync.Mutex
	refreshMu sync.Mutex
}

// Factory is an auth.ClientFactory for Identity Toolkit clients.
type Factory struct {
	cfg Config
}

// NewFactory returns a factory sharing cfg across clients.
func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg}
}

// NewClient implements auth.ClientFactory.
func (f *Factory) NewClient(ctx context.Context, provider auth.ProviderConfig) (auth.IdentityClient, error) {
	return NewClient(ctx, f.cfg, provider)
}

// NewClient validates the configuration, prepares token verification and
// restores any persisted session for the tenant.
func NewClient(ctx context.Context, cfg Config, provider auth.ProviderConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("identitytoolkit: invalid config: %w", err)
	}
	if err := provider.Validate(); err != nil {
		return nil, fmt.Errorf("identitytoolkit: invalid provider config: %w", err)
	}

	cfg = cfg.withDefaults()

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultClient()
	}

	projectID := cfg.ProjectID
	if projectID == "" {
		projectID = ProjectIDFromAuthDomain(provider.AuthDomain)
	}

	verifier, err := NewTokenVerifier(ctx, projectID, cfg.JWKSURL, cfg.KeyFunc, httpClient, cfg.Logger)
	if err != nil {
		return nil, err
	}

	endpoint := endpoints.Google
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	c := &Client{
		cfg:      cfg,
		provider: provider,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
		},
		verifier:    verifier,
		tokens:      newTokenCache(),
		httpClient:  httpClient,
		logger:      cfg.Logger,
		subscribers: map[uuid.UUID]func(*auth.UserIdentity){},
	}

	if cfg.Persistence != nil {
		stored, err := cfg.Persistence.Load(ctx, provider.TenantID)
		if err != nil {
			c.logger.Warn("failed to restore session for tenant %s: %v", provider.TenantID, err)
		} else if stored != nil && stored.User != nil && stored.RefreshToken != "" {
			c.session = &Session{User: stored.User.Clone(), RefreshToken: stored.RefreshToken}
			c.logger.Debug("restored session for user %s", stored.User.ID)
		}
	}

	return c, nil
}

// OnAuthStateChanged implements auth.IdentityClient.
func (c *Client) OnAuthStateChanged(fn func(user *auth.UserIdentity)) func() {
	if fn == nil {
		return func() {}
	}

	id := uuid.New()

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	c.subscribers[id] = fn
	c.order = append(c.order, id)
	current := c.currentLocked()
	c.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subscribers, id)
			for i, oid := range c.order {
				if oid == id {
					c.order = append(c.order[:i], c.order[i+1:]...)
					break
				}
			}
		})
	}
}

// SignInWithPopup implements auth.IdentityClient. It runs the Google
// authorization code flow with PKCE through the popup, then exchanges the
// Google credential for a tenant session.
func (c *Client) SignInWithPopup(ctx context.Context, scopes ...string) (*auth.UserIdentity, error) {
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	oauthCfg := *c.oauth
	oauthCfg.Scopes = mergeScopes(c.oauth.Scopes, scopes)

	authURL := oauthCfg.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)

	query, err := c.cfg.Popup.Open(ctx, authURL, state)
	if err != nil {
		return nil, err
	}

	code := query.Get("code")
	if code == "" {
		return nil, ErrMissingCode
	}

	token, err := oauthCfg.Exchange(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, providerError("exchange", 0, "", "", err)
	}

	resp, err := c.signInWithIdp(ctx, idpPostBody(token))
	if err != nil {
		return nil, err
	}

	claims, err := c.verifier.Verify(resp.IDToken, c.provider.TenantID)
	if err != nil {
		return nil, err
	}

	user := c.userFromClaims(claims)
	if resp.DisplayName != "" && user.DisplayName == "" {
		user.DisplayName = resp.DisplayName
	}
	if resp.PhotoURL != "" && user.PhotoURL == "" {
		user.PhotoURL = resp.PhotoURL
	}

	session := Session{User: user, RefreshToken: resp.RefreshToken}
	c.storeToken(user.ID, resp.IDToken, claims)
	c.persist(ctx, session)

	c.mu.Lock()
	c.session = &Session{User: user.Clone(), RefreshToken: resp.RefreshToken}
	c.mu.Unlock()

	c.logger.Info("signed in user %s with %s", user.ID, user.ProviderID)
	c.emit()

	return user.Clone(), nil
}

// SignOut implements auth.IdentityClient.
func (c *Client) SignOut(ctx context.Context) error {
	if c.cfg.Persistence != nil {
		if err := c.cfg.Persistence.Clear(ctx, c.provider.TenantID); err != nil {
			return fmt.Errorf("identitytoolkit: clear session: %w", err)
		}
	}

	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	c.tokens.Flush()

	c.emit()
	return nil
}

// IDToken implements auth.IdentityClient. Cached tokens are returned until
// shortly before expiry, then refreshed with the session's refresh token.
func (c *Client) IDToken(ctx context.Context, user *auth.UserIdentity) (string, error) {
	if user == nil {
		return "", ErrNoSession
	}

	if token, ok := c.tokens.Get(user.ID); ok {
		return token, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if token, ok := c.tokens.Get(user.ID); ok {
		return token, nil
	}

	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil || session.User == nil || session.User.ID != user.ID {
		return "", ErrNoSession
	}

	resp, err := c.refresh(ctx, session.RefreshToken)
	if err != nil {
		return "", err
	}

	claims, err := c.verifier.Verify(resp.IDToken, c.provider.TenantID)
	if err != nil {
		return "", err
	}

	if claims.Subject != user.ID {
		// the provider swapped the account behind the refresh token
		next := c.userFromClaims(claims)
		refreshToken := resp.RefreshToken
		if refreshToken == "" {
			refreshToken = session.RefreshToken
		}

		c.mu.Lock()
		if c.session != session {
			// signed out or replaced while refreshing
			c.mu.Unlock()
			return "", ErrNoSession
		}
		c.session = &Session{User: next.Clone(), RefreshToken: refreshToken}
		c.mu.Unlock()
		c.tokens.Delete(user.ID)
		c.storeToken(next.ID, resp.IDToken, claims)
		c.persist(ctx, Session{User: next, RefreshToken: refreshToken})

		c.logger.Info("refresh switched user %s to %s", user.ID, next.ID)
		c.emit()

		return resp.IDToken, nil
	}

	c.mu.Lock()
	current := c.session == session
	c.mu.Unlock()
	if !current {
		return "", ErrNoSession
	}

	c.storeToken(user.ID, resp.IDToken, claims)

	if resp.RefreshToken != "" && resp.RefreshToken != session.RefreshToken {
		c.mu.Lock()
		updated := c.session == session
		if updated {
			c.session.RefreshToken = resp.RefreshToken
		}
		c.mu.Unlock()
		if updated {
			c.persist(ctx, Session{User: session.User.Clone(), RefreshToken: resp.RefreshToken})
		}
	}

	return resp.IDToken, nil
}

// CurrentUser implements auth.IdentityClient.
func (c *Client) CurrentUser() *auth.UserIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked()
}

// TenantID implements auth.IdentityClient.
func (c *Client) TenantID() string {
	return c.provider.TenantID
}

// Close stops background key refreshes.
func (c *Client) Close() error {
	c.verifier.Close()
	return nil
}

func (c *Client) currentLocked() *auth.UserIdentity {
	if c.session == nil {
		return nil
	}
	return c.session.User.Clone()
}

func (c *Client) emit() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	user := c.currentLocked()
	fns := make([]func(*auth.UserIdentity), 0, len(c.order))
	for _, id := range c.order {
		fns = append(fns, c.subscribers[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(user.Clone())
	}
}

func (c *Client) storeToken(uid, token string, claims *IDTokenClaims) {
	if claims.ExpiresAt == nil {
		return
	}
	c.tokens.Set(uid, token, time.Until(claims.ExpiresAt.Time)-c.cfg.TokenRefreshMargin)
}

func (c *Client) persist(ctx context.Context, session Session) {
	if c.cfg.Persistence == nil {
		return
	}
	if err := c.cfg.Persistence.Save(ctx, c.provider.TenantID, session); err != nil {
		c.logger.Warn("failed to persist session for user %s: %v", session.User.ID, err)
	}
}

func (c *Client) userFromClaims(claims *IDTokenClaims) *auth.UserIdentity {
	providerID := claims.Firebase.SignInProvider
	if providerID == "" {
		providerID = GoogleProviderID
	}
	return &auth.UserIdentity{
		ID:            claims.Subject,
		TenantID:      claims.Firebase.Tenant,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		DisplayName:   claims.Name,
		PhotoURL:      claims.Picture,
		PhoneNumber:   NormalizePhone(claims.PhoneNumber, c.cfg.PhoneRegion),
		ProviderID:    providerID,
	}
}

// NormalizePhone formats raw as E.164, returning raw unchanged when it cannot
// be parsed.
func NormalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

func mergeScopes(base, extra []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(base)+len(extra)+1)
	for _, s := range append(append([]string{"openid"}, base...), extra...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func idpPostBody(token *oauth2.Token) string {
	values := url.Values{"providerId": {GoogleProviderID}}
	if idToken, ok := token.Extra("id_token").(string); ok && idToken != "" {
		values.Set("id_token", idToken)
	} else {
		values.Set("access_token", token.AccessToken)
	}
	return values.Encode()
}

type signInWithIdpRequest struct {
	PostBody            string `json:"postBody"`
	RequestURI          string `json:"requestUri"`
	ReturnSecureToken   bool   `json:"returnSecureToken"`
	ReturnIdpCredential bool   `json:"returnIdpCredential"`
	TenantID            string `json:"tenantId,omitempty"`
}

type signInWithIdpResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoUrl"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	TenantID     string `json:"tenantId"`
}

func (c *Client) signInWithIdp(ctx context.Context, postBody string) (*signInWithIdpResponse, error) {
	payload, err := json.Marshal(signInWithIdpRequest{
		PostBody:            postBody,
		RequestURI:          c.cfg.RedirectURL,
		ReturnSecureToken:   true,
		ReturnIdpCredential: true,
		TenantID:            c.provider.TenantID,
	})
	if err != nil {
		return nil, err
	}

	endpoint := c.cfg.IdentityToolkitURL + "/v1/accounts:signInWithIdp?key=" + url.QueryEscape(c.provider.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp signInWithIdpResponse
	if err := c.do(req, "sign_in_with_idp", &resp); err != nil {
		return nil, err
	}
	if resp.IDToken == "" {
		return nil, providerError("sign_in_with_idp", http.StatusOK, "MISSING_ID_TOKEN", "response has no id token", nil)
	}
	return &resp, nil
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*refreshResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	endpoint := c.cfg.SecureTokenURL + "/v1/token?key=" + url.QueryEscape(c.provider.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp refreshResponse
	if err := c.do(req, "refresh", &resp); err != nil {
		return nil, err
	}
	if resp.IDToken == "" {
		return nil, providerError("refresh", http.StatusOK, "MISSING_ID_TOKEN", "response has no id token", nil)
	}
	return &resp, nil
}

func (c *Client) do(req *http.Request, operation string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return providerError(operation, 0, "", "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return providerError(operation, resp.StatusCode, "", "", err)
	}

	if resp.StatusCode != http.StatusOK {
		return parseAPIError(operation, resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return providerError(operation, resp.StatusCode, "INVALID_RESPONSE", "failed to decode response", err)
	}
	return nil
}
