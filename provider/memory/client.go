// Package memory provides an in-process identity client. It backs the
// development server and the tests, and scripts popup outcomes instead of
// talking to a real provider.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/acebook/go-auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ProviderID is reported on every identity this package signs in.
const ProviderID = "google.com"

var (
	// ErrPopupClosed mirrors the provider error for a dismissed popup.
	ErrPopupClosed = errors.New("auth/popup-closed-by-user")
	// ErrNoUser is returned when an ID token is requested without a user.
	ErrNoUser = errors.New("memory: no signed in user")
)

// Outcome scripts the result of one popup sign in.
type Outcome struct {
	User *auth.UserIdentity
	Err  error
}

// Option configures a Client.
type Option func(*Client)

// WithCurrentUser starts the client signed in as user.
func WithCurrentUser(user *auth.UserIdentity) Option {
	return func(c *Client) {
		c.current = user.Clone()
	}
}

// WithDefaultUser is returned by popup sign ins once the script is empty.
func WithDefaultUser(user *auth.UserIdentity) Option {
	return func(c *Client) {
		c.defaultUser = user.Clone()
	}
}

// WithSecret sets the HMAC key used to sign ID tokens.
func WithSecret(secret []byte) Option {
	return func(c *Client) {
		if len(secret) > 0 {
			c.secret = secret
		}
	}
}

// WithTokenTTL sets the ID token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.tokenTTL = ttl
		}
	}
}

// Client is an auth.IdentityClient kept entirely in memory. Events are
// delivered synchronously and one at a time.
type Client struct {
	mu          sync.Mutex
	tenantID    string
	secret      []byte
	tokenTTL    time.Duration
	current     *auth.UserIdentity
	defaultUser *auth.UserIdentity
	outcomes    []Outcome
	signOutErr  error
	subscribers map[uuid.UUID]func(*auth.UserIdentity)
	order       []uuid.UUID

	emitMu sync.Mutex
}

// NewClient returns a client for tenantID.
func NewClient(tenantID string, opts ...Option) *Client {
	c := &Client{
		tenantID:    tenantID,
		secret:      []byte("acebook-memory-provider"),
		tokenTTL:    time.Hour,
		subscribers: map[uuid.UUID]func(*auth.UserIdentity){},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.current != nil && c.current.TenantID == "" {
		c.current.TenantID = tenantID
	}
	return c
}

// OnAuthStateChanged implements auth.IdentityClient. fn receives the current
// user before this call returns.
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
	current := c.current.Clone()
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

// SignInWithPopup implements auth.IdentityClient by consuming the next
// scripted outcome.
func (c *Client) SignInWithPopup(ctx context.Context, scopes ...string) (*auth.UserIdentity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	var outcome Outcome
	if len(c.outcomes) > 0 {
		outcome = c.outcomes[0]
		c.outcomes = c.outcomes[1:]
	} else {
		outcome = Outcome{User: c.defaultUser.Clone()}
	}
	c.mu.Unlock()

	if outcome.Err != nil {
		return nil, outcome.Err
	}
	if outcome.User == nil {
		return nil, ErrPopupClosed
	}

	user := outcome.User.Clone()
	if user.TenantID == "" {
		user.TenantID = c.tenantID
	}
	if user.ProviderID == "" {
		user.ProviderID = ProviderID
	}

	c.Emit(user)

	return user.Clone(), nil
}

// SignOut implements auth.IdentityClient.
func (c *Client) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	err := c.signOutErr
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.Emit(nil)
	return nil
}

// IDToken implements auth.IdentityClient with an HS256 token.
func (c *Client) IDToken(ctx context.Context, user *auth.UserIdentity) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrNoUser
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":            user.ID,
		"email":          user.Email,
		"email_verified": user.EmailVerified,
		"name":           user.DisplayName,
		"iat":            now.Unix(),
		"exp":            now.Add(c.tokenTTL).Unix(),
		"firebase": map[string]any{
			"tenant":           user.TenantID,
			"sign_in_provider": user.ProviderID,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("memory: sign id token: %w", err)
	}
	return token, nil
}

// CurrentUser implements auth.IdentityClient.
func (c *Client) CurrentUser() *auth.UserIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Clone()
}

// TenantID implements auth.IdentityClient.
func (c *Client) TenantID() string {
	return c.tenantID
}

// Script queues popup outcomes, consumed in order.
func (c *Client) Script(outcomes ...Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, outcomes...)
}

// FailSignOut makes every sign out fail with err until cleared with nil.
func (c *Client) FailSignOut(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signOutErr = err
}

// Emit sets the current user and notifies every subscriber, as if the
// provider changed the session on its own.
func (c *Client) Emit(user *auth.UserIdentity) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	c.current = user.Clone()
	fns := make([]func(*auth.UserIdentity), 0, len(c.order))
	for _, id := range c.order {
		fns = append(fns, c.subscribers[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(user.Clone())
	}
}

// Subscribers returns the number of registered callbacks.
func (c *Client) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers)
}

// Secret returns the HMAC key used to sign ID tokens.
func (c *Client) Secret() []byte {
	return c.secret
}
