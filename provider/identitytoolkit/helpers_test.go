package identitytoolkit

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/acebook/go-auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testProject = "acebook"
	testTenant  = "tenant-1"
	testAPIKey  = "api-key"
)

func newTestJWKS(t *testing.T) (*rsa.PrivateKey, []byte, string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	kid := "test-key"
	jwk := map[string]any{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(privateKey.PublicKey.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(privateKey.PublicKey.E)).Bytes()),
	}

	data, err := json.Marshal(map[string]any{"keys": []map[string]any{jwk}})
	require.NoError(t, err)

	return privateKey, data, kid
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.Claims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(key)
	require.NoError(t, err)

	return signed
}

func idTokenClaims(sub, tenant string, ttl time.Duration) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":            defaultIssuerPrefix + testProject,
		"aud":            testProject,
		"sub":            sub,
		"iat":            now.Unix(),
		"exp":            now.Add(ttl).Unix(),
		"email":          sub + "@example.com",
		"email_verified": true,
		"name":           "Ace Player",
		"phone_number":   "650-253-0000",
		"firebase": map[string]any{
			"tenant":           tenant,
			"sign_in_provider": GoogleProviderID,
		},
	}
}

// fakeProvider serves the Google token endpoint and the Identity Toolkit
// and Secure Token endpoints from one test server.
type fakeProvider struct {
	t      *testing.T
	key    *rsa.PrivateKey
	kid    string
	server *httptest.Server

	signInTTL   time.Duration
	tenant      string
	signInError string
	// refreshSubject is the user the refresh endpoint issues tokens for.
	refreshSubject string
	// onRefresh runs before the refresh endpoint answers.
	onRefresh func()

	mu        sync.Mutex
	lastIdp   signInWithIdpRequest
	refreshes atomic.Int32
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	key, _, kid := newTestJWKS(t)
	p := &fakeProvider{t: t, key: key, kid: kid, signInTTL: time.Hour, tenant: testTenant, refreshSubject: "u1"}

	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "google-access",
				"token_type":   "Bearer",
				"expires_in":   3600,
				"id_token":     "google-id-token",
			})
		case "/v1/accounts:signInWithIdp":
			if r.URL.Query().Get("key") != testAPIKey {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API_KEY_INVALID"}}`))
				return
			}
			if p.signInError != "" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":{"code":400,"message":"` + p.signInError + `"}}`))
				return
			}
			var req signInWithIdpRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			p.mu.Lock()
			p.lastIdp = req
			p.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{
				"localId":      "u1",
				"idToken":      signToken(t, p.key, p.kid, idTokenClaims("u1", p.tenant, p.signInTTL)),
				"refreshToken": "refresh-1",
				"expiresIn":    "3600",
				"photoUrl":     "https://example.com/u1.png",
				"tenantId":     p.tenant,
			})
		case "/v1/token":
			_ = r.ParseForm()
			if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") == "" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":{"code":400,"message":"INVALID_REFRESH_TOKEN"}}`))
				return
			}
			p.refreshes.Add(1)
			p.mu.Lock()
			hook := p.onRefresh
			p.mu.Unlock()
			if hook != nil {
				hook()
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id_token":      signToken(t, p.key, p.kid, idTokenClaims(p.refreshSubject, p.tenant, time.Hour)),
				"refresh_token": "refresh-2",
				"expires_in":    "3600",
				"user_id":       p.refreshSubject,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(p.server.Close)

	return p
}

func (p *fakeProvider) setOnRefresh(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRefresh = fn
}

func (p *fakeProvider) lastSignIn() signInWithIdpRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastIdp
}

func (p *fakeProvider) config(popup Popup, persistence Persistence) Config {
	return Config{
		ClientID:           "client-id",
		ClientSecret:       "client-secret",
		RedirectURL:        "http://localhost:8080/__/auth/handler",
		Popup:              popup,
		Persistence:        persistence,
		HTTPClient:         p.server.Client(),
		IdentityToolkitURL: p.server.URL,
		SecureTokenURL:     p.server.URL,
		AuthURL:            p.server.URL + "/auth",
		TokenURL:           p.server.URL + "/token",
		KeyFunc: func(*jwt.Token) (any, error) {
			return &p.key.PublicKey, nil
		},
	}
}

func providerConfig() auth.ProviderConfig {
	return auth.ProviderConfig{
		APIKey:     testAPIKey,
		AuthDomain: testProject + ".firebaseapp.com",
		TenantID:   testTenant,
	}
}

// approvingPopup answers every popup with a code for the requested state.
type approvingPopup struct {
	mu      sync.Mutex
	lastURL *url.URL
}

func (p *approvingPopup) Open(ctx context.Context, authURL, state string) (url.Values, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.lastURL = u
	p.mu.Unlock()
	return url.Values{"code": {"auth-code"}, "state": {state}}, nil
}

type memoryPersistence struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func newMemoryPersistence() *memoryPersistence {
	return &memoryPersistence{sessions: map[string]Session{}}
}

func (m *memoryPersistence) Load(_ context.Context, tenantID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tenantID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memoryPersistence) Save(_ context.Context, tenantID string, session Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[tenantID] = session
	return nil
}

func (m *memoryPersistence) Clear(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, tenantID)
	return nil
}
