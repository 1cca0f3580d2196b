package auth_test

import (
	"context"
	"sync"

	"github.com/acebook/go-auth"
	"github.com/stretchr/testify/mock"
)

// MockIdentityClient implements auth.IdentityClient
type MockIdentityClient struct {
	mock.Mock
}

func (m *MockIdentityClient) OnAuthStateChanged(fn func(user *auth.UserIdentity)) func() {
	args := m.Called(fn)
	if unsubscribe, ok := args.Get(0).(func()); ok {
		return unsubscribe
	}
	return func() {}
}

func (m *MockIdentityClient) SignInWithPopup(ctx context.Context, scopes ...string) (*auth.UserIdentity, error) {
	args := m.Called(ctx, scopes)
	user, _ := args.Get(0).(*auth.UserIdentity)
	return user, args.Error(1)
}

func (m *MockIdentityClient) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockIdentityClient) IDToken(ctx context.Context, user *auth.UserIdentity) (string, error) {
	args := m.Called(ctx, user)
	return args.String(0), args.Error(1)
}

func (m *MockIdentityClient) CurrentUser() *auth.UserIdentity {
	args := m.Called()
	user, _ := args.Get(0).(*auth.UserIdentity)
	return user
}

func (m *MockIdentityClient) TenantID() string {
	args := m.Called()
	return args.String(0)
}

// MockConfigSource implements auth.ConfigSource
type MockConfigSource struct {
	mock.Mock
}

func (m *MockConfigSource) Fetch(ctx context.Context, keys ...string) (map[string]string, error) {
	args := m.Called(ctx, keys)
	values, _ := args.Get(0).(map[string]string)
	return values, args.Error(1)
}

// staticClients implements auth.ClientProvider
type staticClients struct {
	client auth.IdentityClient
}

func (s staticClients) Client() auth.IdentityClient {
	return s.client
}

// recordingSink collects activity events
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) Types() []auth.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

type quietLogger struct{}

func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Warn(string, ...any)  {}
func (quietLogger) Error(string, ...any) {}

func completeConfig() map[string]string {
	return map[string]string{
		auth.ConfigKeyAPIKey:     "k",
		auth.ConfigKeyAuthDomain: "d",
		auth.ConfigKeyTenantID:   "t",
	}
}

func staticSource(values map[string]string) auth.ConfigSource {
	return auth.ConfigSourceFunc(func(context.Context, ...string) (map[string]string, error) {
		return values, nil
	})
}
