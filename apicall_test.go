package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/acebook/go-auth"
	"github.com/acebook/go-auth/provider/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newBookingServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(status)
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write([]byte(r.Method + " " + r.Header.Get("Content-Type") + " " + string(body)))
	}))
	t.Cleanup(server.Close)
	return server
}

func signedInClient() *memory.Client {
	return memory.NewClient("t", memory.WithCurrentUser(&auth.UserIdentity{ID: "u1"}))
}

func TestAPIClient_CallSendsBearerToken(t *testing.T) {
	server := newBookingServer(t, http.StatusOK)
	api := auth.NewAPIClient(staticClients{client: signedInClient()}, auth.WithAPILogger(quietLogger{}))

	body, err := api.Call(context.Background(), server.URL+"/courts", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "GET application/json ", body)

	payload := map[string]any{"court": 3}
	body, err = api.Call(context.Background(), server.URL+"/bookings", "post", payload)
	require.NoError(t, err)

	raw, _ := json.Marshal(payload)
	assert.Equal(t, "POST application/json "+string(raw), body)
}

func TestAPIClient_CallNotAuthenticated(t *testing.T) {
	server := newBookingServer(t, http.StatusOK)

	api := auth.NewAPIClient(staticClients{}, auth.WithAPILogger(quietLogger{}))
	_, err := api.Call(context.Background(), server.URL, http.MethodGet, nil)
	assert.True(t, auth.IsNotAuthenticated(err))

	api = auth.NewAPIClient(staticClients{client: memory.NewClient("t")}, auth.WithAPILogger(quietLogger{}))
	_, err = api.Call(context.Background(), server.URL, http.MethodGet, nil)
	assert.True(t, auth.IsNotAuthenticated(err))
}

func TestAPIClient_CallTokenFailure(t *testing.T) {
	user := &auth.UserIdentity{ID: "u1"}
	client := new(MockIdentityClient)
	client.On("CurrentUser").Return(user)
	client.On("IDToken", mock.Anything, user).Return("", errors.New("TOKEN_EXPIRED")).Once()

	api := auth.NewAPIClient(staticClients{client: client}, auth.WithAPILogger(quietLogger{}))
	_, err := api.Call(context.Background(), "http://127.0.0.1:1", http.MethodGet, nil)
	assert.True(t, auth.IsNotAuthenticated(err))
	client.AssertExpectations(t)
}

func TestAPIClient_CallHTTPError(t *testing.T) {
	server := newBookingServer(t, http.StatusInternalServerError)
	api := auth.NewAPIClient(staticClients{client: signedInClient()}, auth.WithAPILogger(quietLogger{}))

	_, err := api.Call(context.Background(), server.URL, http.MethodGet, nil)
	require.Error(t, err)
	assert.True(t, auth.IsAuthenticatedCallFailed(err))
	assert.Equal(t, http.StatusInternalServerError, auth.FailureStatus(err))
	assert.Equal(t, "HTTP error! status: 500", auth.FailureMessage(err))
}

func TestAPIClient_CallTransportError(t *testing.T) {
	api := auth.NewAPIClient(staticClients{client: signedInClient()}, auth.WithAPILogger(quietLogger{}))

	_, err := api.Call(context.Background(), "http://127.0.0.1:1/unreachable", http.MethodGet, nil)
	require.Error(t, err)
	assert.True(t, auth.IsAuthenticatedCallFailed(err))
	assert.Equal(t, 0, auth.FailureStatus(err))
}
