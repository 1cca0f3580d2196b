package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
)

// APIClient issues HTTP calls on behalf of the signed in user.
type APIClient struct {
	clients    ClientProvider
	httpClient *http.Client
	logger     Logger
	timeout    time.Duration
}

// APIClientOption configures an APIClient.
type APIClientOption func(*APIClient)

// WithAPIHTTPClient overrides the HTTP client.
func WithAPIHTTPClient(client *http.Client) APIClientOption {
	return func(c *APIClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithAPILogger sets the logger.
func WithAPILogger(logger Logger) APIClientOption {
	return func(c *APIClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAPITimeout bounds each call, token retrieval included.
func WithAPITimeout(timeout time.Duration) APIClientOption {
	return func(c *APIClient) {
		c.timeout = timeout
	}
}

// NewAPIClient returns a client that reads the identity client from clients.
func NewAPIClient(clients ClientProvider, opts ...APIClientOption) *APIClient {
	c := &APIClient{
		clients:    clients,
		httpClient: cleanhttp.DefaultClient(),
		logger:     defLogger{},
		timeout:    30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Call sends an authenticated request with the user's ID token as a bearer
// token and returns the response body as text. A nil body sends no payload.
func (c *APIClient) Call(ctx context.Context, endpoint, method string, body any) (string, error) {
	c.logger.Debug("making authenticated API call to: %s", endpoint)

	if method == "" {
		method = http.MethodGet
	}

	var client IdentityClient
	if c.clients != nil {
		client = c.clients.Client()
	}
	if client == nil || client.CurrentUser() == nil {
		return "", failure(ErrNotAuthenticated, nil, map[string]any{
			"endpoint": endpoint,
		})
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	idToken, err := client.IDToken(ctx, client.CurrentUser())
	if err != nil {
		c.logger.Error("authenticated API call failed: %v", err)
		return "", failure(ErrNotAuthenticated, err, map[string]any{
			"endpoint": endpoint,
		})
	}

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("encode request body: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), endpoint, payload)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+idToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("authenticated API call failed: %v", err)
		return "", failure(ErrAuthenticatedCallFailed, err, map[string]any{
			"endpoint": endpoint,
			"method":   req.Method,
		})
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("authenticated API call failed: HTTP error! status: %d", resp.StatusCode)
		return "", failure(ErrAuthenticatedCallFailed, nil, map[string]any{
			"endpoint": endpoint,
			"method":   req.Method,
			"status":   resp.StatusCode,
			"message":  fmt.Sprintf("HTTP error! status: %d", resp.StatusCode),
		})
	}

	return string(data), nil
}
