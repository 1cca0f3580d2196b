// Package configfetch retrieves the identity provider parameters from the
// remote configuration endpoint.
package configfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
)

// DefaultTimeout bounds a single fetch.
const DefaultTimeout = 10 * time.Second

// Fetcher calls GET <BaseURL>?keys=a,b,c and expects a flat JSON object of
// string values back.
type Fetcher struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New returns a fetcher for baseURL with its own clean HTTP client.
func New(baseURL string) *Fetcher {
	return &Fetcher{
		BaseURL:    baseURL,
		HTTPClient: cleanhttp.DefaultClient(),
		Timeout:    DefaultTimeout,
	}
}

// Fetch implements auth.ConfigSource. Every requested key must be present
// with a non empty string value.
func (f *Fetcher) Fetch(ctx context.Context, keys ...string) (map[string]string, error) {
	if f == nil || strings.TrimSpace(f.BaseURL) == "" {
		return nil, fmt.Errorf("configfetch: base URL is required")
	}

	endpoint, err := f.endpoint(keys)
	if err != nil {
		return nil, err
	}

	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("configfetch: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := f.HTTPClient
	if client == nil {
		client = cleanhttp.DefaultClient()
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("configfetch: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("configfetch: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("configfetch: unexpected status %d", resp.StatusCode)
	}

	return decode(body, keys)
}

func (f *Fetcher) endpoint(keys []string) (string, error) {
	u, err := url.Parse(f.BaseURL)
	if err != nil {
		return "", fmt.Errorf("configfetch: invalid base URL: %w", err)
	}

	escaped := make([]string, 0, len(keys))
	for _, k := range keys {
		escaped = append(escaped, url.QueryEscape(k))
	}

	// commas stay literal so the endpoint can split on them
	q := u.RawQuery
	if q != "" {
		q += "&"
	}
	u.RawQuery = q + "keys=" + strings.Join(escaped, ",")

	return u.String(), nil
}

func decode(body []byte, keys []string) (map[string]string, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("configfetch: decode response: %w", err)
	}

	values := make(map[string]string, len(keys))
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			return nil, fmt.Errorf("configfetch: missing key %q", k)
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("configfetch: key %q is not a string", k)
		}
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("configfetch: key %q is empty", k)
		}
		values[k] = s
	}

	return values, nil
}
