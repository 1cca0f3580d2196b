package memory

import (
	"context"
	"sync"

	"github.com/acebook/go-auth"
)

// Factory is an auth.ClientFactory creating memory clients.
type Factory struct {
	mu      sync.Mutex
	opts    []Option
	clients []*Client
	err     error
}

// NewFactory returns a factory applying opts to every client it creates.
func NewFactory(opts ...Option) *Factory {
	return &Factory{opts: opts}
}

// NewClient implements auth.ClientFactory.
func (f *Factory) NewClient(ctx context.Context, cfg auth.ProviderConfig) (auth.IdentityClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	client := NewClient(cfg.TenantID, f.opts...)
	f.clients = append(f.clients, client)
	return client, nil
}

// Fail makes subsequent NewClient calls return err until cleared with nil.
func (f *Factory) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Created returns how many clients were constructed.
func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Last returns the most recently created client, or nil.
func (f *Factory) Last() *Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}
