// Package popup bridges a blocking popup sign in with the browser redirect
// flow: Open publishes the provider URL and waits until the provider calls
// back with the matching state.
package popup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
)

var (
	// ErrUnknownState is returned by Deliver when no Open waits on the state.
	ErrUnknownState = errors.New("popup: unknown or expired state")
	// ErrPopupClosed is returned by Open when the wait is abandoned.
	ErrPopupClosed = errors.New("popup: closed before completion")
	// ErrDuplicateState is returned when a state is already pending.
	ErrDuplicateState = errors.New("popup: state already pending")
)

// Launch is a pending popup the browser should be sent to.
type Launch struct {
	State string
	URL   string
}

// CallbackError is a provider redirect carrying an error instead of a code.
type CallbackError struct {
	Code        string
	Description string
}

func (e *CallbackError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("popup: provider returned %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("popup: provider returned %s", e.Code)
}

// Broker pairs Open calls with their provider callbacks by state.
type Broker struct {
	mu       sync.Mutex
	pending  map[string]chan url.Values
	launches chan Launch
}

// NewBroker returns a broker whose launch queue holds up to buffer entries.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 1
	}
	return &Broker{
		pending:  map[string]chan url.Values{},
		launches: make(chan Launch, buffer),
	}
}

// Open publishes authURL as a Launch and blocks until Deliver is called with
// the same state or ctx is done. It returns the callback query.
func (b *Broker) Open(ctx context.Context, authURL, state string) (url.Values, error) {
	if state == "" {
		return nil, fmt.Errorf("popup: state is required")
	}

	result := make(chan url.Values, 1)

	b.mu.Lock()
	if _, ok := b.pending[state]; ok {
		b.mu.Unlock()
		return nil, ErrDuplicateState
	}
	b.pending[state] = result
	b.mu.Unlock()

	defer b.forget(state)

	select {
	case b.launches <- Launch{State: state, URL: authURL}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrPopupClosed, ctx.Err())
	}

	select {
	case query := <-result:
		if code := query.Get("error"); code != "" {
			return nil, &CallbackError{Code: code, Description: query.Get("error_description")}
		}
		return query, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrPopupClosed, ctx.Err())
	}
}

// Launches streams pending popups.
func (b *Broker) Launches() <-chan Launch {
	return b.launches
}

// NextLaunch waits for the next pending popup.
func (b *Broker) NextLaunch(ctx context.Context) (Launch, error) {
	select {
	case l := <-b.launches:
		return l, nil
	case <-ctx.Done():
		return Launch{}, ctx.Err()
	}
}

// Deliver completes the Open waiting on query's state.
func (b *Broker) Deliver(query url.Values) error {
	state := query.Get("state")

	b.mu.Lock()
	result, ok := b.pending[state]
	if ok {
		delete(b.pending, state)
	}
	b.mu.Unlock()

	if !ok {
		return ErrUnknownState
	}

	result <- query
	return nil
}

// Pending returns the number of Open calls waiting on a callback.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Broker) forget(state string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, state)
}
