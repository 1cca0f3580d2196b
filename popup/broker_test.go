package popup

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type openResult struct {
	query url.Values
	err   error
}

func openAsync(b *Broker, ctx context.Context, authURL, state string) <-chan openResult {
	done := make(chan openResult, 1)
	go func() {
		q, err := b.Open(ctx, authURL, state)
		done <- openResult{query: q, err: err}
	}()
	return done
}

func TestBroker_OpenDeliver(t *testing.T) {
	b := NewBroker(1)
	done := openAsync(b, context.Background(), "https://accounts.example/auth", "s1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	launch, err := b.NextLaunch(ctx)
	require.NoError(t, err)
	assert.Equal(t, Launch{State: "s1", URL: "https://accounts.example/auth"}, launch)

	require.NoError(t, b.Deliver(url.Values{"state": {"s1"}, "code": {"abc"}}))

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "abc", res.query.Get("code"))
	assert.Equal(t, 0, b.Pending())
}

func TestBroker_DeliverUnknownState(t *testing.T) {
	b := NewBroker(1)
	assert.ErrorIs(t, b.Deliver(url.Values{"state": {"nope"}}), ErrUnknownState)
}

func TestBroker_DeliverProviderError(t *testing.T) {
	b := NewBroker(1)
	done := openAsync(b, context.Background(), "https://accounts.example/auth", "s1")

	_, err := b.NextLaunch(context.Background())
	require.NoError(t, err)
	require.NoError(t, b.Deliver(url.Values{
		"state":             {"s1"},
		"error":             {"access_denied"},
		"error_description": {"user cancelled"},
	}))

	res := <-done
	var cbErr *CallbackError
	require.ErrorAs(t, res.err, &cbErr)
	assert.Equal(t, "access_denied", cbErr.Code)
	assert.Equal(t, "user cancelled", cbErr.Description)
}

func TestBroker_OpenCancelled(t *testing.T) {
	b := NewBroker(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := openAsync(b, ctx, "https://accounts.example/auth", "s1")

	_, err := b.NextLaunch(context.Background())
	require.NoError(t, err)
	cancel()

	res := <-done
	assert.ErrorIs(t, res.err, ErrPopupClosed)
	assert.ErrorIs(t, res.err, context.Canceled)
	assert.Equal(t, 0, b.Pending())
	assert.ErrorIs(t, b.Deliver(url.Values{"state": {"s1"}}), ErrUnknownState)
}

func TestBroker_OpenRejectsDuplicateState(t *testing.T) {
	b := NewBroker(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := openAsync(b, ctx, "https://accounts.example/auth", "s1")

	_, err := b.NextLaunch(context.Background())
	require.NoError(t, err)

	_, err = b.Open(context.Background(), "https://accounts.example/auth", "s1")
	assert.ErrorIs(t, err, ErrDuplicateState)

	cancel()
	<-done
}
