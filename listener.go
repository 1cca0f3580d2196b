package auth

import (
	"sync"

	"github.com/google/uuid"
)

// Listener receives every published AuthState.
type Listener interface {
	OnAuthStateChange(state AuthState)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(state AuthState)

// OnAuthStateChange implements Listener.
func (f ListenerFunc) OnAuthStateChange(state AuthState) {
	if f == nil {
		return
	}
	f(state)
}

// Subscription is the token returned by SessionMirror.Subscribe.
type Subscription struct {
	id     uuid.UUID
	once   sync.Once
	remove func(id uuid.UUID)
}

func newSubscription(remove func(id uuid.UUID)) *Subscription {
	return &Subscription{
		id:     uuid.New(),
		remove: remove,
	}
}

// ID identifies the registration.
func (s *Subscription) ID() string {
	if s == nil {
		return ""
	}
	return s.id.String()
}

// Unsubscribe removes the registration. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.remove != nil {
			s.remove(s.id)
		}
	})
}

type registration struct {
	id       uuid.UUID
	listener Listener
}
