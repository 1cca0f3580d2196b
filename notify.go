package auth

import (
	"sync"
	"time"
)

// NotificationLevel is the severity of a transient notification.
type NotificationLevel string

const (
	NotificationSuccess NotificationLevel = "success"
	NotificationError   NotificationLevel = "error"
	NotificationInfo    NotificationLevel = "info"
)

// Notification is a transient, toast style message.
type Notification struct {
	Level       NotificationLevel `json:"level"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Notifier surfaces transient feedback to the user.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(n Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notification) {
	if f == nil {
		return
	}
	f(n)
}

type noopNotifier struct{}

func (noopNotifier) Notify(Notification) {}

// NotificationRecorder collects the notifications of one action so the
// caller can hand them on, as a flash message for example.
type NotificationRecorder struct {
	mu    sync.Mutex
	items []Notification
}

// Notify implements Notifier.
func (r *NotificationRecorder) Notify(n Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// Notifications returns a copy of what was recorded, oldest first.
func (r *NotificationRecorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Last returns the newest notification.
func (r *NotificationRecorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return Notification{}, false
	}
	return r.items[len(r.items)-1], true
}
