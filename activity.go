package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventStateChanged   ActivityEventType = "auth.state.changed"
	ActivityEventInitFailure    ActivityEventType = "auth.init.failure"
	ActivityEventSignInSuccess  ActivityEventType = "auth.signin.success"
	ActivityEventSignInFailure  ActivityEventType = "auth.signin.failure"
	ActivityEventSignOutSuccess ActivityEventType = "auth.signout.success"
	ActivityEventSignOutFailure ActivityEventType = "auth.signout.failure"
)

// ActivityEvent captures audit-friendly information about an auth action.
type ActivityEvent struct {
	EventType  ActivityEventType `json:"event_type"`
	UserID     string            `json:"user_id,omitempty"`
	TenantID   string            `json:"tenant_id,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// ActivityFeed lists recorded activity, newest first.
type ActivityFeed interface {
	Recent(ctx context.Context, tenantID string, limit int) ([]ActivityEvent, error)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// emitActivity records best effort; sink errors are only logged.
func emitActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if sink == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := sink.Record(ctx, event); err != nil && logger != nil {
		logger.Error("activity sink record %s: %v", event.EventType, err)
	}
}

func userActivity(eventType ActivityEventType, user *UserIdentity, meta map[string]any) ActivityEvent {
	event := ActivityEvent{
		EventType: eventType,
		Metadata:  meta,
	}
	if user != nil {
		event.UserID = user.ID
		event.TenantID = user.TenantID
	}
	return event
}
