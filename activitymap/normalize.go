package activitymap

import (
	"strings"
	"time"

	"github.com/acebook/go-auth"
)

// MetadataKeyTenantID stores the tenant the event was recorded for.
const MetadataKeyTenantID = "tenant_id"

const (
	defaultChannel    = "auth"
	defaultObjectType = "session"
	// AnonymousActor is used when the event has no user, e.g. a failed sign in.
	AnonymousActor = "anonymous"
)

// Normalized is a transport-agnostic activity shape for storage and export.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	objectType    string
	actorFallback string
}

// Normalize converts an auth.ActivityEvent into a Normalized record. The
// object is the tenant session the event belongs to.
func Normalize(event auth.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: AnonymousActor,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	tenantID := strings.TrimSpace(event.TenantID)

	return Normalized{
		ActorID:    firstNonEmpty(strings.TrimSpace(event.UserID), options.actorFallback),
		Verb:       string(event.EventType),
		ObjectType: options.objectType,
		ObjectID:   tenantID,
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event.Metadata, tenantID),
		OccurredAt: occurredAt.UTC(),
	}
}

// Denormalize rebuilds the event a record was produced from.
func Denormalize(n Normalized) auth.ActivityEvent {
	event := auth.ActivityEvent{
		EventType:  auth.ActivityEventType(n.Verb),
		TenantID:   n.ObjectID,
		Metadata:   cloneMap(n.Metadata),
		OccurredAt: n.OccurredAt,
	}
	if n.ActorID != AnonymousActor {
		event.UserID = n.ActorID
	}
	if event.Metadata != nil {
		delete(event.Metadata, MetadataKeyTenantID)
		if len(event.Metadata) == 0 {
			event.Metadata = nil
		}
	}
	return event
}

// WithDefaultChannel sets the channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if channel = strings.TrimSpace(channel); channel != "" {
			opts.channel = channel
		}
	}
}

// WithDefaultObjectType sets the object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		if objectType = strings.TrimSpace(objectType); objectType != "" {
			opts.objectType = objectType
		}
	}
}

// WithActorFallback sets the actor used when the event has no user.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if actorID = strings.TrimSpace(actorID); actorID != "" {
			opts.actorFallback = actorID
		}
	}
}

func normalizeMetadata(in map[string]any, tenantID string) map[string]any {
	metadata := cloneMap(in)
	if tenantID == "" {
		return metadata
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	if _, exists := metadata[MetadataKeyTenantID]; !exists {
		metadata[MetadataKeyTenantID] = tenantID
	}
	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
