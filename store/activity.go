package store

import (
	"context"
	"time"

	"github.com/acebook/go-auth"
	"github.com/acebook/go-auth/activitymap"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultRecentLimit caps Recent when no positive limit is given.
const DefaultRecentLimit = 20

// ActivityModel is one recorded auth activity, stored in its normalized form.
type ActivityModel struct {
	bun.BaseModel `bun:"table:auth_activity"`

	ID         uuid.UUID      `bun:"id,pk,type:uuid"`
	ActorID    string         `bun:"actor_id,notnull"`
	Verb       string         `bun:"verb,notnull"`
	ObjectType string         `bun:"object_type"`
	ObjectID   string         `bun:"object_id"`
	Channel    string         `bun:"channel"`
	Metadata   map[string]any `bun:"metadata,type:jsonb"`
	OccurredAt time.Time      `bun:"occurred_at,notnull"`
}

// ActivityStore implements auth.ActivitySink and auth.ActivityFeed.
type ActivityStore struct {
	repository.Repository[*ActivityModel]
	db   *bun.DB
	opts []activitymap.Option
}

var (
	_ auth.ActivitySink = (*ActivityStore)(nil)
	_ auth.ActivityFeed = (*ActivityStore)(nil)
)

// NewActivityStore creates a new store; opts tune how events are normalized.
func NewActivityStore(db *bun.DB, opts ...activitymap.Option) *ActivityStore {
	repo := repository.NewRepository[*ActivityModel](db, repository.ModelHandlers[*ActivityModel]{
		NewRecord: func() *ActivityModel { return &ActivityModel{} },
		GetID: func(m *ActivityModel) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return m.ID
		},
		SetID: func(m *ActivityModel, id uuid.UUID) {
			if m != nil {
				m.ID = id
			}
		},
	})

	return &ActivityStore{
		Repository: repo,
		db:         db,
		opts:       opts,
	}
}

// Record implements auth.ActivitySink.
func (s *ActivityStore) Record(ctx context.Context, event auth.ActivityEvent) error {
	n := activitymap.Normalize(event, s.opts...)

	_, err := s.Repository.CreateTx(ctx, s.db, &ActivityModel{
		ID:         uuid.New(),
		ActorID:    n.ActorID,
		Verb:       n.Verb,
		ObjectType: n.ObjectType,
		ObjectID:   n.ObjectID,
		Channel:    n.Channel,
		Metadata:   n.Metadata,
		OccurredAt: n.OccurredAt,
	})
	return err
}

// NewestFirst orders activity by occurrence, newest first.
func NewestFirst() repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.OrderExpr("?TableAlias.occurred_at DESC")
	}
}

// ForTenant keeps the activity of tenantID.
func ForTenant(tenantID string) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.object_id = ?", tenantID)
	}
}

// ListTx returns up to limit rows matching criteria.
func (s *ActivityStore) ListTx(ctx context.Context, tx bun.IDB, limit int, criteria ...repository.SelectCriteria) ([]*ActivityModel, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	var records []*ActivityModel
	q := tx.NewSelect().Model(&records)
	for _, c := range criteria {
		q.Apply(c)
	}

	if err := q.Limit(limit).Scan(ctx); err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return records, nil
}

// Recent implements auth.ActivityFeed: up to limit events of tenantID,
// newest first. An empty tenantID lists every tenant.
func (s *ActivityStore) Recent(ctx context.Context, tenantID string, limit int) ([]auth.ActivityEvent, error) {
	criteria := []repository.SelectCriteria{NewestFirst()}
	if tenantID != "" {
		criteria = append(criteria, ForTenant(tenantID))
	}

	records, err := s.ListTx(ctx, s.db, limit, criteria...)
	if err != nil {
		return nil, err
	}

	events := make([]auth.ActivityEvent, 0, len(records))
	for _, m := range records {
		events = append(events, activitymap.Denormalize(activitymap.Normalized{
			ActorID:    m.ActorID,
			Verb:       m.Verb,
			ObjectType: m.ObjectType,
			ObjectID:   m.ObjectID,
			Channel:    m.Channel,
			Metadata:   m.Metadata,
			OccurredAt: m.OccurredAt,
		}))
	}
	return events, nil
}
