package store

import (
	"context"
	"fmt"
	"time"

	"github.com/acebook/go-auth"
	"github.com/acebook/go-auth/provider/identitytoolkit"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserModel is the signed in user of a tenant, one row per tenant.
type UserModel struct {
	bun.BaseModel `bun:"table:auth_users"`

	ID            uuid.UUID `bun:"id,pk,type:uuid"`
	TenantID      string    `bun:"tenant_id,notnull,unique"`
	UserID        string    `bun:"user_id,notnull"`
	Email         string    `bun:"email"`
	EmailVerified bool      `bun:"email_verified"`
	DisplayName   string    `bun:"display_name"`
	PhotoURL      string    `bun:"photo_url"`
	PhoneNumber   string    `bun:"phone_number"`
	ProviderID    string    `bun:"provider_id"`
	RefreshToken  string    `bun:"refresh_token,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// UserStore implements identitytoolkit.Persistence.
type UserStore struct {
	repository.Repository[*UserModel]
	db *bun.DB
}

var _ identitytoolkit.Persistence = (*UserStore)(nil)

// NewUserStore creates a new store.
func NewUserStore(db *bun.DB) *UserStore {
	repo := repository.NewRepository[*UserModel](db, repository.ModelHandlers[*UserModel]{
		NewRecord: func() *UserModel { return &UserModel{} },
		GetID: func(m *UserModel) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return m.ID
		},
		SetID: func(m *UserModel, id uuid.UUID) {
			if m != nil {
				m.ID = id
			}
		},
	})

	return &UserStore{
		Repository: repo,
		db:         db,
	}
}

// GetByTenantTx returns the row of tenantID or a record not found error.
func (s *UserStore) GetByTenantTx(ctx context.Context, tx bun.IDB, tenantID string) (*UserModel, error) {
	record := &UserModel{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.tenant_id = ?", tenantID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"tenant_id": tenantID,
				})
		}
		return nil, err
	}
	return record, nil
}

// Load implements identitytoolkit.Persistence.
func (s *UserStore) Load(ctx context.Context, tenantID string) (*identitytoolkit.Session, error) {
	model, err := s.GetByTenantTx(ctx, s.db, tenantID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	return &identitytoolkit.Session{
		User: &auth.UserIdentity{
			ID:            model.UserID,
			TenantID:      model.TenantID,
			Email:         model.Email,
			EmailVerified: model.EmailVerified,
			DisplayName:   model.DisplayName,
			PhotoURL:      model.PhotoURL,
			PhoneNumber:   model.PhoneNumber,
			ProviderID:    model.ProviderID,
		},
		RefreshToken: model.RefreshToken,
	}, nil
}

// Save implements identitytoolkit.Persistence. It replaces the tenant's row.
func (s *UserStore) Save(ctx context.Context, tenantID string, session identitytoolkit.Session) error {
	if session.User == nil {
		return fmt.Errorf("store: session has no user")
	}

	id, err := hashid.NewUUID(tenantID)
	if err != nil {
		return fmt.Errorf("store: derive id: %w", err)
	}

	record := &UserModel{
		ID:            id,
		TenantID:      tenantID,
		UserID:        session.User.ID,
		Email:         session.User.Email,
		EmailVerified: session.User.EmailVerified,
		DisplayName:   session.User.DisplayName,
		PhotoURL:      session.User.PhotoURL,
		PhoneNumber:   session.User.PhoneNumber,
		ProviderID:    session.User.ProviderID,
		RefreshToken:  session.RefreshToken,
		UpdatedAt:     time.Now().UTC(),
	}

	_, err = s.UpsertTx(ctx, s.db, record)
	return err
}

// UpsertTx updates the tenant's row when present and creates it otherwise.
func (s *UserStore) UpsertTx(ctx context.Context, tx bun.IDB, record *UserModel) (*UserModel, error) {
	existing, err := s.GetByTenantTx(ctx, tx, record.TenantID)
	if err == nil {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		return s.Repository.UpdateTx(ctx, tx, record, repository.UpdateByID(existing.ID.String()))
	}

	if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	record.CreatedAt = record.UpdatedAt
	return s.Repository.CreateTx(ctx, tx, record)
}

// Clear implements identitytoolkit.Persistence.
func (s *UserStore) Clear(ctx context.Context, tenantID string) error {
	_, err := s.db.NewDelete().
		Model((*UserModel)(nil)).
		Where("tenant_id = ?", tenantID).
		Exec(ctx)
	return err
}
