package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	auth "github.com/resmoai/resmo-auth"
	"github.com/resmoai/resmo-auth/provider/local"
	"github.com/uptrace/bun"
)

// profileNamespace seeds the deterministic primary keys of profile rows.
var profileNamespace = uuid.MustParse("6f0c1e6a-4d1b-4f57-9c1e-3a7d2a1f9b10")

// ProfileKey maps an external identity id to the profile primary key.
func ProfileKey(externalID string) uuid.UUID {
	return uuid.NewSHA1(profileNamespace, []byte(externalID))
}

// ProfileModel is the Bun model for profile records.
type ProfileModel struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`

	ID          uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	ExternalID  string     `bun:"external_id,notnull,unique" json:"external_id,omitempty"`
	Username    string     `bun:"username" json:"username,omitempty"`
	DisplayName string     `bun:"display_name" json:"display_name,omitempty"`
	Email       string     `bun:"email" json:"email,omitempty"`
	PhotoURL    string     `bun:"photo_url" json:"photo_url,omitempty"`
	CreatedAt   *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt   *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// ProfileStore implements auth.ProfileStore and local.ProfileWriter on Bun.
type ProfileStore struct {
	db   *bun.DB
	repo repository.Repository[*ProfileModel]
}

var (
	_ auth.ProfileStore   = (*ProfileStore)(nil)
	_ local.ProfileWriter = (*ProfileStore)(nil)
)

// NewProfileStore creates a profile store.
func NewProfileStore(db *bun.DB) *ProfileStore {
	repo := repository.NewRepository[*ProfileModel](db, repository.ModelHandlers[*ProfileModel]{
		NewRecord: func() *ProfileModel { return &ProfileModel{} },
		GetID: func(p *ProfileModel) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *ProfileModel, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
	})

	return &ProfileStore{db: db, repo: repo}
}

// Migrate creates the profiles table if needed.
func Migrate(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().
		Model((*ProfileModel)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create profiles table")
	}
	return nil
}

// Lookup implements auth.ProfileStore.
func (s *ProfileStore) Lookup(ctx context.Context, id string) (*auth.Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, auth.ErrProfileNotFound
	}

	record, err := s.repo.GetByID(ctx, ProfileKey(id).String())
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrProfileNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load profile").
			WithMetadata(map[string]any{"user_id": id})
	}
	if record == nil {
		return nil, auth.ErrProfileNotFound
	}

	return toProfile(record), nil
}

// SaveProfile implements local.ProfileWriter. Existing rows are updated.
func (s *ProfileStore) SaveProfile(ctx context.Context, profile *auth.Profile) error {
	if profile == nil || strings.TrimSpace(profile.ID) == "" {
		return goerrors.New("profile id is required", goerrors.CategoryBadInput)
	}

	model := fromProfile(profile)
	now := time.Now().UTC()
	model.UpdatedAt = &now

	_, err := s.db.NewInsert().
		Model(model).
		On("CONFLICT (id) DO UPDATE").
		Set("username = EXCLUDED.username").
		Set("display_name = EXCLUDED.display_name").
		Set("email = EXCLUDED.email").
		Set("photo_url = EXCLUDED.photo_url").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save profile").
			WithMetadata(map[string]any{"user_id": profile.ID})
	}
	return nil
}

func toProfile(m *ProfileModel) *auth.Profile {
	p := &auth.Profile{
		ID:          m.ExternalID,
		Username:    m.Username,
		DisplayName: m.DisplayName,
		Email:       m.Email,
		PhotoURL:    m.PhotoURL,
	}
	if m.CreatedAt != nil {
		p.CreatedAt = *m.CreatedAt
	}
	return p
}

func fromProfile(p *auth.Profile) *ProfileModel {
	m := &ProfileModel{
		ID:          ProfileKey(p.ID),
		ExternalID:  p.ID,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Email:       p.Email,
		PhotoURL:    p.PhotoURL,
	}
	if !p.CreatedAt.IsZero() {
		created := p.CreatedAt.UTC()
		m.CreatedAt = &created
	}
	return m
}
