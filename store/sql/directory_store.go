package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-entitlements/core"
)

// UserStore reads access_users. Host applications own user creation; Upsert
// exists for seeding and sync jobs.
type UserStore struct {
	db   *bun.DB
	repo repository.Repository[*userRecord]
	now  func() time.Time
}

func NewUserStore(db *bun.DB) (*UserStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*userRecord](db, userHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid user repository wiring: %w", err)
		}
	}
	return &UserStore{
		db:   db,
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *UserStore) GetUser(ctx context.Context, userID string) (core.User, error) {
	if s == nil || s.repo == nil {
		return core.User{}, fmt.Errorf("sqlstore: user store is not configured")
	}
	trimmedID := strings.TrimSpace(userID)
	record, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		if isNotFound(err) {
			return core.User{}, core.NewNotFoundError(fmt.Sprintf("sqlstore: user %q not found", trimmedID))
		}
		return core.User{}, err
	}
	return record.toDomain(), nil
}

func (s *UserStore) MarkUsernameVerified(ctx context.Context, userID string, username string, verifiedAt time.Time) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: user store is not configured")
	}
	trimmedID := strings.TrimSpace(userID)
	record, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		if isNotFound(err) {
			return core.NewNotFoundError(fmt.Sprintf("sqlstore: user %q not found", trimmedID))
		}
		return err
	}
	verified := verifiedAt.UTC()
	record.ExternalUsername = strings.TrimSpace(username)
	record.UsernameVerifiedAt = &verified
	record.UpdatedAt = s.now()
	_, err = s.repo.Update(ctx, record, repository.UpdateByID(trimmedID))
	return err
}

func (s *UserStore) Upsert(ctx context.Context, user core.User) (core.User, error) {
	if s == nil || s.db == nil {
		return core.User{}, fmt.Errorf("sqlstore: user store is not configured")
	}
	user.ID = strings.TrimSpace(user.ID)
	if user.ID == "" {
		return core.User{}, core.NewValidationError("user_id", "user id is required")
	}
	now := s.now()
	record := &userRecord{
		ID:                 user.ID,
		ExternalUsername:   strings.TrimSpace(user.ExternalUsername),
		UsernameVerifiedAt: cloneTimePointer(user.UsernameVerifiedAt),
		Email:              strings.TrimSpace(user.Email),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if _, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO UPDATE").
		Set("external_username = EXCLUDED.external_username").
		Set("username_verified_at = EXCLUDED.username_verified_at").
		Set("email = EXCLUDED.email").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx); err != nil {
		return core.User{}, err
	}
	return s.GetUser(ctx, user.ID)
}

// IndicatorStore reads access_indicators.
type IndicatorStore struct {
	db   *bun.DB
	repo repository.Repository[*indicatorRecord]
	now  func() time.Time
}

func NewIndicatorStore(db *bun.DB) (*IndicatorStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*indicatorRecord](db, indicatorHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid indicator repository wiring: %w", err)
		}
	}
	return &IndicatorStore{
		db:   db,
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *IndicatorStore) GetIndicator(ctx context.Context, id string) (core.Indicator, error) {
	if s == nil || s.repo == nil {
		return core.Indicator{}, fmt.Errorf("sqlstore: indicator store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	record, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		if isNotFound(err) {
			return core.Indicator{}, core.NewNotFoundError(fmt.Sprintf("sqlstore: indicator %q not found", trimmedID))
		}
		return core.Indicator{}, err
	}
	return record.toDomain(), nil
}

func (s *IndicatorStore) ListActiveIndicators(ctx context.Context) ([]core.Indicator, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: indicator store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.active = ?", true)
		}),
		repository.OrderBy("id ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Indicator, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *IndicatorStore) Upsert(ctx context.Context, indicator core.Indicator) (core.Indicator, error) {
	if s == nil || s.db == nil {
		return core.Indicator{}, fmt.Errorf("sqlstore: indicator store is not configured")
	}
	indicator.ID = strings.TrimSpace(indicator.ID)
	indicator.ExternalScriptID = strings.TrimSpace(indicator.ExternalScriptID)
	if indicator.ID == "" {
		return core.Indicator{}, core.NewValidationError("indicator_id", "indicator id is required")
	}
	if indicator.ExternalScriptID == "" {
		return core.Indicator{}, core.NewValidationError("external_script_id", "external script id is required")
	}
	record := newIndicatorRecord(indicator, s.now())
	if _, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO UPDATE").
		Set("external_script_id = EXCLUDED.external_script_id").
		Set("name = EXCLUDED.name").
		Set("category = EXCLUDED.category").
		Set("access_tier = EXCLUDED.access_tier").
		Set("active = EXCLUDED.active").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx); err != nil {
		return core.Indicator{}, err
	}
	return s.GetIndicator(ctx, indicator.ID)
}
