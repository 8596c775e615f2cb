package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-entitlements/core"
)

// LedgerStore keeps one access_grants row per (user, indicator). Every write
// appends its access_events row in the same transaction.
type LedgerStore struct {
	db   *bun.DB
	repo repository.Repository[*grantRecord]
	now  func() time.Time
}

func NewLedgerStore(db *bun.DB) (*LedgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*grantRecord](db, grantHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid grant repository wiring: %w", err)
		}
	}
	return &LedgerStore{
		db:   db,
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *LedgerStore) Get(ctx context.Context, id string) (core.AccessGrant, error) {
	if s == nil || s.repo == nil {
		return core.AccessGrant{}, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return core.AccessGrant{}, core.NewValidationError("grant_id", "grant id is required")
	}
	record, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		if isNotFound(err) {
			return core.AccessGrant{}, core.NewNotFoundError(fmt.Sprintf("sqlstore: grant %q not found", trimmedID))
		}
		return core.AccessGrant{}, err
	}
	return record.toDomain(), nil
}

func (s *LedgerStore) FindByUserIndicator(ctx context.Context, userID string, indicatorID string) (core.AccessGrant, bool, error) {
	if s == nil || s.repo == nil {
		return core.AccessGrant{}, false, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.SelectBy("indicator_id", "=", strings.TrimSpace(indicatorID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.AccessGrant{}, false, err
	}
	if len(records) == 0 {
		return core.AccessGrant{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

func (s *LedgerStore) ListByUser(ctx context.Context, userID string) ([]core.AccessGrant, error) {
	return s.listBy(ctx, "user_id", userID)
}

func (s *LedgerStore) ListBySubscription(ctx context.Context, subscriptionID string) ([]core.AccessGrant, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return []core.AccessGrant{}, nil
	}
	return s.listBy(ctx, "subscription_id", subscriptionID)
}

// ListUserIDsWithAccess returns users holding at least one non-revoked grant,
// the population a reconciliation sweep walks.
func (s *LedgerStore) ListUserIDsWithAccess(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	var ids []string
	err := s.db.NewSelect().
		Model((*grantRecord)(nil)).
		ColumnExpr("DISTINCT ?TableAlias.user_id").
		Where("?TableAlias.status <> ?", string(core.GrantStatusRevoked)).
		OrderExpr("?TableAlias.user_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *LedgerStore) listBy(ctx context.Context, column string, value string) ([]core.AccessGrant, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy(column, "=", strings.TrimSpace(value)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				OrderExpr("?TableAlias.created_at ASC").
				OrderExpr("?TableAlias.id ASC")
		}),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.AccessGrant, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *LedgerStore) Write(ctx context.Context, in core.GrantWrite) (core.AccessGrant, core.AccessEvent, error) {
	if s == nil || s.db == nil {
		return core.AccessGrant{}, core.AccessEvent{}, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	now := s.now()

	var (
		outGrant core.AccessGrant
		outEvent core.AccessEvent
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		grantID := strings.TrimSpace(in.Grant.ID)
		switch {
		case in.EventOnly:
			existing, err := s.findByIDTx(ctx, tx, grantID)
			if err != nil {
				return err
			}
			outGrant = existing.toDomain()
		case grantID == "":
			record := newGrantRecord(in.Grant, now)
			record.ID = uuid.NewString()
			record.RenewalCount = 0
			if in.IncrementRenewal {
				record.RenewalCount = 1
			}
			if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
				if isUniqueViolation(err) {
					return conflictError(in.Grant.UserID, in.Grant.IndicatorID, err)
				}
				return err
			}
			inserted, err := s.findByIDTx(ctx, tx, record.ID)
			if err != nil {
				return err
			}
			outGrant = inserted.toDomain()
		default:
			existing, err := s.findByIDTx(ctx, tx, grantID)
			if err != nil {
				return err
			}
			record := newGrantRecord(in.Grant, now)
			record.ID = existing.ID
			record.UserID = existing.UserID
			record.IndicatorID = existing.IndicatorID
			record.CreatedAt = existing.CreatedAt
			record.RenewalCount = existing.RenewalCount
			if _, err := tx.NewUpdate().
				Model(record).
				Where("id = ?", record.ID).
				ExcludeColumn("id", "user_id", "indicator_id", "created_at", "renewal_count").
				Exec(ctx); err != nil {
				return err
			}
			if in.IncrementRenewal {
				if _, err := tx.NewUpdate().
					Model((*grantRecord)(nil)).
					Set("renewal_count = renewal_count + 1").
					Where("id = ?", record.ID).
					Exec(ctx); err != nil {
					return err
				}
			}
			updated, err := s.findByIDTx(ctx, tx, record.ID)
			if err != nil {
				return err
			}
			outGrant = updated.toDomain()
		}

		event := in.Event
		event.GrantID = outGrant.ID
		if event.UserID == "" {
			event.UserID = outGrant.UserID
		}
		if event.IndicatorID == "" {
			event.IndicatorID = outGrant.IndicatorID
		}
		if event.OccurredAt.IsZero() {
			event.OccurredAt = now
		}
		eventRecord, err := appendEventTx(ctx, tx, event)
		if err != nil {
			return err
		}
		outEvent = eventRecord.toDomain()
		return nil
	})
	if err != nil {
		return core.AccessGrant{}, core.AccessEvent{}, err
	}
	return outGrant, outEvent, nil
}

func (s *LedgerStore) findByIDTx(ctx context.Context, tx bun.Tx, id string) (*grantRecord, error) {
	if id == "" {
		return nil, core.NewValidationError("grant_id", "grant id is required")
	}
	record := &grantRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.NewNotFoundError(fmt.Sprintf("sqlstore: grant %q not found", id))
		}
		return nil, err
	}
	return record, nil
}

// appendEventTx inserts one audit row. seq orders rows that share an
// occurred_at timestamp.
func appendEventTx(ctx context.Context, tx bun.Tx, event core.AccessEvent) (*eventRecord, error) {
	record := newEventRecord(event)
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	var seq int64
	if err := tx.NewSelect().
		Model((*eventRecord)(nil)).
		ColumnExpr("COALESCE(MAX(?TableAlias.seq), 0)").
		Scan(ctx, &seq); err != nil {
		return nil, err
	}
	record.Seq = seq + 1
	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

func conflictError(userID string, indicatorID string, source error) error {
	return goerrors.Wrap(source, goerrors.CategoryConflict, "sqlstore: grant already exists for user and indicator").
		WithCode(http.StatusConflict).
		WithTextCode(core.AccessErrorConflict).
		WithMetadata(map[string]any{"user_id": userID, "indicator_id": indicatorID})
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) {
		return true
	}
	return core.IsNotFoundError(err)
}
