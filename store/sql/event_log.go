package sqlstore

import (
	"context"
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-entitlements/core"
)

// EventLog reads access_events. Rows are only ever inserted by LedgerStore.
type EventLog struct {
	db   *bun.DB
	repo repository.Repository[*eventRecord]
}

func NewEventLog(db *bun.DB) (*EventLog, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*eventRecord](db, eventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid event repository wiring: %w", err)
		}
	}
	return &EventLog{db: db, repo: repo}, nil
}

// ListEvents pages events oldest first.
func (s *EventLog) ListEvents(ctx context.Context, filter core.AuditFilter) (core.AuditPage, error) {
	if s == nil || s.repo == nil {
		return core.AuditPage{}, fmt.Errorf("sqlstore: event log is not configured")
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 50
	}

	criteria := []repository.SelectCriteria{}
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		criteria = append(criteria, repository.SelectBy("user_id", "=", userID))
	}
	if grantID := strings.TrimSpace(filter.GrantID); grantID != "" {
		criteria = append(criteria, repository.SelectBy("grant_id", "=", grantID))
	}
	if filter.Operation != "" {
		criteria = append(criteria, repository.SelectBy("operation_type", "=", string(filter.Operation)))
	}
	if billingEventID := strings.TrimSpace(filter.BillingEventID); billingEventID != "" {
		criteria = append(criteria, repository.SelectBy("billing_event_id", "=", billingEventID))
	}
	criteria = append(criteria,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				OrderExpr("?TableAlias.occurred_at ASC").
				OrderExpr("?TableAlias.seq ASC")
		}),
		repository.SelectPaginate(perPage, (page-1)*perPage),
	)

	records, total, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return core.AuditPage{}, err
	}
	items := make([]core.AccessEvent, 0, len(records))
	for _, record := range records {
		items = append(items, record.toDomain())
	}
	return core.AuditPage{
		Items:   items,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	}, nil
}

func (s *EventLog) CountOperations(ctx context.Context, grantID string, operation core.OperationType) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: event log is not configured")
	}
	query := s.db.NewSelect().
		Model((*eventRecord)(nil)).
		Where("?TableAlias.grant_id = ?", strings.TrimSpace(grantID))
	if operation != "" {
		query = query.Where("?TableAlias.operation_type = ?", string(operation))
	}
	return query.Count(ctx)
}
