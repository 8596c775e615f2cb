package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-entitlements/core"
)

const maxProcessedEventErrorLength = 2048

// ProcessedEventStore dedupes billing deliveries on access_processed_events.
// Processed rows are duplicates. A pending row inside its lease rejects the
// redelivery as in flight; failed rows and expired leases are retried.
type ProcessedEventStore struct {
	db    *bun.DB
	now   func() time.Time
	lease time.Duration
}

type ProcessedEventOption func(*ProcessedEventStore)

// WithProcessedEventLease sets how long a pending reservation is honoured.
func WithProcessedEventLease(lease time.Duration) ProcessedEventOption {
	return func(s *ProcessedEventStore) {
		if lease > 0 {
			s.lease = lease
		}
	}
}

func WithProcessedEventClock(now func() time.Time) ProcessedEventOption {
	return func(s *ProcessedEventStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewProcessedEventStore(db *bun.DB, opts ...ProcessedEventOption) (*ProcessedEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	store := &ProcessedEventStore{
		db:    db,
		lease: core.DefaultProcessedEventLease,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *ProcessedEventStore) Reserve(
	ctx context.Context,
	eventID string,
	eventType string,
	payload []byte,
) (core.ProcessedEvent, bool, error) {
	if s == nil || s.db == nil {
		return core.ProcessedEvent{}, false, fmt.Errorf("sqlstore: processed event store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return core.ProcessedEvent{}, false, core.NewValidationError("event_id", "billing event id is required")
	}
	now := s.now()

	var (
		out       core.ProcessedEvent
		duplicate bool
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := findProcessedEventTx(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if existing == nil {
			record := &processedEventRecord{
				ID:        uuid.NewString(),
				EventID:   eventID,
				EventType: strings.TrimSpace(eventType),
				Status:    string(core.ProcessedEventPending),
				Attempts:  1,
				Payload:   append([]byte(nil), payload...),
				CreatedAt: now,
				UpdatedAt: now,
			}
			if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
				return err
			}
			out = record.toDomain()
			return nil
		}
		if existing.Status == string(core.ProcessedEventProcessed) {
			out = existing.toDomain()
			duplicate = true
			return nil
		}
		if core.ReservationHeld(existing.toDomain(), now, s.lease) {
			out = existing.toDomain()
			return core.NewEventInFlightError(eventID)
		}
		existing.Status = string(core.ProcessedEventPending)
		existing.Attempts++
		existing.UpdatedAt = now
		if _, err := tx.NewUpdate().
			Model(existing).
			Column("status", "attempts", "updated_at").
			Where("id = ?", existing.ID).
			Exec(ctx); err != nil {
			return err
		}
		out = existing.toDomain()
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			// A concurrent delivery reserved the id first.
			return core.ProcessedEvent{EventID: eventID, EventType: eventType, Status: core.ProcessedEventPending}, false, core.NewEventInFlightError(eventID)
		}
		return out, false, err
	}
	return out, duplicate, nil
}

func (s *ProcessedEventStore) MarkProcessed(ctx context.Context, eventID string) error {
	return s.transition(ctx, eventID, core.ProcessedEventProcessed, "")
}

func (s *ProcessedEventStore) MarkFailed(ctx context.Context, eventID string, cause error) error {
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	if len(message) > maxProcessedEventErrorLength {
		message = message[:maxProcessedEventErrorLength]
	}
	return s.transition(ctx, eventID, core.ProcessedEventFailed, message)
}

func (s *ProcessedEventStore) transition(ctx context.Context, eventID string, status core.ProcessedEventStatus, lastError string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: processed event store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return core.NewValidationError("event_id", "billing event id is required")
	}
	result, err := s.db.NewUpdate().
		Model((*processedEventRecord)(nil)).
		Set("status = ?", string(status)).
		Set("last_error = ?", lastError).
		Set("updated_at = ?", s.now()).
		Where("event_id = ?", eventID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return core.NewNotFoundError(fmt.Sprintf("sqlstore: billing event %q not reserved", eventID))
	}
	return nil
}

// Get returns the stored record for an event id.
func (s *ProcessedEventStore) Get(ctx context.Context, eventID string) (core.ProcessedEvent, error) {
	if s == nil || s.db == nil {
		return core.ProcessedEvent{}, fmt.Errorf("sqlstore: processed event store is not configured")
	}
	record := &processedEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.event_id = ?", strings.TrimSpace(eventID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ProcessedEvent{}, core.NewNotFoundError(fmt.Sprintf("sqlstore: billing event %q not found", eventID))
		}
		return core.ProcessedEvent{}, err
	}
	return record.toDomain(), nil
}

func findProcessedEventTx(ctx context.Context, tx bun.Tx, eventID string) (*processedEventRecord, error) {
	record := &processedEventRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.event_id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}
