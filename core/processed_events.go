package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultProcessedEventMaxEntries = 8192

// DefaultProcessedEventLease is how long a pending reservation blocks
// redeliveries of the same event. Older pending rows are treated as abandoned.
const DefaultProcessedEventLease = 5 * time.Minute

// MemoryProcessedEventStore keeps billing event ids in process memory. It is
// the default when no durable store is wired and is bounded by maxEntries,
// evicting the oldest processed entries first.
type MemoryProcessedEventStore struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]ProcessedEvent
	Now        func() time.Time
	Lease      time.Duration
}

func NewMemoryProcessedEventStore() *MemoryProcessedEventStore {
	return NewMemoryProcessedEventStoreWithLimit(defaultProcessedEventMaxEntries)
}

func NewMemoryProcessedEventStoreWithLimit(maxEntries int) *MemoryProcessedEventStore {
	if maxEntries <= 0 {
		maxEntries = defaultProcessedEventMaxEntries
	}
	return &MemoryProcessedEventStore{
		maxEntries: maxEntries,
		entries:    map[string]ProcessedEvent{},
		Lease:      DefaultProcessedEventLease,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryProcessedEventStore) Reserve(
	_ context.Context,
	eventID string,
	eventType string,
	_ []byte,
) (ProcessedEvent, bool, error) {
	if s == nil {
		return ProcessedEvent{}, false, fmt.Errorf("core: processed event store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return ProcessedEvent{}, false, fmt.Errorf("core: billing event id is required")
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[eventID]; ok {
		if existing.Status == ProcessedEventProcessed {
			return existing, true, nil
		}
		if ReservationHeld(existing, now, s.Lease) {
			return existing, false, NewEventInFlightError(eventID)
		}
		existing.Status = ProcessedEventPending
		existing.Attempts++
		existing.UpdatedAt = now
		s.entries[eventID] = existing
		return existing, false, nil
	}

	s.enforceCapacityLocked()
	record := ProcessedEvent{
		EventID:   eventID,
		EventType: strings.TrimSpace(eventType),
		Status:    ProcessedEventPending,
		Attempts:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.entries[eventID] = record
	return record, false, nil
}

func (s *MemoryProcessedEventStore) MarkProcessed(_ context.Context, eventID string) error {
	return s.mark(eventID, ProcessedEventProcessed, "")
}

func (s *MemoryProcessedEventStore) MarkFailed(_ context.Context, eventID string, cause error) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	return s.mark(eventID, ProcessedEventFailed, message)
}

func (s *MemoryProcessedEventStore) mark(eventID string, status ProcessedEventStatus, lastError string) error {
	if s == nil {
		return fmt.Errorf("core: processed event store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.entries[eventID]
	if !ok {
		return fmt.Errorf("core: billing event %q not found", eventID)
	}
	record.Status = status
	record.LastError = lastError
	record.UpdatedAt = s.now()
	s.entries[eventID] = record
	return nil
}

func (s *MemoryProcessedEventStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *MemoryProcessedEventStore) enforceCapacityLocked() {
	for len(s.entries) >= s.maxEntries {
		var oldestKey string
		var oldest time.Time
		for key, entry := range s.entries {
			if entry.Status != ProcessedEventProcessed {
				continue
			}
			if oldestKey == "" || entry.UpdatedAt.Before(oldest) {
				oldestKey = key
				oldest = entry.UpdatedAt
			}
		}
		if oldestKey == "" {
			return
		}
		delete(s.entries, oldestKey)
	}
}

var _ ProcessedEventStore = (*MemoryProcessedEventStore)(nil)

// ReservationHeld reports whether a pending reservation is still within its
// lease and must not be taken over by another delivery.
func ReservationHeld(event ProcessedEvent, now time.Time, lease time.Duration) bool {
	if event.Status != ProcessedEventPending {
		return false
	}
	if lease <= 0 {
		lease = DefaultProcessedEventLease
	}
	return now.Sub(event.UpdatedAt) < lease
}
