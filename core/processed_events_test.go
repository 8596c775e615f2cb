package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProcessedEventStore_DedupesProcessedEvents(t *testing.T) {
	store := NewMemoryProcessedEventStore()
	ctx := context.Background()

	record, duplicate, err := store.Reserve(ctx, "evt_1", BillingEventPurchaseCompleted, nil)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if duplicate || record.Attempts != 1 || record.Status != ProcessedEventPending {
		t.Fatalf("unexpected first reservation: %+v duplicate=%v", record, duplicate)
	}
	if err := store.MarkProcessed(ctx, "evt_1"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if _, duplicate, err := store.Reserve(ctx, "evt_1", BillingEventPurchaseCompleted, nil); err != nil || !duplicate {
		t.Fatalf("expected duplicate after processing, got duplicate=%v err=%v", duplicate, err)
	}
}

func TestMemoryProcessedEventStore_FailedEventsAreRetried(t *testing.T) {
	store := NewMemoryProcessedEventStore()
	ctx := context.Background()

	if _, _, err := store.Reserve(ctx, "evt_2", BillingEventSubscriptionRenewed, nil); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.MarkFailed(ctx, "evt_2", errors.New("store down")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	record, duplicate, err := store.Reserve(ctx, "evt_2", BillingEventSubscriptionRenewed, nil)
	if err != nil {
		t.Fatalf("reserve retry: %v", err)
	}
	if duplicate || record.Attempts != 2 {
		t.Fatalf("expected retry with attempt 2, got %+v duplicate=%v", record, duplicate)
	}
}

func TestMemoryProcessedEventStore_EvictsOldestProcessed(t *testing.T) {
	store := NewMemoryProcessedEventStoreWithLimit(2)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }
	ctx := context.Background()

	for _, id := range []string{"evt_a", "evt_b"} {
		if _, _, err := store.Reserve(ctx, id, BillingEventPurchaseCompleted, nil); err != nil {
			t.Fatalf("reserve %s: %v", id, err)
		}
		if err := store.MarkProcessed(ctx, id); err != nil {
			t.Fatalf("mark %s: %v", id, err)
		}
		now = now.Add(time.Minute)
	}
	if _, _, err := store.Reserve(ctx, "evt_c", BillingEventPurchaseCompleted, nil); err != nil {
		t.Fatalf("reserve evt_c: %v", err)
	}
	if _, duplicate, _ := store.Reserve(ctx, "evt_a", BillingEventPurchaseCompleted, nil); duplicate {
		t.Fatalf("expected evt_a evicted")
	}
}

func TestMemoryProcessedEventStore_RequiresEventID(t *testing.T) {
	store := NewMemoryProcessedEventStore()
	if _, _, err := store.Reserve(context.Background(), " ", "x", nil); err == nil {
		t.Fatalf("expected error for blank event id")
	}
}

func TestMemoryProcessedEventStore_PendingReservationBlocksRedelivery(t *testing.T) {
	store := NewMemoryProcessedEventStore()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }
	store.Lease = time.Minute
	ctx := context.Background()

	if _, _, err := store.Reserve(ctx, "evt_3", BillingEventSubscriptionRenewed, nil); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	_, duplicate, err := store.Reserve(ctx, "evt_3", BillingEventSubscriptionRenewed, nil)
	if err == nil || !IsConflictError(err) {
		t.Fatalf("expected in-flight conflict, got duplicate=%v err=%v", duplicate, err)
	}

	now = now.Add(2 * time.Minute)
	record, duplicate, err := store.Reserve(ctx, "evt_3", BillingEventSubscriptionRenewed, nil)
	if err != nil {
		t.Fatalf("expected abandoned reservation to be taken over: %v", err)
	}
	if duplicate || record.Attempts != 2 {
		t.Fatalf("expected takeover with attempt 2, got %+v duplicate=%v", record, duplicate)
	}
}
