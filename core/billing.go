package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	BillingEventPurchaseCompleted    = "purchase.completed"
	BillingEventSubscriptionRenewed  = "subscription.renewed"
	BillingEventSubscriptionCanceled = "subscription.canceled"

	// BillingReasonSubscriptionCycle marks a recurring charge. Only these
	// extend access; the initial charge is handled as a purchase.
	BillingReasonSubscriptionCycle = "subscription_cycle"

	billingActor = "billing"
)

type PurchaseCompleted struct {
	EventID          string       `json:"event_id"`
	UserID           string       `json:"user_id"`
	IndicatorIDs     []string     `json:"indicator_ids"`
	Duration         DurationType `json:"duration"`
	PaymentReference string       `json:"payment_reference,omitempty"`
	SubscriptionID   string       `json:"subscription_id,omitempty"`
}

type SubscriptionRenewed struct {
	EventID        string `json:"event_id"`
	SubscriptionID string `json:"subscription_id"`
	BillingReason  string `json:"billing_reason"`
	// Duration defaults to each grant's current duration when empty.
	Duration DurationType `json:"duration,omitempty"`
}

type SubscriptionCanceled struct {
	EventID        string `json:"event_id"`
	SubscriptionID string `json:"subscription_id"`
	Reason         string `json:"reason,omitempty"`
}

// BillingEvent is the decoded envelope delivered by billing ingress. Exactly
// one payload matching Type is expected.
type BillingEvent struct {
	ID           string
	Type         string
	Purchase     *PurchaseCompleted
	Renewal      *SubscriptionRenewed
	Cancellation *SubscriptionCanceled
	Payload      []byte
}

type BillingEventResult struct {
	EventID   string
	Type      string
	Deduped   bool
	Ignored   bool
	Reason    string
	Summaries []OperationSummary
}

func (s *Service) OnPurchaseCompleted(ctx context.Context, event PurchaseCompleted) (BillingEventResult, error) {
	return s.HandleBillingEvent(ctx, BillingEvent{
		ID:       event.EventID,
		Type:     BillingEventPurchaseCompleted,
		Purchase: &event,
	})
}

func (s *Service) OnSubscriptionRenewed(ctx context.Context, event SubscriptionRenewed) (BillingEventResult, error) {
	return s.HandleBillingEvent(ctx, BillingEvent{
		ID:      event.EventID,
		Type:    BillingEventSubscriptionRenewed,
		Renewal: &event,
	})
}

func (s *Service) OnSubscriptionCanceled(ctx context.Context, event SubscriptionCanceled) (BillingEventResult, error) {
	return s.HandleBillingEvent(ctx, BillingEvent{
		ID:           event.EventID,
		Type:         BillingEventSubscriptionCanceled,
		Cancellation: &event,
	})
}

// HandleBillingEvent reserves the event id, dispatches on type, and records
// the outcome so a redelivered event that already succeeded is a no-op.
func (s *Service) HandleBillingEvent(ctx context.Context, event BillingEvent) (result BillingEventResult, err error) {
	startedAt := time.Now()
	event.ID = strings.TrimSpace(event.ID)
	event.Type = strings.TrimSpace(strings.ToLower(event.Type))
	fields := map[string]any{
		"billing_event_id": event.ID,
		"billing_type":     event.Type,
	}
	defer func() {
		fields["deduped"] = result.Deduped
		fields["ignored"] = result.Ignored
		s.observeOperation(ctx, startedAt, "billing_event", err, fields)
	}()

	if s == nil {
		return BillingEventResult{}, fmt.Errorf("core: service is nil")
	}
	result = BillingEventResult{EventID: event.ID, Type: event.Type}
	if err = validateBillingEvent(event); err != nil {
		return result, s.mapError(err)
	}
	if s.processedEventStore == nil {
		return result, s.mapError(fmt.Errorf("core: processed event store is required"))
	}

	_, duplicate, err := s.processedEventStore.Reserve(ctx, event.ID, event.Type, event.Payload)
	if err != nil {
		if IsConflictError(err) {
			result.Reason = "event is being processed by another delivery"
		}
		return result, s.mapError(err)
	}
	if duplicate {
		result.Deduped = true
		result.Reason = "event already processed"
		return result, nil
	}

	dispatched, dispatchErr := s.dispatchBillingEvent(ctx, event)
	dispatched.EventID = result.EventID
	dispatched.Type = result.Type
	result = dispatched
	if dispatchErr != nil {
		if markErr := s.processedEventStore.MarkFailed(ctx, event.ID, dispatchErr); markErr != nil {
			s.logError(ctx, "billing event failure not recorded", map[string]any{
				"billing_event_id": event.ID,
				"error":            markErr.Error(),
			})
		}
		return result, s.mapError(dispatchErr)
	}
	if err = s.processedEventStore.MarkProcessed(ctx, event.ID); err != nil {
		return result, s.mapError(err)
	}
	return result, nil
}

func validateBillingEvent(event BillingEvent) error {
	if event.ID == "" {
		return NewValidationError("event_id", "billing event id is required")
	}
	switch event.Type {
	case BillingEventPurchaseCompleted:
		if event.Purchase == nil {
			return NewValidationError("purchase", "purchase payload is required")
		}
	case BillingEventSubscriptionRenewed:
		if event.Renewal == nil {
			return NewValidationError("renewal", "renewal payload is required")
		}
	case BillingEventSubscriptionCanceled:
		if event.Cancellation == nil {
			return NewValidationError("cancellation", "cancellation payload is required")
		}
	default:
		return NewValidationError("type", fmt.Sprintf("unsupported billing event type %q", event.Type))
	}
	return nil
}

func (s *Service) dispatchBillingEvent(ctx context.Context, event BillingEvent) (BillingEventResult, error) {
	switch event.Type {
	case BillingEventPurchaseCompleted:
		return s.applyPurchase(ctx, event.ID, *event.Purchase)
	case BillingEventSubscriptionRenewed:
		return s.applyRenewal(ctx, event.ID, *event.Renewal)
	case BillingEventSubscriptionCanceled:
		return s.applyCancellation(ctx, event.ID, *event.Cancellation)
	default:
		return BillingEventResult{}, NewValidationError("type", fmt.Sprintf("unsupported billing event type %q", event.Type))
	}
}

func (s *Service) applyPurchase(ctx context.Context, eventID string, purchase PurchaseCompleted) (BillingEventResult, error) {
	summary, err := s.Grant(ctx, GrantRequest{
		UserID:           purchase.UserID,
		IndicatorIDs:     purchase.IndicatorIDs,
		Duration:         purchase.Duration,
		Source:           AccessSourcePurchase,
		Actor:            billingActor,
		SubscriptionID:   purchase.SubscriptionID,
		PaymentReference: purchase.PaymentReference,
		BillingEventID:   eventID,
	})
	if err != nil {
		return BillingEventResult{}, err
	}
	return BillingEventResult{Summaries: []OperationSummary{summary}}, nil
}

func (s *Service) applyRenewal(ctx context.Context, eventID string, renewal SubscriptionRenewed) (BillingEventResult, error) {
	reason := strings.TrimSpace(strings.ToLower(renewal.BillingReason))
	if reason != BillingReasonSubscriptionCycle {
		return BillingEventResult{Ignored: true, Reason: fmt.Sprintf("billing reason %q does not renew access", renewal.BillingReason)}, nil
	}
	grants, err := s.subscriptionGrants(ctx, renewal.SubscriptionID)
	if err != nil {
		return BillingEventResult{}, err
	}
	if len(grants) == 0 {
		return BillingEventResult{Ignored: true, Reason: "no grants for subscription"}, nil
	}

	type renewalKey struct {
		userID   string
		duration DurationType
	}
	batches := map[renewalKey][]string{}
	for _, grant := range grants {
		duration := renewal.Duration
		if duration == "" {
			duration = grant.DurationType
		}
		key := renewalKey{userID: grant.UserID, duration: duration}
		batches[key] = append(batches[key], grant.ID)
	}
	keys := make([]renewalKey, 0, len(batches))
	for key := range batches {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].userID != keys[j].userID {
			return keys[i].userID < keys[j].userID
		}
		return keys[i].duration < keys[j].duration
	})

	result := BillingEventResult{}
	for _, key := range keys {
		summary, renewErr := s.Renew(ctx, RenewRequest{
			UserID:         key.userID,
			GrantIDs:       batches[key],
			Duration:       key.duration,
			Source:         AccessSourceRenewal,
			Actor:          billingActor,
			BillingEventID: eventID,
		})
		if renewErr != nil {
			return result, renewErr
		}
		result.Summaries = append(result.Summaries, summary)
	}
	return result, nil
}

func (s *Service) applyCancellation(ctx context.Context, eventID string, cancellation SubscriptionCanceled) (BillingEventResult, error) {
	grants, err := s.subscriptionGrants(ctx, cancellation.SubscriptionID)
	if err != nil {
		return BillingEventResult{}, err
	}
	if len(grants) == 0 {
		return BillingEventResult{Ignored: true, Reason: "no grants for subscription"}, nil
	}
	reason := strings.TrimSpace(cancellation.Reason)
	if reason == "" {
		reason = "subscription canceled"
	}

	byUser := map[string][]string{}
	users := []string{}
	for _, grant := range grants {
		if _, ok := byUser[grant.UserID]; !ok {
			users = append(users, grant.UserID)
		}
		byUser[grant.UserID] = append(byUser[grant.UserID], grant.ID)
	}
	sort.Strings(users)

	result := BillingEventResult{}
	for _, userID := range users {
		summary, revokeErr := s.Revoke(ctx, RevokeRequest{
			UserID:         userID,
			GrantIDs:       byUser[userID],
			Reason:         reason,
			Actor:          billingActor,
			BillingEventID: eventID,
		})
		if revokeErr != nil {
			return result, revokeErr
		}
		result.Summaries = append(result.Summaries, summary)
	}
	return result, nil
}

// subscriptionGrants returns the subscription's grants that have not been
// revoked.
func (s *Service) subscriptionGrants(ctx context.Context, subscriptionID string) ([]AccessGrant, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, NewValidationError("subscription_id", "subscription id is required")
	}
	if s.ledgerStore == nil {
		return nil, fmt.Errorf("core: ledger store is required")
	}
	grants, err := s.ledgerStore.ListBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	out := make([]AccessGrant, 0, len(grants))
	for _, grant := range grants {
		if grant.Status == GrantStatusRevoked {
			continue
		}
		out = append(out, grant)
	}
	return out, nil
}
