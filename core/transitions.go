package core

import (
	"strings"
	"time"
)

const missingOutcomeMessage = "missing from platform response"

// grantTransition computes the ledger row and audit event for one grant
// outcome. prev is the zero value when no row exists yet.
func grantTransition(
	prev AccessGrant,
	exists bool,
	outcome AccessOutcome,
	req GrantRequest,
	indicatorID string,
	now time.Time,
) (AccessGrant, AccessEvent) {
	next := prev
	if !exists {
		next = AccessGrant{
			UserID:      req.UserID,
			IndicatorID: indicatorID,
			Status:       GrantStatusPending,
			DurationType: req.Duration,
		}
	}
	next.AccessSource = req.Source
	if strings.TrimSpace(req.SubscriptionID) != "" {
		next.SubscriptionID = strings.TrimSpace(req.SubscriptionID)
	}
	if strings.TrimSpace(req.PaymentReference) != "" {
		next.PaymentReference = strings.TrimSpace(req.PaymentReference)
	}
	next.RawExternalResponse = copyAnyMap(outcome.RawPayload)

	if outcome.Succeeded() {
		if !exists || prev.Status != GrantStatusActive || prev.GrantedAt == nil {
			grantedAt := now
			next.GrantedAt = &grantedAt
		}
		next.Status = GrantStatusActive
		next.ErrorMessage = ""
		next.RevokedAt = nil
		next.RevokedBy = ""
		next.DurationType = req.Duration
		next.ExpiresAt = resolveGrantExpiry(req.Duration, outcome.EffectiveExpiry, now)
	} else {
		// The row keeps the duration that matches its expiry; the event carries
		// the requested one.
		next.Status = GrantStatusFailed
		next.ErrorMessage = outcomeError(outcome, "external platform rejected grant")
	}

	event := newTransitionEvent(prev, exists, next, outcome, OperationGrant, req.Source, now)
	event.DurationType = req.Duration
	event.Actor = req.Actor
	event.BillingEventID = req.BillingEventID
	return next, event
}

// resolveGrantExpiry prefers the platform's expiration and only computes a
// local date when the platform omitted one. Lifetime grants never expire.
func resolveGrantExpiry(duration DurationType, platform *time.Time, now time.Time) *time.Time {
	if duration.IsLifetime() {
		return nil
	}
	if platform != nil {
		return cloneTime(platform)
	}
	return duration.ExpiryFrom(now)
}

func revokeTransition(
	prev AccessGrant,
	outcome AccessOutcome,
	req RevokeRequest,
	now time.Time,
) (AccessGrant, AccessEvent) {
	next := prev
	next.RawExternalResponse = copyAnyMap(outcome.RawPayload)
	confirmed := outcome.Succeeded() || outcome.ConfirmsNoAccess()
	if confirmed {
		revokedAt := now
		next.Status = GrantStatusRevoked
		next.RevokedAt = &revokedAt
		next.RevokedBy = req.Actor
		next.ErrorMessage = ""
	} else {
		next.Status = GrantStatusFailed
		next.ErrorMessage = outcomeError(outcome, "external platform did not confirm removal")
	}

	normalized := outcome
	if confirmed {
		normalized.Outcome = OutcomeSuccess
	}
	event := newTransitionEvent(prev, true, next, normalized, OperationRevoke, prev.AccessSource, now)
	event.DurationType = prev.DurationType
	event.Actor = req.Actor
	event.Reason = req.Reason
	event.BillingEventID = req.BillingEventID
	return next, event
}

// renewTransition applies a renewal outcome. The returned write may be event
// only when the platform answer is inconsistent with the ledger.
func renewTransition(
	prev AccessGrant,
	outcome AccessOutcome,
	req RenewRequest,
	strategy string,
	now time.Time,
) GrantWrite {
	next := prev
	next.RawExternalResponse = copyAnyMap(outcome.RawPayload)
	write := GrantWrite{}

	switch {
	case !outcome.Succeeded():
		next.Status = GrantStatusFailed
		next.ErrorMessage = outcomeError(outcome, "external platform rejected renewal")
	case regressed(prev.ExpiresAt, outcome.EffectiveExpiry):
		write.EventOnly = true
		next = prev
		event := newTransitionEvent(prev, true, prev, outcome, OperationRenew, req.Source, now)
		event.Outcome = OutcomeFailure
		event.Inconsistency = InconsistencyExpiryRegressed
		event.ExpiresAtAfter = cloneTime(outcome.EffectiveExpiry)
		event.ErrorMessage = "platform returned an expiration earlier than the recorded one"
		decorateRenewEvent(&event, req, strategy)
		write.Grant = next
		write.Event = event
		return write
	default:
		renewedAt := now
		next.Status = GrantStatusActive
		next.ErrorMessage = ""
		next.DurationType = req.Duration
		next.LastRenewedAt = &renewedAt
		write.IncrementRenewal = true
		if req.Duration.IsLifetime() {
			next.ExpiresAt = nil
		} else if outcome.EffectiveExpiry != nil {
			next.ExpiresAt = cloneTime(outcome.EffectiveExpiry)
		}
	}

	event := newTransitionEvent(prev, true, next, outcome, OperationRenew, req.Source, now)
	if outcome.Succeeded() && !req.Duration.IsLifetime() && outcome.EffectiveExpiry == nil {
		event.Inconsistency = InconsistencyMissingExpiry
	}
	decorateRenewEvent(&event, req, strategy)
	write.Grant = next
	write.Event = event
	return write
}

func decorateRenewEvent(event *AccessEvent, req RenewRequest, strategy string) {
	event.DurationType = req.Duration
	event.Actor = req.Actor
	event.BillingEventID = req.BillingEventID
	event.RawExternalResponse = copyAnyMap(event.RawExternalResponse)
	event.RawExternalResponse["renewal_strategy"] = strategy
}

func regressed(previous *time.Time, next *time.Time) bool {
	if previous == nil || next == nil {
		return false
	}
	return next.Before(*previous)
}

func newTransitionEvent(
	prev AccessGrant,
	exists bool,
	next AccessGrant,
	outcome AccessOutcome,
	operation OperationType,
	source AccessSource,
	now time.Time,
) AccessEvent {
	event := AccessEvent{
		GrantID:             next.ID,
		UserID:              next.UserID,
		IndicatorID:         next.IndicatorID,
		Operation:           operation,
		AccessSource:        source,
		Outcome:             outcome.Outcome,
		StatusAfter:         next.Status,
		ExpiresAtAfter:      cloneTime(next.ExpiresAt),
		ErrorMessage:        next.ErrorMessage,
		RawExternalResponse: copyAnyMap(outcome.RawPayload),
		OccurredAt:          now,
	}
	if event.Outcome == "" {
		event.Outcome = OutcomeFailure
	}
	if exists {
		event.StatusBefore = prev.Status
		event.ExpiresAtBefore = cloneTime(prev.ExpiresAt)
	}
	return event
}

func outcomeError(outcome AccessOutcome, fallback string) string {
	if message := strings.TrimSpace(outcome.Error); message != "" {
		return message
	}
	if outcome.RawPayload != nil {
		if value, ok := outcome.RawPayload["error"].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return fallback
}

// indexOutcomes keys gateway outcomes by script id and fills a failure for any
// requested id the gateway did not answer.
func indexOutcomes(scriptIDs []string, outcomes []AccessOutcome) map[string]AccessOutcome {
	indexed := make(map[string]AccessOutcome, len(scriptIDs))
	for _, outcome := range outcomes {
		key := strings.TrimSpace(outcome.IndicatorID)
		if key == "" {
			continue
		}
		if _, seen := indexed[key]; seen {
			continue
		}
		indexed[key] = outcome
	}
	for _, scriptID := range scriptIDs {
		if _, ok := indexed[scriptID]; ok {
			continue
		}
		indexed[scriptID] = AccessOutcome{
			IndicatorID: scriptID,
			Outcome:     OutcomeFailure,
			Error:       missingOutcomeMessage,
			RawPayload:  map[string]any{"error": missingOutcomeMessage},
		}
	}
	return indexed
}

func normalizeIDs(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
