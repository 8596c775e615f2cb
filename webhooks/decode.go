package webhooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-entitlements/core"
)

// ErrUnsupportedEventType marks deliveries whose type has no billing handler.
var ErrUnsupportedEventType = errors.New("webhooks: unsupported event type")

// envelope is the JSON shape posted by billing:
// {"id": "...", "type": "purchase.completed", "data": {...}}.
type envelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeBillingEvent turns a webhook body into a core.BillingEvent. The
// envelope id is copied into the typed payload when the payload omits it.
func DecodeBillingEvent(body []byte) (core.BillingEvent, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return core.BillingEvent{}, fmt.Errorf("webhooks: empty body")
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return core.BillingEvent{}, fmt.Errorf("webhooks: decode envelope: %w", err)
	}
	event := core.BillingEvent{
		ID:      strings.TrimSpace(env.ID),
		Type:    strings.ToLower(strings.TrimSpace(env.Type)),
		Payload: append([]byte(nil), body...),
	}
	if event.ID == "" {
		return core.BillingEvent{}, fmt.Errorf("webhooks: event id is required")
	}
	if !supportedEventType(event.Type) {
		return event, fmt.Errorf("%w %q", ErrUnsupportedEventType, env.Type)
	}
	if len(env.Data) == 0 {
		return core.BillingEvent{}, fmt.Errorf("webhooks: event data is required")
	}

	switch event.Type {
	case core.BillingEventPurchaseCompleted:
		var purchase core.PurchaseCompleted
		if err := json.Unmarshal(env.Data, &purchase); err != nil {
			return core.BillingEvent{}, fmt.Errorf("webhooks: decode purchase: %w", err)
		}
		if purchase.EventID == "" {
			purchase.EventID = event.ID
		}
		event.Purchase = &purchase
	case core.BillingEventSubscriptionRenewed:
		var renewal core.SubscriptionRenewed
		if err := json.Unmarshal(env.Data, &renewal); err != nil {
			return core.BillingEvent{}, fmt.Errorf("webhooks: decode renewal: %w", err)
		}
		if renewal.EventID == "" {
			renewal.EventID = event.ID
		}
		event.Renewal = &renewal
	case core.BillingEventSubscriptionCanceled:
		var cancellation core.SubscriptionCanceled
		if err := json.Unmarshal(env.Data, &cancellation); err != nil {
			return core.BillingEvent{}, fmt.Errorf("webhooks: decode cancellation: %w", err)
		}
		if cancellation.EventID == "" {
			cancellation.EventID = event.ID
		}
		event.Cancellation = &cancellation
	default:
		return event, fmt.Errorf("%w %q", ErrUnsupportedEventType, env.Type)
	}
	return event, nil
}

func supportedEventType(eventType string) bool {
	switch eventType {
	case core.BillingEventPurchaseCompleted,
		core.BillingEventSubscriptionRenewed,
		core.BillingEventSubscriptionCanceled:
		return true
	default:
		return false
	}
}
