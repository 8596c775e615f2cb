package command

import (
	"strings"

	"github.com/goliatone/go-entitlements/core"
)

const (
	TypeGrant                = "entitlements.command.access.grant"
	TypeRevoke               = "entitlements.command.access.revoke"
	TypeRenew                = "entitlements.command.access.renew"
	TypeVerifyUsername       = "entitlements.command.user.verify_username"
	TypeHandleBillingEvent   = "entitlements.command.billing.handle"
	TypePurchaseCompleted    = "entitlements.command.billing.purchase_completed"
	TypeSubscriptionRenewed  = "entitlements.command.billing.subscription_renewed"
	TypeSubscriptionCanceled = "entitlements.command.billing.subscription_canceled"
)

type GrantMessage struct {
	Request core.GrantRequest
}

func (GrantMessage) Type() string { return TypeGrant }

func (m GrantMessage) Validate() error {
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	if len(m.Request.IndicatorIDs) == 0 {
		return commandValidationError("indicator_ids", "at least one indicator id is required")
	}
	if strings.TrimSpace(string(m.Request.Duration)) != "" {
		if _, err := core.ParseDurationType(string(m.Request.Duration)); err != nil {
			return commandWrapValidation(err, "command: invalid duration")
		}
	}
	return nil
}

type RevokeMessage struct {
	Request core.RevokeRequest
}

func (RevokeMessage) Type() string { return TypeRevoke }

func (m RevokeMessage) Validate() error {
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	if len(m.Request.GrantIDs) == 0 {
		return commandValidationError("grant_ids", "at least one grant id is required")
	}
	return nil
}

type RenewMessage struct {
	Request core.RenewRequest
}

func (RenewMessage) Type() string { return TypeRenew }

func (m RenewMessage) Validate() error {
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	if len(m.Request.GrantIDs) == 0 {
		return commandValidationError("grant_ids", "at least one grant id is required")
	}
	if _, err := core.ParseDurationType(string(m.Request.Duration)); err != nil {
		return commandWrapValidation(err, "command: invalid duration")
	}
	return nil
}

type VerifyUsernameMessage struct {
	UserID string
}

func (VerifyUsernameMessage) Type() string { return TypeVerifyUsername }

func (m VerifyUsernameMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	return nil
}

type HandleBillingEventMessage struct {
	Event core.BillingEvent
}

func (HandleBillingEventMessage) Type() string { return TypeHandleBillingEvent }

func (m HandleBillingEventMessage) Validate() error {
	if strings.TrimSpace(m.Event.ID) == "" {
		return commandValidationError("event_id", "billing event id is required")
	}
	if strings.TrimSpace(m.Event.Type) == "" {
		return commandValidationError("type", "billing event type is required")
	}
	return nil
}

type PurchaseCompletedMessage struct {
	Event core.PurchaseCompleted
}

func (PurchaseCompletedMessage) Type() string { return TypePurchaseCompleted }

func (m PurchaseCompletedMessage) Validate() error {
	if strings.TrimSpace(m.Event.EventID) == "" {
		return commandValidationError("event_id", "billing event id is required")
	}
	if strings.TrimSpace(m.Event.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	if len(m.Event.IndicatorIDs) == 0 {
		return commandValidationError("indicator_ids", "at least one indicator id is required")
	}
	return nil
}

type SubscriptionRenewedMessage struct {
	Event core.SubscriptionRenewed
}

func (SubscriptionRenewedMessage) Type() string { return TypeSubscriptionRenewed }

func (m SubscriptionRenewedMessage) Validate() error {
	if strings.TrimSpace(m.Event.EventID) == "" {
		return commandValidationError("event_id", "billing event id is required")
	}
	if strings.TrimSpace(m.Event.SubscriptionID) == "" {
		return commandValidationError("subscription_id", "subscription id is required")
	}
	return nil
}

type SubscriptionCanceledMessage struct {
	Event core.SubscriptionCanceled
}

func (SubscriptionCanceledMessage) Type() string { return TypeSubscriptionCanceled }

func (m SubscriptionCanceledMessage) Validate() error {
	if strings.TrimSpace(m.Event.EventID) == "" {
		return commandValidationError("event_id", "billing event id is required")
	}
	if strings.TrimSpace(m.Event.SubscriptionID) == "" {
		return commandValidationError("subscription_id", "subscription id is required")
	}
	return nil
}
