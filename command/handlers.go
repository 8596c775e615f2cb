package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-entitlements/core"
)

type MutatingService interface {
	Grant(ctx context.Context, req core.GrantRequest) (core.OperationSummary, error)
	Revoke(ctx context.Context, req core.RevokeRequest) (core.OperationSummary, error)
	Renew(ctx context.Context, req core.RenewRequest) (core.OperationSummary, error)
	VerifyUsername(ctx context.Context, userID string) (bool, error)
}

type BillingService interface {
	HandleBillingEvent(ctx context.Context, event core.BillingEvent) (core.BillingEventResult, error)
	OnPurchaseCompleted(ctx context.Context, event core.PurchaseCompleted) (core.BillingEventResult, error)
	OnSubscriptionRenewed(ctx context.Context, event core.SubscriptionRenewed) (core.BillingEventResult, error)
	OnSubscriptionCanceled(ctx context.Context, event core.SubscriptionCanceled) (core.BillingEventResult, error)
}

type GrantCommand struct {
	service MutatingService
}

func NewGrantCommand(service MutatingService) *GrantCommand {
	return &GrantCommand{service: service}
}

func (c *GrantCommand) Execute(ctx context.Context, msg GrantMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: grant service is required")
	}
	out, err := c.service.Grant(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RevokeCommand struct {
	service MutatingService
}

func NewRevokeCommand(service MutatingService) *RevokeCommand {
	return &RevokeCommand{service: service}
}

func (c *RevokeCommand) Execute(ctx context.Context, msg RevokeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: revoke service is required")
	}
	out, err := c.service.Revoke(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RenewCommand struct {
	service MutatingService
}

func NewRenewCommand(service MutatingService) *RenewCommand {
	return &RenewCommand{service: service}
}

func (c *RenewCommand) Execute(ctx context.Context, msg RenewMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: renew service is required")
	}
	out, err := c.service.Renew(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type VerifyUsernameCommand struct {
	service MutatingService
}

func NewVerifyUsernameCommand(service MutatingService) *VerifyUsernameCommand {
	return &VerifyUsernameCommand{service: service}
}

func (c *VerifyUsernameCommand) Execute(ctx context.Context, msg VerifyUsernameMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: username verification service is required")
	}
	valid, err := c.service.VerifyUsername(ctx, msg.UserID)
	if err != nil {
		return err
	}
	storeResult(ctx, valid)
	return nil
}

type HandleBillingEventCommand struct {
	service BillingService
}

func NewHandleBillingEventCommand(service BillingService) *HandleBillingEventCommand {
	return &HandleBillingEventCommand{service: service}
}

func (c *HandleBillingEventCommand) Execute(ctx context.Context, msg HandleBillingEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: billing service is required")
	}
	out, err := c.service.HandleBillingEvent(ctx, msg.Event)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type PurchaseCompletedCommand struct {
	service BillingService
}

func NewPurchaseCompletedCommand(service BillingService) *PurchaseCompletedCommand {
	return &PurchaseCompletedCommand{service: service}
}

func (c *PurchaseCompletedCommand) Execute(ctx context.Context, msg PurchaseCompletedMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: billing service is required")
	}
	out, err := c.service.OnPurchaseCompleted(ctx, msg.Event)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SubscriptionRenewedCommand struct {
	service BillingService
}

func NewSubscriptionRenewedCommand(service BillingService) *SubscriptionRenewedCommand {
	return &SubscriptionRenewedCommand{service: service}
}

func (c *SubscriptionRenewedCommand) Execute(ctx context.Context, msg SubscriptionRenewedMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: billing service is required")
	}
	out, err := c.service.OnSubscriptionRenewed(ctx, msg.Event)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SubscriptionCanceledCommand struct {
	service BillingService
}

func NewSubscriptionCanceledCommand(service BillingService) *SubscriptionCanceledCommand {
	return &SubscriptionCanceledCommand{service: service}
}

func (c *SubscriptionCanceledCommand) Execute(ctx context.Context, msg SubscriptionCanceledMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: billing service is required")
	}
	out, err := c.service.OnSubscriptionCanceled(ctx, msg.Event)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
