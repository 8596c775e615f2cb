package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[GrantMessage]                = (*GrantCommand)(nil)
	_ gocmd.Commander[RevokeMessage]               = (*RevokeCommand)(nil)
	_ gocmd.Commander[RenewMessage]                = (*RenewCommand)(nil)
	_ gocmd.Commander[VerifyUsernameMessage]       = (*VerifyUsernameCommand)(nil)
	_ gocmd.Commander[HandleBillingEventMessage]   = (*HandleBillingEventCommand)(nil)
	_ gocmd.Commander[PurchaseCompletedMessage]    = (*PurchaseCompletedCommand)(nil)
	_ gocmd.Commander[SubscriptionRenewedMessage]  = (*SubscriptionRenewedCommand)(nil)
	_ gocmd.Commander[SubscriptionCanceledMessage] = (*SubscriptionCanceledCommand)(nil)
)
