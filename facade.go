package entitlements

import (
	"fmt"

	entcommand "github.com/goliatone/go-entitlements/command"
	"github.com/goliatone/go-entitlements/core"
	entquery "github.com/goliatone/go-entitlements/query"
)

type CommandQueryService interface {
	entcommand.MutatingService
	entcommand.BillingService
	entquery.ReportingReader
}

type Commands struct {
	Grant                *entcommand.GrantCommand
	Revoke               *entcommand.RevokeCommand
	Renew                *entcommand.RenewCommand
	VerifyUsername       *entcommand.VerifyUsernameCommand
	HandleBillingEvent   *entcommand.HandleBillingEventCommand
	PurchaseCompleted    *entcommand.PurchaseCompletedCommand
	SubscriptionRenewed  *entcommand.SubscriptionRenewedCommand
	SubscriptionCanceled *entcommand.SubscriptionCanceledCommand
}

type Queries struct {
	AccessSummary    *entquery.AccessSummaryQuery
	AuditTrail       *entquery.AuditTrailQuery
	ListFailedGrants *entquery.ListFailedGrantsQuery
	DriftReport      *entquery.DriftReportQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	driftChecker entquery.DriftChecker
}

func WithDriftChecker(checker entquery.DriftChecker) FacadeOption {
	return func(options *facadeOptions) {
		options.driftChecker = checker
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("entitlements: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	checker := cfg.driftChecker
	if checker == nil {
		checker = resolveDriftChecker(service)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		Grant:                entcommand.NewGrantCommand(service),
		Revoke:               entcommand.NewRevokeCommand(service),
		Renew:                entcommand.NewRenewCommand(service),
		VerifyUsername:       entcommand.NewVerifyUsernameCommand(service),
		HandleBillingEvent:   entcommand.NewHandleBillingEventCommand(service),
		PurchaseCompleted:    entcommand.NewPurchaseCompletedCommand(service),
		SubscriptionRenewed:  entcommand.NewSubscriptionRenewedCommand(service),
		SubscriptionCanceled: entcommand.NewSubscriptionCanceledCommand(service),
	}
	facade.queries = Queries{
		AccessSummary:    entquery.NewAccessSummaryQuery(service),
		AuditTrail:       entquery.NewAuditTrailQuery(service),
		ListFailedGrants: entquery.NewListFailedGrantsQuery(service),
		DriftReport:      entquery.NewDriftReportQuery(checker),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// resolveDriftChecker returns nil when the service cannot build a checker, for
// example when no gateway is wired. The drift query then fails with a
// dependency error instead of the facade failing to build.
func resolveDriftChecker(service CommandQueryService) entquery.DriftChecker {
	if checker, ok := service.(entquery.DriftChecker); ok {
		return checker
	}
	builder, ok := service.(interface {
		NewReconciliationChecker() (*core.ReconciliationChecker, error)
	})
	if !ok {
		return nil
	}
	checker, err := builder.NewReconciliationChecker()
	if err != nil || checker == nil {
		return nil
	}
	return checker
}
