package entitlements

import "github.com/goliatone/go-entitlements/core"

type Config = core.Config

type GatewayConfig = core.GatewayConfig
type RenewalConfig = core.RenewalConfig
type ReportingConfig = core.ReportingConfig
type LockingConfig = core.LockingConfig
type WebhookConfig = core.WebhookConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type AccessGateway = core.AccessGateway
type LedgerStore = core.LedgerStore
type EventLog = core.EventLog
type ProcessedEventStore = core.ProcessedEventStore
type UserDirectory = core.UserDirectory
type IndicatorCatalog = core.IndicatorCatalog
type UserLocker = core.UserLocker
type ReconciliationChecker = core.ReconciliationChecker

type GrantRequest = core.GrantRequest
type RevokeRequest = core.RevokeRequest
type RenewRequest = core.RenewRequest
type OperationSummary = core.OperationSummary
type BillingEvent = core.BillingEvent
type BillingEventResult = core.BillingEventResult
type DriftReport = core.DriftReport

var (
	WithLogger              = core.WithLogger
	WithLoggerProvider      = core.WithLoggerProvider
	WithMetricsRecorder     = core.WithMetricsRecorder
	WithErrorMapper         = core.WithErrorMapper
	WithPersistenceClient   = core.WithPersistenceClient
	WithRepositoryFactory   = core.WithRepositoryFactory
	WithConfigProvider      = core.WithConfigProvider
	WithOptionsResolver     = core.WithOptionsResolver
	WithGateway             = core.WithGateway
	WithLedgerStore         = core.WithLedgerStore
	WithEventLog            = core.WithEventLog
	WithProcessedEventStore = core.WithProcessedEventStore
	WithUserDirectory       = core.WithUserDirectory
	WithIndicatorCatalog    = core.WithIndicatorCatalog
	WithUserLocker          = core.WithUserLocker
	WithClock               = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
