package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// AccessGateway wraps the external platform access-control API. Mutating calls
// always return one outcome per requested script id; whole-request failures
// are reported as failure outcomes for every item rather than as errors.
type AccessGateway interface {
	Grant(ctx context.Context, username string, scriptIDs []string, duration DurationType) ([]AccessOutcome, error)
	Remove(ctx context.Context, username string, scriptIDs []string) ([]AccessOutcome, error)
	ReplaceExpiration(ctx context.Context, username string, scriptIDs []string, expiresAt time.Time) ([]AccessOutcome, error)
	SupportsReplace() bool
	// Status returns an error when the platform could not answer at all, so
	// callers never build on unknown truth.
	Status(ctx context.Context, username string, scriptIDs []string) ([]AccessOutcome, error)
	ValidateUsername(ctx context.Context, username string) (bool, error)
}

// LedgerStore persists access grants. Write applies the grant change and its
// audit event in a single transaction.
type LedgerStore interface {
	Get(ctx context.Context, id string) (AccessGrant, error)
	FindByUserIndicator(ctx context.Context, userID string, indicatorID string) (AccessGrant, bool, error)
	ListByUser(ctx context.Context, userID string) ([]AccessGrant, error)
	ListBySubscription(ctx context.Context, subscriptionID string) ([]AccessGrant, error)
	Write(ctx context.Context, in GrantWrite) (AccessGrant, AccessEvent, error)
}

type EventLog interface {
	ListEvents(ctx context.Context, filter AuditFilter) (AuditPage, error)
	CountOperations(ctx context.Context, grantID string, operation OperationType) (int, error)
}

// ProcessedEventStore records inbound billing event ids so redelivery is a
// no-op. Reserve returns duplicate=true for events already processed and an
// in-flight conflict error while another delivery holds a fresh reservation.
type ProcessedEventStore interface {
	Reserve(ctx context.Context, eventID string, eventType string, payload []byte) (ProcessedEvent, bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string, cause error) error
}

type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (User, error)
	MarkUsernameVerified(ctx context.Context, userID string, username string, verifiedAt time.Time) error
}

type IndicatorCatalog interface {
	GetIndicator(ctx context.Context, id string) (Indicator, error)
	ListActiveIndicators(ctx context.Context) ([]Indicator, error)
}

type LockHandle interface {
	Unlock(ctx context.Context) error
}

// UserLocker serializes ledger mutations for a single user.
type UserLocker interface {
	Lock(ctx context.Context, userID string) (LockHandle, error)
}

type StoreProvider interface {
	LedgerStore() LedgerStore
	EventLog() EventLog
	ProcessedEventStore() ProcessedEventStore
	UserDirectory() UserDirectory
	IndicatorCatalog() IndicatorCatalog
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}
