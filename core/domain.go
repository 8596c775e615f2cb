package core

import (
	"fmt"
	"strings"
	"time"
)

type GrantStatus string

const (
	GrantStatusPending GrantStatus = "pending"
	GrantStatusActive  GrantStatus = "active"
	GrantStatusRevoked GrantStatus = "revoked"
	GrantStatusFailed  GrantStatus = "failed"
)

// DurationType is the billing duration code attached to a grant.
type DurationType string

const (
	Duration7Days    DurationType = "7D"
	Duration30Days   DurationType = "30D"
	Duration1Year    DurationType = "1Y"
	DurationLifetime DurationType = "1L"
)

func ParseDurationType(value string) (DurationType, error) {
	normalized := DurationType(strings.ToUpper(strings.TrimSpace(value)))
	switch normalized {
	case Duration7Days, Duration30Days, Duration1Year, DurationLifetime:
		return normalized, nil
	default:
		return "", fmt.Errorf("core: invalid duration code %q", value)
	}
}

func (d DurationType) IsLifetime() bool {
	return d == DurationLifetime
}

// ExpiryFrom returns the locally computed expiration for the duration starting
// at base. Lifetime durations never expire and return nil.
func (d DurationType) ExpiryFrom(base time.Time) *time.Time {
	var expiry time.Time
	switch d {
	case Duration7Days:
		expiry = base.AddDate(0, 0, 7)
	case Duration30Days:
		expiry = base.AddDate(0, 0, 30)
	case Duration1Year:
		expiry = base.AddDate(1, 0, 0)
	default:
		return nil
	}
	expiry = expiry.UTC()
	return &expiry
}

type AccessSource string

const (
	AccessSourceManual    AccessSource = "manual"
	AccessSourcePurchase  AccessSource = "purchase"
	AccessSourceTrial     AccessSource = "trial"
	AccessSourceBulk      AccessSource = "bulk"
	AccessSourceRenewal   AccessSource = "renewal"
	AccessSourcePromo     AccessSource = "promo"
	AccessSourceAdminBulk AccessSource = "admin_bulk"
)

func (s AccessSource) Validate() error {
	switch s {
	case AccessSourceManual, AccessSourcePurchase, AccessSourceTrial, AccessSourceBulk,
		AccessSourceRenewal, AccessSourcePromo, AccessSourceAdminBulk:
		return nil
	default:
		return fmt.Errorf("core: invalid access source %q", string(s))
	}
}

type AccessTier string

const (
	AccessTierFree    AccessTier = "free"
	AccessTierPremium AccessTier = "premium"
)

type OperationType string

const (
	OperationGrant  OperationType = "grant"
	OperationRevoke OperationType = "revoke"
	OperationRenew  OperationType = "renew"
)

type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
)

const (
	InconsistencyExpiryRegressed = "expiry_regressed"
	InconsistencyMissingExpiry   = "missing_expiry"
)

type Indicator struct {
	ID               string
	ExternalScriptID string
	Name             string
	Category         string
	AccessTier       AccessTier
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type User struct {
	ID                 string
	ExternalUsername   string
	UsernameVerifiedAt *time.Time
	Email              string
}

// HasVerifiedUsername reports whether the external username was validated
// against the platform and can be used for access calls.
func (u User) HasVerifiedUsername() bool {
	return strings.TrimSpace(u.ExternalUsername) != "" && u.UsernameVerifiedAt != nil
}

// AccessGrant is the ledger row for one user and indicator pair.
type AccessGrant struct {
	ID                  string
	UserID              string
	IndicatorID         string
	Status              GrantStatus
	GrantedAt           *time.Time
	ExpiresAt           *time.Time
	DurationType        DurationType
	AccessSource        AccessSource
	SubscriptionID      string
	PaymentReference    string
	RenewalCount        int
	LastRenewedAt       *time.Time
	RevokedAt           *time.Time
	RevokedBy           string
	RawExternalResponse map[string]any
	ErrorMessage        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// EffectiveAt is the local approximation of currently effective access.
func (g AccessGrant) EffectiveAt(now time.Time) bool {
	if g.Status != GrantStatusActive {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}

// ExpiredAt reports an active row whose expiration has passed. Expired is
// derived at read time and never stored.
func (g AccessGrant) ExpiredAt(now time.Time) bool {
	return g.Status == GrantStatusActive && g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// AccessEvent is an append-only audit row.
type AccessEvent struct {
	ID                  string
	GrantID             string
	UserID              string
	IndicatorID         string
	Operation           OperationType
	AccessSource        AccessSource
	Outcome             OutcomeKind
	StatusBefore        GrantStatus
	StatusAfter         GrantStatus
	ExpiresAtBefore     *time.Time
	ExpiresAtAfter      *time.Time
	DurationType        DurationType
	ErrorMessage        string
	RawExternalResponse map[string]any
	Actor               string
	Reason              string
	BillingEventID      string
	Inconsistency       string
	OccurredAt          time.Time
}

// AccessOutcome is the normalized per-item gateway result.
type AccessOutcome struct {
	IndicatorID     string
	Outcome         OutcomeKind
	HasAccess       *bool
	EffectiveExpiry *time.Time
	Error           string
	RawPayload      map[string]any
}

func (o AccessOutcome) Succeeded() bool {
	return o.Outcome == OutcomeSuccess
}

// ConfirmsNoAccess reports an explicit platform signal that the user no
// longer has access to the script.
func (o AccessOutcome) ConfirmsNoAccess() bool {
	return o.HasAccess != nil && !*o.HasAccess
}

type GrantRequest struct {
	UserID           string
	IndicatorIDs     []string
	Duration         DurationType
	Source           AccessSource
	Actor            string
	SubscriptionID   string
	PaymentReference string
	BillingEventID   string
}

type RevokeRequest struct {
	UserID         string
	GrantIDs       []string
	Reason         string
	Actor          string
	BillingEventID string
}

type RenewRequest struct {
	UserID         string
	GrantIDs       []string
	Duration       DurationType
	Source         AccessSource
	Actor          string
	BillingEventID string
}

type OperationDetail struct {
	IndicatorID      string
	ExternalScriptID string
	GrantID          string
	Outcome          OutcomeKind
	Status           GrantStatus
	ExpiresAt        *time.Time
	Error            string
	Inconsistency    string
	Skipped          bool
}

// OperationSummary is the aggregate returned by every orchestrator call.
type OperationSummary struct {
	Operation  OperationType
	UserID     string
	Total      int
	Successful int
	Failed     int
	Details    []OperationDetail
}

func (s *OperationSummary) add(detail OperationDetail) {
	s.Details = append(s.Details, detail)
	s.Total++
	if detail.Outcome == OutcomeSuccess {
		s.Successful++
		return
	}
	s.Failed++
}

// GrantWrite is one ledger mutation and its audit row, applied atomically.
type GrantWrite struct {
	Grant            AccessGrant
	IncrementRenewal bool
	// EventOnly appends the event without touching the ledger row.
	EventOnly bool
	Event     AccessEvent
}

type AuditFilter struct {
	UserID         string
	GrantID        string
	Operation      OperationType
	BillingEventID string
	Page           int
	PerPage        int
}

type AuditPage struct {
	Items   []AccessEvent
	Total   int
	Page    int
	PerPage int
}

type AccessSummaryCounts struct {
	UserID   string
	Active   int
	Expiring int
	Expired  int
	Revoked  int
	Failed   int
	Pending  int
	AsOf     time.Time
}

type DriftReport struct {
	UserID            string
	Username          string
	CheckedAt         time.Time
	LocalActive       []string
	ExternalGranted   []string
	MissingInExternal []string
	ExtraInExternal   []string
	// Unknown lists indicator ids the platform returned no per-item answer for.
	// Locally active ones are also reported in MissingInExternal.
	Unknown []string
}

func (r DriftReport) HasDrift() bool {
	return len(r.MissingInExternal) > 0 || len(r.ExtraInExternal) > 0
}

type ProcessedEventStatus string

const (
	ProcessedEventPending   ProcessedEventStatus = "pending"
	ProcessedEventProcessed ProcessedEventStatus = "processed"
	ProcessedEventFailed    ProcessedEventStatus = "failed"
)

type ProcessedEvent struct {
	EventID   string
	EventType string
	Status    ProcessedEventStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := value.UTC()
	return &copied
}
