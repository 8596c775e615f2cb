package sqlstore

import (
	"time"

	"github.com/goliatone/go-entitlements/core"
	"github.com/uptrace/bun"
)

type indicatorRecord struct {
	bun.BaseModel `bun:"table:access_indicators,alias:ai"`

	ID               string    `bun:"id,pk"`
	ExternalScriptID string    `bun:"external_script_id,notnull"`
	Name             string    `bun:"name,notnull"`
	Category         string    `bun:"category,notnull"`
	AccessTier       string    `bun:"access_tier,notnull"`
	Active           bool      `bun:"active,notnull"`
	CreatedAt        time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type userRecord struct {
	bun.BaseModel `bun:"table:access_users,alias:au"`

	ID                 string     `bun:"id,pk"`
	ExternalUsername   string     `bun:"external_username,notnull"`
	UsernameVerifiedAt *time.Time `bun:"username_verified_at,nullzero"`
	Email              string     `bun:"email,notnull"`
	CreatedAt          time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type grantRecord struct {
	bun.BaseModel `bun:"table:access_grants,alias:ag"`

	ID                  string         `bun:"id,pk"`
	UserID              string         `bun:"user_id,notnull"`
	IndicatorID         string         `bun:"indicator_id,notnull"`
	Status              string         `bun:"status,notnull"`
	GrantedAt           *time.Time     `bun:"granted_at,nullzero"`
	ExpiresAt           *time.Time     `bun:"expires_at,nullzero"`
	DurationType        string         `bun:"duration_type,notnull"`
	AccessSource        string         `bun:"access_source,notnull"`
	SubscriptionID      string         `bun:"subscription_id,notnull"`
	PaymentReference    string         `bun:"payment_reference,notnull"`
	RenewalCount        int            `bun:"renewal_count,notnull"`
	LastRenewedAt       *time.Time     `bun:"last_renewed_at,nullzero"`
	RevokedAt           *time.Time     `bun:"revoked_at,nullzero"`
	RevokedBy           string         `bun:"revoked_by,notnull"`
	RawExternalResponse map[string]any `bun:"raw_external_response,type:jsonb,notnull"`
	ErrorMessage        string         `bun:"error_message,notnull"`
	CreatedAt           time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type eventRecord struct {
	bun.BaseModel `bun:"table:access_events,alias:ae"`

	ID                  string         `bun:"id,pk"`
	GrantID             string         `bun:"grant_id,notnull"`
	UserID              string         `bun:"user_id,notnull"`
	IndicatorID         string         `bun:"indicator_id,notnull"`
	OperationType       string         `bun:"operation_type,notnull"`
	AccessSource        string         `bun:"access_source,notnull"`
	Outcome             string         `bun:"outcome,notnull"`
	StatusBefore        string         `bun:"status_before,notnull"`
	StatusAfter         string         `bun:"status_after,notnull"`
	ExpiresAtBefore     *time.Time     `bun:"expires_at_before,nullzero"`
	ExpiresAtAfter      *time.Time     `bun:"expires_at_after,nullzero"`
	DurationType        string         `bun:"duration_type,notnull"`
	ErrorMessage        string         `bun:"error_message,notnull"`
	RawExternalResponse map[string]any `bun:"raw_external_response,type:jsonb,notnull"`
	Actor               string         `bun:"actor,notnull"`
	Reason              string         `bun:"reason,notnull"`
	BillingEventID      string         `bun:"billing_event_id,notnull"`
	Inconsistency       *string        `bun:"inconsistency"`
	OccurredAt          time.Time      `bun:"occurred_at,notnull"`
	Seq                 int64          `bun:"seq,notnull"`
}

type processedEventRecord struct {
	bun.BaseModel `bun:"table:access_processed_events,alias:ape"`

	ID        string    `bun:"id,pk"`
	EventID   string    `bun:"event_id,notnull"`
	EventType string    `bun:"event_type,notnull"`
	Status    string    `bun:"status,notnull"`
	Attempts  int       `bun:"attempts,notnull"`
	LastError string    `bun:"last_error,notnull"`
	Payload   []byte    `bun:"payload"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *indicatorRecord) toDomain() core.Indicator {
	if r == nil {
		return core.Indicator{}
	}
	return core.Indicator{
		ID:               r.ID,
		ExternalScriptID: r.ExternalScriptID,
		Name:             r.Name,
		Category:         r.Category,
		AccessTier:       core.AccessTier(r.AccessTier),
		Active:           r.Active,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func newIndicatorRecord(in core.Indicator, now time.Time) *indicatorRecord {
	tier := string(in.AccessTier)
	if tier == "" {
		tier = string(core.AccessTierPremium)
	}
	return &indicatorRecord{
		ID:               in.ID,
		ExternalScriptID: in.ExternalScriptID,
		Name:             in.Name,
		Category:         in.Category,
		AccessTier:       tier,
		Active:           in.Active,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (r *userRecord) toDomain() core.User {
	if r == nil {
		return core.User{}
	}
	return core.User{
		ID:                 r.ID,
		ExternalUsername:   r.ExternalUsername,
		UsernameVerifiedAt: cloneTimePointer(r.UsernameVerifiedAt),
		Email:              r.Email,
	}
}

func newGrantRecord(in core.AccessGrant, now time.Time) *grantRecord {
	record := &grantRecord{
		ID:                  in.ID,
		UserID:              in.UserID,
		IndicatorID:         in.IndicatorID,
		Status:              string(in.Status),
		GrantedAt:           cloneTimePointer(in.GrantedAt),
		ExpiresAt:           cloneTimePointer(in.ExpiresAt),
		DurationType:        string(in.DurationType),
		AccessSource:        string(in.AccessSource),
		SubscriptionID:      in.SubscriptionID,
		PaymentReference:    in.PaymentReference,
		RenewalCount:        in.RenewalCount,
		LastRenewedAt:       cloneTimePointer(in.LastRenewedAt),
		RevokedAt:           cloneTimePointer(in.RevokedAt),
		RevokedBy:           in.RevokedBy,
		RawExternalResponse: copyAnyMap(in.RawExternalResponse),
		ErrorMessage:        in.ErrorMessage,
		CreatedAt:           in.CreatedAt,
		UpdatedAt:           now,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	return record
}

func (r *grantRecord) toDomain() core.AccessGrant {
	if r == nil {
		return core.AccessGrant{}
	}
	return core.AccessGrant{
		ID:                  r.ID,
		UserID:              r.UserID,
		IndicatorID:         r.IndicatorID,
		Status:              core.GrantStatus(r.Status),
		GrantedAt:           cloneTimePointer(r.GrantedAt),
		ExpiresAt:           cloneTimePointer(r.ExpiresAt),
		DurationType:        core.DurationType(r.DurationType),
		AccessSource:        core.AccessSource(r.AccessSource),
		SubscriptionID:      r.SubscriptionID,
		PaymentReference:    r.PaymentReference,
		RenewalCount:        r.RenewalCount,
		LastRenewedAt:       cloneTimePointer(r.LastRenewedAt),
		RevokedAt:           cloneTimePointer(r.RevokedAt),
		RevokedBy:           r.RevokedBy,
		RawExternalResponse: copyAnyMap(r.RawExternalResponse),
		ErrorMessage:        r.ErrorMessage,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func newEventRecord(in core.AccessEvent) *eventRecord {
	record := &eventRecord{
		ID:                  in.ID,
		GrantID:             in.GrantID,
		UserID:              in.UserID,
		IndicatorID:         in.IndicatorID,
		OperationType:       string(in.Operation),
		AccessSource:        string(in.AccessSource),
		Outcome:             string(in.Outcome),
		StatusBefore:        string(in.StatusBefore),
		StatusAfter:         string(in.StatusAfter),
		ExpiresAtBefore:     cloneTimePointer(in.ExpiresAtBefore),
		ExpiresAtAfter:      cloneTimePointer(in.ExpiresAtAfter),
		DurationType:        string(in.DurationType),
		ErrorMessage:        in.ErrorMessage,
		RawExternalResponse: copyAnyMap(in.RawExternalResponse),
		Actor:               in.Actor,
		Reason:              in.Reason,
		BillingEventID:      in.BillingEventID,
		OccurredAt:          in.OccurredAt.UTC(),
	}
	if in.Inconsistency != "" {
		value := in.Inconsistency
		record.Inconsistency = &value
	}
	return record
}

func (r *eventRecord) toDomain() core.AccessEvent {
	if r == nil {
		return core.AccessEvent{}
	}
	event := core.AccessEvent{
		ID:                  r.ID,
		GrantID:             r.GrantID,
		UserID:              r.UserID,
		IndicatorID:         r.IndicatorID,
		Operation:           core.OperationType(r.OperationType),
		AccessSource:        core.AccessSource(r.AccessSource),
		Outcome:             core.OutcomeKind(r.Outcome),
		StatusBefore:        core.GrantStatus(r.StatusBefore),
		StatusAfter:         core.GrantStatus(r.StatusAfter),
		ExpiresAtBefore:     cloneTimePointer(r.ExpiresAtBefore),
		ExpiresAtAfter:      cloneTimePointer(r.ExpiresAtAfter),
		DurationType:        core.DurationType(r.DurationType),
		ErrorMessage:        r.ErrorMessage,
		RawExternalResponse: copyAnyMap(r.RawExternalResponse),
		Actor:               r.Actor,
		Reason:              r.Reason,
		BillingEventID:      r.BillingEventID,
		OccurredAt:          r.OccurredAt,
	}
	if r.Inconsistency != nil {
		event.Inconsistency = *r.Inconsistency
	}
	return event
}

func (r *processedEventRecord) toDomain() core.ProcessedEvent {
	if r == nil {
		return core.ProcessedEvent{}
	}
	return core.ProcessedEvent{
		EventID:   r.EventID,
		EventType: r.EventType,
		Status:    core.ProcessedEventStatus(r.Status),
		Attempts:  r.Attempts,
		LastError: r.LastError,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
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

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
