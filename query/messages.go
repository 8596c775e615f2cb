package query

import (
	"strings"

	"github.com/goliatone/go-entitlements/core"
)

const (
	TypeAccessSummary    = "entitlements.query.access.summary"
	TypeAuditTrail       = "entitlements.query.audit.list"
	TypeListFailedGrants = "entitlements.query.access.failed"
	TypeDriftReport      = "entitlements.query.reconciliation.drift"
)

type AccessSummaryMessage struct {
	UserID string
}

func (AccessSummaryMessage) Type() string { return TypeAccessSummary }

func (m AccessSummaryMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	return nil
}

type AuditTrailMessage struct {
	Filter core.AuditFilter
}

func (AuditTrailMessage) Type() string { return TypeAuditTrail }

func (m AuditTrailMessage) Validate() error {
	if m.Filter.Page < 0 {
		return queryValidationError("page", "page must be >= 0")
	}
	if m.Filter.PerPage < 0 {
		return queryValidationError("per_page", "per_page must be >= 0")
	}
	if operation := strings.TrimSpace(string(m.Filter.Operation)); operation != "" {
		switch core.OperationType(operation) {
		case core.OperationGrant, core.OperationRevoke, core.OperationRenew:
		default:
			return queryValidationError("operation", "operation must be grant, revoke or renew")
		}
	}
	return nil
}

type ListFailedGrantsMessage struct {
	UserID string
}

func (ListFailedGrantsMessage) Type() string { return TypeListFailedGrants }

func (m ListFailedGrantsMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	return nil
}

// DriftReportMessage checks one user, or every listed user when UserIDs is set.
type DriftReportMessage struct {
	UserID  string
	UserIDs []string
}

func (DriftReportMessage) Type() string { return TypeDriftReport }

func (m DriftReportMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" && len(m.UserIDs) == 0 {
		return queryValidationError("user_id", "user id is required")
	}
	return nil
}
