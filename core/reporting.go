package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	defaultAuditPerPage = 50
	maxAuditPerPage     = 500
)

// AccessSummary counts a user's grants by derived state. Expiring grants are
// also counted as active.
func (s *Service) AccessSummary(ctx context.Context, userID string) (counts AccessSummaryCounts, err error) {
	startedAt := time.Now()
	userID = strings.TrimSpace(userID)
	fields := map[string]any{"user_id": userID}
	defer func() {
		s.observeOperation(ctx, startedAt, "access_summary", err, fields)
	}()

	if s == nil || s.ledgerStore == nil {
		return AccessSummaryCounts{}, fmt.Errorf("core: ledger store is required")
	}
	if userID == "" {
		return AccessSummaryCounts{}, s.mapError(NewValidationError("user_id", "user id is required"))
	}
	grants, err := s.ledgerStore.ListByUser(ctx, userID)
	if err != nil {
		return AccessSummaryCounts{}, s.mapError(err)
	}
	return summarizeGrants(userID, grants, s.clock(), s.config.Reporting.ExpiringWindow), nil
}

func summarizeGrants(userID string, grants []AccessGrant, now time.Time, window time.Duration) AccessSummaryCounts {
	counts := AccessSummaryCounts{UserID: userID, AsOf: now}
	horizon := now.Add(window)
	for _, grant := range grants {
		switch grant.Status {
		case GrantStatusActive:
			if grant.EffectiveAt(now) {
				counts.Active++
				if grant.ExpiresAt != nil && !grant.ExpiresAt.After(horizon) {
					counts.Expiring++
				}
				continue
			}
			counts.Expired++
		case GrantStatusRevoked:
			counts.Revoked++
		case GrantStatusFailed:
			counts.Failed++
		case GrantStatusPending:
			counts.Pending++
		}
	}
	return counts
}

func (s *Service) AuditTrail(ctx context.Context, filter AuditFilter) (page AuditPage, err error) {
	startedAt := time.Now()
	filter.UserID = strings.TrimSpace(filter.UserID)
	filter.GrantID = strings.TrimSpace(filter.GrantID)
	fields := map[string]any{
		"user_id":  filter.UserID,
		"grant_id": filter.GrantID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "audit_trail", err, fields)
	}()

	if s == nil || s.eventLog == nil {
		return AuditPage{}, fmt.Errorf("core: event log is required")
	}
	if filter.UserID == "" && filter.GrantID == "" {
		return AuditPage{}, s.mapError(NewValidationError("user_id", "user id or grant id is required"))
	}
	if filter.Operation != "" {
		switch filter.Operation {
		case OperationGrant, OperationRevoke, OperationRenew:
		default:
			return AuditPage{}, s.mapError(NewValidationError("operation", fmt.Sprintf("unsupported operation %q", filter.Operation)))
		}
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PerPage <= 0 {
		filter.PerPage = defaultAuditPerPage
	}
	if filter.PerPage > maxAuditPerPage {
		filter.PerPage = maxAuditPerPage
	}
	page, err = s.eventLog.ListEvents(ctx, filter)
	if err != nil {
		return AuditPage{}, s.mapError(err)
	}
	fields["total"] = page.Total
	return page, nil
}

// ListFailedGrants returns the user's rows in the failed state, the set that
// needs remediation.
func (s *Service) ListFailedGrants(ctx context.Context, userID string) (grants []AccessGrant, err error) {
	startedAt := time.Now()
	userID = strings.TrimSpace(userID)
	fields := map[string]any{"user_id": userID}
	defer func() {
		fields["count"] = len(grants)
		s.observeOperation(ctx, startedAt, "list_failed_grants", err, fields)
	}()

	if s == nil || s.ledgerStore == nil {
		return nil, fmt.Errorf("core: ledger store is required")
	}
	if userID == "" {
		return nil, s.mapError(NewValidationError("user_id", "user id is required"))
	}
	all, err := s.ledgerStore.ListByUser(ctx, userID)
	if err != nil {
		return nil, s.mapError(err)
	}
	grants = make([]AccessGrant, 0, len(all))
	for _, grant := range all {
		if grant.Status == GrantStatusFailed {
			grants = append(grants, grant)
		}
	}
	return grants, nil
}
