package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-entitlements/core"
)

type ReportingReader interface {
	AccessSummary(ctx context.Context, userID string) (core.AccessSummaryCounts, error)
	AuditTrail(ctx context.Context, filter core.AuditFilter) (core.AuditPage, error)
	ListFailedGrants(ctx context.Context, userID string) ([]core.AccessGrant, error)
}

type DriftChecker interface {
	Check(ctx context.Context, userID string) (core.DriftReport, error)
	CheckAll(ctx context.Context, userIDs []string) ([]core.DriftReport, error)
}

type AccessSummaryQuery struct {
	reader ReportingReader
}

func NewAccessSummaryQuery(reader ReportingReader) *AccessSummaryQuery {
	return &AccessSummaryQuery{reader: reader}
}

func (q *AccessSummaryQuery) Query(ctx context.Context, msg AccessSummaryMessage) (core.AccessSummaryCounts, error) {
	if q == nil || q.reader == nil {
		return core.AccessSummaryCounts{}, queryDependencyError("query: reporting reader is required")
	}
	return q.reader.AccessSummary(ctx, msg.UserID)
}

type AuditTrailQuery struct {
	reader ReportingReader
}

func NewAuditTrailQuery(reader ReportingReader) *AuditTrailQuery {
	return &AuditTrailQuery{reader: reader}
}

func (q *AuditTrailQuery) Query(ctx context.Context, msg AuditTrailMessage) (core.AuditPage, error) {
	if q == nil || q.reader == nil {
		return core.AuditPage{}, queryDependencyError("query: reporting reader is required")
	}
	return q.reader.AuditTrail(ctx, msg.Filter)
}

type ListFailedGrantsQuery struct {
	reader ReportingReader
}

func NewListFailedGrantsQuery(reader ReportingReader) *ListFailedGrantsQuery {
	return &ListFailedGrantsQuery{reader: reader}
}

func (q *ListFailedGrantsQuery) Query(ctx context.Context, msg ListFailedGrantsMessage) ([]core.AccessGrant, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: reporting reader is required")
	}
	return q.reader.ListFailedGrants(ctx, msg.UserID)
}

type DriftReportQuery struct {
	checker DriftChecker
}

func NewDriftReportQuery(checker DriftChecker) *DriftReportQuery {
	return &DriftReportQuery{checker: checker}
}

func (q *DriftReportQuery) Query(ctx context.Context, msg DriftReportMessage) ([]core.DriftReport, error) {
	if q == nil || q.checker == nil {
		return nil, queryDependencyError("query: reconciliation checker is required")
	}
	if len(msg.UserIDs) > 0 {
		return q.checker.CheckAll(ctx, msg.UserIDs)
	}
	report, err := q.checker.Check(ctx, strings.TrimSpace(msg.UserID))
	if err != nil {
		return nil, err
	}
	return []core.DriftReport{report}, nil
}
