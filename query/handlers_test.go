package query

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-entitlements/core"
)

func TestAccessSummaryQuery_QueryDelegates(t *testing.T) {
	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	called := false
	reader := stubReportingReader{
		summaryFn: func(_ context.Context, userID string) (core.AccessSummaryCounts, error) {
			called = true
			if userID != "user_1" {
				t.Fatalf("unexpected user id %q", userID)
			}
			return core.AccessSummaryCounts{UserID: userID, Active: 2, Expiring: 1, AsOf: asOf}, nil
		},
	}

	result, err := NewAccessSummaryQuery(reader).Query(context.Background(), AccessSummaryMessage{UserID: "user_1"})
	if err != nil {
		t.Fatalf("query access summary: %v", err)
	}
	if !called {
		t.Fatalf("expected reporting reader invocation")
	}
	if result.Active != 2 || result.Expiring != 1 || !result.AsOf.Equal(asOf) {
		t.Fatalf("unexpected summary: %#v", result)
	}
}

func TestAuditTrailQuery_QueryDelegates(t *testing.T) {
	expected := core.AuditPage{
		Items: []core.AccessEvent{
			{ID: "evt_1", GrantID: "grant_1", Operation: core.OperationGrant, Outcome: core.OutcomeSuccess},
		},
		Total:   1,
		Page:    1,
		PerPage: 20,
	}
	reader := stubReportingReader{
		auditFn: func(_ context.Context, filter core.AuditFilter) (core.AuditPage, error) {
			if filter.GrantID != "grant_1" || filter.Operation != core.OperationGrant {
				t.Fatalf("unexpected audit filter: %#v", filter)
			}
			return expected, nil
		},
	}

	result, err := NewAuditTrailQuery(reader).Query(context.Background(), AuditTrailMessage{
		Filter: core.AuditFilter{GrantID: "grant_1", Operation: core.OperationGrant, Page: 1, PerPage: 20},
	})
	if err != nil {
		t.Fatalf("query audit trail: %v", err)
	}
	if result.Total != 1 || len(result.Items) != 1 || result.Items[0].ID != "evt_1" {
		t.Fatalf("unexpected audit page: %#v", result)
	}
}

func TestListFailedGrantsQuery_QueryDelegates(t *testing.T) {
	reader := stubReportingReader{
		failedFn: func(_ context.Context, userID string) ([]core.AccessGrant, error) {
			return []core.AccessGrant{{ID: "grant_9", UserID: userID, Status: core.GrantStatusFailed}}, nil
		},
	}
	grants, err := NewListFailedGrantsQuery(reader).Query(context.Background(), ListFailedGrantsMessage{UserID: "user_1"})
	if err != nil {
		t.Fatalf("query failed grants: %v", err)
	}
	if len(grants) != 1 || grants[0].Status != core.GrantStatusFailed {
		t.Fatalf("unexpected failed grants: %#v", grants)
	}
}

func TestDriftReportQuery_SingleAndBatch(t *testing.T) {
	var checked []string
	var batched []string
	checker := stubDriftChecker{
		checkFn: func(_ context.Context, userID string) (core.DriftReport, error) {
			checked = append(checked, userID)
			return core.DriftReport{UserID: userID, MissingInExternal: []string{"PUB;a"}}, nil
		},
		checkAllFn: func(_ context.Context, userIDs []string) ([]core.DriftReport, error) {
			batched = append(batched, userIDs...)
			out := make([]core.DriftReport, 0, len(userIDs))
			for _, id := range userIDs {
				out = append(out, core.DriftReport{UserID: id})
			}
			return out, nil
		},
	}
	qry := NewDriftReportQuery(checker)

	single, err := qry.Query(context.Background(), DriftReportMessage{UserID: " user_1 "})
	if err != nil {
		t.Fatalf("query single drift: %v", err)
	}
	if len(single) != 1 || !single[0].HasDrift() {
		t.Fatalf("expected one drifting report, got %#v", single)
	}
	if len(checked) != 1 || checked[0] != "user_1" {
		t.Fatalf("expected trimmed single check, got %v", checked)
	}

	batch, err := qry.Query(context.Background(), DriftReportMessage{UserIDs: []string{"user_1", "user_2"}})
	if err != nil {
		t.Fatalf("query batch drift: %v", err)
	}
	if len(batch) != 2 || len(batched) != 2 {
		t.Fatalf("expected batch of two reports, got %#v", batch)
	}
}

func TestQueryMessageValidation(t *testing.T) {
	cases := []struct {
		name    string
		msg     interface{ Validate() error }
		wantErr bool
	}{
		{name: "summary ok", msg: AccessSummaryMessage{UserID: "user_1"}},
		{name: "audit empty filter ok", msg: AuditTrailMessage{}},
		{name: "audit negative page", msg: AuditTrailMessage{Filter: core.AuditFilter{Page: -1}}, wantErr: true},
		{name: "audit negative per page", msg: AuditTrailMessage{Filter: core.AuditFilter{PerPage: -5}}, wantErr: true},
		{name: "audit unknown operation", msg: AuditTrailMessage{Filter: core.AuditFilter{Operation: "delete"}}, wantErr: true},
		{name: "failed grants missing user", msg: ListFailedGrantsMessage{}, wantErr: true},
		{name: "drift missing users", msg: DriftReportMessage{}, wantErr: true},
		{name: "drift batch ok", msg: DriftReportMessage{UserIDs: []string{"user_1"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

type stubReportingReader struct {
	summaryFn func(ctx context.Context, userID string) (core.AccessSummaryCounts, error)
	auditFn   func(ctx context.Context, filter core.AuditFilter) (core.AuditPage, error)
	failedFn  func(ctx context.Context, userID string) ([]core.AccessGrant, error)
}

func (s stubReportingReader) AccessSummary(ctx context.Context, userID string) (core.AccessSummaryCounts, error) {
	if s.summaryFn == nil {
		return core.AccessSummaryCounts{}, nil
	}
	return s.summaryFn(ctx, userID)
}

func (s stubReportingReader) AuditTrail(ctx context.Context, filter core.AuditFilter) (core.AuditPage, error) {
	if s.auditFn == nil {
		return core.AuditPage{}, nil
	}
	return s.auditFn(ctx, filter)
}

func (s stubReportingReader) ListFailedGrants(ctx context.Context, userID string) ([]core.AccessGrant, error) {
	if s.failedFn == nil {
		return nil, nil
	}
	return s.failedFn(ctx, userID)
}

type stubDriftChecker struct {
	checkFn    func(ctx context.Context, userID string) (core.DriftReport, error)
	checkAllFn func(ctx context.Context, userIDs []string) ([]core.DriftReport, error)
}

func (s stubDriftChecker) Check(ctx context.Context, userID string) (core.DriftReport, error) {
	if s.checkFn == nil {
		return core.DriftReport{}, nil
	}
	return s.checkFn(ctx, userID)
}

func (s stubDriftChecker) CheckAll(ctx context.Context, userIDs []string) ([]core.DriftReport, error) {
	if s.checkAllFn == nil {
		return nil, nil
	}
	return s.checkAllFn(ctx, userIDs)
}
