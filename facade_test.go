package entitlements

import (
	"context"
	"testing"

	entcommand "github.com/goliatone/go-entitlements/command"
	"github.com/goliatone/go-entitlements/core"
	entquery "github.com/goliatone/go-entitlements/query"
)

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	svc := &stubFacadeService{}

	facade, err := NewFacade(svc, WithDriftChecker(&stubFacadeDriftChecker{}))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	commands := facade.Commands()
	if commands.Grant == nil || commands.Revoke == nil || commands.Renew == nil || commands.HandleBillingEvent == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	queries := facade.Queries()
	if queries.AccessSummary == nil || queries.AuditTrail == nil || queries.DriftReport == nil {
		t.Fatalf("expected query handlers to be wired")
	}
	if facade.Service() != svc {
		t.Fatalf("expected facade to expose its service")
	}
}

func TestFacade_CommandAndQueryDelegation(t *testing.T) {
	svc := &stubFacadeService{}
	checker := &stubFacadeDriftChecker{}

	facade, err := NewFacade(svc, WithDriftChecker(checker))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	if err := facade.Commands().Revoke.Execute(context.Background(), entcommand.RevokeMessage{
		Request: core.RevokeRequest{UserID: "user_1", GrantIDs: []string{"grant_1"}, Reason: "refund"},
	}); err != nil {
		t.Fatalf("execute revoke command: %v", err)
	}
	if svc.lastRevoke.UserID != "user_1" || svc.lastRevoke.Reason != "refund" {
		t.Fatalf("unexpected revoke delegation payload: %#v", svc.lastRevoke)
	}

	summary, err := facade.Queries().AccessSummary.Query(context.Background(), entquery.AccessSummaryMessage{UserID: "user_1"})
	if err != nil {
		t.Fatalf("query access summary: %v", err)
	}
	if summary.Active != 3 {
		t.Fatalf("unexpected access summary: %#v", summary)
	}

	reports, err := facade.Queries().DriftReport.Query(context.Background(), entquery.DriftReportMessage{UserID: "user_1"})
	if err != nil {
		t.Fatalf("query drift report: %v", err)
	}
	if len(reports) != 1 || checker.calls != 1 {
		t.Fatalf("expected drift checker delegation, got %#v", reports)
	}
}

func TestNewFacade_ServiceWithoutGatewayLeavesDriftQueryUnwired(t *testing.T) {
	svc, err := NewService(DefaultConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	if _, err := facade.Queries().DriftReport.Query(context.Background(), entquery.DriftReportMessage{UserID: "user_1"}); err == nil {
		t.Fatalf("expected dependency error without a reconciliation checker")
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	facade, err := NewFacade(nil)
	if err == nil {
		t.Fatalf("expected nil service error")
	}
	if facade != nil {
		t.Fatalf("expected nil facade on error")
	}
}

type stubFacadeService struct {
	lastRevoke core.RevokeRequest
}

func (s *stubFacadeService) Grant(_ context.Context, req core.GrantRequest) (core.OperationSummary, error) {
	return core.OperationSummary{Operation: core.OperationGrant, UserID: req.UserID}, nil
}

func (s *stubFacadeService) Revoke(_ context.Context, req core.RevokeRequest) (core.OperationSummary, error) {
	s.lastRevoke = req
	return core.OperationSummary{Operation: core.OperationRevoke, UserID: req.UserID}, nil
}

func (s *stubFacadeService) Renew(_ context.Context, req core.RenewRequest) (core.OperationSummary, error) {
	return core.OperationSummary{Operation: core.OperationRenew, UserID: req.UserID}, nil
}

func (s *stubFacadeService) VerifyUsername(context.Context, string) (bool, error) {
	return true, nil
}

func (s *stubFacadeService) HandleBillingEvent(_ context.Context, event core.BillingEvent) (core.BillingEventResult, error) {
	return core.BillingEventResult{EventID: event.ID, Type: event.Type}, nil
}

func (s *stubFacadeService) OnPurchaseCompleted(_ context.Context, event core.PurchaseCompleted) (core.BillingEventResult, error) {
	return core.BillingEventResult{EventID: event.EventID}, nil
}

func (s *stubFacadeService) OnSubscriptionRenewed(_ context.Context, event core.SubscriptionRenewed) (core.BillingEventResult, error) {
	return core.BillingEventResult{EventID: event.EventID}, nil
}

func (s *stubFacadeService) OnSubscriptionCanceled(_ context.Context, event core.SubscriptionCanceled) (core.BillingEventResult, error) {
	return core.BillingEventResult{EventID: event.EventID}, nil
}

func (s *stubFacadeService) AccessSummary(_ context.Context, userID string) (core.AccessSummaryCounts, error) {
	return core.AccessSummaryCounts{UserID: userID, Active: 3}, nil
}

func (s *stubFacadeService) AuditTrail(context.Context, core.AuditFilter) (core.AuditPage, error) {
	return core.AuditPage{}, nil
}

func (s *stubFacadeService) ListFailedGrants(context.Context, string) ([]core.AccessGrant, error) {
	return nil, nil
}

type stubFacadeDriftChecker struct {
	calls int
}

func (s *stubFacadeDriftChecker) Check(_ context.Context, userID string) (core.DriftReport, error) {
	s.calls++
	return core.DriftReport{UserID: userID}, nil
}

func (s *stubFacadeDriftChecker) CheckAll(_ context.Context, userIDs []string) ([]core.DriftReport, error) {
	s.calls++
	out := make([]core.DriftReport, 0, len(userIDs))
	for _, id := range userIDs {
		out = append(out, core.DriftReport{UserID: id})
	}
	return out, nil
}

var (
	_ CommandQueryService = (*stubFacadeService)(nil)
	_ CommandQueryService = (*Service)(nil)
)
