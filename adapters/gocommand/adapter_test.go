package gocommand

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	entitlements "github.com/goliatone/go-entitlements"
	entcommand "github.com/goliatone/go-entitlements/command"
	"github.com/goliatone/go-entitlements/core"
	entquery "github.com/goliatone/go-entitlements/query"
)

type okMessage struct{}

func (okMessage) Type() string { return "entitlements.command.test.ok" }

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "entitlements.command.test.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

type dispatchMessage struct {
	ID string
}

func (dispatchMessage) Type() string { return "entitlements.command.test.dispatch" }

type queueMessage struct{}

func (queueMessage) Type() string { return "entitlements.command.test.queue" }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(okMessage{}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
}

func TestRegistryAndDispatchWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	executed := 0
	customResolverCalled := 0

	cmd := command.CommandFunc[dispatchMessage](func(context.Context, dispatchMessage) error {
		executed++
		return nil
	})

	if _, err := RegisterAndSubscribe(adapter, cmd); err != nil {
		t.Fatalf("register and subscribe: %v", err)
	}
	if err := adapter.AddResolver("custom", func(any, command.CommandMeta, *command.Registry) error {
		customResolverCalled++
		return nil
	}); err != nil {
		t.Fatalf("add resolver: %v", err)
	}
	if !adapter.HasResolver("custom") {
		t.Fatalf("expected custom resolver to be registered")
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	if customResolverCalled == 0 {
		t.Fatalf("expected resolver hook to run during initialization")
	}

	if err := Dispatch(context.Background(), dispatchMessage{ID: "m1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if executed != 1 {
		t.Fatalf("expected command execution count=1, got %d", executed)
	}
}

func TestQueueResolverHookWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	cmd := command.CommandFunc[queueMessage](func(context.Context, queueMessage) error { return nil })

	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := adapter.RegisterCommand(cmd); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if _, ok := queueRegistry.Get("entitlements.command.test.queue"); !ok {
		t.Fatalf("expected command to be mirrored into queue registry")
	}
}

func TestRegisterFacade_DispatchesCommandsAndQueries(t *testing.T) {
	svc := &stubFacadeService{}
	facade, err := entitlements.NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	adapter := NewRegistryAdapter(command.NewRegistry())
	subscriptions, err := RegisterFacade(adapter, facade)
	if err != nil {
		t.Fatalf("register facade: %v", err)
	}
	defer UnsubscribeAll(subscriptions)
	if len(subscriptions) != 12 {
		t.Fatalf("expected 12 subscriptions, got %d", len(subscriptions))
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	err = Dispatch(context.Background(), entcommand.GrantMessage{Request: core.GrantRequest{
		UserID:       "user_1",
		IndicatorIDs: []string{"ind_a"},
		Duration:     core.Duration30Days,
		Source:       core.AccessSourceManual,
	}})
	if err != nil {
		t.Fatalf("dispatch grant: %v", err)
	}
	if svc.grants != 1 {
		t.Fatalf("expected one grant call, got %d", svc.grants)
	}

	summary, err := Query[entquery.AccessSummaryMessage, core.AccessSummaryCounts](
		context.Background(),
		entquery.AccessSummaryMessage{UserID: "user_1"},
	)
	if err != nil {
		t.Fatalf("query summary: %v", err)
	}
	if summary.UserID != "user_1" || summary.Active != 1 {
		t.Fatalf("unexpected summary: %#v", summary)
	}
}

func TestRegisterFacade_RequiresFacade(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	if _, err := RegisterFacade(adapter, nil); err == nil {
		t.Fatalf("expected nil facade to fail")
	}
}

type stubFacadeService struct {
	grants int
}

func (s *stubFacadeService) Grant(_ context.Context, req core.GrantRequest) (core.OperationSummary, error) {
	s.grants++
	return core.OperationSummary{Operation: core.OperationGrant, UserID: req.UserID, Total: len(req.IndicatorIDs)}, nil
}

func (s *stubFacadeService) Revoke(_ context.Context, req core.RevokeRequest) (core.OperationSummary, error) {
	return core.OperationSummary{Operation: core.OperationRevoke, UserID: req.UserID}, nil
}

func (s *stubFacadeService) Renew(_ context.Context, req core.RenewRequest) (core.OperationSummary, error) {
	return core.OperationSummary{Operation: core.OperationRenew, UserID: req.UserID}, nil
}

func (s *stubFacadeService) VerifyUsername(context.Context, string) (bool, error) {
	return true, nil
}

func (s *stubFacadeService) HandleBillingEvent(context.Context, core.BillingEvent) (core.BillingEventResult, error) {
	return core.BillingEventResult{}, nil
}

func (s *stubFacadeService) OnPurchaseCompleted(context.Context, core.PurchaseCompleted) (core.BillingEventResult, error) {
	return core.BillingEventResult{}, nil
}

func (s *stubFacadeService) OnSubscriptionRenewed(context.Context, core.SubscriptionRenewed) (core.BillingEventResult, error) {
	return core.BillingEventResult{}, nil
}

func (s *stubFacadeService) OnSubscriptionCanceled(context.Context, core.SubscriptionCanceled) (core.BillingEventResult, error) {
	return core.BillingEventResult{}, nil
}

func (s *stubFacadeService) AccessSummary(_ context.Context, userID string) (core.AccessSummaryCounts, error) {
	return core.AccessSummaryCounts{UserID: userID, Active: 1}, nil
}

func (s *stubFacadeService) AuditTrail(context.Context, core.AuditFilter) (core.AuditPage, error) {
	return core.AuditPage{}, nil
}

func (s *stubFacadeService) ListFailedGrants(context.Context, string) ([]core.AccessGrant, error) {
	return nil, nil
}
