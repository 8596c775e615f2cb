package command

import (
	"context"
	"testing"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-entitlements/core"
)

func TestGrantCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := core.OperationSummary{
		Operation:  core.OperationGrant,
		UserID:     "user_1",
		Total:      2,
		Successful: 2,
	}
	called := false
	svc := stubMutatingService{
		grantFn: func(_ context.Context, req core.GrantRequest) (core.OperationSummary, error) {
			called = true
			if req.UserID != "user_1" || len(req.IndicatorIDs) != 2 {
				t.Fatalf("unexpected grant request: %#v", req)
			}
			if req.Duration != core.Duration30Days {
				t.Fatalf("expected 30D duration, got %q", req.Duration)
			}
			return expected, nil
		},
	}

	cmd := NewGrantCommand(svc)
	collector := gocmd.NewResult[core.OperationSummary]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, GrantMessage{Request: core.GrantRequest{
		UserID:       "user_1",
		IndicatorIDs: []string{"ind_a", "ind_b"},
		Duration:     core.Duration30Days,
		Source:       core.AccessSourceManual,
	}})
	if err != nil {
		t.Fatalf("execute grant: %v", err)
	}
	if !called {
		t.Fatalf("expected grant service invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.Successful != 2 || result.UserID != "user_1" {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestMutationCommands_DelegateToService(t *testing.T) {
	t.Run("revoke", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			revokeFn: func(_ context.Context, req core.RevokeRequest) (core.OperationSummary, error) {
				called = true
				if req.UserID != "user_1" || len(req.GrantIDs) != 1 || req.Reason != "refund" {
					t.Fatalf("unexpected revoke request: %#v", req)
				}
				return core.OperationSummary{Operation: core.OperationRevoke, Total: 1, Successful: 1}, nil
			},
		}
		cmd := NewRevokeCommand(svc)
		collector := gocmd.NewResult[core.OperationSummary]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		if err := cmd.Execute(ctx, RevokeMessage{Request: core.RevokeRequest{
			UserID:   "user_1",
			GrantIDs: []string{"grant_1"},
			Reason:   "refund",
		}}); err != nil {
			t.Fatalf("execute revoke: %v", err)
		}
		if !called {
			t.Fatalf("expected revoke invocation")
		}
		if stored, ok := collector.Load(); !ok || stored.Operation != core.OperationRevoke {
			t.Fatalf("expected revoke summary, got %#v", stored)
		}
	})

	t.Run("renew", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			renewFn: func(_ context.Context, req core.RenewRequest) (core.OperationSummary, error) {
				called = true
				if req.Duration != core.Duration1Year {
					t.Fatalf("expected 1Y renewal, got %q", req.Duration)
				}
				return core.OperationSummary{Operation: core.OperationRenew, Total: 1, Successful: 1}, nil
			},
		}
		cmd := NewRenewCommand(svc)
		if err := cmd.Execute(context.Background(), RenewMessage{Request: core.RenewRequest{
			UserID:   "user_1",
			GrantIDs: []string{"grant_1"},
			Duration: core.Duration1Year,
		}}); err != nil {
			t.Fatalf("execute renew: %v", err)
		}
		if !called {
			t.Fatalf("expected renew invocation")
		}
	})

	t.Run("verify username", func(t *testing.T) {
		svc := stubMutatingService{
			verifyFn: func(_ context.Context, userID string) (bool, error) {
				if userID != "user_1" {
					t.Fatalf("unexpected user id %q", userID)
				}
				return true, nil
			},
		}
		cmd := NewVerifyUsernameCommand(svc)
		collector := gocmd.NewResult[bool]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		if err := cmd.Execute(ctx, VerifyUsernameMessage{UserID: "user_1"}); err != nil {
			t.Fatalf("execute verify username: %v", err)
		}
		if valid, ok := collector.Load(); !ok || !valid {
			t.Fatalf("expected stored verification result")
		}
	})

	t.Run("propagates service error", func(t *testing.T) {
		svc := stubMutatingService{
			grantFn: func(context.Context, core.GrantRequest) (core.OperationSummary, error) {
				return core.OperationSummary{}, core.NewNotFoundError("user missing")
			},
		}
		err := NewGrantCommand(svc).Execute(context.Background(), GrantMessage{Request: core.GrantRequest{
			UserID:       "user_x",
			IndicatorIDs: []string{"ind_a"},
		}})
		if !core.IsNotFoundError(err) {
			t.Fatalf("expected not found error, got %v", err)
		}
	})
}

func TestBillingCommands_DelegateToService(t *testing.T) {
	var calls []string
	svc := stubBillingService{
		handleFn: func(_ context.Context, event core.BillingEvent) (core.BillingEventResult, error) {
			calls = append(calls, "handle:"+event.ID)
			return core.BillingEventResult{EventID: event.ID, Type: event.Type, Deduped: true}, nil
		},
		purchaseFn: func(_ context.Context, event core.PurchaseCompleted) (core.BillingEventResult, error) {
			calls = append(calls, "purchase:"+event.EventID)
			return core.BillingEventResult{EventID: event.EventID}, nil
		},
		renewedFn: func(_ context.Context, event core.SubscriptionRenewed) (core.BillingEventResult, error) {
			calls = append(calls, "renewed:"+event.EventID)
			return core.BillingEventResult{EventID: event.EventID}, nil
		},
		canceledFn: func(_ context.Context, event core.SubscriptionCanceled) (core.BillingEventResult, error) {
			calls = append(calls, "canceled:"+event.EventID)
			return core.BillingEventResult{EventID: event.EventID}, nil
		},
	}

	collector := gocmd.NewResult[core.BillingEventResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := NewHandleBillingEventCommand(svc).Execute(ctx, HandleBillingEventMessage{
		Event: core.BillingEvent{ID: "evt_0", Type: core.BillingEventPurchaseCompleted},
	}); err != nil {
		t.Fatalf("execute handle billing event: %v", err)
	}
	if stored, ok := collector.Load(); !ok || !stored.Deduped {
		t.Fatalf("expected deduped billing result, got %#v", stored)
	}

	if err := NewPurchaseCompletedCommand(svc).Execute(context.Background(), PurchaseCompletedMessage{
		Event: core.PurchaseCompleted{EventID: "evt_1", UserID: "user_1", IndicatorIDs: []string{"ind_a"}},
	}); err != nil {
		t.Fatalf("execute purchase completed: %v", err)
	}
	if err := NewSubscriptionRenewedCommand(svc).Execute(context.Background(), SubscriptionRenewedMessage{
		Event: core.SubscriptionRenewed{EventID: "evt_2", SubscriptionID: "sub_1"},
	}); err != nil {
		t.Fatalf("execute subscription renewed: %v", err)
	}
	if err := NewSubscriptionCanceledCommand(svc).Execute(context.Background(), SubscriptionCanceledMessage{
		Event: core.SubscriptionCanceled{EventID: "evt_3", SubscriptionID: "sub_1"},
	}); err != nil {
		t.Fatalf("execute subscription canceled: %v", err)
	}

	expected := []string{"handle:evt_0", "purchase:evt_1", "renewed:evt_2", "canceled:evt_3"}
	if len(calls) != len(expected) {
		t.Fatalf("expected %d billing calls, got %v", len(expected), calls)
	}
	for i := range expected {
		if calls[i] != expected[i] {
			t.Fatalf("expected call %d to be %q, got %q", i, expected[i], calls[i])
		}
	}
}

func TestMessages_Validate(t *testing.T) {
	cases := []struct {
		name    string
		msg     interface{ Validate() error }
		wantErr bool
	}{
		{name: "grant ok", msg: GrantMessage{Request: core.GrantRequest{UserID: "u", IndicatorIDs: []string{"i"}, Duration: "30d"}}},
		{name: "grant without duration", msg: GrantMessage{Request: core.GrantRequest{UserID: "u", IndicatorIDs: []string{"i"}}}},
		{name: "grant missing user", msg: GrantMessage{Request: core.GrantRequest{IndicatorIDs: []string{"i"}}}, wantErr: true},
		{name: "grant missing indicators", msg: GrantMessage{Request: core.GrantRequest{UserID: "u"}}, wantErr: true},
		{name: "grant bad duration", msg: GrantMessage{Request: core.GrantRequest{UserID: "u", IndicatorIDs: []string{"i"}, Duration: "2W"}}, wantErr: true},
		{name: "revoke missing grants", msg: RevokeMessage{Request: core.RevokeRequest{UserID: "u"}}, wantErr: true},
		{name: "renew requires duration", msg: RenewMessage{Request: core.RenewRequest{UserID: "u", GrantIDs: []string{"g"}}}, wantErr: true},
		{name: "renew ok", msg: RenewMessage{Request: core.RenewRequest{UserID: "u", GrantIDs: []string{"g"}, Duration: core.DurationLifetime}}},
		{name: "verify missing user", msg: VerifyUsernameMessage{}, wantErr: true},
		{name: "billing missing type", msg: HandleBillingEventMessage{Event: core.BillingEvent{ID: "evt"}}, wantErr: true},
		{name: "purchase missing event id", msg: PurchaseCompletedMessage{Event: core.PurchaseCompleted{UserID: "u", IndicatorIDs: []string{"i"}}}, wantErr: true},
		{name: "renewed missing subscription", msg: SubscriptionRenewedMessage{Event: core.SubscriptionRenewed{EventID: "evt"}}, wantErr: true},
		{name: "canceled ok", msg: SubscriptionCanceledMessage{Event: core.SubscriptionCanceled{EventID: "evt", SubscriptionID: "sub"}}},
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

type stubMutatingService struct {
	grantFn  func(ctx context.Context, req core.GrantRequest) (core.OperationSummary, error)
	revokeFn func(ctx context.Context, req core.RevokeRequest) (core.OperationSummary, error)
	renewFn  func(ctx context.Context, req core.RenewRequest) (core.OperationSummary, error)
	verifyFn func(ctx context.Context, userID string) (bool, error)
}

func (s stubMutatingService) Grant(ctx context.Context, req core.GrantRequest) (core.OperationSummary, error) {
	if s.grantFn == nil {
		return core.OperationSummary{}, nil
	}
	return s.grantFn(ctx, req)
}

func (s stubMutatingService) Revoke(ctx context.Context, req core.RevokeRequest) (core.OperationSummary, error) {
	if s.revokeFn == nil {
		return core.OperationSummary{}, nil
	}
	return s.revokeFn(ctx, req)
}

func (s stubMutatingService) Renew(ctx context.Context, req core.RenewRequest) (core.OperationSummary, error) {
	if s.renewFn == nil {
		return core.OperationSummary{}, nil
	}
	return s.renewFn(ctx, req)
}

func (s stubMutatingService) VerifyUsername(ctx context.Context, userID string) (bool, error) {
	if s.verifyFn == nil {
		return false, nil
	}
	return s.verifyFn(ctx, userID)
}

type stubBillingService struct {
	handleFn   func(ctx context.Context, event core.BillingEvent) (core.BillingEventResult, error)
	purchaseFn func(ctx context.Context, event core.PurchaseCompleted) (core.BillingEventResult, error)
	renewedFn  func(ctx context.Context, event core.SubscriptionRenewed) (core.BillingEventResult, error)
	canceledFn func(ctx context.Context, event core.SubscriptionCanceled) (core.BillingEventResult, error)
}

func (s stubBillingService) HandleBillingEvent(ctx context.Context, event core.BillingEvent) (core.BillingEventResult, error) {
	if s.handleFn == nil {
		return core.BillingEventResult{}, nil
	}
	return s.handleFn(ctx, event)
}

func (s stubBillingService) OnPurchaseCompleted(ctx context.Context, event core.PurchaseCompleted) (core.BillingEventResult, error) {
	if s.purchaseFn == nil {
		return core.BillingEventResult{}, nil
	}
	return s.purchaseFn(ctx, event)
}

func (s stubBillingService) OnSubscriptionRenewed(ctx context.Context, event core.SubscriptionRenewed) (core.BillingEventResult, error) {
	if s.renewedFn == nil {
		return core.BillingEventResult{}, nil
	}
	return s.renewedFn(ctx, event)
}

func (s stubBillingService) OnSubscriptionCanceled(ctx context.Context, event core.SubscriptionCanceled) (core.BillingEventResult, error) {
	if s.canceledFn == nil {
		return core.BillingEventResult{}, nil
	}
	return s.canceledFn(ctx, event)
}
