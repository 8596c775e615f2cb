package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type gatewayCall struct {
	method    string
	username  string
	scriptIDs []string
	duration  DurationType
	expiresAt time.Time
}

type fakeGateway struct {
	mu             sync.Mutex
	replace        bool
	calls          []gatewayCall
	grantFn        func(scriptIDs []string, duration DurationType) []AccessOutcome
	removeFn       func(scriptIDs []string) []AccessOutcome
	replaceFn      func(scriptIDs []string, expiresAt time.Time) []AccessOutcome
	statusFn       func(scriptIDs []string) ([]AccessOutcome, error)
	validUsernames map[string]bool
}

func (g *fakeGateway) record(call gatewayCall) {
	g.mu.Lock()
	defer g.mu.Unlock()
	call.scriptIDs = append([]string(nil), call.scriptIDs...)
	g.calls = append(g.calls, call)
}

func (g *fakeGateway) Grant(_ context.Context, username string, scriptIDs []string, duration DurationType) ([]AccessOutcome, error) {
	g.record(gatewayCall{method: "grant", username: username, scriptIDs: scriptIDs, duration: duration})
	if g.grantFn != nil {
		return g.grantFn(scriptIDs, duration), nil
	}
	return successOutcomes(scriptIDs, duration.ExpiryFrom(testNow)), nil
}

func (g *fakeGateway) Remove(_ context.Context, username string, scriptIDs []string) ([]AccessOutcome, error) {
	g.record(gatewayCall{method: "remove", username: username, scriptIDs: scriptIDs})
	if g.removeFn != nil {
		return g.removeFn(scriptIDs), nil
	}
	return successOutcomes(scriptIDs, nil), nil
}

func (g *fakeGateway) ReplaceExpiration(_ context.Context, username string, scriptIDs []string, expiresAt time.Time) ([]AccessOutcome, error) {
	g.record(gatewayCall{method: "replace", username: username, scriptIDs: scriptIDs, expiresAt: expiresAt})
	if g.replaceFn != nil {
		return g.replaceFn(scriptIDs, expiresAt), nil
	}
	return successOutcomes(scriptIDs, &expiresAt), nil
}

func (g *fakeGateway) SupportsReplace() bool { return g.replace }

func (g *fakeGateway) Status(_ context.Context, username string, scriptIDs []string) ([]AccessOutcome, error) {
	g.record(gatewayCall{method: "status", username: username, scriptIDs: scriptIDs})
	if g.statusFn != nil {
		return g.statusFn(scriptIDs)
	}
	return nil, fmt.Errorf("status not configured")
}

func (g *fakeGateway) ValidateUsername(_ context.Context, username string) (bool, error) {
	g.record(gatewayCall{method: "validate", username: username})
	return g.validUsernames[username], nil
}

func (g *fakeGateway) callsFor(method string) []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := []gatewayCall{}
	for _, call := range g.calls {
		if call.method == method {
			out = append(out, call)
		}
	}
	return out
}

func successOutcomes(scriptIDs []string, expiry *time.Time) []AccessOutcome {
	out := make([]AccessOutcome, 0, len(scriptIDs))
	for _, scriptID := range scriptIDs {
		out = append(out, AccessOutcome{
			IndicatorID:     scriptID,
			Outcome:         OutcomeSuccess,
			EffectiveExpiry: cloneTime(expiry),
			RawPayload:      map[string]any{"scriptId": scriptID, "status": "ok"},
		})
	}
	return out
}

func failureOutcome(scriptID string, message string) AccessOutcome {
	return AccessOutcome{
		IndicatorID: scriptID,
		Outcome:     OutcomeFailure,
		Error:       message,
		RawPayload:  map[string]any{"scriptId": scriptID, "status": "error", "error": message},
	}
}

func boolPtr(value bool) *bool { return &value }

func timePtr(value time.Time) *time.Time { return &value }

type memoryLedger struct {
	mu       sync.Mutex
	next     int
	grants   map[string]AccessGrant
	events   []AccessEvent
	writeErr error
	// failGrant fails writes for one grant id only.
	failGrant string
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{grants: map[string]AccessGrant{}}
}

func (l *memoryLedger) Get(_ context.Context, id string) (AccessGrant, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	grant, ok := l.grants[id]
	if !ok {
		return AccessGrant{}, NewNotFoundError("grant not found")
	}
	return grant, nil
}

func (l *memoryLedger) FindByUserIndicator(_ context.Context, userID string, indicatorID string) (AccessGrant, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, grant := range l.grants {
		if grant.UserID == userID && grant.IndicatorID == indicatorID {
			return grant, true, nil
		}
	}
	return AccessGrant{}, false, nil
}

func (l *memoryLedger) ListByUser(_ context.Context, userID string) ([]AccessGrant, error) {
	return l.filter(func(grant AccessGrant) bool { return grant.UserID == userID }), nil
}

func (l *memoryLedger) ListBySubscription(_ context.Context, subscriptionID string) ([]AccessGrant, error) {
	return l.filter(func(grant AccessGrant) bool { return grant.SubscriptionID == subscriptionID }), nil
}

func (l *memoryLedger) filter(match func(AccessGrant) bool) []AccessGrant {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []AccessGrant{}
	for _, grant := range l.grants {
		if match(grant) {
			out = append(out, grant)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *memoryLedger) Write(_ context.Context, in GrantWrite) (AccessGrant, AccessEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return AccessGrant{}, AccessEvent{}, l.writeErr
	}
	if l.failGrant != "" && in.Grant.ID == l.failGrant {
		return AccessGrant{}, AccessEvent{}, fmt.Errorf("write %s: database is locked", in.Grant.ID)
	}
	event := in.Event
	l.next++
	event.ID = fmt.Sprintf("evt_%d", l.next)
	if in.EventOnly {
		event.GrantID = in.Grant.ID
		l.events = append(l.events, event)
		return l.grants[in.Grant.ID], event, nil
	}

	grant := in.Grant
	if grant.ID == "" {
		for _, existing := range l.grants {
			if existing.UserID == grant.UserID && existing.IndicatorID == grant.IndicatorID {
				return AccessGrant{}, AccessEvent{}, goerrors.New("unique constraint failed", goerrors.CategoryConflict)
			}
		}
		grant.ID = fmt.Sprintf("grant_%03d", l.next)
		grant.CreatedAt = testNow
	}
	if in.IncrementRenewal {
		grant.RenewalCount = l.grants[grant.ID].RenewalCount + 1
	}
	grant.UpdatedAt = testNow
	l.grants[grant.ID] = grant
	event.GrantID = grant.ID
	l.events = append(l.events, event)
	return grant, event, nil
}

func (l *memoryLedger) ListEvents(_ context.Context, filter AuditFilter) (AuditPage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	matched := []AccessEvent{}
	for _, event := range l.events {
		if filter.UserID != "" && event.UserID != filter.UserID {
			continue
		}
		if filter.GrantID != "" && event.GrantID != filter.GrantID {
			continue
		}
		if filter.Operation != "" && event.Operation != filter.Operation {
			continue
		}
		if filter.BillingEventID != "" && event.BillingEventID != filter.BillingEventID {
			continue
		}
		matched = append(matched, event)
	}
	start := (filter.Page - 1) * filter.PerPage
	if start > len(matched) {
		start = len(matched)
	}
	end := start + filter.PerPage
	if end > len(matched) {
		end = len(matched)
	}
	return AuditPage{Items: matched[start:end], Total: len(matched), Page: filter.Page, PerPage: filter.PerPage}, nil
}

func (l *memoryLedger) CountOperations(_ context.Context, grantID string, operation OperationType) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, event := range l.events {
		if event.GrantID == grantID && event.Operation == operation {
			count++
		}
	}
	return count, nil
}

func (l *memoryLedger) seed(grant AccessGrant) AccessGrant {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.grants[grant.ID] = grant
	return grant
}

func (l *memoryLedger) grantFor(t *testing.T, userID string, indicatorID string) AccessGrant {
	t.Helper()
	grant, ok, _ := l.FindByUserIndicator(context.Background(), userID, indicatorID)
	if !ok {
		t.Fatalf("expected ledger row for %s/%s", userID, indicatorID)
	}
	return grant
}

func (l *memoryLedger) eventsFor(grantID string) []AccessEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []AccessEvent{}
	for _, event := range l.events {
		if event.GrantID == grantID {
			out = append(out, event)
		}
	}
	return out
}

type memoryDirectory struct {
	mu    sync.Mutex
	users map[string]User
}

func (d *memoryDirectory) GetUser(_ context.Context, userID string) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[userID]
	if !ok {
		return User{}, NewNotFoundError("user not found")
	}
	return user, nil
}

func (d *memoryDirectory) MarkUsernameVerified(_ context.Context, userID string, username string, verifiedAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[userID]
	if !ok {
		return NewNotFoundError("user not found")
	}
	user.ExternalUsername = username
	user.UsernameVerifiedAt = &verifiedAt
	d.users[userID] = user
	return nil
}

type memoryCatalog struct {
	indicators map[string]Indicator
}

func (c memoryCatalog) GetIndicator(_ context.Context, id string) (Indicator, error) {
	indicator, ok := c.indicators[id]
	if !ok {
		return Indicator{}, NewNotFoundError("indicator not found")
	}
	return indicator, nil
}

func (c memoryCatalog) ListActiveIndicators(context.Context) ([]Indicator, error) {
	out := []Indicator{}
	for _, indicator := range c.indicators {
		if indicator.Active {
			out = append(out, indicator)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func testCatalog(ids ...string) memoryCatalog {
	catalog := memoryCatalog{indicators: map[string]Indicator{}}
	for _, id := range ids {
		catalog.indicators[id] = Indicator{
			ID:               id,
			ExternalScriptID: "PUB;" + strings.ToLower(id),
			Name:             "Indicator " + id,
			AccessTier:       AccessTierPremium,
			Active:           true,
		}
	}
	return catalog
}

type testHarness struct {
	service   *Service
	gateway   *fakeGateway
	ledger    *memoryLedger
	directory *memoryDirectory
	catalog   memoryCatalog
	events    *MemoryProcessedEventStore
}

func newTestHarness(t *testing.T, cfg Config, indicators ...string) *testHarness {
	t.Helper()
	verifiedAt := testNow.Add(-time.Hour)
	h := &testHarness{
		gateway: &fakeGateway{replace: true},
		ledger:  newMemoryLedger(),
		directory: &memoryDirectory{users: map[string]User{
			"user_1":     {ID: "user_1", ExternalUsername: "alice_tv", UsernameVerifiedAt: &verifiedAt},
			"unverified": {ID: "unverified", ExternalUsername: "bob_tv"},
		}},
		catalog: testCatalog(indicators...),
		events:  NewMemoryProcessedEventStore(),
	}
	svc, err := NewService(cfg,
		WithGateway(h.gateway),
		WithLedgerStore(h.ledger),
		WithEventLog(h.ledger),
		WithUserDirectory(h.directory),
		WithIndicatorCatalog(h.catalog),
		WithProcessedEventStore(h.events),
		WithClock(func() time.Time { return testNow }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.service = svc
	return h
}

func scriptID(indicatorID string) string {
	return "PUB;" + strings.ToLower(indicatorID)
}
