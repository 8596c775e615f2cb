package entitlements_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/labstack/echo/v4"

	entitlements "github.com/goliatone/go-entitlements"
	entcommand "github.com/goliatone/go-entitlements/command"
	"github.com/goliatone/go-entitlements/core"
	"github.com/goliatone/go-entitlements/gateway"
	entquery "github.com/goliatone/go-entitlements/query"
	sqlstore "github.com/goliatone/go-entitlements/store/sql"
	"github.com/goliatone/go-entitlements/webhooks"
)

const compositionSecret = "whsec_composition"

type compositionDBConfig struct {
	dsn string
}

func (compositionDBConfig) GetDebug() bool                { return false }
func (compositionDBConfig) GetDriver() string             { return "sqlite3" }
func (c compositionDBConfig) GetServer() string           { return c.dsn }
func (compositionDBConfig) GetPingTimeout() time.Duration { return time.Second }
func (compositionDBConfig) GetOtelIdentifier() string     { return "go-entitlements-composition" }

// fakePlatform keeps per-script access for a single known username.
type fakePlatform struct {
	mu       sync.Mutex
	username string
	access   map[string]time.Time
}

func (p *fakePlatform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(segments) != 2 {
		http.NotFound(w, r)
		return
	}
	if segments[0] == "users" {
		if segments[1] != p.username {
			http.NotFound(w, r)
			return
		}
		writePlatformJSON(w, map[string]any{"username": p.username})
		return
	}
	if segments[0] != "access" || segments[1] != p.username {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodPost:
		var body struct {
			ScriptIDs []string `json:"scriptIds"`
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		expiresAt := time.Now().UTC().AddDate(0, 0, 30)
		items := make([]map[string]any, 0, len(body.ScriptIDs))
		for _, id := range body.ScriptIDs {
			p.access[id] = expiresAt
			items = append(items, map[string]any{
				"scriptId":   id,
				"status":     "success",
				"expiration": expiresAt.Format(time.RFC3339),
			})
		}
		writePlatformJSON(w, items)
	case http.MethodGet:
		var ids []string
		_ = json.Unmarshal([]byte(r.URL.Query().Get("scriptIds")), &ids)
		items := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			expiresAt, ok := p.access[id]
			item := map[string]any{"scriptId": id, "hasAccess": ok}
			if ok {
				item["currentExpiration"] = expiresAt.Format(time.RFC3339)
			}
			items = append(items, item)
		}
		writePlatformJSON(w, items)
	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func (p *fakePlatform) drop(scriptID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.access, scriptID)
}

func writePlatformJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func TestComposition_BillingWebhookToReportingAndDrift(t *testing.T) {
	ctx := context.Background()

	dbConfig := compositionDBConfig{dsn: fmt.Sprintf(
		"file:entitlements-composition-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)}
	client, err := sqlstore.OpenClient(dbConfig)
	if err != nil {
		t.Fatalf("open client: %v", err)
	}
	defer func() { _ = client.Close() }()
	if err := sqlstore.MigrateClient(ctx, client, dbConfig.GetDriver()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("repository factory: %v", err)
	}
	if _, err := factory.Users().Upsert(ctx, core.User{ID: "user_1", ExternalUsername: "alice_tv"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	for _, indicator := range []core.Indicator{
		{ID: "ind_a", ExternalScriptID: "PUB;a", Name: "Alpha", AccessTier: core.AccessTierPremium, Active: true},
		{ID: "ind_b", ExternalScriptID: "PUB;b", Name: "Beta", AccessTier: core.AccessTierPremium, Active: true},
	} {
		if _, err := factory.Indicators().Upsert(ctx, indicator); err != nil {
			t.Fatalf("seed indicator %s: %v", indicator.ID, err)
		}
	}

	platform := &fakePlatform{username: "alice_tv", access: map[string]time.Time{}}
	server := httptest.NewServer(platform)
	defer server.Close()
	gatewayClient, err := gateway.NewClient(core.GatewayConfig{
		BaseURL: server.URL,
		Timeout: 2 * time.Second,
	}, gateway.WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("gateway client: %v", err)
	}

	cfg := entitlements.DefaultConfig()
	cfg.Webhook.SigningSecret = compositionSecret
	svc, err := entitlements.NewService(cfg,
		entitlements.WithPersistenceClient(client),
		entitlements.WithRepositoryFactory(factory),
		entitlements.WithGateway(gatewayClient),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	facade, err := entitlements.NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	if err := facade.Commands().VerifyUsername.Execute(ctx, entcommand.VerifyUsernameMessage{UserID: "user_1"}); err != nil {
		t.Fatalf("verify username: %v", err)
	}

	e := echo.New()
	processor := webhooks.NewProcessorFromConfig(svc.Config().Webhook, svc, glog.Nop())
	e.POST("/webhooks/billing", webhooks.EchoHandler(processor, svc.Config().Webhook.MaxBodyBytes))

	purchase := `{"id":"evt_purchase_1","type":"purchase.completed","data":{"user_id":"user_1","indicator_ids":["ind_a","ind_b"],"duration":"30D","payment_reference":"pay_1"}}`
	status, label := postBillingWebhook(t, e, purchase)
	if status != http.StatusOK || label != "processed" {
		t.Fatalf("expected processed purchase, got %d %q", status, label)
	}
	status, label = postBillingWebhook(t, e, purchase)
	if status != http.StatusOK || label != "deduped" {
		t.Fatalf("expected deduped redelivery, got %d %q", status, label)
	}

	summary, err := facade.Queries().AccessSummary.Query(ctx, entquery.AccessSummaryMessage{UserID: "user_1"})
	if err != nil {
		t.Fatalf("access summary: %v", err)
	}
	if summary.Active != 2 {
		t.Fatalf("expected two active grants, got %#v", summary)
	}

	page, err := facade.Queries().AuditTrail.Query(ctx, entquery.AuditTrailMessage{Filter: core.AuditFilter{UserID: "user_1"}})
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("expected one audit event per grant, got %d", page.Total)
	}

	reports, err := facade.Queries().DriftReport.Query(ctx, entquery.DriftReportMessage{UserID: "user_1"})
	if err != nil {
		t.Fatalf("drift report: %v", err)
	}
	if len(reports) != 1 || reports[0].HasDrift() {
		t.Fatalf("expected a clean drift report, got %#v", reports)
	}

	platform.drop("PUB;b")
	reports, err = facade.Queries().DriftReport.Query(ctx, entquery.DriftReportMessage{UserID: "user_1"})
	if err != nil {
		t.Fatalf("drift report after platform removal: %v", err)
	}
	if len(reports) != 1 || len(reports[0].MissingInExternal) != 1 {
		t.Fatalf("expected one grant missing on the platform, got %#v", reports)
	}
}

func postBillingWebhook(t *testing.T, e *echo.Echo, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(body))
	req.Header.Set(webhooks.DefaultSignatureHeader, "sha256="+hex.EncodeToString(webhooks.Sign(compositionSecret, []byte(body))))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode webhook response: %v", err)
	}
	return rec.Code, payload.Status
}
