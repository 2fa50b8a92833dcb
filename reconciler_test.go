package reconciler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	reconciler "github.com/goliatone/go-reconciler"
	"github.com/goliatone/go-reconciler/adapters/gocommand"
	"github.com/goliatone/go-reconciler/billing"
	"github.com/goliatone/go-reconciler/billing/billingtest"
	reconcilercmd "github.com/goliatone/go-reconciler/command"
	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/identity/identitytest"
	"github.com/goliatone/go-reconciler/store/sql/sqltest"
	"github.com/goliatone/go-reconciler/webhooks"
)

func newApp(t *testing.T) (*reconciler.App, *identitytest.Client, *billingtest.Gateway) {
	t.Helper()
	cfg := reconciler.DefaultConfig()
	cfg.Gateway.WebhookSecret = "gateway-secret"
	cfg.Gateway.KeySecret = "key_secret"
	cfg.Gateway.PlanID = "plan_default"
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = time.Millisecond
	cfg.Retry.LocalBackoff = 0

	profiles := identitytest.NewClient()
	gateway := billingtest.NewGateway()
	app, err := reconciler.New(cfg,
		reconciler.WithPersistenceClient(sqltest.NewClient(t)),
		reconciler.WithIdentityClient(profiles),
		reconciler.WithGateway(gateway),
		reconciler.WithRoleCache(true),
	)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	return app, profiles, gateway
}

func TestNew_RequiresPersistenceClient(t *testing.T) {
	if _, err := reconciler.New(reconciler.DefaultConfig()); err == nil {
		t.Fatalf("expected an error without a persistence client")
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := reconciler.DefaultConfig()
	cfg.Queue.Driver = "kafka"
	if _, err := reconciler.New(cfg, reconciler.WithPersistenceClient(sqltest.NewClient(t))); err == nil {
		t.Fatalf("expected unsupported queue driver to fail")
	}
}

func TestLoadConfig_LayersRawValues(t *testing.T) {
	cfg, err := reconciler.LoadConfig(context.Background(), core.StaticRawConfigLoader{Values: map[string]any{
		"gateway": map[string]any{"plan_id": "plan_gold"},
		"queue":   map[string]any{"workers": 3},
	}}, reconciler.Config{HTTP: core.HTTPConfig{Addr: ":9090"}})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Gateway.PlanID != "plan_gold" || cfg.Queue.Workers != 3 {
		t.Fatalf("expected raw values to apply, got %#v", cfg)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Fatalf("expected runtime addr to win, got %q", cfg.HTTP.Addr)
	}
	if cfg.ServiceName != "reconciler" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
}

func TestApp_PaymentWebhookFlowsThroughWorker(t *testing.T) {
	ctx := context.Background()
	app, profiles, _ := newApp(t)
	profiles.Put(core.ProviderUser{ID: "payer", FirstName: "Pat", Email: "pat@acme.test"})

	if _, _, err := app.Identity.EnsureUser(ctx, core.ProviderUser{ID: "payer", FirstName: "Pat", Email: "pat@acme.test"}); err != nil {
		t.Fatalf("seed payer: %v", err)
	}
	sub, err := app.Billing.CreateSubscription(ctx, billing.CreateSubscriptionRequest{PayerID: "payer", BeneficiaryID: "payer", PlanID: "plan_default"})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	body, err := json.Marshal(map[string]any{
		"event":      core.SubscriptionEventCharged,
		"created_at": 1_700_000_000,
		"payload": map[string]any{
			"subscription": map[string]any{"entity": map[string]any{"id": sub.GatewaySubscriptionID, "status": "active"}},
			"payment": map[string]any{"entity": map[string]any{
				"id": "pay_1", "amount": 49_900, "currency": "inr", "created_at": 1_700_000_100,
			}},
		},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(body))
	req.Header.Set(webhooks.PaymentSignatureHeader, webhooks.SignHex("gateway-secret", body))
	req.Header.Set(webhooks.PaymentEventIDHeader, "evt_1")
	resp, err := app.Server.App().Test(req, -1)
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	delivery, err := app.Queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := app.Worker.Process(ctx, delivery); err != nil {
		t.Fatalf("process: %v", err)
	}

	user, err := app.Factory.UserStore().Get(ctx, "payer")
	if err != nil {
		t.Fatalf("get payer: %v", err)
	}
	if !user.Paid {
		t.Fatalf("expected payer to be paid after the charge")
	}
	payments, err := app.Factory.PaymentStore().ListBySubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(payments) != 1 {
		t.Fatalf("expected one payment, got %d", len(payments))
	}
	if got := app.Metrics.Counter("reconciler.billing.apply_event.total"); got != 1 {
		t.Fatalf("expected one metered billing event, got %d", got)
	}
}

func TestApp_RegistersCommandsWithDispatcher(t *testing.T) {
	ctx := context.Background()
	app, _, _ := newApp(t)
	for _, id := range []string{"referrer", "referee"} {
		if _, _, err := app.Identity.EnsureUser(ctx, core.ProviderUser{ID: id, Email: id + "@acme.test"}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	if err := gocommand.Dispatch(ctx, reconcilercmd.RecordReferralMessage{ReferrerID: "referrer", RefereeID: "referee"}); err != nil {
		t.Fatalf("dispatch referral: %v", err)
	}
	referral, err := app.Factory.ReferralStore().GetByReferee(ctx, "referee")
	if err != nil {
		t.Fatalf("get referral: %v", err)
	}
	if referral.ReferrerID != "referrer" {
		t.Fatalf("unexpected referral %#v", referral)
	}
}
