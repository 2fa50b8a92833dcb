package billing_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-reconciler/billing"
	"github.com/goliatone/go-reconciler/billing/billingtest"
	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/identity"
	sqlstore "github.com/goliatone/go-reconciler/store/sql"
	"github.com/goliatone/go-reconciler/store/sql/sqltest"
	"github.com/goliatone/go-reconciler/webhooks"
	"github.com/shopspring/decimal"
)

func noWaitRetry() core.RetryExecutor {
	return core.RetryExecutor{MaxAttempts: 3, Backoff: core.FixedBackoffScheduler{}, Classifier: core.IsTransient}
}

type fixture struct {
	factory *sqlstore.RepositoryFactory
	gateway *billingtest.Gateway
	service *billing.Service
	machine *billing.StateMachine
}

func newFixture(t *testing.T, users ...string) fixture {
	t.Helper()
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(sqltest.NewClient(t))
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	seeder := identity.NewHandler(factory, identity.WithRetry(noWaitRetry()))
	for _, id := range users {
		if _, _, err := seeder.EnsureUser(context.Background(), core.ProviderUser{ID: id, FirstName: id, Email: id + "@acme.test"}); err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}
	gateway := billingtest.NewGateway()
	opts := []billing.Option{
		billing.WithRetry(noWaitRetry(), noWaitRetry()),
		billing.WithKeySecret("key_secret"),
	}
	return fixture{
		factory: factory,
		gateway: gateway,
		service: billing.NewService(factory, gateway, opts...),
		machine: billing.NewStateMachine(factory, opts...),
	}
}

func (f fixture) count(t *testing.T, table string) int {
	t.Helper()
	var count int
	if err := f.factory.DB().NewRaw("SELECT COUNT(*) FROM " + table).Scan(context.Background(), &count); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func (f fixture) deliver(t *testing.T, event string, payload map[string]any) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"event": event, "payload": payload, "created_at": 1_700_000_000})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	result, err := f.machine.Handle(context.Background(), core.InboundRequest{ProviderID: core.ProviderGateway, Body: body})
	if err != nil {
		t.Fatalf("handle %s: %v", event, err)
	}
	if !result.Accepted {
		t.Fatalf("expected %s to be accepted, got %#v", event, result)
	}
}

func subscriptionPayload(id string, extra map[string]any) map[string]any {
	entity := map[string]any{"id": id, "status": "active"}
	for key, value := range extra {
		entity[key] = value
	}
	return map[string]any{"subscription": map[string]any{"entity": entity}}
}

func chargedPayload(subscriptionID string, paymentID string, amount int64) map[string]any {
	payload := subscriptionPayload(subscriptionID, nil)
	payload["payment"] = map[string]any{"entity": map[string]any{
		"id":         paymentID,
		"amount":     amount,
		"currency":   "inr",
		"created_at": 1_700_000_100,
	}}
	return payload
}

func TestSubscriptionLifecycle_ChargedChargedCancelled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "payer", "beneficiary")

	sub, err := f.service.CreateSubscription(ctx, billing.CreateSubscriptionRequest{
		PayerID: "payer", BeneficiaryID: "beneficiary", PlanID: "plan_basic",
	})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if sub.Status != core.SubscriptionStatusPending || sub.GatewaySubscriptionID == "" {
		t.Fatalf("unexpected subscription %#v", sub)
	}

	f.deliver(t, core.SubscriptionEventCharged, chargedPayload(sub.GatewaySubscriptionID, "pay_1", 49_900))
	f.deliver(t, core.SubscriptionEventCharged, chargedPayload(sub.GatewaySubscriptionID, "pay_2", 49_900))

	user, err := f.factory.UserStore().Get(ctx, "beneficiary")
	if err != nil {
		t.Fatalf("get beneficiary: %v", err)
	}
	if !user.Paid {
		t.Fatalf("expected beneficiary to be paid after charge")
	}
	payments, err := f.factory.PaymentStore().ListBySubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(payments) != 2 || !payments[0].Amount.Equal(decimal.RequireFromString("499")) || payments[0].Currency != "INR" {
		t.Fatalf("unexpected payments %#v", payments)
	}
	stored, err := f.factory.SubscriptionStore().Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if stored.NextBillingDate == nil {
		t.Fatalf("expected next billing date to advance")
	}

	f.deliver(t, core.SubscriptionEventCancelled, subscriptionPayload(sub.GatewaySubscriptionID, nil))

	if got := f.count(t, "payments"); got != 2 {
		t.Fatalf("expected 2 payments, got %d", got)
	}
	if got := f.count(t, "subscriptions"); got != 0 {
		t.Fatalf("expected 0 subscriptions, got %d", got)
	}
	user, _ = f.factory.UserStore().Get(ctx, "beneficiary")
	if user.Paid {
		t.Fatalf("expected beneficiary to be unpaid after cancel")
	}
}

func TestCharged_RedeliveredPaymentIsRecordedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "payer")
	sub, err := f.service.CreateSubscription(ctx, billing.CreateSubscriptionRequest{PayerID: "payer", BeneficiaryID: "payer", PlanID: "plan"})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	payload := chargedPayload(sub.GatewaySubscriptionID, "pay_1", 1000)
	payload["subscription"].(map[string]any)["entity"].(map[string]any)["charge_at"] = 1_702_592_000
	f.deliver(t, core.SubscriptionEventCharged, payload)
	f.deliver(t, core.SubscriptionEventCharged, payload)

	if got := f.count(t, "payments"); got != 1 {
		t.Fatalf("expected 1 payment, got %d", got)
	}
	stored, _ := f.factory.SubscriptionStore().Get(ctx, sub.ID)
	if stored.NextBillingDate == nil || !stored.NextBillingDate.Equal(time.Unix(1_702_592_000, 0).UTC()) {
		t.Fatalf("expected charge_at as next billing date, got %v", stored.NextBillingDate)
	}
}

func TestActivatedAndPendingMoveToActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "payer")
	sub, err := f.service.CreateSubscription(ctx, billing.CreateSubscriptionRequest{PayerID: "payer", BeneficiaryID: "payer", PlanID: "plan"})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	f.deliver(t, core.SubscriptionEventActivated, subscriptionPayload(sub.GatewaySubscriptionID, map[string]any{
		"current_start": 1_700_000_000,
		"end_at":        1_731_536_000,
	}))
	stored, err := f.factory.SubscriptionStore().Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if stored.Status != core.SubscriptionStatusActive {
		t.Fatalf("expected active, got %q", stored.Status)
	}
	if stored.StartDate == nil || !stored.StartDate.Equal(time.Unix(1_700_000_000, 0).UTC()) {
		t.Fatalf("unexpected start date %v", stored.StartDate)
	}
	if stored.EndDate == nil || !stored.EndDate.Equal(time.Unix(1_731_536_000, 0).UTC()) {
		t.Fatalf("unexpected end date %v", stored.EndDate)
	}

	f.deliver(t, core.SubscriptionEventPending, subscriptionPayload(sub.GatewaySubscriptionID, nil))
	stored, _ = f.factory.SubscriptionStore().Get(ctx, sub.ID)
	if stored.Status != core.SubscriptionStatusActive || stored.StartDate == nil {
		t.Fatalf("expected pending to keep the row active with its dates, got %#v", stored)
	}
}

func TestEventsForUnknownSubscriptionAreDropped(t *testing.T) {
	f := newFixture(t)
	for _, event := range []string{
		core.SubscriptionEventActivated,
		core.SubscriptionEventCharged,
		core.SubscriptionEventHalted,
	} {
		f.deliver(t, event, chargedPayload("sub_unknown", "pay_x", 100))
	}
	if got := f.count(t, "payments"); got != 0 {
		t.Fatalf("expected no payments, got %d", got)
	}
}

func TestCreateSubscription_SecondForBeneficiaryIsDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "payer", "other", "beneficiary")
	if _, err := f.service.CreateSubscription(ctx, billing.CreateSubscriptionRequest{
		PayerID: "payer", BeneficiaryID: "beneficiary", PlanID: "plan",
	}); err != nil {
		t.Fatalf("first subscription: %v", err)
	}
	_, err := f.service.CreateSubscription(ctx, billing.CreateSubscriptionRequest{
		PayerID: "other", BeneficiaryID: "beneficiary", PlanID: "plan",
	})
	if !core.IsDuplicateSubscription(err) {
		t.Fatalf("expected duplicate subscription, got %v", err)
	}
	if mapped := core.MapError(err); mapped.Code != 409 {
		t.Fatalf("expected 409, got %d", mapped.Code)
	}
	if got := f.count(t, "subscriptions"); got != 1 {
		t.Fatalf("expected a single subscription row, got %d", got)
	}
}

func TestCreateSubscription_RaceLoserCancelsGatewaySubscription(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "payer", "other", "beneficiary")

	var (
		mu       sync.Mutex
		fired    bool
		innerErr error
	)
	f.gateway.BeforeCreate = func() {
		mu.Lock()
		if fired {
			mu.Unlock()
			return
		}
		fired = true
		mu.Unlock()
		_, innerErr = f.service.CreateSubscription(ctx, billing.CreateSubscriptionRequest{
			PayerID: "other", BeneficiaryID: "beneficiary", PlanID: "plan",
		})
	}

	_, err := f.service.CreateSubscription(ctx, billing.CreateSubscriptionRequest{
		PayerID: "payer", BeneficiaryID: "beneficiary", PlanID: "plan",
	})
	if innerErr != nil {
		t.Fatalf("racing subscription: %v", innerErr)
	}
	if !core.IsDuplicateSubscription(err) {
		t.Fatalf("expected duplicate subscription for the race loser, got %v", err)
	}
	if got := f.count(t, "subscriptions"); got != 1 {
		t.Fatalf("expected the loser's placeholder to be removed, got %d rows", got)
	}
	if cancelled := f.gateway.CancelledIDs(); len(cancelled) != 1 {
		t.Fatalf("expected the orphaned gateway subscription to be cancelled, got %v", cancelled)
	}
}

func TestCreateSubscription_GatewayFailureRemovesPlaceholder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "payer")
	f.gateway.FailSubscriptions = 5

	_, err := f.service.CreateSubscription(ctx, billing.CreateSubscriptionRequest{PayerID: "payer", BeneficiaryID: "payer", PlanID: "plan"})
	if !core.IsExternalCallFailure(err) {
		t.Fatalf("expected external call failure, got %v", err)
	}
	if got := f.count(t, "subscriptions"); got != 0 {
		t.Fatalf("expected placeholder cleanup, got %d rows", got)
	}
}

func TestCancelSubscription_OnlyPayer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "payer", "beneficiary")
	sub, err := f.service.CreateSubscription(ctx, billing.CreateSubscriptionRequest{PayerID: "payer", BeneficiaryID: "beneficiary", PlanID: "plan"})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	err = f.service.CancelSubscription(ctx, "beneficiary", sub.ID)
	if mapped := core.MapError(err); mapped == nil || mapped.Code != 403 {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := f.service.CancelSubscription(ctx, "payer", sub.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled := f.gateway.CancelledIDs(); len(cancelled) != 1 || cancelled[0] != sub.GatewaySubscriptionID {
		t.Fatalf("expected gateway cancel, got %v", cancelled)
	}
	if err := f.service.CancelSubscription(ctx, "payer", sub.ID); !core.IsNotFound(err) {
		t.Fatalf("expected not found after cancel, got %v", err)
	}
}

func TestOrders_CreateVerifyAndWebhook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "payer")
	user, _ := f.factory.UserStore().Get(ctx, "payer")

	bill, order, err := f.service.CreateOrder(ctx, billing.CreateOrderRequest{
		CompanyID: user.CompanyID,
		Amount:    decimal.RequireFromString("12.34"),
		Currency:  "inr",
		Receipt:   "rcpt_1",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if f.gateway.Orders[order.ID].AmountMinor != 1234 {
		t.Fatalf("expected minor units, got %d", f.gateway.Orders[order.ID].AmountMinor)
	}
	if bill.ID != order.ID || bill.Status != core.BillingStatusPending {
		t.Fatalf("unexpected billing %#v", bill)
	}

	if _, err := f.service.VerifyPayment(ctx, order.ID, "pay_1", "deadbeef"); core.MapError(err).Code != 400 {
		t.Fatalf("expected bad signature to be bad input, got %v", err)
	}
	signature := webhooks.SignHex("key_secret", []byte(order.ID+"|pay_1"))
	paid, err := f.service.VerifyPayment(ctx, order.ID, "pay_1", signature)
	if err != nil {
		t.Fatalf("verify payment: %v", err)
	}
	if paid.Status != core.BillingStatusPaid {
		t.Fatalf("expected paid billing, got %q", paid.Status)
	}

	second, otherOrder, err := f.service.CreateOrder(ctx, billing.CreateOrderRequest{
		CompanyID: user.CompanyID, Amount: decimal.NewFromInt(5), Receipt: "rcpt_2",
	})
	if err != nil {
		t.Fatalf("create second order: %v", err)
	}
	if second.Currency != core.DefaultCurrencyCode {
		t.Fatalf("expected default currency, got %q", second.Currency)
	}
	f.deliver(t, core.OrderEventPaid, map[string]any{"order": map[string]any{"entity": map[string]any{"id": otherOrder.ID, "status": "paid"}}})
	stored, err := f.factory.BillingStore().Get(ctx, otherOrder.ID)
	if err != nil || stored.Status != core.BillingStatusPaid {
		t.Fatalf("expected order.paid to mark billing paid, got %#v err=%v", stored, err)
	}
}

func TestRecordReferral_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "referrer", "referee", "late")

	first, created, err := f.service.RecordReferral(ctx, "referrer", "referee")
	if err != nil || !created {
		t.Fatalf("record referral: created=%v err=%v", created, err)
	}
	again, created, err := f.service.RecordReferral(ctx, "late", "referee")
	if err != nil || created || again.ID != first.ID || again.ReferrerID != "referrer" {
		t.Fatalf("expected first referrer to stick, got %#v created=%v err=%v", again, created, err)
	}
	if _, _, err := f.service.RecordReferral(ctx, "referee", "referee"); core.MapError(err).Code != 400 {
		t.Fatalf("expected self referral to be rejected, got %v", err)
	}
}
