package billing

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-reconciler/core"
)

// StateMachine applies gateway webhooks to local subscriptions, payments and
// billings. Events for rows that do not exist locally are logged and dropped.
type StateMachine struct {
	uow      core.UnitOfWork
	opts     options
	observer *core.Observer
}

func NewStateMachine(uow core.UnitOfWork, opts ...Option) *StateMachine {
	o := buildOptions(opts)
	return &StateMachine{uow: uow, opts: o, observer: core.NewObserver(o.logger, o.metrics)}
}

// Handle is the webhook entry point.
func (m *StateMachine) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	event, err := ParseEvent(req.Body)
	if err != nil {
		return core.InboundResult{StatusCode: http.StatusBadRequest}, err
	}
	if err := m.Apply(ctx, event); err != nil {
		return core.InboundResult{}, err
	}
	return core.InboundResult{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Metadata:   map[string]any{"event_type": event.Event},
	}, nil
}

func (m *StateMachine) Apply(ctx context.Context, event Event) (err error) {
	if m == nil || m.uow == nil {
		return fmt.Errorf("billing: state machine requires a unit of work")
	}
	startedAt := time.Now()
	defer func() {
		m.observer.Observe(ctx, startedAt, "billing.apply_event", err, map[string]any{
			"provider_id":             core.ProviderGateway,
			"event_type":              event.Event,
			"gateway_subscription_id": event.subscription().ID,
		})
	}()

	switch {
	case strings.HasPrefix(event.Event, core.SubscriptionEventPrefix):
		return m.applySubscription(ctx, event)
	case event.Event == core.OrderEventPaid:
		return m.applyOrderPaid(ctx, event)
	default:
		m.opts.logger.Info("gateway event ignored", "event_type", event.Event)
		return nil
	}
}

func (m *StateMachine) applySubscription(ctx context.Context, event Event) error {
	entity := event.subscription()
	var (
		beneficiaryID string
		missing       bool
		handled       = true
	)
	err := m.opts.localRetry.Do(ctx, func(ctx context.Context) error {
		beneficiaryID, missing, handled = "", false, true
		return m.uow.RunInTx(ctx, func(ctx context.Context, stores core.StoreProvider) error {
			subscription, err := stores.SubscriptionStore().GetByGatewayID(ctx, entity.ID)
			if core.IsNotFound(err) {
				missing = true
				return nil
			}
			if err != nil {
				return err
			}
			beneficiaryID = subscription.BeneficiaryID

			switch event.Event {
			case core.SubscriptionEventActivated:
				return stores.SubscriptionStore().UpdateStatus(ctx, subscription.ID, core.SubscriptionStatusActive,
					firstTime(entity.CurrentStart, entity.StartAt),
					firstTime(entity.EndAt, entity.CurrentEnd),
				)
			case core.SubscriptionEventPending:
				return stores.SubscriptionStore().UpdateStatus(ctx, subscription.ID, core.SubscriptionStatusActive, nil, nil)
			case core.SubscriptionEventCharged:
				return m.applyCharge(ctx, stores, event, subscription)
			case core.SubscriptionEventCancelled, core.SubscriptionEventCompleted, core.SubscriptionEventHalted:
				if err := stores.SubscriptionStore().Delete(ctx, subscription.ID); err != nil {
					return err
				}
				return stores.UserStore().SetPaid(ctx, subscription.BeneficiaryID, false)
			default:
				handled = false
				return nil
			}
		})
	})
	if err != nil {
		return err
	}
	switch {
	case missing:
		m.opts.logger.Warn("gateway event for unknown subscription dropped",
			"event_type", event.Event,
			"gateway_subscription_id", entity.ID,
		)
	case !handled:
		m.opts.logger.Info("gateway subscription event ignored", "event_type", event.Event)
	default:
		m.syncBestEffort(ctx, beneficiaryID)
	}
	return nil
}

// applyCharge records the payment once per gateway payment id. Only the call
// that records it advances the billing date.
func (m *StateMachine) applyCharge(ctx context.Context, stores core.StoreProvider, event Event, subscription core.Subscription) error {
	payment, ok := event.payment()
	if !ok {
		return core.BadInput("billing: charged event without payment entity", map[string]any{"event_type": event.Event})
	}
	paidAt := m.opts.now()
	if t := unixTime(payment.CreatedAt); t != nil {
		paidAt = *t
	}
	currency := strings.ToUpper(strings.TrimSpace(payment.Currency))
	if currency == "" {
		currency = m.opts.currency
	}

	_, created, err := stores.PaymentStore().Record(ctx, core.RecordPaymentInput{
		SubscriptionID:   subscription.ID,
		GatewayPaymentID: payment.ID,
		Amount:           core.MinorToMajor(payment.Amount),
		Currency:         currency,
		PaidAt:           paidAt,
	})
	if err != nil {
		return err
	}
	if created {
		next := nextBillingDate(event.subscription(), subscription, m.opts.now())
		if err := stores.SubscriptionStore().SetNextBillingDate(ctx, subscription.ID, next); err != nil {
			return err
		}
	}
	return stores.UserStore().SetPaid(ctx, subscription.BeneficiaryID, true)
}

func nextBillingDate(entity SubscriptionEntity, subscription core.Subscription, now time.Time) time.Time {
	if t := unixTime(entity.ChargeAt); t != nil {
		return *t
	}
	base := now
	if subscription.NextBillingDate != nil && subscription.NextBillingDate.After(now) {
		base = *subscription.NextBillingDate
	}
	return base.AddDate(0, 1, 0)
}

func (m *StateMachine) applyOrderPaid(ctx context.Context, event Event) error {
	orderID := event.orderID()
	if orderID == "" {
		return core.BadInput("billing: order id is required", map[string]any{"event_type": event.Event})
	}
	missing := false
	err := m.opts.localRetry.Do(ctx, func(ctx context.Context) error {
		missing = false
		return m.uow.RunInTx(ctx, func(ctx context.Context, stores core.StoreProvider) error {
			_, err := stores.BillingStore().MarkPaid(ctx, orderID)
			if core.IsNotFound(err) {
				missing = true
				return nil
			}
			return err
		})
	})
	if missing {
		m.opts.logger.Warn("gateway order event for unknown billing dropped", "order_id", orderID)
	}
	return err
}

func (m *StateMachine) syncBestEffort(ctx context.Context, userID string) {
	if m.opts.syncer == nil || userID == "" {
		return
	}
	m.opts.syncer.SyncBestEffort(ctx, userID)
}
