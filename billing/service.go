// Package billing owns subscriptions, payments, one-off orders and referrals,
// and applies payment gateway webhooks to them.
package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/webhooks"
	"github.com/shopspring/decimal"
)

type CreateSubscriptionRequest struct {
	PayerID       string
	BeneficiaryID string
	PlanID        string
	TotalCount    int
}

type CreateOrderRequest struct {
	CompanyID     string
	Amount        decimal.Decimal
	Currency      string
	Receipt       string
	Description   string
	PaymentPlan   string
	PaymentMethod string
}

type Service struct {
	uow     core.UnitOfWork
	gateway Gateway
	opts    options
}

func NewService(uow core.UnitOfWork, gateway Gateway, opts ...Option) *Service {
	return &Service{uow: uow, gateway: gateway, opts: buildOptions(opts)}
}

// CreateSubscription opens a subscription for beneficiary paid by payer. A
// beneficiary with a pending or active subscription gets
// DuplicateSubscription, both from the up front check and from the partial
// unique index when two requests race.
func (s *Service) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (core.Subscription, error) {
	if err := s.ready(); err != nil {
		return core.Subscription{}, err
	}
	req.PayerID = strings.TrimSpace(req.PayerID)
	req.BeneficiaryID = strings.TrimSpace(req.BeneficiaryID)
	req.PlanID = strings.TrimSpace(req.PlanID)
	if req.PayerID == "" || req.BeneficiaryID == "" || req.PlanID == "" {
		return core.Subscription{}, core.BadInput("billing: payer, beneficiary and plan are required", nil)
	}

	var (
		payer       core.User
		placeholder core.Subscription
	)
	err := s.opts.localRetry.Do(ctx, func(ctx context.Context) error {
		return s.uow.RunInTx(ctx, func(ctx context.Context, stores core.StoreProvider) error {
			open, err := stores.SubscriptionStore().FindOpenForBeneficiary(ctx, req.BeneficiaryID)
			if err == nil {
				return core.DuplicateSubscription(req.BeneficiaryID, fmt.Errorf("subscription %s is %s", open.ID, open.Status))
			}
			if !core.IsNotFound(err) {
				return err
			}
			if payer, err = stores.UserStore().Get(ctx, req.PayerID); err != nil {
				return err
			}
			if _, err := stores.UserStore().Get(ctx, req.BeneficiaryID); err != nil {
				return err
			}
			placeholder, err = stores.SubscriptionStore().Create(ctx, core.CreateSubscriptionInput{
				PayerID:       req.PayerID,
				BeneficiaryID: req.BeneficiaryID,
				PlanID:        req.PlanID,
			})
			return err
		})
	})
	if err != nil {
		return core.Subscription{}, err
	}

	var (
		customerID string
		remote     GatewaySubscription
	)
	err = s.opts.externalRetry.Do(ctx, func(ctx context.Context) error {
		if customerID == "" {
			id, err := s.gateway.CreateCustomer(ctx, CustomerInput{Name: payer.DisplayName, Email: payer.Email})
			if err != nil {
				return err
			}
			customerID = id
		}
		var err error
		remote, err = s.gateway.CreateSubscription(ctx, SubscriptionInput{
			PlanID:     req.PlanID,
			CustomerID: customerID,
			TotalCount: req.TotalCount,
			Notes: map[string]string{
				"subscription_id": placeholder.ID,
				"beneficiary_id":  req.BeneficiaryID,
			},
		})
		return err
	})
	if err != nil {
		s.discardPlaceholder(ctx, placeholder.ID)
		return core.Subscription{}, err
	}

	var attached core.Subscription
	err = s.opts.localRetry.Do(ctx, func(ctx context.Context) error {
		return s.uow.RunInTx(ctx, func(ctx context.Context, stores core.StoreProvider) error {
			var err error
			attached, err = stores.SubscriptionStore().AttachGateway(ctx, placeholder.ID, remote.ID, customerID)
			return err
		})
	})
	if err != nil {
		if core.IsDuplicateSubscription(err) {
			s.cancelRemoteBestEffort(ctx, remote.ID)
		}
		s.discardPlaceholder(ctx, placeholder.ID)
		return core.Subscription{}, err
	}

	s.opts.logger.Info("subscription created",
		"subscription_id", attached.ID,
		"gateway_subscription_id", attached.GatewaySubscriptionID,
		"beneficiary_id", attached.BeneficiaryID,
	)
	return attached, nil
}

// CancelSubscription cancels on behalf of the payer. The gateway is told
// first; the local row goes once the gateway accepted.
func (s *Service) CancelSubscription(ctx context.Context, callerID string, subscriptionID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	var subscription core.Subscription
	err := s.opts.localRetry.Do(ctx, func(ctx context.Context) error {
		var err error
		subscription, err = s.uow.SubscriptionStore().Get(ctx, subscriptionID)
		return err
	})
	if err != nil {
		return err
	}
	if subscription.PayerID != strings.TrimSpace(callerID) {
		return core.Forbidden("billing: only the payer can cancel a subscription")
	}

	if subscription.GatewaySubscriptionID != "" {
		err := s.opts.externalRetry.Do(ctx, func(ctx context.Context) error {
			return s.gateway.CancelSubscription(ctx, subscription.GatewaySubscriptionID)
		})
		if err != nil {
			return err
		}
	}

	err = s.opts.localRetry.Do(ctx, func(ctx context.Context) error {
		return s.uow.RunInTx(ctx, func(ctx context.Context, stores core.StoreProvider) error {
			if err := stores.SubscriptionStore().Delete(ctx, subscription.ID); err != nil {
				return err
			}
			return stores.UserStore().SetPaid(ctx, subscription.BeneficiaryID, false)
		})
	})
	if err != nil {
		return err
	}
	if s.opts.syncer != nil {
		s.opts.syncer.SyncBestEffort(ctx, subscription.BeneficiaryID)
	}
	return nil
}

// CreateOrder opens a one-off gateway order and a pending billing row keyed
// by the order id.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (core.Billing, GatewayOrder, error) {
	if err := s.ready(); err != nil {
		return core.Billing{}, GatewayOrder{}, err
	}
	req.CompanyID = strings.TrimSpace(req.CompanyID)
	if req.CompanyID == "" {
		return core.Billing{}, GatewayOrder{}, core.BadInput("billing: company id is required", nil)
	}
	if !req.Amount.IsPositive() {
		return core.Billing{}, GatewayOrder{}, core.BadInput("billing: amount must be positive", nil)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.opts.currency
	}
	receipt := strings.TrimSpace(req.Receipt)
	if receipt == "" {
		return core.Billing{}, GatewayOrder{}, core.BadInput("billing: receipt is required", nil)
	}

	if _, err := s.uow.CompanyStore().Get(ctx, req.CompanyID); err != nil {
		return core.Billing{}, GatewayOrder{}, err
	}

	var order GatewayOrder
	err := s.opts.externalRetry.Do(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.gateway.CreateOrder(ctx, OrderInput{
			AmountMinor: core.MajorToMinor(req.Amount),
			Currency:    currency,
			Receipt:     receipt,
		})
		return err
	})
	if err != nil {
		return core.Billing{}, GatewayOrder{}, err
	}

	var billing core.Billing
	err = s.opts.localRetry.Do(ctx, func(ctx context.Context) error {
		return s.uow.RunInTx(ctx, func(ctx context.Context, stores core.StoreProvider) error {
			existing, err := stores.BillingStore().Get(ctx, order.ID)
			if err == nil {
				billing = existing
				return nil
			}
			if !core.IsNotFound(err) {
				return err
			}
			billing, err = stores.BillingStore().Create(ctx, core.CreateBillingInput{
				OrderID:       order.ID,
				CompanyID:     req.CompanyID,
				Description:   req.Description,
				Amount:        req.Amount,
				Currency:      currency,
				PaymentPlan:   req.PaymentPlan,
				PaymentMethod: req.PaymentMethod,
				BillingDate:   s.opts.now(),
			})
			return err
		})
	})
	if err != nil {
		return core.Billing{}, GatewayOrder{}, err
	}
	return billing, order, nil
}

// VerifyPayment checks the checkout signature and marks the billing paid.
func (s *Service) VerifyPayment(ctx context.Context, orderID string, paymentID string, signature string) (core.Billing, error) {
	if err := s.ready(); err != nil {
		return core.Billing{}, err
	}
	if err := webhooks.VerifyPaymentSignature(orderID, paymentID, signature, s.opts.keySecret); err != nil {
		return core.Billing{}, core.BadInput("billing: payment verification failed", map[string]any{"order_id": orderID})
	}
	var billing core.Billing
	err := s.opts.localRetry.Do(ctx, func(ctx context.Context) error {
		return s.uow.RunInTx(ctx, func(ctx context.Context, stores core.StoreProvider) error {
			var err error
			billing, err = stores.BillingStore().MarkPaid(ctx, strings.TrimSpace(orderID))
			return err
		})
	})
	return billing, err
}

// RecordReferral stores who referred referee. A referee keeps its first
// referrer.
func (s *Service) RecordReferral(ctx context.Context, referrerID string, refereeID string) (core.Referral, bool, error) {
	if err := s.ready(); err != nil {
		return core.Referral{}, false, err
	}
	referrerID = strings.TrimSpace(referrerID)
	refereeID = strings.TrimSpace(refereeID)
	if referrerID == "" || refereeID == "" {
		return core.Referral{}, false, core.BadInput("billing: referrer and referee are required", nil)
	}
	if referrerID == refereeID {
		return core.Referral{}, false, core.BadInput("billing: a user cannot refer themselves", nil)
	}

	var (
		referral core.Referral
		created  bool
	)
	err := s.opts.localRetry.Do(ctx, func(ctx context.Context) error {
		return s.uow.RunInTx(ctx, func(ctx context.Context, stores core.StoreProvider) error {
			for _, id := range []string{referrerID, refereeID} {
				if _, err := stores.UserStore().Get(ctx, id); err != nil {
					return err
				}
			}
			var err error
			referral, created, err = stores.ReferralStore().Ensure(ctx, referrerID, refereeID)
			return err
		})
	})
	return referral, created, err
}

func (s *Service) discardPlaceholder(ctx context.Context, id string) {
	err := s.opts.localRetry.Do(ctx, func(ctx context.Context) error {
		return s.uow.RunInTx(ctx, func(ctx context.Context, stores core.StoreProvider) error {
			return stores.SubscriptionStore().Delete(ctx, id)
		})
	})
	if err != nil {
		s.opts.logger.Error("subscription placeholder cleanup failed", "subscription_id", id, "error", err)
	}
}

func (s *Service) cancelRemoteBestEffort(ctx context.Context, gatewaySubscriptionID string) {
	if gatewaySubscriptionID == "" {
		return
	}
	startedAt := time.Now()
	err := s.opts.externalRetry.Do(ctx, func(ctx context.Context) error {
		return s.gateway.CancelSubscription(ctx, gatewaySubscriptionID)
	})
	if err != nil {
		s.opts.logger.Error("orphaned gateway subscription cancel failed",
			"gateway_subscription_id", gatewaySubscriptionID,
			"duration_ms", time.Since(startedAt).Milliseconds(),
			"error", err,
		)
	}
}

func (s *Service) ready() error {
	if s == nil || s.uow == nil || s.gateway == nil {
		return fmt.Errorf("billing: service requires a unit of work and a gateway")
	}
	return nil
}
