package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-reconciler/billing"
	"github.com/goliatone/go-reconciler/core"
)

// BillingService is the mutating surface of billing.Service.
type BillingService interface {
	CreateSubscription(ctx context.Context, req billing.CreateSubscriptionRequest) (core.Subscription, error)
	CancelSubscription(ctx context.Context, callerID string, subscriptionID string) error
	CreateOrder(ctx context.Context, req billing.CreateOrderRequest) (core.Billing, billing.GatewayOrder, error)
	VerifyPayment(ctx context.Context, orderID string, paymentID string, signature string) (core.Billing, error)
	RecordReferral(ctx context.Context, referrerID string, refereeID string) (core.Referral, bool, error)
}

// OrderResult is stored by CreateOrderCommand.
type OrderResult struct {
	Billing core.Billing
	Order   billing.GatewayOrder
}

// ReferralResult is stored by RecordReferralCommand.
type ReferralResult struct {
	Referral core.Referral
	Created  bool
}

type CreateSubscriptionCommand struct {
	service BillingService
}

func NewCreateSubscriptionCommand(service BillingService) *CreateSubscriptionCommand {
	return &CreateSubscriptionCommand{service: service}
}

func (c *CreateSubscriptionCommand) Execute(ctx context.Context, msg CreateSubscriptionMessage) error {
	if c == nil || c.service == nil {
		return missingDependency("subscription service")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.CreateSubscription(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CancelSubscriptionCommand struct {
	service BillingService
}

func NewCancelSubscriptionCommand(service BillingService) *CancelSubscriptionCommand {
	return &CancelSubscriptionCommand{service: service}
}

func (c *CancelSubscriptionCommand) Execute(ctx context.Context, msg CancelSubscriptionMessage) error {
	if c == nil || c.service == nil {
		return missingDependency("subscription service")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.CancelSubscription(ctx, msg.CallerID, msg.SubscriptionID)
}

type CreateOrderCommand struct {
	service BillingService
}

func NewCreateOrderCommand(service BillingService) *CreateOrderCommand {
	return &CreateOrderCommand{service: service}
}

func (c *CreateOrderCommand) Execute(ctx context.Context, msg CreateOrderMessage) error {
	if c == nil || c.service == nil {
		return missingDependency("order service")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	record, order, err := c.service.CreateOrder(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, OrderResult{Billing: record, Order: order})
	return nil
}

type VerifyPaymentCommand struct {
	service BillingService
}

func NewVerifyPaymentCommand(service BillingService) *VerifyPaymentCommand {
	return &VerifyPaymentCommand{service: service}
}

func (c *VerifyPaymentCommand) Execute(ctx context.Context, msg VerifyPaymentMessage) error {
	if c == nil || c.service == nil {
		return missingDependency("order service")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.VerifyPayment(ctx, msg.OrderID, msg.PaymentID, msg.Signature)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RecordReferralCommand struct {
	service BillingService
}

func NewRecordReferralCommand(service BillingService) *RecordReferralCommand {
	return &RecordReferralCommand{service: service}
}

func (c *RecordReferralCommand) Execute(ctx context.Context, msg RecordReferralMessage) error {
	if c == nil || c.service == nil {
		return missingDependency("referral service")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	referral, created, err := c.service.RecordReferral(ctx, msg.ReferrerID, msg.RefereeID)
	if err != nil {
		return err
	}
	storeResult(ctx, ReferralResult{Referral: referral, Created: created})
	return nil
}

// SyncMetadataCommand pushes the role label to the identity provider and
// stores whether a write happened.
type SyncMetadataCommand struct {
	syncer core.MetadataSyncer
}

func NewSyncMetadataCommand(syncer core.MetadataSyncer) *SyncMetadataCommand {
	return &SyncMetadataCommand{syncer: syncer}
}

func (c *SyncMetadataCommand) Execute(ctx context.Context, msg SyncMetadataMessage) error {
	if c == nil || c.syncer == nil {
		return missingDependency("metadata syncer")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	written, err := c.syncer.Sync(ctx, msg.UserID)
	if err != nil {
		return err
	}
	storeResult(ctx, written)
	return nil
}

// Run executes cmd and returns the value it stored, if any.
func Run[T any, R any](ctx context.Context, cmd gocmd.Commander[T], msg T) (R, error) {
	var zero R
	if cmd == nil {
		return zero, missingDependency("commander")
	}
	collector := gocmd.NewResult[R]()
	if err := cmd.Execute(gocmd.ContextWithResult(ctx, collector), msg); err != nil {
		return zero, err
	}
	out, _ := collector.Load()
	return out, nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
