package command

import (
	"github.com/goliatone/go-reconciler/billing"
	"github.com/shopspring/decimal"
)

const (
	TypeCreateSubscription = "reconciler.command.subscription.create"
	TypeCancelSubscription = "reconciler.command.subscription.cancel"
	TypeCreateOrder        = "reconciler.command.order.create"
	TypeVerifyPayment      = "reconciler.command.order.verify"
	TypeRecordReferral     = "reconciler.command.referral.record"
	TypeSyncMetadata       = "reconciler.command.metadata.sync"
)

type CreateSubscriptionMessage struct {
	Request billing.CreateSubscriptionRequest
}

func (CreateSubscriptionMessage) Type() string { return TypeCreateSubscription }

func (m CreateSubscriptionMessage) Validate() error {
	return validateFields(
		required("payer_id", m.Request.PayerID),
		required("beneficiary_id", m.Request.BeneficiaryID),
		required("plan_id", m.Request.PlanID),
		ensure(m.Request.TotalCount >= 0, "total_count", "total count must not be negative"),
	)
}

type CancelSubscriptionMessage struct {
	CallerID       string
	SubscriptionID string
}

func (CancelSubscriptionMessage) Type() string { return TypeCancelSubscription }

func (m CancelSubscriptionMessage) Validate() error {
	return validateFields(
		required("caller_id", m.CallerID),
		required("subscription_id", m.SubscriptionID),
	)
}

type CreateOrderMessage struct {
	Request billing.CreateOrderRequest
}

func (CreateOrderMessage) Type() string { return TypeCreateOrder }

func (m CreateOrderMessage) Validate() error {
	return validateFields(
		required("company_id", m.Request.CompanyID),
		ensure(m.Request.Amount.GreaterThan(decimal.Zero), "amount", "amount must be positive"),
		required("receipt", m.Request.Receipt),
	)
}

type VerifyPaymentMessage struct {
	OrderID   string
	PaymentID string
	Signature string
}

func (VerifyPaymentMessage) Type() string { return TypeVerifyPayment }

func (m VerifyPaymentMessage) Validate() error {
	return validateFields(
		required("order_id", m.OrderID),
		required("payment_id", m.PaymentID),
		required("signature", m.Signature),
	)
}

type RecordReferralMessage struct {
	ReferrerID string
	RefereeID  string
}

func (RecordReferralMessage) Type() string { return TypeRecordReferral }

func (m RecordReferralMessage) Validate() error {
	return validateFields(
		required("referrer_id", m.ReferrerID),
		required("referee_id", m.RefereeID),
	)
}

type SyncMetadataMessage struct {
	UserID string
}

func (SyncMetadataMessage) Type() string { return TypeSyncMetadata }

func (m SyncMetadataMessage) Validate() error {
	return validateFields(required("user_id", m.UserID))
}
