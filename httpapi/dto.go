package httpapi

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-reconciler/core"
	"github.com/shopspring/decimal"
)

type CreateSubscriptionRequest struct {
	BeneficiaryID string `json:"beneficiary_id" validate:"required"`
	PlanID        string `json:"plan_id"`
	TotalCount    int    `json:"total_count" validate:"gte=0,lte=120"`
}

type CreateOrderRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" validate:"omitempty,len=3,alpha"`
	Receipt       string          `json:"receipt" validate:"required,max=40"`
	Description   string          `json:"description" validate:"max=255"`
	PaymentPlan   string          `json:"payment_plan" validate:"max=64"`
	PaymentMethod string          `json:"payment_method" validate:"max=64"`
}

type VerifyPaymentRequest struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required,hexadecimal"`
}

type ReferralRequest struct {
	RefereeID string `json:"referee_id" validate:"required"`
}

type SubscriptionResponse struct {
	ID                    string  `json:"id"`
	PayerID               string  `json:"payer_id"`
	BeneficiaryID         string  `json:"beneficiary_id"`
	PlanID                string  `json:"plan_id"`
	GatewaySubscriptionID string  `json:"gateway_subscription_id"`
	Status                string  `json:"status"`
	StartDate             *string `json:"start_date,omitempty"`
	EndDate               *string `json:"end_date,omitempty"`
	NextBillingDate       *string `json:"next_billing_date,omitempty"`
}

type BillingResponse struct {
	ID            string          `json:"billing_id"`
	CompanyID     string          `json:"company_id"`
	BillingDate   string          `json:"billing_date"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	PaymentPlan   string          `json:"payment_plan"`
	PaymentMethod string          `json:"payment_method"`
}

type ReferralResponse struct {
	ID         string `json:"id"`
	ReferrerID string `json:"referrer_id"`
	RefereeID  string `json:"referee_id"`
	Created    bool   `json:"created"`
}

// parseBody decodes and validates a JSON request body.
func parseBody(c *fiber.Ctx, validate *validator.Validate, out any) error {
	if err := c.BodyParser(out); err != nil {
		return core.BadInput("httpapi: malformed request body", map[string]any{"cause": err.Error()})
	}
	if err := validate.Struct(out); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			fields := make(map[string]any, len(invalid))
			for _, fieldErr := range invalid {
				fields[strings.ToLower(fieldErr.Field())] = fieldErr.Tag()
			}
			return core.BadInput("httpapi: invalid request", map[string]any{"fields": fields})
		}
		return core.BadInput("httpapi: invalid request", nil)
	}
	return nil
}

func subscriptionResponse(sub core.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:                    sub.ID,
		PayerID:               sub.PayerID,
		BeneficiaryID:         sub.BeneficiaryID,
		PlanID:                sub.PlanID,
		GatewaySubscriptionID: sub.GatewaySubscriptionID,
		Status:                string(sub.Status),
		StartDate:             formatTime(sub.StartDate),
		EndDate:               formatTime(sub.EndDate),
		NextBillingDate:       formatTime(sub.NextBillingDate),
	}
}

func billingResponse(b core.Billing) BillingResponse {
	return BillingResponse{
		ID:            b.ID,
		CompanyID:     b.CompanyID,
		BillingDate:   b.BillingDate.Format("2006-01-02"),
		Description:   b.Description,
		Amount:        b.Amount,
		Currency:      b.Currency,
		Status:        string(b.Status),
		PaymentPlan:   b.PaymentPlan,
		PaymentMethod: b.PaymentMethod,
	}
}
