package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-reconciler/billing"
	"github.com/goliatone/go-reconciler/command"
	"github.com/goliatone/go-reconciler/core"
)

func (s *Server) identityWebhook(c *fiber.Ctx) error {
	req := inboundRequest(c, core.ProviderIdentity)
	var err error
	if s.syncIdentity {
		_, err = s.webhooks.Process(c.UserContext(), req)
	} else {
		_, err = s.webhooks.Accept(c.UserContext(), req)
	}
	if err != nil {
		return s.webhookError(c, req.ProviderID, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "ok"})
}

func (s *Server) paymentWebhook(c *fiber.Ctx) error {
	req := inboundRequest(c, core.ProviderGateway)
	if _, err := s.webhooks.Accept(c.UserContext(), req); err != nil {
		return s.webhookError(c, req.ProviderID, err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

// webhookError answers 401 for a bad signature, 400 for a bad envelope and
// 500 for anything that failed while processing.
func (s *Server) webhookError(c *fiber.Ctx, providerID string, err error) error {
	mapped := core.MapError(err)
	status := http.StatusInternalServerError
	switch {
	case core.IsInvalidSignature(err):
		status = http.StatusUnauthorized
	case mapped.Code == http.StatusBadRequest:
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("webhook processing failed", "provider_id", providerID, "error", err)
	} else {
		s.logger.Warn("webhook rejected", "provider_id", providerID, "status", status, "error", err)
	}
	return c.Status(status).JSON(ErrorResponse{Code: mapped.TextCode, Message: mapped.Message})
}

func (s *Server) createSubscription(c *fiber.Ctx) error {
	user, _ := CurrentUser(c)
	var body CreateSubscriptionRequest
	if err := parseBody(c, s.validate, &body); err != nil {
		return err
	}
	planID := strings.TrimSpace(body.PlanID)
	if planID == "" {
		planID = s.defaultPlanID
	}
	out, err := command.Run[command.CreateSubscriptionMessage, core.Subscription](
		c.UserContext(),
		s.commands.CreateSubscription,
		command.CreateSubscriptionMessage{Request: billing.CreateSubscriptionRequest{
			PayerID:       user.ID,
			BeneficiaryID: strings.TrimSpace(body.BeneficiaryID),
			PlanID:        planID,
			TotalCount:    body.TotalCount,
		}},
	)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(subscriptionResponse(out))
}

func (s *Server) cancelSubscription(c *fiber.Ctx) error {
	user, _ := CurrentUser(c)
	err := s.commands.CancelSubscription.Execute(c.UserContext(), command.CancelSubscriptionMessage{
		CallerID:       user.ID,
		SubscriptionID: strings.TrimSpace(c.Params("id")),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "cancelled"})
}

func (s *Server) createOrder(c *fiber.Ctx) error {
	user, _ := CurrentUser(c)
	var body CreateOrderRequest
	if err := parseBody(c, s.validate, &body); err != nil {
		return err
	}
	out, err := command.Run[command.CreateOrderMessage, command.OrderResult](
		c.UserContext(),
		s.commands.CreateOrder,
		command.CreateOrderMessage{Request: billing.CreateOrderRequest{
			CompanyID:     user.CompanyID,
			Amount:        body.Amount,
			Currency:      strings.ToUpper(strings.TrimSpace(body.Currency)),
			Receipt:       body.Receipt,
			Description:   body.Description,
			PaymentPlan:   body.PaymentPlan,
			PaymentMethod: body.PaymentMethod,
		}},
	)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"order":      out.Order,
		"billing_id": out.Billing.ID,
		"billing":    billingResponse(out.Billing),
	})
}

func (s *Server) verifyPayment(c *fiber.Ctx) error {
	var body VerifyPaymentRequest
	if err := parseBody(c, s.validate, &body); err != nil {
		return err
	}
	out, err := command.Run[command.VerifyPaymentMessage, core.Billing](
		c.UserContext(),
		s.commands.VerifyPayment,
		command.VerifyPaymentMessage{
			OrderID:   body.OrderID,
			PaymentID: body.PaymentID,
			Signature: body.Signature,
		},
	)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"status":  "Payment verified successfully",
		"billing": billingResponse(out),
	})
}

func (s *Server) recordReferral(c *fiber.Ctx) error {
	user, _ := CurrentUser(c)
	var body ReferralRequest
	if err := parseBody(c, s.validate, &body); err != nil {
		return err
	}
	out, err := command.Run[command.RecordReferralMessage, command.ReferralResult](
		c.UserContext(),
		s.commands.RecordReferral,
		command.RecordReferralMessage{ReferrerID: user.ID, RefereeID: strings.TrimSpace(body.RefereeID)},
	)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(ReferralResponse{
		ID:         out.Referral.ID,
		ReferrerID: out.Referral.ReferrerID,
		RefereeID:  out.Referral.RefereeID,
		Created:    out.Created,
	})
}

// inboundRequest copies headers and the raw body; fiber reuses both buffers
// after the handler returns.
func inboundRequest(c *fiber.Ctx, providerID string) core.InboundRequest {
	headers := map[string]string{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = string(value)
	})
	return core.InboundRequest{
		ProviderID: providerID,
		Headers:    headers,
		Body:       append([]byte(nil), c.Body()...),
	}
}

func formatTime(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	value := t.UTC().Format(time.RFC3339)
	return &value
}
