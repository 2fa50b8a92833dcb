package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-reconciler/core"
)

const (
	defaultClaimLease  = 30 * time.Second
	defaultMaxAttempts = 5
)

type Verifier interface {
	Verify(ctx context.Context, req core.InboundRequest) error
}

type DeliveryIDExtractor func(req core.InboundRequest) (string, error)

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

type Handler interface {
	Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)
}

type HandlerFunc func(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)

func (f HandlerFunc) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	return f(ctx, req)
}

// Processor runs one provider's deliveries: verify the signature, claim the
// delivery in the ledger, then hand it to the domain handler. A delivery
// that already completed is acknowledged without running the handler again.
type Processor struct {
	Verifier    Verifier
	Ledger      DeliveryLedger
	Handler     Handler
	ExtractID   DeliveryIDExtractor
	RetryPolicy RetryPolicy
	ClaimLease  time.Duration
	MaxAttempts int
	Now         func() time.Time
}

func NewProcessor(verifier Verifier, ledger DeliveryLedger, handler Handler) *Processor {
	return &Processor{
		Verifier:    verifier,
		Ledger:      ledger,
		Handler:     handler,
		ExtractID:   DefaultDeliveryIDExtractor,
		RetryPolicy: core.ExponentialBackoffScheduler{},
		ClaimLease:  defaultClaimLease,
		MaxAttempts: defaultMaxAttempts,
	}
}

// NewTemplateProcessor builds a processor from a provider template.
func NewTemplateProcessor(template ProviderWebhookTemplate, ledger DeliveryLedger, handler Handler) *Processor {
	p := NewProcessor(template.Verifier, ledger, handler)
	if template.Extractor != nil {
		p.ExtractID = template.Extractor
	}
	return p
}

func (p *Processor) Process(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if p == nil || p.Handler == nil || p.Ledger == nil {
		return core.InboundResult{}, fmt.Errorf("webhooks: processor requires handler and ledger")
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	if req.ProviderID == "" {
		return core.InboundResult{}, fmt.Errorf("webhooks: provider id is required")
	}

	if err := p.verify(ctx, req); err != nil {
		return core.InboundResult{
			StatusCode: http.StatusUnauthorized,
			Metadata:   map[string]any{"provider_id": req.ProviderID, "rejected": true},
		}, err
	}

	deliveryID, err := p.extractor()(req)
	if err != nil {
		return core.InboundResult{StatusCode: http.StatusBadRequest}, err
	}

	record, claimed, err := p.Ledger.Claim(ctx, req.ProviderID, deliveryID, EventTypeOf(req), req.Body, p.lease())
	if err != nil {
		return core.InboundResult{}, err
	}
	if !claimed {
		return core.InboundResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Metadata:   deliveryMetadata(req.ProviderID, record, map[string]any{"deduped": true}),
		}, nil
	}

	result, err := p.Handler.Handle(ctx, req)
	if err == nil {
		err = retryableResult(result)
	}
	if err != nil {
		return p.fail(ctx, req.ProviderID, record, err)
	}

	if err := p.Ledger.Complete(ctx, record.ClaimID); err != nil {
		return core.InboundResult{}, err
	}
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["provider_id"] = req.ProviderID
	result.Metadata["delivery_id"] = deliveryID
	return result, nil
}

func (p *Processor) verify(ctx context.Context, req core.InboundRequest) error {
	if p.Verifier == nil {
		return nil
	}
	err := p.Verifier.Verify(ctx, req)
	if err == nil || core.IsInvalidSignature(err) {
		return err
	}
	return core.InvalidSignature(err)
}

// fail records the attempt and schedules the next one. The ledger marks the
// row dead once MaxAttempts is spent.
func (p *Processor) fail(ctx context.Context, providerID string, record DeliveryRecord, cause error) (core.InboundResult, error) {
	next := p.clock().Add(p.retryPolicy().NextDelay(record.Attempts))
	failed, err := p.Ledger.Fail(ctx, record.ClaimID, cause, next, p.attempts())
	if err != nil {
		failed = record
	}
	return core.InboundResult{
		StatusCode: core.MapError(cause).Code,
		Metadata: deliveryMetadata(providerID, failed, map[string]any{
			"attempts": failed.Attempts,
			"dead":     failed.Dead(),
		}),
	}, cause
}

// retryableResult turns a handler result that did not take the delivery into
// an error so the ledger schedules a retry.
func retryableResult(result core.InboundResult) error {
	if result.Accepted && result.StatusCode < http.StatusInternalServerError {
		return nil
	}
	return fmt.Errorf("webhooks: delivery handler returned retryable status %d", result.StatusCode)
}

func deliveryMetadata(providerID string, record DeliveryRecord, extra map[string]any) map[string]any {
	out := map[string]any{
		"provider_id": providerID,
		"delivery_id": record.DeliveryID,
		"status":      record.Status,
	}
	for key, value := range extra {
		out[key] = value
	}
	return out
}

// DefaultDeliveryIDExtractor prefers the delivery_id metadata set by the
// dispatcher, then an X-Delivery-Id header, then the body digest.
func DefaultDeliveryIDExtractor(req core.InboundRequest) (string, error) {
	if value, ok := req.Metadata["delivery_id"].(string); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value), nil
	}
	if value := headerValue(req.Headers, "x-delivery-id"); value != "" {
		return value, nil
	}
	return BodyDigestDeliveryIDExtractor(req)
}

// EventTypeOf returns the event type the dispatcher recorded for req.
func EventTypeOf(req core.InboundRequest) string {
	value, _ := req.Metadata["event_type"].(string)
	return strings.TrimSpace(value)
}

func (p *Processor) extractor() DeliveryIDExtractor {
	if p.ExtractID != nil {
		return p.ExtractID
	}
	return DefaultDeliveryIDExtractor
}

func (p *Processor) clock() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) retryPolicy() RetryPolicy {
	if p.RetryPolicy != nil {
		return p.RetryPolicy
	}
	return core.ExponentialBackoffScheduler{}
}

func (p *Processor) lease() time.Duration {
	if p.ClaimLease > 0 {
		return p.ClaimLease
	}
	return defaultClaimLease
}

func (p *Processor) attempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return defaultMaxAttempts
}

// headerValue looks key up case-insensitively.
func headerValue(headers map[string]string, key string) string {
	key = strings.TrimSpace(key)
	for name, value := range headers {
		if strings.EqualFold(strings.TrimSpace(name), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
