package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-reconciler/core"
)

const (
	PaymentSignatureHeader = "X-Razorpay-Signature"
	PaymentEventIDHeader   = "X-Razorpay-Event-Id"

	SvixIDHeader        = "svix-id"
	SvixTimestampHeader = "svix-timestamp"
	SvixSignatureHeader = "svix-signature"

	defaultSvixTolerance = 5 * time.Minute
)

// ProviderWebhookTemplate bundles how one provider signs and identifies its
// deliveries.
type ProviderWebhookTemplate struct {
	ProviderID string
	Verifier   Verifier
	Extractor  DeliveryIDExtractor
}

// HMACVerifier checks a header carrying HMAC-SHA256(secret, body).
type HMACVerifier struct {
	Header   string
	Prefix   string
	Secret   string
	Encoding string // hex | base64
}

func (v HMACVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return core.InvalidSignature(fmt.Errorf("webhooks: signature secret is required"))
	}
	header := strings.TrimSpace(headerValue(req.Headers, v.Header))
	if header == "" {
		return core.InvalidSignature(fmt.Errorf("webhooks: %s signature header is required", strings.TrimSpace(v.Header)))
	}
	signature := strings.TrimSpace(strings.TrimPrefix(header, strings.TrimSpace(v.Prefix)))
	if signature == "" {
		return core.InvalidSignature(fmt.Errorf("webhooks: signature value is required"))
	}

	var (
		decoded []byte
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "base64":
		decoded, err = base64.StdEncoding.DecodeString(signature)
	default:
		decoded, err = hex.DecodeString(signature)
	}
	if err != nil {
		return core.InvalidSignature(fmt.Errorf("webhooks: decode signature: %w", err))
	}
	if subtle.ConstantTimeCompare(decoded, computeHMAC([]byte(secret), req.Body)) != 1 {
		return core.InvalidSignature(nil)
	}
	return nil
}

// SvixVerifier implements the scheme the identity provider signs with: the
// signed content is "<id>.<timestamp>.<body>", the secret is "whsec_" followed
// by the base64 key and the signature header is a space separated list of
// "v1,<base64>" entries.
type SvixVerifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

type acceptedDeliveryKey struct{}

// WithAcceptedDelivery marks ctx as re-verifying a delivery that already
// passed verification at accept time. Verifiers then check only the
// signature, not the freshness window, so a queue backlog cannot expire it.
func WithAcceptedDelivery(ctx context.Context) context.Context {
	return context.WithValue(ctx, acceptedDeliveryKey{}, true)
}

func isAcceptedDelivery(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	accepted, _ := ctx.Value(acceptedDeliveryKey{}).(bool)
	return accepted
}

func (v SvixVerifier) Verify(ctx context.Context, req core.InboundRequest) error {
	key, err := decodeSvixSecret(v.Secret)
	if err != nil {
		return core.InvalidSignature(err)
	}
	id := headerValue(req.Headers, SvixIDHeader)
	timestamp := headerValue(req.Headers, SvixTimestampHeader)
	signatures := headerValue(req.Headers, SvixSignatureHeader)
	if id == "" || timestamp == "" || signatures == "" {
		return core.InvalidSignature(fmt.Errorf("webhooks: svix headers are required"))
	}

	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return core.InvalidSignature(fmt.Errorf("webhooks: invalid svix timestamp: %w", err))
	}
	if !isAcceptedDelivery(ctx) {
		if err := v.checkFreshness(seconds); err != nil {
			return err
		}
	}

	content := make([]byte, 0, len(id)+len(timestamp)+len(req.Body)+2)
	content = append(content, id...)
	content = append(content, '.')
	content = append(content, timestamp...)
	content = append(content, '.')
	content = append(content, req.Body...)
	expected := computeHMAC(key, content)

	for _, entry := range strings.Fields(signatures) {
		version, value, ok := strings.Cut(entry, ",")
		if !ok || version != "v1" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare(decoded, expected) == 1 {
			return nil
		}
	}
	return core.InvalidSignature(nil)
}

func (v SvixVerifier) checkFreshness(seconds int64) error {
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = defaultSvixTolerance
	}
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	sentAt := time.Unix(seconds, 0)
	if sentAt.Before(now.Add(-tolerance)) || sentAt.After(now.Add(tolerance)) {
		return core.InvalidSignature(fmt.Errorf("webhooks: svix timestamp outside tolerance"))
	}
	return nil
}

// SignSvix produces a svix-signature header value for body. Used by tests and
// local tooling that replays identity events.
func SignSvix(secret string, id string, timestamp time.Time, body []byte) (string, error) {
	key, err := decodeSvixSecret(secret)
	if err != nil {
		return "", err
	}
	content := fmt.Sprintf("%s.%d.%s", id, timestamp.Unix(), body)
	return "v1," + base64.StdEncoding.EncodeToString(computeHMAC(key, []byte(content))), nil
}

func decodeSvixSecret(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("webhooks: signature secret is required")
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return nil, fmt.Errorf("webhooks: decode svix secret: %w", err)
	}
	return key, nil
}

// UnsignedVerifier accepts every delivery. Identity webhooks run unsigned when
// no secret is configured.
type UnsignedVerifier struct{}

func (UnsignedVerifier) Verify(context.Context, core.InboundRequest) error {
	return nil
}

func NewPaymentGatewayTemplate(secret string) ProviderWebhookTemplate {
	return ProviderWebhookTemplate{
		ProviderID: core.ProviderGateway,
		Verifier: HMACVerifier{
			Header:   PaymentSignatureHeader,
			Secret:   strings.TrimSpace(secret),
			Encoding: "hex",
		},
		Extractor: ChainDeliveryIDExtractors(
			HeaderDeliveryIDExtractor(PaymentEventIDHeader),
			BodyDigestDeliveryIDExtractor,
		),
	}
}

func NewIdentityProviderTemplate(secret string) ProviderWebhookTemplate {
	var verifier Verifier = UnsignedVerifier{}
	if strings.TrimSpace(secret) != "" {
		verifier = SvixVerifier{Secret: strings.TrimSpace(secret)}
	}
	return ProviderWebhookTemplate{
		ProviderID: core.ProviderIdentity,
		Verifier:   verifier,
		Extractor: ChainDeliveryIDExtractors(
			HeaderDeliveryIDExtractor(SvixIDHeader),
			BodyDigestDeliveryIDExtractor,
		),
	}
}

// VerifyPaymentSignature checks the checkout signature the gateway returns to
// the client: hex HMAC-SHA256 over "<orderID>|<paymentID>".
func VerifyPaymentSignature(orderID string, paymentID string, signature string, secret string) error {
	orderID = strings.TrimSpace(orderID)
	paymentID = strings.TrimSpace(paymentID)
	if orderID == "" || paymentID == "" {
		return core.InvalidSignature(fmt.Errorf("webhooks: order id and payment id are required"))
	}
	return HMACVerifier{Header: PaymentSignatureHeader, Secret: secret, Encoding: "hex"}.Verify(
		context.Background(),
		core.InboundRequest{
			Headers: map[string]string{PaymentSignatureHeader: signature},
			Body:    []byte(orderID + "|" + paymentID),
		},
	)
}

// SignHex returns the hex HMAC-SHA256 of body.
func SignHex(secret string, body []byte) string {
	return hex.EncodeToString(computeHMAC([]byte(strings.TrimSpace(secret)), body))
}

func HeaderDeliveryIDExtractor(headers ...string) DeliveryIDExtractor {
	keys := append([]string(nil), headers...)
	return func(req core.InboundRequest) (string, error) {
		for _, key := range keys {
			if value := strings.TrimSpace(headerValue(req.Headers, key)); value != "" {
				return value, nil
			}
		}
		return "", fmt.Errorf("webhooks: delivery id is required for dedupe")
	}
}

// BodyDigestDeliveryIDExtractor keys a delivery by the digest of its raw
// bytes. Redeliveries carry identical bytes.
func BodyDigestDeliveryIDExtractor(req core.InboundRequest) (string, error) {
	if len(req.Body) == 0 {
		return "", fmt.Errorf("webhooks: delivery id is required for dedupe")
	}
	sum := sha256.Sum256(req.Body)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

func ChainDeliveryIDExtractors(extractors ...DeliveryIDExtractor) DeliveryIDExtractor {
	list := append([]DeliveryIDExtractor(nil), extractors...)
	return func(req core.InboundRequest) (string, error) {
		var lastErr error
		for _, extractor := range list {
			if extractor == nil {
				continue
			}
			deliveryID, err := extractor(req)
			if err == nil && strings.TrimSpace(deliveryID) != "" {
				return strings.TrimSpace(deliveryID), nil
			}
			if err != nil {
				lastErr = err
			}
		}
		if lastErr != nil {
			return "", lastErr
		}
		return "", fmt.Errorf("webhooks: delivery id is required for dedupe")
	}
}

func computeHMAC(key []byte, content []byte) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(content)
	return mac.Sum(nil)
}
