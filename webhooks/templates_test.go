package webhooks

import (
	"context"
	"encoding/base64"
	"strconv"
	"testing"
	"time"

	"github.com/goliatone/go-reconciler/core"
)

func TestHMACVerifier_AcceptsValidSignature(t *testing.T) {
	body := []byte(`{"event":"subscription.activated"}`)
	template := NewPaymentGatewayTemplate("gw_secret")

	req := core.InboundRequest{
		ProviderID: template.ProviderID,
		Body:       body,
		Headers: map[string]string{
			"x-razorpay-signature": SignHex("gw_secret", body),
			"X-Razorpay-Event-Id":  "evt_100",
		},
	}
	if err := template.Verifier.Verify(context.Background(), req); err != nil {
		t.Fatalf("verify: %v", err)
	}
	deliveryID, err := template.Extractor(req)
	if err != nil {
		t.Fatalf("extract delivery id: %v", err)
	}
	if deliveryID != "evt_100" {
		t.Fatalf("expected evt_100, got %q", deliveryID)
	}
}

func TestHMACVerifier_RejectsTamperedBody(t *testing.T) {
	body := []byte(`{"payload":{"amount":1000}}`)
	signature := SignHex("gw_secret", body)
	verifier := NewPaymentGatewayTemplate("gw_secret").Verifier

	tampered := []byte(`{"payload":{"amount":1}}`)
	err := verifier.Verify(context.Background(), core.InboundRequest{
		Body:    tampered,
		Headers: map[string]string{PaymentSignatureHeader: signature},
	})
	if !core.IsInvalidSignature(err) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestHMACVerifier_RejectsMissingSecretAndHeader(t *testing.T) {
	body := []byte(`{}`)
	cases := map[string]HMACVerifier{
		"missing secret": {Header: PaymentSignatureHeader},
		"missing header": {Header: PaymentSignatureHeader, Secret: "s"},
	}
	for name, verifier := range cases {
		err := verifier.Verify(context.Background(), core.InboundRequest{Body: body})
		if !core.IsInvalidSignature(err) {
			t.Fatalf("%s: expected invalid signature, got %v", name, err)
		}
	}

	err := HMACVerifier{Header: PaymentSignatureHeader, Secret: "s"}.Verify(context.Background(), core.InboundRequest{
		Body:    body,
		Headers: map[string]string{PaymentSignatureHeader: "not-hex"},
	})
	if !core.IsInvalidSignature(err) {
		t.Fatalf("undecodable header: expected invalid signature, got %v", err)
	}
}

func TestSvixVerifier(t *testing.T) {
	secret := "whsec_" + base64.StdEncoding.EncodeToString([]byte("identity-signing-key"))
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	body := []byte(`{"type":"user.created","data":{"id":"user_1"}}`)

	signature, err := SignSvix(secret, "msg_1", now, body)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	verifier := SvixVerifier{Secret: secret, Now: func() time.Time { return now }}
	headers := map[string]string{
		SvixIDHeader:        "msg_1",
		SvixTimestampHeader: strconv.FormatInt(now.Unix(), 10),
		SvixSignatureHeader: "v1,bm90LWl0 " + signature,
	}
	if err := verifier.Verify(context.Background(), core.InboundRequest{Body: body, Headers: headers}); err != nil {
		t.Fatalf("expected valid svix signature: %v", err)
	}

	if err := verifier.Verify(context.Background(), core.InboundRequest{Body: []byte(`{}`), Headers: headers}); !core.IsInvalidSignature(err) {
		t.Fatalf("expected tampered body to fail, got %v", err)
	}

	late := SvixVerifier{Secret: secret, Now: func() time.Time { return now.Add(10 * time.Minute) }}
	if err := late.Verify(context.Background(), core.InboundRequest{Body: body, Headers: headers}); !core.IsInvalidSignature(err) {
		t.Fatalf("expected stale timestamp to fail, got %v", err)
	}
}

func TestIdentityProviderTemplate_UnsignedWithoutSecret(t *testing.T) {
	template := NewIdentityProviderTemplate("")
	if err := template.Verifier.Verify(context.Background(), core.InboundRequest{Body: []byte(`{}`)}); err != nil {
		t.Fatalf("expected unsigned identity deliveries to pass without a secret: %v", err)
	}
	id, err := template.Extractor(core.InboundRequest{Body: []byte(`{"a":1}`)})
	if err != nil || id == "" {
		t.Fatalf("expected body digest delivery id, got %q err=%v", id, err)
	}
}

func TestVerifyPaymentSignature(t *testing.T) {
	signature := SignHex("key_secret", []byte("order_1|pay_1"))
	if err := VerifyPaymentSignature("order_1", "pay_1", signature, "key_secret"); err != nil {
		t.Fatalf("expected checkout signature to verify: %v", err)
	}
	if err := VerifyPaymentSignature("order_1", "pay_2", signature, "key_secret"); !core.IsInvalidSignature(err) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}
