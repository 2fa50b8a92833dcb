package inbound_test

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/inbound"
	"github.com/goliatone/go-reconciler/webhooks"
)

const identitySecret = "whsec_c2VjcmV0LWtleS1mb3ItdGVzdHM="

func TestWorker_QueuedIdentityDeliverySurvivesBacklog(t *testing.T) {
	ctx := context.Background()
	sentAt := time.Unix(1_700_000_000, 0)
	clock := sentAt

	queue := core.NewMemoryJobQueue(4)
	handler := &countingHandler{}
	template := webhooks.NewIdentityProviderTemplate(identitySecret)
	template.Verifier = webhooks.SvixVerifier{Secret: identitySecret, Now: func() time.Time { return clock }}
	processor := webhooks.NewTemplateProcessor(template, webhooks.NewMemoryDeliveryLedger(), handler)

	router, err := inbound.NewRouter(inbound.Route{
		ProviderID: core.ProviderIdentity,
		Processor:  processor,
		EventType:  func([]byte) (string, error) { return "user.created", nil },
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	body := []byte(`{"type":"user.created","data":{"id":"user_1"}}`)
	signature, err := webhooks.SignSvix(identitySecret, "msg_backlog", sentAt, body)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := core.InboundRequest{
		ProviderID: core.ProviderIdentity,
		Headers: map[string]string{
			webhooks.SvixIDHeader:        "msg_backlog",
			webhooks.SvixTimestampHeader: strconv.FormatInt(sentAt.Unix(), 10),
			webhooks.SvixSignatureHeader: signature,
		},
		Body: body,
	}

	result, err := inbound.NewDispatcher(router, queue, nil).Accept(ctx, req)
	if err != nil || result.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %#v (%v)", result, err)
	}

	clock = sentAt.Add(6 * time.Minute)
	delivery, err := queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := inbound.NewWorker(router, queue, nil).Process(ctx, delivery); err != nil {
		t.Fatalf("process: %v", err)
	}
	if handler.Calls() != 1 {
		t.Fatalf("expected the late delivery to run once, got %d", handler.Calls())
	}
	if len(queue.DeadLetters()) != 0 {
		t.Fatalf("late delivery must not be dead-lettered")
	}
}

func TestWorker_QueuedDeliveryStillChecksSignature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	body := `{"event":"subscription.charged"}`
	if _, err := f.dispatcher.Accept(ctx, signedRequest(body, "evt_swap")); err != nil {
		t.Fatalf("accept: %v", err)
	}
	delivery, err := f.queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	msg := delivery.Message()
	msg.Parameters["body"] = "eyJldmVudCI6InN1YnNjcmlwdGlvbi5jYW5jZWxsZWQifQ=="
	if err := f.worker.Process(ctx, delivery); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.handler.Calls() != 0 || len(f.queue.DeadLetters()) != 1 {
		t.Fatalf("expected tampered job to be rejected, calls=%d dead=%d", f.handler.Calls(), len(f.queue.DeadLetters()))
	}
}

func TestWorker_ConflictDeadLettersWithoutRetry(t *testing.T) {
	f := newFixture(t)
	f.handler.failures = 10
	f.handler.err = core.Conflict("email belongs to another user", map[string]any{"email": "a@b.test"})

	if _, err := f.dispatcher.Accept(context.Background(), signedRequest(`{"event":"subscription.charged"}`, "evt_conflict")); err != nil {
		t.Fatalf("accept: %v", err)
	}
	f.drain(t)

	if f.handler.Calls() != 1 {
		t.Fatalf("expected a conflict to run once, got %d calls", f.handler.Calls())
	}
	if len(f.queue.DeadLetters()) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(f.queue.DeadLetters()))
	}
}
