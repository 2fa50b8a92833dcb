package inbound_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/inbound"
	"github.com/goliatone/go-reconciler/webhooks"
)

const testSecret = "gateway-secret"

type countingHandler struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
	seen     []core.InboundRequest
}

func (h *countingHandler) Handle(_ context.Context, req core.InboundRequest) (core.InboundResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.seen = append(h.seen, req)
	if h.failures > 0 {
		h.failures--
		return core.InboundResult{}, h.err
	}
	return core.InboundResult{Accepted: true, StatusCode: http.StatusOK}, nil
}

func (h *countingHandler) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type fixture struct {
	queue      *core.MemoryJobQueue
	ledger     *webhooks.MemoryDeliveryLedger
	handler    *countingHandler
	processor  *webhooks.Processor
	dispatcher *inbound.Dispatcher
	worker     *inbound.Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	queue := core.NewMemoryJobQueue(16)
	ledger := webhooks.NewMemoryDeliveryLedger()
	handler := &countingHandler{}
	template := webhooks.NewPaymentGatewayTemplate(testSecret)
	processor := webhooks.NewTemplateProcessor(template, ledger, handler)
	processor.RetryPolicy = core.FixedBackoffScheduler{}
	processor.MaxAttempts = 3

	router, err := inbound.NewRouter(inbound.Route{
		ProviderID: core.ProviderGateway,
		Processor:  processor,
		EventType:  eventType,
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	worker := inbound.NewWorker(router, queue, nil)
	worker.Backoff = core.FixedBackoffScheduler{}
	return &fixture{
		queue:      queue,
		ledger:     ledger,
		handler:    handler,
		processor:  processor,
		dispatcher: inbound.NewDispatcher(router, queue, nil),
		worker:     worker,
	}
}

func eventType(body []byte) (string, error) {
	var payload struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", core.BadInput("malformed payload", nil)
	}
	return payload.Event, nil
}

func signedRequest(body string, eventID string) core.InboundRequest {
	headers := map[string]string{
		webhooks.PaymentSignatureHeader: webhooks.SignHex(testSecret, []byte(body)),
	}
	if eventID != "" {
		headers[webhooks.PaymentEventIDHeader] = eventID
	}
	return core.InboundRequest{
		ProviderID: core.ProviderGateway,
		Headers:    headers,
		Body:       []byte(body),
	}
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for f.queue.Len() > 0 {
		delivery, err := f.queue.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if err := f.worker.Process(ctx, delivery); err != nil {
			t.Fatalf("process delivery: %v", err)
		}
	}
}

func TestDispatcher_AcceptsAndWorkerProcesses(t *testing.T) {
	f := newFixture(t)
	body := `{"event":"subscription.charged","payload":{}}`

	result, err := f.dispatcher.Accept(context.Background(), signedRequest(body, "evt_1"))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !result.Accepted || result.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 accepted, got %#v", result)
	}
	if result.Metadata["event_type"] != "subscription.charged" || result.Metadata["delivery_id"] != "evt_1" {
		t.Fatalf("unexpected metadata: %#v", result.Metadata)
	}
	if f.handler.Calls() != 0 {
		t.Fatalf("handler must not run before the worker")
	}

	f.drain(t)
	if f.handler.Calls() != 1 {
		t.Fatalf("expected one handler call, got %d", f.handler.Calls())
	}
	if string(f.handler.seen[0].Body) != body {
		t.Fatalf("worker must see the raw body, got %q", f.handler.seen[0].Body)
	}
	record, err := f.ledger.Get(context.Background(), core.ProviderGateway, "evt_1")
	if err != nil {
		t.Fatalf("load delivery: %v", err)
	}
	if record.Status != webhooks.DeliveryStatusProcessed || record.EventType != "subscription.charged" {
		t.Fatalf("unexpected record: %#v", record)
	}
}

func TestDispatcher_RejectsTamperedBody(t *testing.T) {
	f := newFixture(t)
	req := signedRequest(`{"event":"subscription.charged"}`, "evt_1")
	req.Body = []byte(`{"event":"subscription.cancelled"}`)

	result, err := f.dispatcher.Accept(context.Background(), req)
	if !core.IsInvalidSignature(err) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
	if result.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", result.StatusCode)
	}
	if f.queue.Len() != 0 {
		t.Fatalf("rejected delivery must not be enqueued")
	}
}

func TestDispatcher_MalformedBodyIsBadInput(t *testing.T) {
	f := newFixture(t)
	result, err := f.dispatcher.Accept(context.Background(), signedRequest(`{not json`, "evt_1"))
	if err == nil || result.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%v)", result.StatusCode, err)
	}
	if f.queue.Len() != 0 {
		t.Fatalf("malformed delivery must not be enqueued")
	}
}

func TestDispatcher_UnknownProvider(t *testing.T) {
	f := newFixture(t)
	req := signedRequest(`{"event":"x"}`, "evt_1")
	req.ProviderID = "unknown"
	if _, err := f.dispatcher.Accept(context.Background(), req); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestWorker_DedupesRedeliveries(t *testing.T) {
	f := newFixture(t)
	body := `{"event":"subscription.charged"}`
	for i := 0; i < 3; i++ {
		if _, err := f.dispatcher.Accept(context.Background(), signedRequest(body, "evt_dup")); err != nil {
			t.Fatalf("accept %d: %v", i, err)
		}
	}
	f.drain(t)
	if f.handler.Calls() != 1 {
		t.Fatalf("expected handler once for redeliveries, got %d", f.handler.Calls())
	}
	if len(f.queue.DeadLetters()) != 0 {
		t.Fatalf("deduped deliveries must be acked")
	}
}

func TestWorker_RequeuesThenDeadLetters(t *testing.T) {
	f := newFixture(t)
	f.handler.failures = 10
	f.handler.err = core.TransientStorage(errors.New("database is locked"))

	if _, err := f.dispatcher.Accept(context.Background(), signedRequest(`{"event":"subscription.charged"}`, "evt_fail")); err != nil {
		t.Fatalf("accept: %v", err)
	}
	f.drain(t)

	if f.handler.Calls() != 3 {
		t.Fatalf("expected handler to run max attempts times, got %d", f.handler.Calls())
	}
	dead := f.queue.DeadLetters()
	if len(dead) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(dead))
	}
	record, err := f.ledger.Get(context.Background(), core.ProviderGateway, "evt_fail")
	if err != nil {
		t.Fatalf("load delivery: %v", err)
	}
	if record.Status != webhooks.DeliveryStatusDead {
		t.Fatalf("expected dead delivery, got %q", record.Status)
	}
}

func TestWorker_RecoversAfterTransientFailure(t *testing.T) {
	f := newFixture(t)
	f.handler.failures = 1
	f.handler.err = core.TransientStorage(errors.New("database is locked"))

	if _, err := f.dispatcher.Accept(context.Background(), signedRequest(`{"event":"subscription.charged"}`, "evt_retry")); err != nil {
		t.Fatalf("accept: %v", err)
	}
	f.drain(t)
	if f.handler.Calls() != 2 {
		t.Fatalf("expected a retry, got %d calls", f.handler.Calls())
	}
	record, _ := f.ledger.Get(context.Background(), core.ProviderGateway, "evt_retry")
	if record.Status != webhooks.DeliveryStatusProcessed || record.Attempts != 2 {
		t.Fatalf("unexpected record after retry: %#v", record)
	}
}

func TestWorker_RunStopsWhenQueueCloses(t *testing.T) {
	f := newFixture(t)
	if _, err := f.dispatcher.Accept(context.Background(), signedRequest(`{"event":"subscription.charged"}`, "evt_run")); err != nil {
		t.Fatalf("accept: %v", err)
	}
	done := make(chan struct{})
	go func() {
		inbound.RunWorkers(context.Background(), f.worker, 2)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for f.handler.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	f.queue.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("workers did not stop after queue close")
	}
	if f.handler.Calls() != 1 {
		t.Fatalf("expected one call, got %d", f.handler.Calls())
	}
}

func TestJob_RoundTripsThroughJSON(t *testing.T) {
	req := signedRequest(`{"event":"order.paid"}`, "evt_json")
	msg := inbound.EncodeJob(req, "order.paid", "evt_json")
	if msg.IdempotencyKey != core.ProviderGateway+":evt_json" {
		t.Fatalf("unexpected idempotency key %q", msg.IdempotencyKey)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decodedMsg core.JobExecutionMessage
	if err := json.Unmarshal(raw, &decodedMsg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	decoded, err := inbound.DecodeJob(&decodedMsg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded.Body) != string(req.Body) {
		t.Fatalf("body changed: %q", decoded.Body)
	}
	if decoded.Headers[webhooks.PaymentSignatureHeader] != req.Headers[webhooks.PaymentSignatureHeader] {
		t.Fatalf("signature header lost: %#v", decoded.Headers)
	}
	if decoded.Metadata["event_type"] != "order.paid" {
		t.Fatalf("unexpected metadata: %#v", decoded.Metadata)
	}
}
