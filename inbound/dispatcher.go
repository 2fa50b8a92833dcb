package inbound

import (
	"context"
	"net/http"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/webhooks"
)

const SurfaceWebhook = "webhook"

// Dispatcher acknowledges webhooks: verify, read the event type, enqueue.
type Dispatcher struct {
	Router *Router
	Queue  core.JobEnqueuer
	Logger core.Logger
}

func NewDispatcher(router *Router, queue core.JobEnqueuer, logger core.Logger) *Dispatcher {
	if logger == nil {
		logger = glog.Nop()
	}
	return &Dispatcher{Router: router, Queue: queue, Logger: logger}
}

func (d *Dispatcher) Accept(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if d == nil || d.Router == nil || d.Queue == nil {
		return core.InboundResult{}, inboundInternal("inbound: dispatcher requires a router and a queue", nil)
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.Surface = SurfaceWebhook
	route, ok := d.Router.Lookup(req.ProviderID)
	if !ok {
		return core.InboundResult{StatusCode: http.StatusBadRequest}, inboundBadInput(
			"inbound: no route registered for provider",
			map[string]any{"provider_id": req.ProviderID},
		)
	}

	if verifier := route.Processor.Verifier; verifier != nil {
		if err := verifier.Verify(ctx, req); err != nil {
			if !core.IsInvalidSignature(err) {
				err = core.InvalidSignature(err)
			}
			d.Logger.Warn("webhook rejected", "provider_id", req.ProviderID, "error", err)
			return core.InboundResult{
				StatusCode: http.StatusUnauthorized,
				Metadata:   map[string]any{"provider_id": req.ProviderID, "rejected": true},
			}, err
		}
	}

	eventType := ""
	if route.EventType != nil {
		parsed, err := route.EventType(req.Body)
		if err != nil {
			return core.InboundResult{StatusCode: http.StatusBadRequest}, err
		}
		eventType = parsed
	}

	extract := route.Processor.ExtractID
	if extract == nil {
		extract = webhooks.DefaultDeliveryIDExtractor
	}
	deliveryID, err := extract(req)
	if err != nil {
		return core.InboundResult{StatusCode: http.StatusBadRequest}, failBadInput.wrap(err, "inbound: resolve delivery id",
			map[string]any{"provider_id": req.ProviderID})
	}

	msg := EncodeJob(req, eventType, deliveryID)
	if err := d.Queue.Enqueue(ctx, msg); err != nil {
		return core.InboundResult{StatusCode: http.StatusServiceUnavailable}, failUnavailable.wrap(err, "inbound: enqueue delivery",
			map[string]any{"provider_id": req.ProviderID, "event_type": eventType})
	}

	d.Logger.Debug("webhook accepted",
		"provider_id", req.ProviderID,
		"event_type", eventType,
		"delivery_id", deliveryID,
	)
	return core.InboundResult{
		Accepted:   true,
		StatusCode: http.StatusAccepted,
		Metadata: map[string]any{
			"provider_id": req.ProviderID,
			"event_type":  eventType,
			"delivery_id": deliveryID,
			"job_id":      msg.JobID,
		},
	}, nil
}

// Process runs the provider route in the request goroutine. Used for
// providers configured for synchronous handling.
func (d *Dispatcher) Process(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if d == nil || d.Router == nil {
		return core.InboundResult{}, inboundInternal("inbound: dispatcher requires a router", nil)
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.Surface = SurfaceWebhook
	route, ok := d.Router.Lookup(req.ProviderID)
	if !ok {
		return core.InboundResult{StatusCode: http.StatusBadRequest}, inboundBadInput(
			"inbound: no route registered for provider",
			map[string]any{"provider_id": req.ProviderID},
		)
	}
	if route.EventType != nil {
		eventType, err := route.EventType(req.Body)
		if err == nil {
			req.Metadata = withMetadata(req.Metadata, "event_type", eventType)
		}
	}
	return route.Processor.Process(ctx, req)
}

func withMetadata(metadata map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out[key] = value
	return out
}
