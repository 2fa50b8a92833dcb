package inbound

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/goliatone/go-reconciler/core"
)

const JobIDPrefix = "reconciler.webhook."

const (
	paramProviderID = "provider_id"
	paramEventType  = "event_type"
	paramDeliveryID = "delivery_id"
	paramBody       = "body"
	paramHeaders    = "headers"
)

// EncodeJob carries the raw request bytes in base64 so the worker verifies
// exactly what the provider signed.
func EncodeJob(req core.InboundRequest, eventType string, deliveryID string) *core.JobExecutionMessage {
	headers := make(map[string]any, len(req.Headers))
	for key, value := range req.Headers {
		headers[key] = value
	}
	key := ""
	if deliveryID != "" {
		key = req.ProviderID + ":" + deliveryID
	}
	return &core.JobExecutionMessage{
		JobID:          JobIDPrefix + req.ProviderID,
		IdempotencyKey: key,
		Parameters: map[string]any{
			paramProviderID: req.ProviderID,
			paramEventType:  eventType,
			paramDeliveryID: deliveryID,
			paramBody:       base64.StdEncoding.EncodeToString(req.Body),
			paramHeaders:    headers,
		},
	}
}

// DecodeJob rebuilds the inbound request from a job message. Headers may
// arrive as map[string]string or, after a JSON round trip, map[string]any.
func DecodeJob(msg *core.JobExecutionMessage) (core.InboundRequest, error) {
	if msg == nil || msg.Parameters == nil {
		return core.InboundRequest{}, inboundBadInput("inbound: job message has no parameters", nil)
	}
	providerID := stringParam(msg.Parameters, paramProviderID)
	if providerID == "" {
		providerID = strings.TrimPrefix(msg.JobID, JobIDPrefix)
	}
	if providerID == "" {
		return core.InboundRequest{}, inboundBadInput("inbound: job provider id is required", map[string]any{"job_id": msg.JobID})
	}
	body, err := base64.StdEncoding.DecodeString(stringParam(msg.Parameters, paramBody))
	if err != nil {
		return core.InboundRequest{}, inboundBadInput(
			fmt.Sprintf("inbound: invalid job body encoding: %v", err),
			map[string]any{"job_id": msg.JobID},
		)
	}

	headers := map[string]string{}
	switch typed := msg.Parameters[paramHeaders].(type) {
	case map[string]string:
		for key, value := range typed {
			headers[key] = value
		}
	case map[string]any:
		for key, value := range typed {
			if text, ok := value.(string); ok {
				headers[key] = text
			}
		}
	}

	metadata := map[string]any{}
	if eventType := stringParam(msg.Parameters, paramEventType); eventType != "" {
		metadata[paramEventType] = eventType
	}
	if deliveryID := stringParam(msg.Parameters, paramDeliveryID); deliveryID != "" {
		metadata[paramDeliveryID] = deliveryID
	}
	return core.InboundRequest{
		ProviderID: providerID,
		Surface:    SurfaceWebhook,
		Headers:    headers,
		Body:       body,
		Metadata:   metadata,
	}, nil
}

func stringParam(params map[string]any, key string) string {
	value, _ := params[key].(string)
	return strings.TrimSpace(value)
}
