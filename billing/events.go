package billing

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-reconciler/core"
)

// Event is the gateway webhook envelope. Only the entities the state machine
// reads are decoded.
type Event struct {
	Event     string       `json:"event"`
	CreatedAt int64        `json:"created_at"`
	Payload   EventPayload `json:"payload"`
}

type EventPayload struct {
	Subscription *struct {
		Entity SubscriptionEntity `json:"entity"`
	} `json:"subscription,omitempty"`
	Payment *struct {
		Entity PaymentEntity `json:"entity"`
	} `json:"payment,omitempty"`
	Order *struct {
		Entity OrderEntity `json:"entity"`
	} `json:"order,omitempty"`
}

type SubscriptionEntity struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	StartAt      int64  `json:"start_at"`
	EndAt        int64  `json:"end_at"`
	CurrentStart int64  `json:"current_start"`
	CurrentEnd   int64  `json:"current_end"`
	ChargeAt     int64  `json:"charge_at"`
}

type PaymentEntity struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	OrderID   string `json:"order_id"`
	CreatedAt int64  `json:"created_at"`
}

type OrderEntity struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func ParseEvent(body []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, core.BadInput("billing: malformed event payload", map[string]any{"cause": err.Error()})
	}
	event.Event = strings.TrimSpace(event.Event)
	if event.Event == "" {
		return Event{}, core.BadInput("billing: event name is required", nil)
	}
	if strings.HasPrefix(event.Event, core.SubscriptionEventPrefix) && event.subscription().ID == "" {
		return Event{}, core.BadInput("billing: subscription entity is required", map[string]any{"event_type": event.Event})
	}
	return event, nil
}

// EventType reads only the event name.
func EventType(body []byte) (string, error) {
	var envelope struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", core.BadInput("billing: malformed event payload", map[string]any{"cause": err.Error()})
	}
	if strings.TrimSpace(envelope.Event) == "" {
		return "", core.BadInput("billing: event name is required", nil)
	}
	return strings.TrimSpace(envelope.Event), nil
}

func (e Event) subscription() SubscriptionEntity {
	if e.Payload.Subscription == nil {
		return SubscriptionEntity{}
	}
	return e.Payload.Subscription.Entity
}

func (e Event) payment() (PaymentEntity, bool) {
	if e.Payload.Payment == nil || strings.TrimSpace(e.Payload.Payment.Entity.ID) == "" {
		return PaymentEntity{}, false
	}
	return e.Payload.Payment.Entity, true
}

func (e Event) orderID() string {
	if e.Payload.Order != nil && strings.TrimSpace(e.Payload.Order.Entity.ID) != "" {
		return strings.TrimSpace(e.Payload.Order.Entity.ID)
	}
	if payment, ok := e.payment(); ok {
		return strings.TrimSpace(payment.OrderID)
	}
	return ""
}

func unixTime(seconds int64) *time.Time {
	if seconds <= 0 {
		return nil
	}
	t := time.Unix(seconds, 0).UTC()
	return &t
}

func firstTime(values ...int64) *time.Time {
	for _, value := range values {
		if t := unixTime(value); t != nil {
			return t
		}
	}
	return nil
}
