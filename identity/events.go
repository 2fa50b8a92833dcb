package identity

import (
	"encoding/json"
	"strings"

	"github.com/goliatone/go-reconciler/core"
)

// Event is the envelope the identity provider posts for user lifecycle
// changes.
type Event struct {
	Type string   `json:"type"`
	Data UserData `json:"data"`
}

type EmailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type UserData struct {
	ID                    string         `json:"id"`
	FirstName             string         `json:"first_name"`
	LastName              string         `json:"last_name"`
	EmailAddresses        []EmailAddress `json:"email_addresses"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	PublicMetadata        map[string]any `json:"public_metadata"`
}

// PrimaryEmail picks the address marked primary, falling back to the first
// one listed.
func (d UserData) PrimaryEmail() string {
	for _, address := range d.EmailAddresses {
		if address.ID != "" && address.ID == d.PrimaryEmailAddressID {
			return strings.TrimSpace(address.EmailAddress)
		}
	}
	if len(d.EmailAddresses) > 0 {
		return strings.TrimSpace(d.EmailAddresses[0].EmailAddress)
	}
	return ""
}

func (d UserData) ProviderUser() core.ProviderUser {
	return core.ProviderUser{
		ID:             strings.TrimSpace(d.ID),
		FirstName:      strings.TrimSpace(d.FirstName),
		LastName:       strings.TrimSpace(d.LastName),
		Email:          d.PrimaryEmail(),
		PublicMetadata: d.PublicMetadata,
	}
}

// ParseEvent decodes body and checks the fields every event needs.
func ParseEvent(body []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, core.BadInput("identity: malformed event payload", map[string]any{"cause": err.Error()})
	}
	event.Type = strings.TrimSpace(event.Type)
	if event.Type == "" {
		return Event{}, core.BadInput("identity: event type is required", nil)
	}
	if strings.TrimSpace(event.Data.ID) == "" {
		return Event{}, core.BadInput("identity: event data.id is required", map[string]any{"event_type": event.Type})
	}
	return event, nil
}

// EventType reads only the type field. Used by the dispatcher before a full
// parse.
func EventType(body []byte) (string, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", core.BadInput("identity: malformed event payload", map[string]any{"cause": err.Error()})
	}
	if strings.TrimSpace(envelope.Type) == "" {
		return "", core.BadInput("identity: event type is required", nil)
	}
	return strings.TrimSpace(envelope.Type), nil
}

// CompanyIDFromMetadata returns public_metadata.company_id when present.
func CompanyIDFromMetadata(metadata map[string]any) string {
	if metadata == nil {
		return ""
	}
	value, _ := metadata["company_id"].(string)
	return strings.TrimSpace(value)
}
