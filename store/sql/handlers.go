package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// stringIDHandlers wires records whose primary key is a text column. Gateway
// keyed rows (billings) carry non-uuid ids, so GetID falls back to uuid.Nil
// and lookups go through GetIdentifierValue.
func stringIDHandlers[T any](newRecord func() T, idOf func(T) *string) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(record T) uuid.UUID {
			id := idOf(record)
			if id == nil {
				return uuid.Nil
			}
			return parseUUID(*id)
		},
		SetID: func(record T, id uuid.UUID) {
			if target := idOf(record); target != nil {
				*target = id.String()
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record T) string {
			id := idOf(record)
			if id == nil {
				return ""
			}
			return strings.TrimSpace(*id)
		},
	}
}

func paymentHandlers() repository.ModelHandlers[*paymentRecord] {
	return stringIDHandlers(
		func() *paymentRecord { return &paymentRecord{} },
		func(record *paymentRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func billingHandlers() repository.ModelHandlers[*billingRecord] {
	return stringIDHandlers(
		func() *billingRecord { return &billingRecord{} },
		func(record *billingRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func referralHandlers() repository.ModelHandlers[*referralRecord] {
	return stringIDHandlers(
		func() *referralRecord { return &referralRecord{} },
		func(record *referralRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func webhookDeliveryHandlers() repository.ModelHandlers[*webhookDeliveryRecord] {
	return stringIDHandlers(
		func() *webhookDeliveryRecord { return &webhookDeliveryRecord{} },
		func(record *webhookDeliveryRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
