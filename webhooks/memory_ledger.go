package webhooks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-reconciler/core"
)

// MemoryDeliveryLedger keeps deliveries in process. Used with the memory
// queue and in tests.
type MemoryDeliveryLedger struct {
	mu      sync.Mutex
	records map[string]*DeliveryRecord
	claims  map[string]string
	Now     func() time.Time
}

func NewMemoryDeliveryLedger() *MemoryDeliveryLedger {
	return &MemoryDeliveryLedger{
		records: map[string]*DeliveryRecord{},
		claims:  map[string]string{},
	}
}

func (l *MemoryDeliveryLedger) Claim(
	_ context.Context,
	providerID string,
	deliveryID string,
	eventType string,
	_ []byte,
	lease time.Duration,
) (DeliveryRecord, bool, error) {
	providerID = strings.TrimSpace(providerID)
	deliveryID = strings.TrimSpace(deliveryID)
	if providerID == "" || deliveryID == "" {
		return DeliveryRecord{}, false, fmt.Errorf("webhooks: provider id and delivery id are required")
	}
	if lease <= 0 {
		lease = defaultClaimLease
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := ledgerKey(providerID, deliveryID)
	record, ok := l.records[key]
	if !ok {
		expires := now.Add(lease)
		record = &DeliveryRecord{
			ID:            key,
			ClaimID:       key,
			ProviderID:    providerID,
			DeliveryID:    deliveryID,
			EventType:     strings.TrimSpace(eventType),
			Status:        DeliveryStatusProcessing,
			Attempts:      1,
			NextAttemptAt: &expires,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		l.records[key] = record
		l.claims[record.ClaimID] = key
		return *record, true, nil
	}

	if !claimable(record, now) {
		return *record, false, nil
	}
	expires := now.Add(lease)
	record.Status = DeliveryStatusProcessing
	record.Attempts++
	record.NextAttemptAt = &expires
	record.UpdatedAt = now
	return *record, true, nil
}

func (l *MemoryDeliveryLedger) Get(_ context.Context, providerID string, deliveryID string) (DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[ledgerKey(strings.TrimSpace(providerID), strings.TrimSpace(deliveryID))]
	if !ok {
		return DeliveryRecord{}, core.NotFound("webhook_delivery", providerID+"/"+deliveryID)
	}
	return *record, nil
}

func (l *MemoryDeliveryLedger) Complete(_ context.Context, claimID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, err := l.byClaim(claimID)
	if err != nil {
		return err
	}
	record.Status = DeliveryStatusProcessed
	record.NextAttemptAt = nil
	record.LastError = ""
	record.UpdatedAt = l.now()
	return nil
}

func (l *MemoryDeliveryLedger) Fail(
	_ context.Context,
	claimID string,
	cause error,
	nextAttemptAt time.Time,
	maxAttempts int,
) (DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, err := l.byClaim(claimID)
	if err != nil {
		return DeliveryRecord{}, err
	}
	record.Status = DeliveryStatusRetryReady
	record.NextAttemptAt = &nextAttemptAt
	if maxAttempts > 0 && record.Attempts >= maxAttempts {
		record.Status = DeliveryStatusDead
		record.NextAttemptAt = nil
	}
	if cause != nil {
		record.LastError = cause.Error()
	}
	record.UpdatedAt = l.now()
	return *record, nil
}

func (l *MemoryDeliveryLedger) byClaim(claimID string) (*DeliveryRecord, error) {
	key, ok := l.claims[strings.TrimSpace(claimID)]
	if !ok {
		return nil, core.NotFound("webhook_delivery_claim", claimID)
	}
	return l.records[key], nil
}

func (l *MemoryDeliveryLedger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

// claimable reports whether a stored delivery may be processed again.
func claimable(record *DeliveryRecord, now time.Time) bool {
	switch record.Status {
	case DeliveryStatusRetryReady:
		return true
	case DeliveryStatusProcessing:
		return record.NextAttemptAt == nil || !now.Before(*record.NextAttemptAt)
	default:
		return false
	}
}

func ledgerKey(providerID string, deliveryID string) string {
	return providerID + ":" + deliveryID
}
