package webhooks

import (
	"context"
	"time"
)

// Ledger row states. A row moves processing -> processed, or
// processing -> retry_ready -> processing until it goes dead.
const (
	DeliveryStatusProcessing = "processing"
	DeliveryStatusProcessed  = "processed"
	DeliveryStatusRetryReady = "retry_ready"
	DeliveryStatusDead       = "dead"
)

type DeliveryRecord struct {
	ID            string
	ClaimID       string
	ProviderID    string
	DeliveryID    string
	EventType     string
	Status        string
	Attempts      int
	LastError     string
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Dead reports whether the ledger gave up on the delivery.
func (r DeliveryRecord) Dead() bool {
	return r.Status == DeliveryStatusDead
}

// DeliveryLedger remembers every delivery by (provider, delivery id). A claim
// is granted for a new delivery, for one waiting on retry and for one whose
// processing lease ran out.
type DeliveryLedger interface {
	Claim(
		ctx context.Context,
		providerID string,
		deliveryID string,
		eventType string,
		payload []byte,
		lease time.Duration,
	) (DeliveryRecord, bool, error)
	Get(ctx context.Context, providerID string, deliveryID string) (DeliveryRecord, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) (DeliveryRecord, error)
}
