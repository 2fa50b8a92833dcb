package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/webhooks"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WebhookDeliveryStore is the durable dedupe ledger. The claim id is the row
// id.
type WebhookDeliveryStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookDeliveryRecord]
	now  func() time.Time
}

func NewWebhookDeliveryStore(db *bun.DB) (*WebhookDeliveryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookDeliveryRecord](db, webhookDeliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook delivery repository wiring: %w", err)
		}
	}
	return &WebhookDeliveryStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *WebhookDeliveryStore) Claim(
	ctx context.Context,
	providerID string,
	deliveryID string,
	eventType string,
	payload []byte,
	lease time.Duration,
) (webhooks.DeliveryRecord, bool, error) {
	if s == nil || s.db == nil {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	providerID = strings.TrimSpace(providerID)
	deliveryID = strings.TrimSpace(deliveryID)
	if providerID == "" || deliveryID == "" {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("sqlstore: provider id and delivery id are required")
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	now := s.now()
	expires := now.Add(lease)

	record := &webhookDeliveryRecord{
		ID:            uuid.NewString(),
		ProviderID:    providerID,
		DeliveryID:    deliveryID,
		EventType:     strings.TrimSpace(eventType),
		Status:        webhooks.DeliveryStatusProcessing,
		Attempts:      1,
		Payload:       append([]byte(nil), payload...),
		NextAttemptAt: &expires,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := s.db.NewInsert().Model(record).Exec(ctx)
	if err == nil {
		return webhookDeliveryToDomain(record), true, nil
	}
	if !isUniqueViolation(err) {
		return webhooks.DeliveryRecord{}, false, storageError(err)
	}

	existing, err := s.find(ctx, providerID, deliveryID)
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}
	if !deliveryClaimable(existing, now) {
		return webhookDeliveryToDomain(existing), false, nil
	}

	// Conditional on the state we read so two workers cannot both win.
	res, err := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", webhooks.DeliveryStatusProcessing).
		Set("attempts = ?", existing.Attempts+1).
		Set("next_attempt_at = ?", expires).
		Set("updated_at = ?", now).
		Where("id = ?", existing.ID).
		Where("status = ?", existing.Status).
		Where("attempts = ?", existing.Attempts).
		Exec(ctx)
	if err != nil {
		return webhooks.DeliveryRecord{}, false, storageError(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return webhookDeliveryToDomain(existing), false, nil
	}
	existing.Status = webhooks.DeliveryStatusProcessing
	existing.Attempts++
	existing.NextAttemptAt = &expires
	existing.UpdatedAt = now
	return webhookDeliveryToDomain(existing), true, nil
}

func (s *WebhookDeliveryStore) Get(
	ctx context.Context,
	providerID string,
	deliveryID string,
) (webhooks.DeliveryRecord, error) {
	if s == nil || s.repo == nil {
		return webhooks.DeliveryRecord{}, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("provider_id", "=", strings.TrimSpace(providerID)),
		repository.SelectBy("delivery_id", "=", strings.TrimSpace(deliveryID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return webhooks.DeliveryRecord{}, storageError(err)
	}
	if len(records) == 0 {
		return webhooks.DeliveryRecord{}, core.NotFound("webhook_delivery", providerID+"/"+deliveryID)
	}
	return webhookDeliveryToDomain(records[0]), nil
}

func (s *WebhookDeliveryStore) Complete(ctx context.Context, claimID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", webhooks.DeliveryStatusProcessed).
		Set("next_attempt_at = NULL").
		Set("last_error = ''").
		Set("updated_at = ?", s.now()).
		Where("id = ?", strings.TrimSpace(claimID)).
		Exec(ctx)
	return storageError(err)
}

func (s *WebhookDeliveryStore) Fail(
	ctx context.Context,
	claimID string,
	cause error,
	nextAttemptAt time.Time,
	maxAttempts int,
) (webhooks.DeliveryRecord, error) {
	if s == nil || s.repo == nil {
		return webhooks.DeliveryRecord{}, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	record, err := s.repo.GetByID(ctx, claimID)
	if err != nil {
		return webhooks.DeliveryRecord{}, repositoryLookupError(err, "webhook_delivery", claimID)
	}

	record.Status = webhooks.DeliveryStatusRetryReady
	next := nextAttemptAt.UTC()
	record.NextAttemptAt = &next
	if maxAttempts > 0 && record.Attempts >= maxAttempts {
		record.Status = webhooks.DeliveryStatusDead
		record.NextAttemptAt = nil
	}
	if cause != nil {
		record.LastError = cause.Error()
	}
	record.UpdatedAt = s.now()

	_, err = s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", record.Status).
		Set("next_attempt_at = ?", record.NextAttemptAt).
		Set("last_error = ?", record.LastError).
		Set("updated_at = ?", record.UpdatedAt).
		Where("id = ?", claimID).
		Exec(ctx)
	if err != nil {
		return webhooks.DeliveryRecord{}, storageError(err)
	}
	return webhookDeliveryToDomain(record), nil
}

func (s *WebhookDeliveryStore) find(ctx context.Context, providerID string, deliveryID string) (*webhookDeliveryRecord, error) {
	record := &webhookDeliveryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider_id = ?", providerID).
		Where("?TableAlias.delivery_id = ?", deliveryID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, lookupError(err, "webhook_delivery", providerID+"/"+deliveryID)
	}
	return record, nil
}

func deliveryClaimable(record *webhookDeliveryRecord, now time.Time) bool {
	switch record.Status {
	case webhooks.DeliveryStatusRetryReady:
		return true
	case webhooks.DeliveryStatusProcessing:
		return record.NextAttemptAt == nil || !now.Before(*record.NextAttemptAt)
	default:
		return false
	}
}

func webhookDeliveryToDomain(record *webhookDeliveryRecord) webhooks.DeliveryRecord {
	if record == nil {
		return webhooks.DeliveryRecord{}
	}
	return webhooks.DeliveryRecord{
		ID:            record.ID,
		ClaimID:       record.ID,
		ProviderID:    record.ProviderID,
		DeliveryID:    record.DeliveryID,
		EventType:     record.EventType,
		Status:        record.Status,
		Attempts:      record.Attempts,
		LastError:     record.LastError,
		NextAttemptAt: cloneTime(record.NextAttemptAt),
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
}
