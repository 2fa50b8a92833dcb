package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-reconciler/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type SubscriptionStore struct {
	db bun.IDB
}

func NewSubscriptionStore(db bun.IDB) (*SubscriptionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &SubscriptionStore{db: db}, nil
}

func (s *SubscriptionStore) Get(ctx context.Context, id string) (core.Subscription, error) {
	return s.findOne(ctx, "id", id)
}

func (s *SubscriptionStore) GetByGatewayID(ctx context.Context, gatewaySubscriptionID string) (core.Subscription, error) {
	return s.findOne(ctx, "gateway_subscription_id", gatewaySubscriptionID)
}

func (s *SubscriptionStore) FindOpenForBeneficiary(ctx context.Context, beneficiaryID string) (core.Subscription, error) {
	if s == nil || s.db == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	record := &subscriptionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.beneficiary_id = ?", strings.TrimSpace(beneficiaryID)).
		Where("?TableAlias.status IN (?)", bun.In([]string{
			string(core.SubscriptionStatusPending),
			string(core.SubscriptionStatusActive),
		})).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.Subscription{}, lookupError(err, "subscription", "beneficiary:"+beneficiaryID)
	}
	return subscriptionToDomain(record), nil
}

// Create stores a local placeholder in the created state. The placeholder is
// outside the open-beneficiary index until AttachGateway promotes it.
func (s *SubscriptionStore) Create(ctx context.Context, in core.CreateSubscriptionInput) (core.Subscription, error) {
	if s == nil || s.db == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	payerID := strings.TrimSpace(in.PayerID)
	beneficiaryID := strings.TrimSpace(in.BeneficiaryID)
	planID := strings.TrimSpace(in.PlanID)
	if payerID == "" || beneficiaryID == "" || planID == "" {
		return core.Subscription{}, fmt.Errorf("sqlstore: payer, beneficiary and plan are required")
	}
	now := time.Now().UTC()
	record := &subscriptionRecord{
		ID:            uuid.NewString(),
		PayerID:       payerID,
		BeneficiaryID: beneficiaryID,
		PlanID:        planID,
		Status:        string(core.SubscriptionStatusCreated),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.Subscription{}, storageError(err)
	}
	return subscriptionToDomain(record), nil
}

func (s *SubscriptionStore) AttachGateway(
	ctx context.Context,
	id string,
	gatewaySubscriptionID string,
	gatewayCustomerID string,
) (core.Subscription, error) {
	if s == nil || s.db == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return core.Subscription{}, err
	}
	now := time.Now().UTC()
	_, err = s.db.NewUpdate().
		Model((*subscriptionRecord)(nil)).
		Set("gateway_subscription_id = ?", nullableString(gatewaySubscriptionID)).
		Set("gateway_customer_id = ?", strings.TrimSpace(gatewayCustomerID)).
		Set("status = ?", string(core.SubscriptionStatusPending)).
		Set("updated_at = ?", now).
		Where("id = ?", current.ID).
		Exec(ctx)
	if err != nil {
		return core.Subscription{}, s.writeError(err, current.BeneficiaryID)
	}
	current.GatewaySubscriptionID = strings.TrimSpace(gatewaySubscriptionID)
	current.GatewayCustomerID = strings.TrimSpace(gatewayCustomerID)
	current.Status = core.SubscriptionStatusPending
	current.UpdatedAt = now
	return current, nil
}

// UpdateStatus moves the row to status. Nil dates leave the stored value.
func (s *SubscriptionStore) UpdateStatus(
	ctx context.Context,
	id string,
	status core.SubscriptionStatus,
	startDate *time.Time,
	endDate *time.Time,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: subscription store is not configured")
	}
	query := s.db.NewUpdate().
		Model((*subscriptionRecord)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(id))
	if startDate != nil {
		query = query.Set("start_date = ?", startDate.UTC())
	}
	if endDate != nil {
		query = query.Set("end_date = ?", endDate.UTC())
	}
	if _, err := query.Exec(ctx); err != nil {
		return s.writeError(err, "")
	}
	return nil
}

func (s *SubscriptionStore) SetNextBillingDate(ctx context.Context, id string, next time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: subscription store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*subscriptionRecord)(nil)).
		Set("next_billing_date = ?", next.UTC()).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return storageError(err)
}

// Delete removes the row; recorded payments keep their history with a null
// subscription reference.
func (s *SubscriptionStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: subscription store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*subscriptionRecord)(nil)).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return storageError(err)
}

func (s *SubscriptionStore) findOne(ctx context.Context, column string, value string) (core.Subscription, error) {
	if s == nil || s.db == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return core.Subscription{}, core.NotFound("subscription", value)
	}
	record := &subscriptionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where(fmt.Sprintf("?TableAlias.%s = ?", column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.Subscription{}, lookupError(err, "subscription", value)
	}
	return subscriptionToDomain(record), nil
}

func (s *SubscriptionStore) writeError(err error, beneficiaryID string) error {
	if isUniqueViolation(err) {
		return core.DuplicateSubscription(beneficiaryID, err)
	}
	return storageError(err)
}

func subscriptionToDomain(record *subscriptionRecord) core.Subscription {
	if record == nil {
		return core.Subscription{}
	}
	return core.Subscription{
		ID:                    record.ID,
		PayerID:               record.PayerID,
		BeneficiaryID:         record.BeneficiaryID,
		PlanID:                record.PlanID,
		GatewaySubscriptionID: derefString(record.GatewaySubscriptionID),
		GatewayCustomerID:     record.GatewayCustomerID,
		Status:                core.SubscriptionStatus(record.Status),
		StartDate:             cloneTime(record.StartDate),
		EndDate:               cloneTime(record.EndDate),
		NextBillingDate:       cloneTime(record.NextBillingDate),
		CreatedAt:             record.CreatedAt,
		UpdatedAt:             record.UpdatedAt,
	}
}

func cloneTime(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
