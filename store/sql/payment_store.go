package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-reconciler/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PaymentStore is append-only. Reads go through the repository when the store
// is bound to the root database and through the transaction otherwise.
type PaymentStore struct {
	db    bun.IDB
	repo  repository.Repository[*paymentRecord]
	bound bool
}

func NewPaymentStore(db *bun.DB) (*PaymentStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*paymentRecord](db, paymentHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid payment repository wiring: %w", err)
		}
	}
	return &PaymentStore{db: db, repo: repo}, nil
}

func (s *PaymentStore) withTx(tx bun.IDB) *PaymentStore {
	return &PaymentStore{db: tx, repo: s.repo, bound: true}
}

// Record appends a payment keyed by its gateway payment id. A redelivered
// charge returns the stored row with created=false.
func (s *PaymentStore) Record(ctx context.Context, in core.RecordPaymentInput) (core.Payment, bool, error) {
	if s == nil || s.db == nil {
		return core.Payment{}, false, fmt.Errorf("sqlstore: payment store is not configured")
	}
	gatewayPaymentID := strings.TrimSpace(in.GatewayPaymentID)
	if gatewayPaymentID == "" {
		return core.Payment{}, false, fmt.Errorf("sqlstore: gateway payment id is required")
	}
	return ensureRow(ctx, s.db,
		func(ctx context.Context, db bun.IDB) (core.Payment, error) {
			record := &paymentRecord{}
			err := db.NewSelect().
				Model(record).
				Where("?TableAlias.gateway_payment_id = ?", gatewayPaymentID).
				Limit(1).
				Scan(ctx)
			if err != nil {
				return core.Payment{}, lookupError(err, "payment", gatewayPaymentID)
			}
			return paymentToDomain(record), nil
		},
		func(ctx context.Context, tx bun.Tx) (core.Payment, error) {
			paidAt := in.PaidAt
			if paidAt.IsZero() {
				paidAt = time.Now()
			}
			record := &paymentRecord{
				ID:               uuid.NewString(),
				SubscriptionID:   nullableString(in.SubscriptionID),
				GatewayPaymentID: gatewayPaymentID,
				Amount:           in.Amount,
				Currency:         strings.ToUpper(strings.TrimSpace(in.Currency)),
				PaidAt:           paidAt.UTC(),
			}
			created, err := s.repo.CreateTx(ctx, tx, record)
			if err != nil {
				return core.Payment{}, err
			}
			return paymentToDomain(created), nil
		},
	)
}

func (s *PaymentStore) ListBySubscription(ctx context.Context, subscriptionID string) ([]core.Payment, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: payment store is not configured")
	}
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, fmt.Errorf("sqlstore: subscription id is required")
	}

	var records []*paymentRecord
	if s.bound || s.repo == nil {
		if err := s.db.NewSelect().
			Model(&records).
			Where("?TableAlias.subscription_id = ?", subscriptionID).
			OrderExpr("?TableAlias.paid_at ASC").
			Scan(ctx); err != nil {
			return nil, storageError(err)
		}
	} else {
		listed, _, err := s.repo.List(ctx,
			repository.SelectBy("subscription_id", "=", subscriptionID),
			repository.OrderBy("paid_at ASC"),
		)
		if err != nil {
			return nil, storageError(err)
		}
		records = listed
	}

	out := make([]core.Payment, 0, len(records))
	for _, record := range records {
		out = append(out, paymentToDomain(record))
	}
	return out, nil
}

func paymentToDomain(record *paymentRecord) core.Payment {
	if record == nil {
		return core.Payment{}
	}
	return core.Payment{
		ID:               record.ID,
		SubscriptionID:   derefString(record.SubscriptionID),
		GatewayPaymentID: record.GatewayPaymentID,
		Amount:           record.Amount,
		Currency:         record.Currency,
		PaidAt:           record.PaidAt,
	}
}
