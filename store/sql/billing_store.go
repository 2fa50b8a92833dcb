package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-reconciler/core"
	"github.com/uptrace/bun"
)

// BillingStore keeps one row per gateway order. The row id is the order id.
type BillingStore struct {
	db    bun.IDB
	repo  repository.Repository[*billingRecord]
	bound bool
}

func NewBillingStore(db *bun.DB) (*BillingStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*billingRecord](db, billingHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid billing repository wiring: %w", err)
		}
	}
	return &BillingStore{db: db, repo: repo}, nil
}

func (s *BillingStore) withTx(tx bun.IDB) *BillingStore {
	return &BillingStore{db: tx, repo: s.repo, bound: true}
}

func (s *BillingStore) Create(ctx context.Context, in core.CreateBillingInput) (core.Billing, error) {
	if s == nil || s.db == nil {
		return core.Billing{}, fmt.Errorf("sqlstore: billing store is not configured")
	}
	orderID := strings.TrimSpace(in.OrderID)
	companyID := strings.TrimSpace(in.CompanyID)
	if orderID == "" || companyID == "" {
		return core.Billing{}, fmt.Errorf("sqlstore: order id and company id are required")
	}
	billingDate := in.BillingDate
	if billingDate.IsZero() {
		billingDate = time.Now()
	}
	record := &billingRecord{
		ID:            orderID,
		CompanyID:     companyID,
		BillingDate:   billingDate.UTC(),
		Description:   strings.TrimSpace(in.Description),
		Amount:        in.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(in.Currency)),
		Status:        string(core.BillingStatusPending),
		PaymentPlan:   strings.TrimSpace(in.PaymentPlan),
		PaymentMethod: strings.TrimSpace(in.PaymentMethod),
	}
	// Inserted directly: the repository would replace a non-uuid id.
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			// a concurrent create of the same order; the caller's retry reads it
			return core.Billing{}, core.TransientStorage(err)
		}
		return core.Billing{}, storageError(err)
	}
	return billingToDomain(record), nil
}

func (s *BillingStore) Get(ctx context.Context, id string) (core.Billing, error) {
	if s == nil || s.db == nil {
		return core.Billing{}, fmt.Errorf("sqlstore: billing store is not configured")
	}
	record, err := s.find(ctx, strings.TrimSpace(id))
	if err != nil {
		return core.Billing{}, err
	}
	return billingToDomain(record), nil
}

// MarkPaid flips the billing to Paid. Paying twice is a no-op.
func (s *BillingStore) MarkPaid(ctx context.Context, id string) (core.Billing, error) {
	if s == nil || s.db == nil {
		return core.Billing{}, fmt.Errorf("sqlstore: billing store is not configured")
	}
	id = strings.TrimSpace(id)
	record, err := s.find(ctx, id)
	if err != nil {
		return core.Billing{}, err
	}
	if record.Status == string(core.BillingStatusPaid) {
		return billingToDomain(record), nil
	}
	record.Status = string(core.BillingStatusPaid)

	if s.bound || s.repo == nil {
		if _, err := s.db.NewUpdate().
			Model((*billingRecord)(nil)).
			Set("status = ?", record.Status).
			Where("id = ?", id).
			Exec(ctx); err != nil {
			return core.Billing{}, storageError(err)
		}
		return billingToDomain(record), nil
	}
	if _, err := s.repo.Update(ctx, record, repository.UpdateByID(id)); err != nil {
		return core.Billing{}, storageError(err)
	}
	return billingToDomain(record), nil
}

func (s *BillingStore) find(ctx context.Context, id string) (*billingRecord, error) {
	if id == "" {
		return nil, core.NotFound("billing", id)
	}
	if s.bound || s.repo == nil {
		record := &billingRecord{}
		err := s.db.NewSelect().
			Model(record).
			Where("?TableAlias.id = ?", id).
			Limit(1).
			Scan(ctx)
		if err != nil {
			return nil, lookupError(err, "billing", id)
		}
		return record, nil
	}
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, repositoryLookupError(err, "billing", id)
	}
	return record, nil
}

// repositoryLookupError maps the repository's not found envelope onto
// core.NotFound.
func repositoryLookupError(err error, entity string, id string) error {
	if isNoRows(err) {
		return core.NotFound(entity, id)
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Category == goerrors.CategoryNotFound {
		return core.NotFound(entity, id)
	}
	if strings.Contains(strings.ToLower(err.Error()), "not found") {
		return core.NotFound(entity, id)
	}
	return storageError(err)
}

func billingToDomain(record *billingRecord) core.Billing {
	if record == nil {
		return core.Billing{}
	}
	return core.Billing{
		ID:            record.ID,
		CompanyID:     record.CompanyID,
		BillingDate:   record.BillingDate,
		Description:   record.Description,
		Amount:        record.Amount,
		Currency:      record.Currency,
		Status:        core.BillingStatus(record.Status),
		PaymentPlan:   record.PaymentPlan,
		PaymentMethod: record.PaymentMethod,
	}
}
