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

type ReferralStore struct {
	db   bun.IDB
	repo repository.Repository[*referralRecord]
}

func NewReferralStore(db *bun.DB) (*ReferralStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*referralRecord](db, referralHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid referral repository wiring: %w", err)
		}
	}
	return &ReferralStore{db: db, repo: repo}, nil
}

func (s *ReferralStore) withTx(tx bun.IDB) *ReferralStore {
	return &ReferralStore{db: tx, repo: s.repo}
}

// Ensure records that referrerID brought in refereeID. A referee has at most
// one referrer; the first recorded wins.
func (s *ReferralStore) Ensure(ctx context.Context, referrerID string, refereeID string) (core.Referral, bool, error) {
	if s == nil || s.db == nil {
		return core.Referral{}, false, fmt.Errorf("sqlstore: referral store is not configured")
	}
	referrerID = strings.TrimSpace(referrerID)
	refereeID = strings.TrimSpace(refereeID)
	if referrerID == "" || refereeID == "" {
		return core.Referral{}, false, fmt.Errorf("sqlstore: referrer and referee are required")
	}
	if referrerID == refereeID {
		return core.Referral{}, false, fmt.Errorf("sqlstore: a user cannot refer themselves")
	}
	return ensureRow(ctx, s.db,
		func(ctx context.Context, db bun.IDB) (core.Referral, error) {
			return findReferral(ctx, db, refereeID)
		},
		func(ctx context.Context, tx bun.Tx) (core.Referral, error) {
			record := &referralRecord{
				ID:         uuid.NewString(),
				ReferrerID: referrerID,
				RefereeID:  refereeID,
				CreatedAt:  time.Now().UTC(),
			}
			created, err := s.repo.CreateTx(ctx, tx, record)
			if err != nil {
				return core.Referral{}, err
			}
			return referralToDomain(created), nil
		},
	)
}

func (s *ReferralStore) GetByReferee(ctx context.Context, refereeID string) (core.Referral, error) {
	if s == nil || s.db == nil {
		return core.Referral{}, fmt.Errorf("sqlstore: referral store is not configured")
	}
	return findReferral(ctx, s.db, strings.TrimSpace(refereeID))
}

func findReferral(ctx context.Context, db bun.IDB, refereeID string) (core.Referral, error) {
	record := &referralRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.referee_id = ?", refereeID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.Referral{}, lookupError(err, "referral", refereeID)
	}
	return referralToDomain(record), nil
}

func referralToDomain(record *referralRecord) core.Referral {
	if record == nil {
		return core.Referral{}
	}
	return core.Referral{
		ID:         record.ID,
		ReferrerID: record.ReferrerID,
		RefereeID:  record.RefereeID,
		CreatedAt:  record.CreatedAt,
	}
}
