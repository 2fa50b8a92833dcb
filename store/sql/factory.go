package sqlstore

import (
	"context"
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-reconciler/core"
	"github.com/uptrace/bun"
)

// RepositoryFactory owns the root stores and hands out transaction-bound
// copies through RunInTx.
type RepositoryFactory struct {
	db        *bun.DB
	roleCache repositorycache.CacheService

	root *storeSet

	deliveryStore *WebhookDeliveryStore
}

type storeSet struct {
	users         *UserStore
	companies     *CompanyStore
	roles         core.RoleStore
	currencies    *CurrencyStore
	memberships   *MembershipStore
	subscriptions *SubscriptionStore
	payments      *PaymentStore
	referrals     *ReferralStore
	billings      *BillingStore
}

type FactoryOption func(*RepositoryFactory)

// WithRoleCache serves root role reads through cacheService.
func WithRoleCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.roleCache = cacheService
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.UnitOfWork, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.root != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

// RunInTx runs fn with stores bound to a new transaction on the pool.
func (f *RepositoryFactory) RunInTx(ctx context.Context, fn core.TxFunc) error {
	if f == nil || f.db == nil || f.root == nil {
		return fmt.Errorf("sqlstore: repository factory is not initialized")
	}
	if fn == nil {
		return nil
	}
	return f.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		stores, err := f.bind(tx)
		if err != nil {
			return err
		}
		return fn(ctx, stores)
	})
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) UserStore() core.UserStore {
	if f == nil || f.root == nil {
		return nil
	}
	return f.root.users
}

func (f *RepositoryFactory) CompanyStore() core.CompanyStore {
	if f == nil || f.root == nil {
		return nil
	}
	return f.root.companies
}

func (f *RepositoryFactory) RoleStore() core.RoleStore {
	if f == nil || f.root == nil {
		return nil
	}
	return f.root.roles
}

func (f *RepositoryFactory) CurrencyStore() core.CurrencyStore {
	if f == nil || f.root == nil {
		return nil
	}
	return f.root.currencies
}

func (f *RepositoryFactory) MembershipStore() core.MembershipStore {
	if f == nil || f.root == nil {
		return nil
	}
	return f.root.memberships
}

func (f *RepositoryFactory) SubscriptionStore() core.SubscriptionStore {
	if f == nil || f.root == nil {
		return nil
	}
	return f.root.subscriptions
}

func (f *RepositoryFactory) PaymentStore() core.PaymentStore {
	if f == nil || f.root == nil {
		return nil
	}
	return f.root.payments
}

func (f *RepositoryFactory) ReferralStore() core.ReferralStore {
	if f == nil || f.root == nil {
		return nil
	}
	return f.root.referrals
}

func (f *RepositoryFactory) BillingStore() core.BillingStore {
	if f == nil || f.root == nil {
		return nil
	}
	return f.root.billings
}

// DeliveryStore is the durable webhook dedupe ledger.
func (f *RepositoryFactory) DeliveryStore() *WebhookDeliveryStore {
	if f == nil {
		return nil
	}
	return f.deliveryStore
}

func (f *RepositoryFactory) initStores() error {
	set, err := newStoreSet(f.db)
	if err != nil {
		return err
	}
	if f.roleCache != nil {
		cached, err := NewCachedRoleStore(set.roles, f.roleCache)
		if err != nil {
			return err
		}
		set.roles = cached
	}
	payments, err := NewPaymentStore(f.db)
	if err != nil {
		return err
	}
	referrals, err := NewReferralStore(f.db)
	if err != nil {
		return err
	}
	billings, err := NewBillingStore(f.db)
	if err != nil {
		return err
	}
	set.payments = payments
	set.referrals = referrals
	set.billings = billings

	deliveries, err := NewWebhookDeliveryStore(f.db)
	if err != nil {
		return err
	}
	f.root = set
	f.deliveryStore = deliveries
	return nil
}

// bind returns stores whose every statement runs on tx. Repository backed
// stores keep their repository for CreateTx and skip its root reads.
func (f *RepositoryFactory) bind(tx bun.IDB) (*storeSet, error) {
	set, err := newStoreSet(tx)
	if err != nil {
		return nil, err
	}
	set.payments = f.root.payments.withTx(tx)
	set.referrals = f.root.referrals.withTx(tx)
	set.billings = f.root.billings.withTx(tx)
	return set, nil
}

func newStoreSet(db bun.IDB) (*storeSet, error) {
	users, err := NewUserStore(db)
	if err != nil {
		return nil, err
	}
	companies, err := NewCompanyStore(db)
	if err != nil {
		return nil, err
	}
	roles, err := NewRoleStore(db)
	if err != nil {
		return nil, err
	}
	currencies, err := NewCurrencyStore(db)
	if err != nil {
		return nil, err
	}
	memberships, err := NewMembershipStore(db)
	if err != nil {
		return nil, err
	}
	subscriptions, err := NewSubscriptionStore(db)
	if err != nil {
		return nil, err
	}
	return &storeSet{
		users:         users,
		companies:     companies,
		roles:         roles,
		currencies:    currencies,
		memberships:   memberships,
		subscriptions: subscriptions,
	}, nil
}

func (s *storeSet) UserStore() core.UserStore                 { return s.users }
func (s *storeSet) CompanyStore() core.CompanyStore           { return s.companies }
func (s *storeSet) RoleStore() core.RoleStore                 { return s.roles }
func (s *storeSet) CurrencyStore() core.CurrencyStore         { return s.currencies }
func (s *storeSet) MembershipStore() core.MembershipStore     { return s.memberships }
func (s *storeSet) SubscriptionStore() core.SubscriptionStore { return s.subscriptions }
func (s *storeSet) PaymentStore() core.PaymentStore           { return s.payments }
func (s *storeSet) ReferralStore() core.ReferralStore         { return s.referrals }
func (s *storeSet) BillingStore() core.BillingStore           { return s.billings }

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
