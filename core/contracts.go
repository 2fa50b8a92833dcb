package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type TransportRequest struct {
	Method      string
	URL         string
	Headers     map[string]string
	Query       map[string]string
	Body        []byte
	Metadata    map[string]any
	Timeout     time.Duration
	Idempotency string
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type InboundRequest struct {
	ProviderID string
	Surface    string
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type InboundResult struct {
	Accepted   bool
	StatusCode int
	Metadata   map[string]any
}

type RateLimitKey struct {
	ProviderID string
	BucketKey  string
}

type ProviderResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
	Metadata   map[string]any
}

type RateLimitPolicy interface {
	BeforeCall(ctx context.Context, key RateLimitKey) error
	AfterCall(ctx context.Context, key RateLimitKey, res ProviderResponseMeta) error
}

type UserStore interface {
	Get(ctx context.Context, id string) (User, error)
	FindByEmailDomain(ctx context.Context, domain string) (User, error)
	Create(ctx context.Context, in CreateUserInput) (User, error)
	UpdateProfile(ctx context.Context, id string, displayName string, email string) error
	SetCompany(ctx context.Context, id string, companyID string) error
	SetPaid(ctx context.Context, id string, paid bool) error
	Delete(ctx context.Context, id string) error
}

type CompanyStore interface {
	Get(ctx context.Context, id string) (Company, error)
	EnsureForDomain(ctx context.Context, domain string, currencyID string) (Company, bool, error)
	Delete(ctx context.Context, id string) error
}

type RoleStore interface {
	Get(ctx context.Context, id string) (Role, error)
	GetByName(ctx context.Context, name string) (Role, error)
	Ensure(ctx context.Context, name string) (Role, bool, error)
}

type CurrencyStore interface {
	GetByCode(ctx context.Context, code string) (Currency, error)
	Ensure(ctx context.Context, code string) (Currency, bool, error)
}

type MembershipStore interface {
	Get(ctx context.Context, userID string, companyID string) (CompanyUser, error)
	Ensure(ctx context.Context, userID string, companyID string, roleName string, overrideRole bool) (CompanyUser, bool, error)
}

type SubscriptionStore interface {
	Get(ctx context.Context, id string) (Subscription, error)
	GetByGatewayID(ctx context.Context, gatewaySubscriptionID string) (Subscription, error)
	FindOpenForBeneficiary(ctx context.Context, beneficiaryID string) (Subscription, error)
	Create(ctx context.Context, in CreateSubscriptionInput) (Subscription, error)
	AttachGateway(ctx context.Context, id string, gatewaySubscriptionID string, gatewayCustomerID string) (Subscription, error)
	UpdateStatus(ctx context.Context, id string, status SubscriptionStatus, startDate *time.Time, endDate *time.Time) error
	SetNextBillingDate(ctx context.Context, id string, next time.Time) error
	Delete(ctx context.Context, id string) error
}

type PaymentStore interface {
	Record(ctx context.Context, in RecordPaymentInput) (Payment, bool, error)
	ListBySubscription(ctx context.Context, subscriptionID string) ([]Payment, error)
}

type ReferralStore interface {
	Ensure(ctx context.Context, referrerID string, refereeID string) (Referral, bool, error)
	GetByReferee(ctx context.Context, refereeID string) (Referral, error)
}

type BillingStore interface {
	Create(ctx context.Context, in CreateBillingInput) (Billing, error)
	Get(ctx context.Context, id string) (Billing, error)
	MarkPaid(ctx context.Context, id string) (Billing, error)
}

type StoreProvider interface {
	UserStore() UserStore
	CompanyStore() CompanyStore
	RoleStore() RoleStore
	CurrencyStore() CurrencyStore
	MembershipStore() MembershipStore
	SubscriptionStore() SubscriptionStore
	PaymentStore() PaymentStore
	ReferralStore() ReferralStore
	BillingStore() BillingStore
}

type TxFunc func(ctx context.Context, stores StoreProvider) error

// UnitOfWork runs fn against stores bound to one transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
type UnitOfWork interface {
	StoreProvider
	RunInTx(ctx context.Context, fn TxFunc) error
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (UnitOfWork, error)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobQueue interface {
	JobEnqueuer
	JobDequeuer
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// ProviderUser is the identity provider view of a user, used by lazy creation
// and metadata sync.
type ProviderUser struct {
	ID             string
	FirstName      string
	LastName       string
	Email          string
	PublicMetadata map[string]any
}

type IdentityProviderClient interface {
	GetUser(ctx context.Context, id string) (ProviderUser, error)
	UpdateMetadata(ctx context.Context, id string, publicMetadata map[string]any) error
}

type MetadataSyncer interface {
	Sync(ctx context.Context, userID string) (bool, error)
	SyncBestEffort(ctx context.Context, userID string)
}

type CommandMessage interface {
	Type() string
}
