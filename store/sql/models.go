package sqlstore

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type currencyRecord struct {
	bun.BaseModel `bun:"table:currencies,alias:cur"`

	ID        string    `bun:"id,pk"`
	Code      string    `bun:"code,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type roleRecord struct {
	bun.BaseModel `bun:"table:roles,alias:r"`

	ID        string    `bun:"id,pk"`
	Name      string    `bun:"name,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type companyRecord struct {
	bun.BaseModel `bun:"table:companies,alias:c"`

	ID                 string    `bun:"id,pk"`
	DisplayName        string    `bun:"display_name,notnull"`
	Email              string    `bun:"email,notnull"`
	LegalName          string    `bun:"legal_name,notnull"`
	PhoneNumber        string    `bun:"phone_number,notnull"`
	RegistrationNumber string    `bun:"registration_number,notnull"`
	VATNumber          string    `bun:"vat_number,notnull"`
	Address            string    `bun:"address,notnull"`
	City               string    `bun:"city,notnull"`
	Country            string    `bun:"country,notnull"`
	Zip                string    `bun:"zip,notnull"`
	CurrencyID         *string   `bun:"currency_id"`
	BootstrapDomain    *string   `bun:"bootstrap_domain"`
	CreatedAt          time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type userRecord struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID               string    `bun:"id,pk"`
	DisplayName      string    `bun:"display_name,notnull"`
	Email            string    `bun:"email,notnull"`
	RoleID           *string   `bun:"role_id"`
	CompanyID        *string   `bun:"company_id"`
	DefaultCompanyID *string   `bun:"default_company_id"`
	Paid             bool      `bun:"paid,notnull"`
	CreatedAt        time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type companyUserRecord struct {
	bun.BaseModel `bun:"table:company_users,alias:cu"`

	ID        string    `bun:"id,pk"`
	UserID    string    `bun:"user_id,notnull"`
	CompanyID string    `bun:"company_id,notnull"`
	RoleID    string    `bun:"role_id,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type subscriptionRecord struct {
	bun.BaseModel `bun:"table:subscriptions,alias:s"`

	ID                    string     `bun:"id,pk"`
	PayerID               string     `bun:"payer_id,notnull"`
	BeneficiaryID         string     `bun:"beneficiary_id,notnull"`
	PlanID                string     `bun:"plan_id,notnull"`
	GatewaySubscriptionID *string    `bun:"gateway_subscription_id"`
	GatewayCustomerID     string     `bun:"gateway_customer_id,notnull"`
	Status                string     `bun:"status,notnull"`
	StartDate             *time.Time `bun:"start_date,nullzero"`
	EndDate               *time.Time `bun:"end_date,nullzero"`
	NextBillingDate       *time.Time `bun:"next_billing_date,nullzero"`
	CreatedAt             time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt             time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type paymentRecord struct {
	bun.BaseModel `bun:"table:payments,alias:p"`

	ID               string          `bun:"id,pk"`
	SubscriptionID   *string         `bun:"subscription_id"`
	GatewayPaymentID string          `bun:"gateway_payment_id,notnull"`
	Amount           decimal.Decimal `bun:"amount,notnull"`
	Currency         string          `bun:"currency,notnull"`
	PaidAt           time.Time       `bun:"paid_at,nullzero,notnull,default:current_timestamp"`
}

type referralRecord struct {
	bun.BaseModel `bun:"table:referrals,alias:rf"`

	ID         string    `bun:"id,pk"`
	ReferrerID string    `bun:"referrer_id,notnull"`
	RefereeID  string    `bun:"referee_id,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type billingRecord struct {
	bun.BaseModel `bun:"table:billings,alias:b"`

	ID            string          `bun:"id,pk"`
	CompanyID     string          `bun:"company_id,notnull"`
	BillingDate   time.Time       `bun:"billing_date,nullzero,notnull,default:current_timestamp"`
	Description   string          `bun:"description,notnull"`
	Amount        decimal.Decimal `bun:"amount,notnull"`
	Currency      string          `bun:"currency,notnull"`
	Status        string          `bun:"status,notnull"`
	PaymentPlan   string          `bun:"payment_plan,notnull"`
	PaymentMethod string          `bun:"payment_method,notnull"`
}

type webhookDeliveryRecord struct {
	bun.BaseModel `bun:"table:webhook_deliveries,alias:wd"`

	ID            string     `bun:"id,pk"`
	ProviderID    string     `bun:"provider_id,notnull"`
	DeliveryID    string     `bun:"delivery_id,notnull"`
	EventType     string     `bun:"event_type,notnull"`
	Status        string     `bun:"status,notnull"`
	Attempts      int        `bun:"attempts,notnull"`
	Payload       []byte     `bun:"payload"`
	LastError     string     `bun:"last_error,notnull"`
	NextAttemptAt *time.Time `bun:"next_attempt_at,nullzero"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
