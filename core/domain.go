package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultUserRole     = "user"
	DefaultAdminRole    = "admin"
	DefaultCurrencyCode = "USD"
	PaidRoleSuffix      = "_paid"
)

const (
	ProviderIdentity = "identity"
	ProviderGateway  = "gateway"
)

const (
	IdentityEventUserCreated = "user.created"
	IdentityEventUserUpdated = "user.updated"
	IdentityEventUserDeleted = "user.deleted"
)

const (
	SubscriptionEventPrefix    = "subscription."
	SubscriptionEventActivated = "subscription.activated"
	SubscriptionEventPending   = "subscription.pending"
	SubscriptionEventCharged   = "subscription.charged"
	SubscriptionEventCancelled = "subscription.cancelled"
	SubscriptionEventCompleted = "subscription.completed"
	SubscriptionEventHalted    = "subscription.halted"

	OrderEventPaid = "order.paid"
)

type SubscriptionStatus string

const (
	SubscriptionStatusCreated SubscriptionStatus = "created"
	SubscriptionStatusPending SubscriptionStatus = "pending"
	SubscriptionStatusActive  SubscriptionStatus = "active"
)

// Open reports whether the status blocks a second subscription for the same
// beneficiary.
func (s SubscriptionStatus) Open() bool {
	return s == SubscriptionStatusPending || s == SubscriptionStatusActive
}

type BillingStatus string

const (
	BillingStatusPending BillingStatus = "Pending"
	BillingStatusPaid    BillingStatus = "Paid"
)

type User struct {
	ID               string
	DisplayName      string
	Email            string
	RoleID           string
	CompanyID        string
	DefaultCompanyID string
	Paid             bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Company struct {
	ID                 string
	DisplayName        string
	Email              string
	LegalName          string
	PhoneNumber        string
	RegistrationNumber string
	VATNumber          string
	Address            string
	City               string
	Country            string
	Zip                string
	CurrencyID         string
	BootstrapDomain    string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Role struct {
	ID   string
	Name string
}

type Currency struct {
	ID   string
	Code string
}

type CompanyUser struct {
	ID        string
	UserID    string
	CompanyID string
	RoleID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Subscription struct {
	ID                    string
	PayerID               string
	BeneficiaryID         string
	PlanID                string
	GatewaySubscriptionID string
	GatewayCustomerID     string
	Status                SubscriptionStatus
	StartDate             *time.Time
	EndDate               *time.Time
	NextBillingDate       *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Payment struct {
	ID               string
	SubscriptionID   string
	GatewayPaymentID string
	Amount           decimal.Decimal
	Currency         string
	PaidAt           time.Time
}

type Referral struct {
	ID         string
	ReferrerID string
	RefereeID  string
	CreatedAt  time.Time
}

type Billing struct {
	ID            string
	CompanyID     string
	BillingDate   time.Time
	Description   string
	Amount        decimal.Decimal
	Currency      string
	Status        BillingStatus
	PaymentPlan   string
	PaymentMethod string
}

type CreateUserInput struct {
	ID          string
	DisplayName string
	Email       string
	RoleID      string
	CompanyID   string
}

type CreateSubscriptionInput struct {
	PayerID       string
	BeneficiaryID string
	PlanID        string
}

type RecordPaymentInput struct {
	SubscriptionID   string
	GatewayPaymentID string
	Amount           decimal.Decimal
	Currency         string
	PaidAt           time.Time
}

type CreateBillingInput struct {
	OrderID       string
	CompanyID     string
	Description   string
	Amount        decimal.Decimal
	Currency      string
	PaymentPlan   string
	PaymentMethod string
	BillingDate   time.Time
}

// EmailDomain returns the lower cased domain part of an email address.
func EmailDomain(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}

// DisplayName joins first and last name the way the identity provider shows
// them, skipping empty parts.
func DisplayName(first, last string) string {
	parts := make([]string, 0, 2)
	for _, part := range []string{first, last} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " ")
}

// MetadataLabel derives the status label mirrored to the identity provider.
func MetadataLabel(role string, paid bool) string {
	role = strings.TrimSpace(role)
	if role == "" {
		role = DefaultUserRole
	}
	if paid {
		return role + PaidRoleSuffix
	}
	return role
}

// MinorToMajor converts gateway minor units (paise, cents) into major units.
func MinorToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// MajorToMinor converts a major unit amount into gateway minor units.
func MajorToMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
