package sqlstore

import (
	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/webhooks"
)

var (
	_ core.UserStore              = (*UserStore)(nil)
	_ core.CompanyStore           = (*CompanyStore)(nil)
	_ core.RoleStore              = (*RoleStore)(nil)
	_ core.RoleStore              = (*CachedRoleStore)(nil)
	_ core.CurrencyStore          = (*CurrencyStore)(nil)
	_ core.MembershipStore        = (*MembershipStore)(nil)
	_ core.SubscriptionStore      = (*SubscriptionStore)(nil)
	_ core.PaymentStore           = (*PaymentStore)(nil)
	_ core.ReferralStore          = (*ReferralStore)(nil)
	_ core.BillingStore           = (*BillingStore)(nil)
	_ core.StoreProvider          = (*storeSet)(nil)
	_ core.UnitOfWork             = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
	_ webhooks.DeliveryLedger     = (*WebhookDeliveryStore)(nil)
	_ webhooks.DeliveryLedger     = (*webhooks.MemoryDeliveryLedger)(nil)
)
