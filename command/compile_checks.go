package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[CreateSubscriptionMessage] = (*CreateSubscriptionCommand)(nil)
	_ gocmd.Commander[CancelSubscriptionMessage] = (*CancelSubscriptionCommand)(nil)
	_ gocmd.Commander[CreateOrderMessage]        = (*CreateOrderCommand)(nil)
	_ gocmd.Commander[VerifyPaymentMessage]      = (*VerifyPaymentCommand)(nil)
	_ gocmd.Commander[RecordReferralMessage]     = (*RecordReferralCommand)(nil)
	_ gocmd.Commander[SyncMetadataMessage]       = (*SyncMetadataCommand)(nil)
	_ gocmd.Message                              = SyncMetadataMessage{}
)
