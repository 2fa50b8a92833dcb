// Package gocommand registers reconciler commands with the go-command
// registry and dispatcher.
package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	reconcilercmd "github.com/goliatone/go-reconciler/command"
	"github.com/goliatone/go-reconciler/core"
)

// ValidateMessageContract enforces Type() plus the optional Validate().
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry      *command.Registry
	subscriptions []commanddispatcher.Subscription
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors registered commands into a go-job queue registry
// so they can also run from the job worker.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

// Close unsubscribes every command registered through this adapter.
func (a *RegistryAdapter) Close() {
	if a == nil {
		return
	}
	for _, subscription := range a.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	a.subscriptions = nil
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	adapter.subscriptions = append(adapter.subscriptions, subscription)
	return subscription, nil
}

// RegisterReconcilerCommands subscribes the billing and metadata commands.
// A nil syncer skips the metadata command.
func RegisterReconcilerCommands(
	adapter *RegistryAdapter,
	service reconcilercmd.BillingService,
	syncer core.MetadataSyncer,
	runnerOpts ...runner.Option,
) error {
	if service == nil {
		return fmt.Errorf("gocommand: billing service is required")
	}
	register := []func() error{
		func() error {
			_, err := RegisterAndSubscribe[reconcilercmd.CreateSubscriptionMessage](adapter, reconcilercmd.NewCreateSubscriptionCommand(service), runnerOpts...)
			return err
		},
		func() error {
			_, err := RegisterAndSubscribe[reconcilercmd.CancelSubscriptionMessage](adapter, reconcilercmd.NewCancelSubscriptionCommand(service), runnerOpts...)
			return err
		},
		func() error {
			_, err := RegisterAndSubscribe[reconcilercmd.CreateOrderMessage](adapter, reconcilercmd.NewCreateOrderCommand(service), runnerOpts...)
			return err
		},
		func() error {
			_, err := RegisterAndSubscribe[reconcilercmd.VerifyPaymentMessage](adapter, reconcilercmd.NewVerifyPaymentCommand(service), runnerOpts...)
			return err
		},
		func() error {
			_, err := RegisterAndSubscribe[reconcilercmd.RecordReferralMessage](adapter, reconcilercmd.NewRecordReferralCommand(service), runnerOpts...)
			return err
		},
	}
	if syncer != nil {
		register = append(register, func() error {
			_, err := RegisterAndSubscribe[reconcilercmd.SyncMetadataMessage](adapter, reconcilercmd.NewSyncMetadataCommand(syncer), runnerOpts...)
			return err
		})
	}
	for _, fn := range register {
		if err := fn(); err != nil {
			adapter.Close()
			return err
		}
	}
	return nil
}
