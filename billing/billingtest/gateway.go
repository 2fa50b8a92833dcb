// Package billingtest provides an in-memory payment gateway for tests.
package billingtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-reconciler/billing"
	"github.com/goliatone/go-reconciler/core"
)

type Gateway struct {
	mu            sync.Mutex
	seq           int
	Customers     []billing.CustomerInput
	Subscriptions map[string]billing.SubscriptionInput
	Cancelled     []string
	Orders        map[string]billing.OrderInput

	// FailSubscriptions makes the next CreateSubscription calls fail.
	FailSubscriptions int
	FailErr           error
	// BeforeCreate runs before a subscription is created, outside the lock.
	BeforeCreate func()
}

func NewGateway() *Gateway {
	return &Gateway{
		Subscriptions: map[string]billing.SubscriptionInput{},
		Orders:        map[string]billing.OrderInput{},
	}
}

func (g *Gateway) CreateCustomer(_ context.Context, in billing.CustomerInput) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	g.Customers = append(g.Customers, in)
	return fmt.Sprintf("cust_%d", g.seq), nil
}

func (g *Gateway) CreateSubscription(_ context.Context, in billing.SubscriptionInput) (billing.GatewaySubscription, error) {
	if g.BeforeCreate != nil {
		g.BeforeCreate()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailSubscriptions > 0 {
		g.FailSubscriptions--
		if g.FailErr != nil {
			return billing.GatewaySubscription{}, g.FailErr
		}
		return billing.GatewaySubscription{}, core.ExternalCallFailure("gateway.create_subscription", nil)
	}
	g.seq++
	id := fmt.Sprintf("sub_%d", g.seq)
	g.Subscriptions[id] = in
	return billing.GatewaySubscription{ID: id, Status: "created"}, nil
}

func (g *Gateway) CancelSubscription(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Cancelled = append(g.Cancelled, id)
	return nil
}

func (g *Gateway) CreateOrder(_ context.Context, in billing.OrderInput) (billing.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("order_%d", g.seq)
	g.Orders[id] = in
	return billing.GatewayOrder{ID: id, Amount: in.AmountMinor, Currency: in.Currency, Receipt: in.Receipt, Status: "created"}, nil
}

func (g *Gateway) CancelledIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.Cancelled...)
}

var _ billing.Gateway = (*Gateway)(nil)
