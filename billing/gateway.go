package billing

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/transport"
)

const (
	defaultGatewayURL     = "https://api.razorpay.com"
	defaultGatewayTimeout = 15 * time.Second
	defaultTotalCount     = 12
)

type CustomerInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type SubscriptionInput struct {
	PlanID     string            `json:"plan_id"`
	CustomerID string            `json:"customer_id,omitempty"`
	TotalCount int               `json:"total_count"`
	Notes      map[string]string `json:"notes,omitempty"`
}

type OrderInput struct {
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Receipt     string `json:"receipt"`
	Capture     int    `json:"payment_capture"`
}

type GatewaySubscription struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	ShortURL string `json:"short_url"`
}

type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Gateway is the slice of the payment gateway API the service uses.
type Gateway interface {
	CreateCustomer(ctx context.Context, in CustomerInput) (string, error)
	CreateSubscription(ctx context.Context, in SubscriptionInput) (GatewaySubscription, error)
	CancelSubscription(ctx context.Context, gatewaySubscriptionID string) error
	CreateOrder(ctx context.Context, in OrderInput) (GatewayOrder, error)
}

// GatewayClient calls the payment gateway REST API with basic auth.
type GatewayClient struct {
	api *transport.JSONClient
}

func NewGatewayClient(cfg core.GatewayConfig, adapter core.TransportAdapter, limiter core.RateLimitPolicy) *GatewayClient {
	if adapter == nil {
		adapter = transport.NewRESTAdapter(nil)
	}
	baseURL := strings.TrimSpace(cfg.APIURL)
	if baseURL == "" {
		baseURL = defaultGatewayURL
	}
	return &GatewayClient{
		api: &transport.JSONClient{
			ProviderID: core.ProviderGateway,
			BaseURL:    baseURL,
			Adapter:    adapter,
			Auth:       transport.BasicAuth{Username: cfg.KeyID, Password: cfg.KeySecret},
			Limiter:    limiter,
			Timeout:    defaultGatewayTimeout,
		},
	}
}

func (c *GatewayClient) CreateCustomer(ctx context.Context, in CustomerInput) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]any{"name": in.Name, "email": in.Email, "fail_existing": "0"}
	if err := c.api.Do(ctx, transport.Call{
		Operation: "gateway.create_customer",
		Method:    http.MethodPost,
		Path:      "/v1/customers",
		Bucket:    "customers",
		Body:      body,
	}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *GatewayClient) CreateSubscription(ctx context.Context, in SubscriptionInput) (GatewaySubscription, error) {
	if in.TotalCount <= 0 {
		in.TotalCount = defaultTotalCount
	}
	var out GatewaySubscription
	err := c.api.Do(ctx, transport.Call{
		Operation:   "gateway.create_subscription",
		Method:      http.MethodPost,
		Path:        "/v1/subscriptions",
		Bucket:      "subscriptions",
		Body:        in,
		Idempotency: in.Notes["subscription_id"],
	}, &out)
	return out, err
}

func (c *GatewayClient) CancelSubscription(ctx context.Context, gatewaySubscriptionID string) error {
	id := strings.TrimSpace(gatewaySubscriptionID)
	return c.api.Do(ctx, transport.Call{
		Operation: "gateway.cancel_subscription",
		Method:    http.MethodPost,
		Path:      "/v1/subscriptions/" + url.PathEscape(id) + "/cancel",
		Bucket:    "subscriptions",
		Entity:    "gateway_subscription",
		EntityID:  id,
		Body:      map[string]any{"cancel_at_cycle_end": 0},
	}, nil)
}

func (c *GatewayClient) CreateOrder(ctx context.Context, in OrderInput) (GatewayOrder, error) {
	in.Capture = 1
	var out GatewayOrder
	err := c.api.Do(ctx, transport.Call{
		Operation:   "gateway.create_order",
		Method:      http.MethodPost,
		Path:        "/v1/orders",
		Bucket:      "orders",
		Body:        in,
		Idempotency: in.Receipt,
	}, &out)
	return out, err
}

var _ Gateway = (*GatewayClient)(nil)
