package identity

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
	defaultAPIURL         = "https://api.clerk.com"
	defaultRequestTimeout = 10 * time.Second
)

// Client talks to the identity provider's backend API.
type Client struct {
	api *transport.JSONClient
}

func NewClient(cfg core.IdentityConfig, adapter core.TransportAdapter, limiter core.RateLimitPolicy) *Client {
	if adapter == nil {
		adapter = transport.NewRESTAdapter(nil)
	}
	baseURL := strings.TrimSpace(cfg.APIURL)
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	return &Client{
		api: &transport.JSONClient{
			ProviderID: core.ProviderIdentity,
			BaseURL:    baseURL,
			Adapter:    adapter,
			Auth:       transport.BearerAuth{Token: cfg.APIKey},
			Limiter:    limiter,
			Timeout:    defaultRequestTimeout,
		},
	}
}

func (c *Client) GetUser(ctx context.Context, id string) (core.ProviderUser, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return core.ProviderUser{}, core.BadInput("identity: user id is required", nil)
	}
	var payload UserData
	err := c.api.Get(ctx, transport.Call{
		Operation: "identity.get_user",
		Path:      "/v1/users/" + url.PathEscape(id),
		Bucket:    "users",
		Entity:    "identity_user",
		EntityID:  id,
	}, &payload)
	if err != nil {
		return core.ProviderUser{}, err
	}
	return payload.ProviderUser(), nil
}

// UpdateMetadata replaces the user's public metadata.
func (c *Client) UpdateMetadata(ctx context.Context, id string, publicMetadata map[string]any) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return core.BadInput("identity: user id is required", nil)
	}
	return c.api.Do(ctx, transport.Call{
		Operation: "identity.update_metadata",
		Method:    http.MethodPatch,
		Path:      "/v1/users/" + url.PathEscape(id) + "/metadata",
		Bucket:    "users.metadata",
		Entity:    "identity_user",
		EntityID:  id,
		Body:      map[string]any{"public_metadata": publicMetadata},
	}, nil)
}

var _ core.IdentityProviderClient = (*Client)(nil)
