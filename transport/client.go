package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-reconciler/core"
)

// Auth decorates outgoing provider requests with credentials.
type Auth interface {
	Apply(headers map[string]string)
}

type BearerAuth struct {
	Token string
}

func (a BearerAuth) Apply(headers map[string]string) {
	if token := strings.TrimSpace(a.Token); token != "" {
		headers["Authorization"] = "Bearer " + token
	}
}

type BasicAuth struct {
	Username string
	Password string
}

func (a BasicAuth) Apply(headers map[string]string) {
	if strings.TrimSpace(a.Username) == "" {
		return
	}
	raw := strings.TrimSpace(a.Username) + ":" + strings.TrimSpace(a.Password)
	headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// Call describes one JSON request against a provider API.
type Call struct {
	Operation   string
	Method      string
	Path        string
	Bucket      string
	Entity      string
	EntityID    string
	Body        any
	Idempotency string
}

// JSONClient speaks JSON to one provider through an adapter and keeps the
// provider's rate limit window in Limiter.
type JSONClient struct {
	ProviderID string
	BaseURL    string
	Adapter    core.TransportAdapter
	Auth       Auth
	Limiter    core.RateLimitPolicy
	Timeout    time.Duration
}

func (c *JSONClient) Do(ctx context.Context, call Call, out any) error {
	if c == nil || c.Adapter == nil {
		return fmt.Errorf("transport: json client requires an adapter")
	}
	key := core.RateLimitKey{ProviderID: c.ProviderID, BucketKey: call.Bucket}
	if c.Limiter != nil {
		if err := c.Limiter.BeforeCall(ctx, key); err != nil {
			return err
		}
	}

	headers := map[string]string{"Accept": "application/json"}
	var body []byte
	if call.Body != nil {
		encoded, err := json.Marshal(call.Body)
		if err != nil {
			return fmt.Errorf("transport: encode %s request: %w", call.Operation, err)
		}
		body = encoded
		headers["Content-Type"] = "application/json"
	}
	if c.Auth != nil {
		c.Auth.Apply(headers)
	}

	res, err := c.Adapter.Do(ctx, core.TransportRequest{
		Method:      call.Method,
		URL:         strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(call.Path, "/"),
		Headers:     headers,
		Body:        body,
		Timeout:     c.Timeout,
		Idempotency: call.Idempotency,
	})
	if err != nil {
		return err
	}
	if c.Limiter != nil {
		if err := c.Limiter.AfterCall(ctx, key, core.ProviderResponseMeta{
			StatusCode: res.StatusCode,
			Headers:    res.Headers,
		}); err != nil {
			return err
		}
	}
	if err := StatusError(call.Operation, call.Entity, call.EntityID, res); err != nil {
		return err
	}
	if out == nil || len(res.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Body, out); err != nil {
		return core.ExternalCallFailure(call.Operation, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// Get is a shorthand for a GET call.
func (c *JSONClient) Get(ctx context.Context, call Call, out any) error {
	call.Method = http.MethodGet
	return c.Do(ctx, call, out)
}
