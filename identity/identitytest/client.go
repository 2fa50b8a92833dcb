// Package identitytest provides an in-memory identity provider for tests.
package identitytest

import (
	"context"
	"strings"
	"sync"

	"github.com/goliatone/go-reconciler/core"
)

// Client stores provider users in memory and counts metadata writes.
type Client struct {
	mu          sync.Mutex
	users       map[string]core.ProviderUser
	writes      int
	FailUpdates int
	FailErr     error
}

func NewClient(users ...core.ProviderUser) *Client {
	c := &Client{users: map[string]core.ProviderUser{}}
	for _, user := range users {
		c.Put(user)
	}
	return c
}

func (c *Client) Put(user core.ProviderUser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[strings.TrimSpace(user.ID)] = cloneUser(user)
}

func (c *Client) GetUser(_ context.Context, id string) (core.ProviderUser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	user, ok := c.users[strings.TrimSpace(id)]
	if !ok {
		return core.ProviderUser{}, core.NotFound("identity_user", id)
	}
	return cloneUser(user), nil
}

func (c *Client) UpdateMetadata(_ context.Context, id string, publicMetadata map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailUpdates > 0 {
		c.FailUpdates--
		if c.FailErr != nil {
			return c.FailErr
		}
		return core.ExternalCallFailure("identity.update_metadata", nil)
	}
	user, ok := c.users[strings.TrimSpace(id)]
	if !ok {
		return core.NotFound("identity_user", id)
	}
	user.PublicMetadata = cloneMetadata(publicMetadata)
	c.users[user.ID] = user
	c.writes++
	return nil
}

// Writes returns the number of successful metadata updates.
func (c *Client) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *Client) Metadata(id string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneMetadata(c.users[strings.TrimSpace(id)].PublicMetadata)
}

func cloneUser(user core.ProviderUser) core.ProviderUser {
	user.PublicMetadata = cloneMetadata(user.PublicMetadata)
	return user
}

func cloneMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		out[key] = value
	}
	return out
}

var _ core.IdentityProviderClient = (*Client)(nil)
