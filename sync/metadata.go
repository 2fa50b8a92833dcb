// Package sync mirrors the local status label of a user into the identity
// provider's public metadata.
package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-reconciler/core"
)

const MetadataRoleKey = "role"

// MetadataSyncer writes the label only when the provider holds a different
// one, so repeated syncs of an unchanged user make no writes.
type MetadataSyncer struct {
	Stores core.StoreProvider
	Roles  core.RoleStore
	Client core.IdentityProviderClient
	Retry  core.RetryExecutor
	Logger core.Logger
}

func NewMetadataSyncer(stores core.StoreProvider, client core.IdentityProviderClient, retry core.RetryExecutor, logger core.Logger) *MetadataSyncer {
	if logger == nil {
		logger = glog.Nop()
	}
	var roles core.RoleStore
	if stores != nil {
		roles = stores.RoleStore()
	}
	return &MetadataSyncer{
		Stores: stores,
		Roles:  roles,
		Client: client,
		Retry:  retry,
		Logger: logger,
	}
}

// Label returns "<role>" or "<role>_paid". The role is the user's role in
// their current company, or the user's own role without a membership.
func (s *MetadataSyncer) Label(ctx context.Context, userID string) (string, error) {
	if s == nil || s.Stores == nil {
		return "", fmt.Errorf("sync: metadata syncer requires stores")
	}
	user, err := s.Stores.UserStore().Get(ctx, userID)
	if err != nil {
		return "", err
	}

	roleID := user.RoleID
	if user.CompanyID != "" {
		membership, err := s.Stores.MembershipStore().Get(ctx, user.ID, user.CompanyID)
		switch {
		case err == nil:
			roleID = membership.RoleID
		case !core.IsNotFound(err):
			return "", err
		}
	}

	roleName := core.DefaultUserRole
	if roleID != "" {
		roles := s.Roles
		if roles == nil {
			roles = s.Stores.RoleStore()
		}
		role, err := roles.Get(ctx, roleID)
		if err != nil {
			return "", err
		}
		roleName = role.Name
	}
	return core.MetadataLabel(roleName, user.Paid), nil
}

// Sync reports whether it wrote to the provider.
func (s *MetadataSyncer) Sync(ctx context.Context, userID string) (bool, error) {
	if s == nil || s.Client == nil {
		return false, fmt.Errorf("sync: metadata syncer requires an identity client")
	}
	userID = strings.TrimSpace(userID)
	label, err := s.Label(ctx, userID)
	if err != nil {
		return false, err
	}

	written := false
	err = s.Retry.Do(ctx, func(ctx context.Context) error {
		remote, err := s.Client.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if current, _ := remote.PublicMetadata[MetadataRoleKey].(string); current == label {
			return nil
		}
		merged := make(map[string]any, len(remote.PublicMetadata)+1)
		for key, value := range remote.PublicMetadata {
			merged[key] = value
		}
		merged[MetadataRoleKey] = label
		if err := s.Client.UpdateMetadata(ctx, userID, merged); err != nil {
			return err
		}
		written = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return written, nil
}

// SyncBestEffort logs failures instead of returning them.
func (s *MetadataSyncer) SyncBestEffort(ctx context.Context, userID string) {
	startedAt := time.Now()
	written, err := s.Sync(ctx, userID)
	if err != nil {
		s.logger().Error("metadata sync failed",
			"user_id", userID,
			"duration_ms", time.Since(startedAt).Milliseconds(),
			"error", err,
		)
		return
	}
	s.logger().Debug("metadata sync finished", "user_id", userID, "written", written)
}

func (s *MetadataSyncer) logger() core.Logger {
	if s == nil || s.Logger == nil {
		return glog.Nop()
	}
	return s.Logger
}

var _ core.MetadataSyncer = (*MetadataSyncer)(nil)
