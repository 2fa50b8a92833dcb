package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-reconciler/core"
)

const roleCacheKeyPrefix = "go-reconciler::role::v1"

// CachedRoleStore serves role reads from go-repository-cache. Role rows are
// never renamed, so entries are only dropped by TTL.
type CachedRoleStore struct {
	base  core.RoleStore
	cache repositorycache.CacheService
}

func NewCachedRoleStore(base core.RoleStore, cacheService repositorycache.CacheService) (*CachedRoleStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base role store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: role cache service is required")
	}
	return &CachedRoleStore{base: base, cache: cacheService}, nil
}

// RoleCacheKey returns go-reconciler::role::v1::<by>::<value> with the value
// URL-path escaped.
func RoleCacheKey(by string, value string) string {
	return strings.Join([]string{
		roleCacheKeyPrefix,
		url.PathEscape(strings.TrimSpace(by)),
		url.PathEscape(strings.TrimSpace(value)),
	}, "::")
}

func (s *CachedRoleStore) Get(ctx context.Context, id string) (core.Role, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Role{}, fmt.Errorf("sqlstore: cached role store is not configured")
	}
	id = strings.TrimSpace(id)
	return repositorycache.GetOrFetch(ctx, s.cache, RoleCacheKey("id", id), func(ctx context.Context) (core.Role, error) {
		return s.base.Get(ctx, id)
	})
}

func (s *CachedRoleStore) GetByName(ctx context.Context, name string) (core.Role, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Role{}, fmt.Errorf("sqlstore: cached role store is not configured")
	}
	name = normalizeRoleName(name)
	return repositorycache.GetOrFetch(ctx, s.cache, RoleCacheKey("name", name), func(ctx context.Context) (core.Role, error) {
		return s.base.GetByName(ctx, name)
	})
}

func (s *CachedRoleStore) Ensure(ctx context.Context, name string) (core.Role, bool, error) {
	if s == nil || s.base == nil {
		return core.Role{}, false, fmt.Errorf("sqlstore: cached role store is not configured")
	}
	return s.base.Ensure(ctx, name)
}

// NewRoleCacheService builds the cache service with the library defaults.
func NewRoleCacheService() (repositorycache.CacheService, error) {
	return repositorycache.NewCacheService(repositorycache.DefaultConfig())
}
