package auth

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const permissionCacheSize = 256

// PermissionResolver turns a role ID into its PermissionSet. With a positive
// cache TTL results are memoized per role; role edits must call Invalidate.
type PermissionResolver struct {
	store Store
	cache *expirable.LRU[string, PermissionSet]
}

// NewPermissionResolver constructs a resolver. cacheTTL <= 0 disables caching.
func NewPermissionResolver(store Store, cacheTTL time.Duration) *PermissionResolver {
	r := &PermissionResolver{store: store}
	if cacheTTL > 0 {
		r.cache = expirable.NewLRU[string, PermissionSet](permissionCacheSize, nil, cacheTTL)
	}
	return r
}

// Resolve returns the union of permissions granted to roleID. A role holding
// ALL:CREATE resolves to the wildcard set.
func (r *PermissionResolver) Resolve(ctx context.Context, roleID string) (PermissionSet, error) {
	if r.cache != nil {
		if set, ok := r.cache.Get(roleID); ok {
			return set, nil
		}
	}
	perms, err := r.store.Roles(ctx).PermissionsForRole(ctx, roleID)
	if err != nil {
		return PermissionSet{}, err
	}
	set := NewPermissionSet(perms...)
	if r.cache != nil {
		r.cache.Add(roleID, set)
	}
	return set, nil
}

// Invalidate drops the cached set for roleID.
func (r *PermissionResolver) Invalidate(roleID string) {
	if r.cache != nil {
		r.cache.Remove(roleID)
	}
}

// InvalidateAll empties the cache.
func (r *PermissionResolver) InvalidateAll() {
	if r.cache != nil {
		r.cache.Purge()
	}
}
