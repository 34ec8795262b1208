package approver

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/crmflow/crmflow/core"
)

// CachedDirectory wraps a Directory with a TTL cache. Step activations come
// in bursts (one record update can start several runs) and management chains
// change rarely, so short-lived caching keeps the org graph out of the hot
// path. Errors are never cached.
type CachedDirectory struct {
	inner Directory

	users *ttlcache.Cache[string, string]
	roles *ttlcache.Cache[string, []string]
}

var _ Directory = (*CachedDirectory)(nil)

// NewCachedDirectory wraps the given directory. ttl bounds staleness; a zero
// ttl defaults to thirty seconds.
func NewCachedDirectory(inner Directory, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	d := &CachedDirectory{
		inner: inner,
		users: ttlcache.New(ttlcache.WithTTL[string, string](ttl)),
		roles: ttlcache.New(ttlcache.WithTTL[string, []string](ttl)),
	}

	go d.users.Start()
	go d.roles.Start()

	return d
}

// Stop stops the cache janitors.
func (d *CachedDirectory) Stop() {
	d.users.Stop()
	d.roles.Stop()
}

func (d *CachedDirectory) OwnerOf(ctx context.Context, ref core.RecordRef) (string, error) {
	return d.cachedUser(fmt.Sprintf("owner:%s:%s", ref.EntityType, ref.ID), func() (string, error) {
		return d.inner.OwnerOf(ctx, ref)
	})
}

func (d *CachedDirectory) ManagerOf(ctx context.Context, userID string) (string, error) {
	return d.cachedUser("manager:"+userID, func() (string, error) {
		return d.inner.ManagerOf(ctx, userID)
	})
}

func (d *CachedDirectory) PodManagerOf(ctx context.Context, ref core.RecordRef) (string, error) {
	return d.cachedUser(fmt.Sprintf("pod:%s:%s", ref.EntityType, ref.ID), func() (string, error) {
		return d.inner.PodManagerOf(ctx, ref)
	})
}

func (d *CachedDirectory) UsersInRole(ctx context.Context, role string) ([]string, error) {
	if item := d.roles.Get(role); item != nil {
		return item.Value(), nil
	}

	users, err := d.inner.UsersInRole(ctx, role)
	if err != nil {
		return nil, err
	}

	d.roles.Set(role, users, ttlcache.DefaultTTL)

	return users, nil
}

func (d *CachedDirectory) cachedUser(key string, lookup func() (string, error)) (string, error) {
	if item := d.users.Get(key); item != nil {
		return item.Value(), nil
	}

	userID, err := lookup()
	if err != nil {
		return "", err
	}

	d.users.Set(key, userID, ttlcache.DefaultTTL)

	return userID, nil
}
