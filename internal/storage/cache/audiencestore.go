// Package cache adds a Redis read-aside layer in front of an audience store.
package cache

import (
	"context"
	"time"

	"github.com/tinywideclouds/go-alert-dispatcher/pkg/dispatch"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns ErrCacheMiss (or any error) when the value is unavailable.
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// CachedAudienceStore is a decorator that adds read-aside caching to any AudienceRegistrar.
type CachedAudienceStore struct {
	realStore dispatch.AudienceRegistrar
	cache     CacheClient
	ttl       time.Duration
}

var _ dispatch.AudienceRegistrar = (*CachedAudienceStore)(nil)

func NewCachedAudienceStore(realStore dispatch.AudienceRegistrar, cache CacheClient, ttl time.Duration) *CachedAudienceStore {
	return &CachedAudienceStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// ListAudience serves from cache when possible. Cache failures fall through to the store.
func (s *CachedAudienceStore) ListAudience(ctx context.Context, platform string) ([]string, error) {
	key := CacheKey(platform)

	var cached []string
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.realStore.ListAudience(ctx, platform)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		fresh = []string{}
	}

	// Best effort: a failed Set only costs the next read a store query.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)
	return fresh, nil
}

func (s *CachedAudienceStore) RegisterAudience(ctx context.Context, a dispatch.RegisteredAudience) error {
	if err := s.realStore.RegisterAudience(ctx, a); err != nil {
		return err
	}
	return s.cache.Del(ctx, CacheKey(a.PlatformID))
}

func (s *CachedAudienceStore) UnregisterAudience(ctx context.Context, a dispatch.RegisteredAudience) error {
	if err := s.realStore.UnregisterAudience(ctx, a); err != nil {
		return err
	}
	return s.cache.Del(ctx, CacheKey(a.PlatformID))
}

// CacheKey is the Redis key holding a platform's audience.
func CacheKey(platform string) string {
	return "alerts:audience:" + platform
}
