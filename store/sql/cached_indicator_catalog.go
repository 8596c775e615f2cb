package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-entitlements/core"
)

const indicatorCacheKeyPrefix = "go-entitlements::indicator::v1"

// CachedIndicatorCatalog fronts an IndicatorCatalog with go-repository-cache.
// The catalog changes rarely and is read on every grant and reconciliation.
type CachedIndicatorCatalog struct {
	base  core.IndicatorCatalog
	cache repositorycache.CacheService
}

func NewCachedIndicatorCatalog(
	base core.IndicatorCatalog,
	cacheService repositorycache.CacheService,
) (*CachedIndicatorCatalog, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base indicator catalog is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: indicator cache service is required")
	}
	return &CachedIndicatorCatalog{base: base, cache: cacheService}, nil
}

// IndicatorCacheKey returns go-entitlements::indicator::v1::<id> with the id
// URL-path escaped.
func IndicatorCacheKey(id string) string {
	return indicatorCacheKeyPrefix + "::" + url.PathEscape(strings.TrimSpace(id))
}

func activeIndicatorsCacheKey() string {
	return indicatorCacheKeyPrefix + "::active"
}

func (c *CachedIndicatorCatalog) GetIndicator(ctx context.Context, id string) (core.Indicator, error) {
	if c == nil || c.base == nil || c.cache == nil {
		return core.Indicator{}, fmt.Errorf("sqlstore: cached indicator catalog is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	return repositorycache.GetOrFetch(ctx, c.cache, IndicatorCacheKey(trimmedID), func(ctx context.Context) (core.Indicator, error) {
		return c.base.GetIndicator(ctx, trimmedID)
	})
}

func (c *CachedIndicatorCatalog) ListActiveIndicators(ctx context.Context) ([]core.Indicator, error) {
	if c == nil || c.base == nil || c.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached indicator catalog is not configured")
	}
	indicators, err := repositorycache.GetOrFetch(ctx, c.cache, activeIndicatorsCacheKey(), func(ctx context.Context) ([]core.Indicator, error) {
		return c.base.ListActiveIndicators(ctx)
	})
	if err != nil {
		return nil, err
	}
	return append([]core.Indicator(nil), indicators...), nil
}

// Invalidate drops cached entries for the given ids and the active listing.
func (c *CachedIndicatorCatalog) Invalidate(ctx context.Context, ids ...string) error {
	if c == nil || c.cache == nil {
		return fmt.Errorf("sqlstore: cached indicator catalog is not configured")
	}
	for _, id := range ids {
		if err := c.cache.Delete(ctx, IndicatorCacheKey(id)); err != nil {
			return err
		}
	}
	return c.cache.Delete(ctx, activeIndicatorsCacheKey())
}

var _ core.IndicatorCatalog = (*CachedIndicatorCatalog)(nil)
