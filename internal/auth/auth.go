// Package auth wraps the credential provider collaborator of spec §1/§9
// ("getToken(force, cancel) -> string") with the caching and single-flight
// de-duplication spec §5 requires of token acquisition, plus the driver's
// periodic background refresh loop (spec §4.4).
package auth

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ydb-platform/ydb-go-topic/internal/errs"
)

// Provider is the minimal credential provider contract (spec §9): callers
// never see caching/single-flight — that is this package's job.
type Provider interface {
	GetToken(ctx context.Context, force bool) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, force bool) (string, error)

func (f ProviderFunc) GetToken(ctx context.Context, force bool) (string, error) {
	return f(ctx, force)
}

const cacheKey = "token"

// CachedProvider caches the provider's token until expiry and de-duplicates
// concurrent refreshes via singleflight, per spec §5 ("Token cache: guarded
// by mutex with single-flight getToken de-duplication").
type CachedProvider struct {
	inner   Provider
	ttl     time.Duration
	timeout time.Duration

	cache *lru.Cache[string, cachedToken]
	group singleflight.Group
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// New wraps inner with a cache whose entries live for ttl and whose fetch
// deadline is bounded by tokenTimeout (spec §6's ydb.sdk.token_timeout_ms).
func New(inner Provider, ttl, tokenTimeout time.Duration) *CachedProvider {
	cache, _ := lru.New[string, cachedToken](1)
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if tokenTimeout <= 0 {
		tokenTimeout = 10 * time.Second
	}
	return &CachedProvider{inner: inner, ttl: ttl, timeout: tokenTimeout, cache: cache}
}

// GetToken returns the cached token unless force is set or the cache is
// stale/empty, in which case it fetches a fresh one. Concurrent callers
// during a refresh share the single in-flight fetch.
func (p *CachedProvider) GetToken(ctx context.Context, force bool) (string, error) {
	if !force {
		if tok, ok := p.cache.Get(cacheKey); ok && time.Now().Before(tok.expiresAt) {
			return tok.token, nil
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	v, err, _ := p.group.Do(cacheKey, func() (any, error) {
		tok, err := p.inner.GetToken(fetchCtx, force)
		if err != nil {
			return "", err
		}
		p.cache.Add(cacheKey, cachedToken{token: tok, expiresAt: time.Now().Add(p.ttl)})
		return tok, nil
	})
	if err != nil {
		if fetchCtx.Err() != nil {
			return "", errs.Cancelled()
		}
		return "", err
	}
	return v.(string), nil
}

// RefreshLoop periodically force-refreshes the token until ctx is
// cancelled, the background loop spec §4.4 describes
// ("ydb.sdk.discovery_interval_ms"-style periodic refresh, default 60s for
// tokens per spec §6's updateTokenIntervalMs-equivalent driver setting).
func RefreshLoop(ctx context.Context, p *CachedProvider, interval time.Duration, onError func(error)) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.GetToken(ctx, true); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
