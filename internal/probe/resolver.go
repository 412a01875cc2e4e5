package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/storewatch/internal/cache"
)

// LinkResolver follows short-link redirects to the final storefront URL.
// Resolutions are memoised in an injected bounded cache.
type LinkResolver struct {
	client     *http.Client
	cache      *cache.TTL[string, string]
	identities *IdentityPool
}

// NewLinkResolver builds a resolver. A nil cache disables memoisation.
func NewLinkResolver(timeout time.Duration, c *cache.TTL[string, string], identities *IdentityPool) *LinkResolver {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if identities == nil {
		identities = NewIdentityPool(nil)
	}
	return &LinkResolver{
		client:     &http.Client{Timeout: timeout, Transport: newHTTPTransport()},
		cache:      c,
		identities: identities,
	}
}

// Resolve returns the URL the short link finally redirects to.
func (r *LinkResolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	if r.cache != nil {
		if final, ok := r.cache.Get(rawURL); ok {
			return final, nil
		}
	}
	final, err := r.follow(ctx, http.MethodHead, rawURL)
	if err != nil {
		final, err = r.follow(ctx, http.MethodGet, rawURL)
	}
	if err != nil {
		return "", err
	}
	if r.cache != nil {
		r.cache.Add(rawURL, final)
	}
	return final, nil
}

func (r *LinkResolver) follow(ctx context.Context, method, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build resolve request: %w", err)
	}
	id := r.identities.Next()
	req.Header.Set("User-Agent", id.UserAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return "", AsTransportError(rawURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck // body unused
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("resolve %s: status %d", rawURL, resp.StatusCode)
	}
	return resp.Request.URL.String(), nil
}
