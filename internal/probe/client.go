package probe

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storewatch/internal/clock/system"
	"github.com/JakeFAU/storewatch/internal/monitor"
)

// Fetcher performs a single HTTP GET.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// Client bundles the per-attempt plumbing every platform prober needs.
type Client struct {
	Fetcher    Fetcher
	Identities *IdentityPool
	Pacer      *Pacer
	Limiter    *Limiter
	Retry      RetryPolicy
	Clock      monitor.Clock
	Logger     *zap.Logger
}

// NewClient fills unset collaborators with working defaults.
func NewClient(c Client) *Client {
	if c.Fetcher == nil {
		c.Fetcher = NewHTTPFetcher(FetcherConfig{})
	}
	if c.Identities == nil {
		c.Identities = NewIdentityPool(nil)
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = DefaultRetryPolicy()
	}
	if c.Clock == nil {
		c.Clock = system.New()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return &c
}

// Prepare paces the attempt, waits for a platform token and returns the
// identity to present.
func (c *Client) Prepare(ctx context.Context, platform monitor.Platform, url string) (Identity, error) {
	if err := c.Pacer.Wait(ctx); err != nil {
		return Identity{}, AsTransportError(url, err)
	}
	if err := c.Limiter.Wait(ctx, platform); err != nil {
		return Identity{}, AsTransportError(url, err)
	}
	return c.Identities.Next(), nil
}

// Get runs one prepared GET.
func (c *Client) Get(ctx context.Context, platform monitor.Platform, url, accept string) (Response, error) {
	identity, err := c.Prepare(ctx, platform, url)
	if err != nil {
		return Response{}, err
	}
	resp, err := c.Fetcher.Fetch(ctx, Request{URL: url, Identity: identity, Accept: accept})
	if err != nil {
		c.Logger.Debug("fetch failed",
			zap.String("platform", string(platform)),
			zap.String("url", url),
			zap.Error(err))
		return resp, AsTransportError(url, err)
	}
	return resp, nil
}

// Now returns the client clock time.
func (c *Client) Now() time.Time {
	return c.Clock.Now()
}

// Fill copies a fetched response onto a probe result.
func Fill(res *monitor.ProbeResult, resp Response) {
	res.HTTPStatus = resp.StatusCode
	res.Headers = resp.Headers
	res.Body = resp.Body
	res.Latency = resp.Duration
}

// IsSuccess reports whether a status code carries a usable page.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}
