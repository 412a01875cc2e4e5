// Package grabfood probes GrabFood storefronts through the merchant data
// endpoint instead of the rendered page.
package grabfood

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/storewatch/internal/monitor"
	"github.com/JakeFAU/storewatch/internal/probe"
)

// DefaultEndpoint is the public merchant data endpoint. {merchant_id} is
// replaced with the identifier from the storefront URL.
const DefaultEndpoint = "https://portal.grab.com/foodweb/v2/merchants/{merchant_id}"

var merchantIDPattern = regexp.MustCompile(`/restaurant/[^/]+/([0-9A-Za-z-]+)`)

// ExtractMerchantID pulls the merchant identifier out of a storefront URL.
func ExtractMerchantID(url string) (string, bool) {
	m := merchantIDPattern.FindStringSubmatch(url)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Prober implements monitor.Prober for GrabFood.
type Prober struct {
	client   *probe.Client
	endpoint string
	logger   *zap.Logger
}

// New builds a GrabFood prober. An empty endpoint uses DefaultEndpoint.
func New(client *probe.Client, endpoint string, logger *zap.Logger) *Prober {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{client: client, endpoint: endpoint, logger: logger.Named("grabfood")}
}

// EndpointFor returns the data endpoint for a merchant id.
func (p *Prober) EndpointFor(merchantID string) string {
	return strings.ReplaceAll(p.endpoint, "{merchant_id}", merchantID)
}

// Probe fetches merchant data for the target. Targets without a merchant id
// fail immediately with NO_IDENTIFIER.
func (p *Prober) Probe(ctx context.Context, target monitor.Target) (monitor.ProbeResult, error) {
	base := monitor.ProbeResult{TargetID: target.ID, URL: target.URL, FetchedAt: p.client.Now()}
	merchantID, ok := ExtractMerchantID(target.URL)
	if !ok {
		return base, &monitor.TransportError{Reason: monitor.ReasonNoIdentifier, URL: target.URL}
	}
	endpoint := p.EndpointFor(merchantID)

	return probe.Retry(ctx, p.client.Retry, func(ctx context.Context, attempt int) (monitor.ProbeResult, error) {
		res := base
		res.FetchedAt = p.client.Now()
		resp, err := p.client.Get(ctx, monitor.PlatformGrabFood, endpoint, "application/json")
		if err != nil {
			p.logger.Debug("attempt failed",
				zap.String("target_id", target.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return res, err
		}
		probe.Fill(&res, resp)
		if err := probe.StatusError(endpoint, resp.StatusCode); err != nil {
			return res, err
		}
		if !probe.IsSuccess(resp.StatusCode) {
			return res, nil
		}
		data, err := Parse(resp.Body)
		if err != nil {
			return res, err
		}
		res.Data = data
		return res, nil
	})
}
