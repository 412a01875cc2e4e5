// Package foodpanda probes Foodpanda storefronts. The storefront content is
// only complete after client-side rendering, so a Renderer is used when one
// is configured and a plain GET otherwise.
package foodpanda

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storewatch/internal/monitor"
	"github.com/JakeFAU/storewatch/internal/probe"
)

// Prober implements monitor.Prober for Foodpanda.
type Prober struct {
	client   *probe.Client
	renderer monitor.Renderer
	logger   *zap.Logger
}

// New builds a Foodpanda prober. renderer may be nil.
func New(client *probe.Client, renderer monitor.Renderer, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{client: client, renderer: renderer, logger: logger.Named("foodpanda")}
}

// Probe fetches the storefront document.
func (p *Prober) Probe(ctx context.Context, target monitor.Target) (monitor.ProbeResult, error) {
	base := monitor.ProbeResult{TargetID: target.ID, URL: target.URL}
	return probe.Retry(ctx, p.client.Retry, func(ctx context.Context, attempt int) (monitor.ProbeResult, error) {
		res := base
		res.FetchedAt = p.client.Now()
		var err error
		if p.renderer != nil {
			err = p.render(ctx, target, &res)
		} else {
			err = p.fetch(ctx, target, &res)
		}
		if err != nil {
			p.logger.Debug("attempt failed",
				zap.String("target_id", target.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return res, err
		}
		if err := probe.StatusError(target.URL, res.HTTPStatus); err != nil {
			return res, err
		}
		if res.HTTPStatus != 0 && !probe.IsSuccess(res.HTTPStatus) {
			return res, nil
		}
		data, err := Parse(res.Body)
		if err != nil {
			return res, err
		}
		res.Data = data
		return res, nil
	})
}

func (p *Prober) fetch(ctx context.Context, target monitor.Target, res *monitor.ProbeResult) error {
	resp, err := p.client.Get(ctx, monitor.PlatformFoodpanda, target.URL, "text/html,application/xhtml+xml")
	if err != nil {
		return err
	}
	probe.Fill(res, resp)
	return nil
}

func (p *Prober) render(ctx context.Context, target monitor.Target, res *monitor.ProbeResult) error {
	identity, err := p.client.Prepare(ctx, monitor.PlatformFoodpanda, target.URL)
	if err != nil {
		return err
	}
	start := time.Now()
	doc, err := p.renderer.Render(ctx, target.URL, identity.UserAgent)
	res.Latency = time.Since(start)
	if err != nil {
		return renderError(target.URL, err)
	}
	res.Rendered = true
	res.HTTPStatus = doc.StatusCode
	res.Body = []byte(doc.HTML)
	return nil
}

func renderError(url string, err error) error {
	var te *monitor.TransportError
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return probe.AsTransportError(url, err)
	}
	return &monitor.TransportError{Reason: monitor.ReasonRender, URL: url, Err: err}
}
