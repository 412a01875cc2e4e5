package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/storewatch/internal/monitor"
)

// FetcherConfig controls collector behavior.
type FetcherConfig struct {
	Timeout   time.Duration
	Transport http.RoundTripper
}

// Request is one HTTP GET issued by a prober.
type Request struct {
	URL      string
	Identity Identity
	Accept   string
}

// Response is the raw HTTP outcome of a Request.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// HTTPFetcher issues single GETs through a colly collector. Non-2xx responses
// are returned as responses, not errors; only transport failures error.
type HTTPFetcher struct {
	cfg           FetcherConfig
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// NewHTTPFetcher builds an HTTPFetcher.
func NewHTTPFetcher(cfg FetcherConfig) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)
	// The backend client is shared by clones, so the timeout is set once here.
	c.SetRequestTimeout(cfg.Timeout)
	return &HTTPFetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (Response, error) {
	var (
		result   Response
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(req)
	f.configureCollectorHooks(collector, req, start, &result, &fetchErr)

	if err := runCollector(ctx, collector, req.URL, &fetchErr); err != nil {
		return Response{}, AsTransportError(req.URL, err)
	}
	return result, nil
}

func (f *HTTPFetcher) buildCollector(req Request) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.IgnoreRobotsTxt = true
	if req.Identity.UserAgent != "" {
		collector.UserAgent = req.Identity.UserAgent
	}
	return collector
}

func (f *HTTPFetcher) configureCollectorHooks(
	hooks collectorHooks,
	req Request,
	start time.Time,
	result *Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range req.Identity.Headers() {
			for _, v := range values {
				r.Headers.Set(key, v)
			}
		}
		if req.Accept != "" {
			r.Headers.Set("Accept", req.Accept)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// AsTransportError maps a low level failure onto the transport taxonomy.
func AsTransportError(url string, err error) *monitor.TransportError {
	var te *monitor.TransportError
	if errors.As(err, &te) {
		return te
	}
	reason := monitor.ReasonConnection
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		reason = monitor.ReasonCanceled
	case errors.Is(err, context.DeadlineExceeded):
		reason = monitor.ReasonTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		reason = monitor.ReasonTimeout
	}
	return &monitor.TransportError{Reason: reason, URL: url, Err: err}
}

// StatusError converts a 5xx response into a retriable transport error.
// Everything else is left to the classifier.
func StatusError(url string, status int) error {
	if status >= http.StatusInternalServerError {
		return &monitor.TransportError{Reason: monitor.ReasonHTTPStatus, StatusCode: status, URL: url}
	}
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
