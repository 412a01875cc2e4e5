// Package render drives headless Chrome to produce the final DOM of pages
// whose content only appears after client-side rendering.
package render

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/storewatch/internal/monitor"
)

// Config controls the headless renderer.
type Config struct {
	MaxParallel       int
	NavigationTimeout time.Duration
	Settle            time.Duration
	AcceptLanguage    string
}

// Chromedp implements monitor.Renderer with a shared browser allocator.
type Chromedp struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a renderer. The browser starts lazily on first use.
func NewChromedp(cfg Config, logger *zap.Logger) (*Chromedp, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 1500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Chromedp{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger.Named("render"),
	}, nil
}

// Close shuts the browser down.
func (r *Chromedp) Close() {
	r.allocCancel()
}

// Render navigates to url presenting userAgent and returns the settled DOM.
func (r *Chromedp) Render(ctx context.Context, url, userAgent string) (monitor.Document, error) {
	if err := r.acquire(ctx); err != nil {
		return monitor.Document{}, err
	}
	defer r.release()

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	// Tie the browser tab to the caller's deadline as well as our own.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.NavigationTimeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := r.run(taskCtx, url, userAgent)
	if err != nil {
		if ctx.Err() != nil {
			return monitor.Document{}, fmt.Errorf("render %s: %w", url, ctx.Err())
		}
		return monitor.Document{}, &monitor.TransportError{Reason: monitor.ReasonRender, URL: url, Err: err}
	}
	status, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	r.logger.Debug("rendered",
		zap.String("url", url),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(start)))

	return monitor.Document{URL: responseURL, StatusCode: status, HTML: html}, nil
}

func (r *Chromedp) run(ctx context.Context, url, userAgent string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		r.networkSetupAction(userAgent),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.Settle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (r *Chromedp) networkSetupAction(userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			override := emulation.SetUserAgentOverride(userAgent)
			if r.cfg.AcceptLanguage != "" {
				override = override.WithAcceptLanguage(r.cfg.AcceptLanguage)
			}
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Chromedp) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (r *Chromedp) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

// responseMeta records the status of the main document response.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Keep the first document response; later ones are iframes.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case finalURL != "":
		url = finalURL
	case url == "":
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
