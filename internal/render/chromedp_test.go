package render

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}, nil); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	r, err := NewChromedp(Config{MaxParallel: 2}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Close()
	if cap(r.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(r.limiter))
	}
	if r.cfg.NavigationTimeout != 30*time.Second || r.cfg.Settle != 1500*time.Millisecond {
		t.Fatalf("unexpected defaults: %+v", r.cfg)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	r := &Chromedp{limiter: make(chan struct{}, 1)}
	if err := r.acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.acquire(ctx); err == nil {
		t.Fatal("expected acquire to fail while the slot is held")
	}
	r.release()
	if err := r.acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestResponseMetaKeepsFirstDocument(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://cdn/app.js"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://www.foodpanda.ph/restaurant/x"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://ads/frame"},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "")
	if status != http.StatusNotFound || url != "https://www.foodpanda.ph/restaurant/x" {
		t.Fatalf("unexpected snapshot: status=%d url=%s", status, url)
	}
}

func TestResponseMetaFallbacks(t *testing.T) {
	t.Parallel()

	status, url := newResponseMeta().snapshotWithFallbacks("https://req", "https://final")
	if status != http.StatusOK || url != "https://final" {
		t.Fatalf("expected fallback values, got status=%d url=%s", status, url)
	}
	_, url = newResponseMeta().snapshotWithFallbacks("https://req", "")
	if url != "https://req" {
		t.Fatalf("expected request url, got %s", url)
	}
}
