package foodpanda

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storewatch/internal/monitor"
	"github.com/JakeFAU/storewatch/internal/probe"
)

const storefront = `<html><head><title>Jollibee - Makati | foodpanda</title>
<script type="application/ld+json">{"@type":"Restaurant","name":"Jollibee Makati","aggregateRating":{"ratingValue":4.8,"ratingCount":532}}</script>
</head><body>
<script>window.__STATE__={"vendor":{"is_active":true,"is_temporarily_closed":false}}</script>
<ul>
 <li data-testid="menu-product"><span data-testid="menu-product-name">Chickenjoy Bucket (6 pcs)</span><span data-testid="menu-product-price">₱ 1,049.00</span></li>
 <li data-testid="menu-product" class="sold-out"><span data-testid="menu-product-name">Peach Mango Pie</span><span data-testid="menu-product-price">₱ 45</span></li>
</ul></body></html>`

type fakeRenderer struct {
	calls atomic.Int32
	doc   monitor.Document
	err   error
	ua    atomic.Value
}

func (f *fakeRenderer) Render(_ context.Context, url, userAgent string) (monitor.Document, error) {
	f.calls.Add(1)
	f.ua.Store(userAgent)
	doc := f.doc
	doc.URL = url
	return doc, f.err
}

func newClient() *probe.Client {
	return probe.NewClient(probe.Client{
		Fetcher:    probe.NewHTTPFetcher(probe.FetcherConfig{Timeout: 2 * time.Second}),
		Identities: probe.NewIdentityPool([]string{"test-agent"}),
		Retry:      probe.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
	})
}

func TestParseStorefront(t *testing.T) {
	t.Parallel()

	data, err := Parse([]byte(storefront))
	require.NoError(t, err)
	require.Equal(t, "Jollibee Makati", data.Name)
	require.True(t, data.HasRating)
	require.Equal(t, monitor.MerchantStateActive, data.State)
	require.Nil(t, data.Closed)
	require.Len(t, data.Products, 2)
	require.True(t, data.Products[0].Available)
	require.InDelta(t, 1049.0, *data.Products[0].Price, 0.001)
	require.False(t, data.Products[1].Available)
	require.Equal(t, "dom", data.Products[1].DetectionMethod)
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	data, err := Parse([]byte(`<script>window.__STATE__ = {"vendor": {"isTemporaryClosed": true, "is_active": false}};</script>`))
	require.NoError(t, err)
	require.NotNil(t, data.Closed)
	require.True(t, *data.Closed)
	require.Equal(t, monitor.MerchantStateInactive, data.State)
	require.False(t, data.HasRating)
	require.Empty(t, data.Products)
}

func TestParseReadsOnlyVendorFlags(t *testing.T) {
	t.Parallel()

	page := `<html><head>
<script type="application/ld+json">{"@type":"Restaurant","name":"Jollibee Makati"}</script>
</head><body>
<script>window.__STATE__={"vendor":{"is_active":true,"is_temporarily_closed":false,
 "schedules":[{"weekday":1,"is_closed":true}],
 "menus":[{"products":[{"name":"Peach Mango Pie","is_active":false}]}]},
 "recommended":[{"name":"Other Store","is_active":false,"is_closed":true}]}</script>
<button>Add to cart</button>
</body></html>`
	data, err := Parse([]byte(page))
	require.NoError(t, err)
	require.Equal(t, "Jollibee Makati", data.Name)
	require.Equal(t, monitor.MerchantStateActive, data.State)
	require.Nil(t, data.Closed)
}

func TestParseNextDataVendor(t *testing.T) {
	t.Parallel()

	page := `<script id="__NEXT_DATA__" type="application/json">` +
		`{"props":{"pageProps":{"vendor":{"data":{"isActive":false}}}}}</script>`
	data, err := Parse([]byte(page))
	require.NoError(t, err)
	require.Equal(t, monitor.MerchantStateInactive, data.State)
	require.Nil(t, data.Closed)
}

func TestParseIgnoresFlagsOutsideVendor(t *testing.T) {
	t.Parallel()

	data, err := Parse([]byte(`<script>{"products":[{"is_active":false,"is_closed":true}]}</script>`))
	require.NoError(t, err)
	require.Empty(t, data.State)
	require.Nil(t, data.Closed)
}

func TestProbeUsesRenderer(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{doc: monitor.Document{StatusCode: http.StatusOK, HTML: storefront}}
	p := New(newClient(), r, nil)
	res, err := p.Probe(context.Background(), monitor.Target{ID: "t1", URL: "https://www.foodpanda.ph/restaurant/abcd/jollibee"})
	require.NoError(t, err)
	require.True(t, res.Rendered)
	require.Equal(t, int32(1), r.calls.Load())
	require.Equal(t, "test-agent", r.ua.Load())
	require.NotNil(t, res.Data)
	require.Len(t, res.Data.Products, 2)
}

func TestProbeRenderFailureIsRenderError(t *testing.T) {
	t.Parallel()

	r := &fakeRenderer{err: errors.New("chrome crashed")}
	p := New(newClient(), r, nil)
	_, err := p.Probe(context.Background(), monitor.Target{ID: "t1", URL: "https://www.foodpanda.ph/restaurant/abcd/x"})
	var te *monitor.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, monitor.ReasonRender, te.Reason)
	require.Equal(t, int32(1), r.calls.Load())
}

func TestProbeWithoutRendererFetchesPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(storefront))
	}))
	defer srv.Close()

	p := New(newClient(), nil, nil)
	res, err := p.Probe(context.Background(), monitor.Target{ID: "t1", URL: srv.URL + "/restaurant/abcd/jollibee"})
	require.NoError(t, err)
	require.False(t, res.Rendered)
	require.Equal(t, http.StatusOK, res.HTTPStatus)
	require.Equal(t, "Jollibee Makati", res.Data.Name)
}

func TestProbeForbiddenReturnsImmediately(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := New(newClient(), nil, nil)
	res, err := p.Probe(context.Background(), monitor.Target{ID: "t1", URL: srv.URL + "/restaurant/abcd/x"})
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, res.HTTPStatus)
	require.Nil(t, res.Data)
	require.Equal(t, int32(1), hits.Load())
}
