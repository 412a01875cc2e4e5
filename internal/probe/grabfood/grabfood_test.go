package grabfood

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

const activeMerchant = `{
  "merchant": {
    "ID": "2-C6XVLAJ",
    "name": "Jollibee - SM North",
    "status": "ACTIVE",
    "rating": 4.7,
    "voteCount": 1200,
    "openingHours": {"open": true},
    "menu": {"categories": [
      {"name": "Chickenjoy", "items": [
        {"name": "1-pc Chickenjoy", "priceInMinorUnit": 9900, "available": true},
        {"name": "Jolly Spaghetti", "priceInMinorUnit": 6000, "available": false}
      ]}
    ]}
  }
}`

func newClient() *probe.Client {
	return probe.NewClient(probe.Client{
		Fetcher: probe.NewHTTPFetcher(probe.FetcherConfig{Timeout: 2 * time.Second}),
		Retry:   probe.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
}

func TestExtractMerchantID(t *testing.T) {
	t.Parallel()

	id, ok := ExtractMerchantID("https://food.grab.com/ph/en/restaurant/jollibee-sm-north-delivery/2-C6XVLAJ")
	require.True(t, ok)
	require.Equal(t, "2-C6XVLAJ", id)

	_, ok = ExtractMerchantID("https://food.grab.com/ph/en/restaurants")
	require.False(t, ok)
}

func TestParseActiveMerchant(t *testing.T) {
	t.Parallel()

	data, err := Parse([]byte(activeMerchant))
	require.NoError(t, err)
	require.Equal(t, "Jollibee - SM North", data.Name)
	require.Equal(t, monitor.MerchantStateActive, data.State)
	require.True(t, data.HasRating)
	require.NotNil(t, data.Closed)
	require.False(t, *data.Closed)
	require.Nil(t, data.Available)
	require.Len(t, data.Products, 2)
	require.Equal(t, "1-pc Chickenjoy", data.Products[0].ScrapedName)
	require.InDelta(t, 99.0, *data.Products[0].Price, 0.001)
	require.False(t, data.Products[1].Available)
	require.Equal(t, "structured", data.Products[1].DetectionMethod)
}

func TestParseTolerantOfOddShapes(t *testing.T) {
	t.Parallel()

	data, err := Parse([]byte(`{"merchant":{"name":42,"status":"TERMINATED","isClosed":true,"menu":"none"}}`))
	require.NoError(t, err)
	require.Empty(t, data.Name)
	require.Equal(t, monitor.MerchantStateTerminated, data.State)
	require.True(t, *data.Closed)
	require.Empty(t, data.Products)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`<html>nope</html>`))
	var pe *monitor.ParseError
	require.ErrorAs(t, err, &pe)

	_, err = Parse([]byte(`{"reason":"unknown"}`))
	require.ErrorAs(t, err, &pe)
	require.True(t, errors.Is(err, ErrNoMerchant))
}

func TestProbeWithoutMerchantIDFailsFast(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(newClient(), srv.URL+"/merchants/{merchant_id}", nil)
	_, err := p.Probe(context.Background(), monitor.Target{ID: "t1", URL: "https://food.grab.com/ph/en/"})
	var te *monitor.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, monitor.ReasonNoIdentifier, te.Reason)
	require.Zero(t, hits.Load())
}

func TestProbeRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/merchants/2-ABC" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(activeMerchant))
	}))
	defer srv.Close()

	p := New(newClient(), srv.URL+"/merchants/{merchant_id}", nil)
	res, err := p.Probe(context.Background(), monitor.Target{
		ID:  "t1",
		URL: "https://food.grab.com/ph/en/restaurant/jollibee/2-ABC",
	})
	require.NoError(t, err)
	require.Equal(t, int32(2), hits.Load())
	require.Equal(t, 2, res.Attempts)
	require.Equal(t, http.StatusOK, res.HTTPStatus)
	require.NotNil(t, res.Data)
	require.Equal(t, "https://food.grab.com/ph/en/restaurant/jollibee/2-ABC", res.URL)
}

func TestProbeNotFoundIsNotAnError(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := New(newClient(), srv.URL+"/merchants/{merchant_id}", nil)
	res, err := p.Probe(context.Background(), monitor.Target{ID: "t1", URL: "https://food.grab.com/ph/en/restaurant/x/2-ABC"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, res.HTTPStatus)
	require.Nil(t, res.Data)
	require.Equal(t, int32(1), hits.Load())
}

func TestProbeMalformedPayloadIsParseError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{broken"))
	}))
	defer srv.Close()

	p := New(newClient(), srv.URL+"/merchants/{merchant_id}", nil)
	res, err := p.Probe(context.Background(), monitor.Target{ID: "t1", URL: "https://food.grab.com/ph/en/restaurant/x/2-ABC"})
	var pe *monitor.ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, "{broken", string(res.Body))
}
