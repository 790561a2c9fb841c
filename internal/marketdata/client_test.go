package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

const oneContract = `{"s":"ok","optionSymbol":["SPY260320C00500000"],"underlying":["SPY"],
"expiration":[1774036800],"side":["call"],"strike":[500],"bid":[1.30],"ask":[1.40],"last":[1.33],
"volume":[1250],"openInterest":[8800],"underlyingPrice":[498.12]}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, Token: "tkn", BreakerFailures: 2, BreakerCooldown: time.Minute})
	c.now = func() time.Time { return time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC) }
	return c
}

func TestGetQuote(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/options/chain/SPY/", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "500", q.Get("strike"))
		assert.Equal(t, "call", q.Get("side"))
		assert.Equal(t, "2026-03-20", q.Get("expiration"))
		assert.Equal(t, "1", q.Get("limit"))
		assert.Equal(t, "Bearer tkn", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(oneContract))
	})

	q, err := c.GetQuote(context.Background(), domain.QuoteRequest{
		Underlying: "SPY", Strike: 500, Kind: domain.OptionKindCall,
		Expiration: time.Date(2026, 3, 20, 20, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.35, q.Mid, 1e-9)
	assert.Equal(t, 1.33, q.Last)
	assert.EqualValues(t, 1250, q.Volume)
	assert.Equal(t, 498.12, q.UnderlyingPrice)
	assert.Equal(t, time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC), q.FetchedAt)
}

func TestGetQuoteNoData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"s":"no_data"}`))
	})
	_, err := c.GetQuote(context.Background(), domain.QuoteRequest{Underlying: "SPY", Strike: 1, Kind: domain.OptionKindPut, Expiration: time.Now()})
	assert.ErrorIs(t, err, domain.ErrNoQuote)
}

func TestGetQuoteZeroMid(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"s":"ok","optionSymbol":["X"],"bid":[0],"ask":[0]}`))
	})
	_, err := c.GetQuote(context.Background(), domain.QuoteRequest{Underlying: "SPY", Strike: 1, Kind: domain.OptionKindPut, Expiration: time.Now()})
	assert.ErrorIs(t, err, domain.ErrNoQuote)
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	req := domain.QuoteRequest{Underlying: "SPY", Strike: 1, Kind: domain.OptionKindCall, Expiration: time.Now()}

	for i := 0; i < 2; i++ {
		_, err := c.GetQuote(context.Background(), req)
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrQuoteUnavailable)
	}
	_, err := c.GetQuote(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrQuoteUnavailable)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, "open", c.BreakerState())
	assert.ErrorIs(t, c.Health(context.Background()), domain.ErrQuoteUnavailable)
}

func TestNoDataDoesNotTripBreaker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"s":"no_data"}`))
	})
	req := domain.QuoteRequest{Underlying: "SPY", Strike: 1, Kind: domain.OptionKindCall, Expiration: time.Now()}
	for i := 0; i < 5; i++ {
		_, err := c.GetQuote(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrNoQuote)
	}
	assert.Equal(t, "closed", c.BreakerState())
	assert.NoError(t, c.Health(context.Background()))
}

func TestFindContract(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/options/chain/SPY/", r.URL.Path)
		assert.Equal(t, "call", q.Get("side"))
		assert.Equal(t, "false", q.Get("inTheMoney"))
		assert.Equal(t, "1", q.Get("dte_gte"))
		assert.Equal(t, "1.2", q.Get("minBid"))
		assert.Equal(t, "1.5", q.Get("maxAsk"))
		assert.Equal(t, "100", q.Get("minVolume"))
		assert.Empty(t, q.Get("strike"))
		_, _ = w.Write([]byte(oneContract))
	})

	ct, err := c.FindContract(context.Background(), domain.ContractQuery{
		Underlying: "spy", Kind: domain.OptionKindCall, MinBid: 1.2, MaxAsk: 1.5, MinVolume: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "SPY260320C00500000", ct.Symbol)
	assert.Equal(t, domain.OptionKindCall, ct.Kind)
	assert.Equal(t, 500.0, ct.Strike)
	assert.Equal(t, time.Unix(1774036800, 0).UTC(), ct.Expiration)
	assert.InDelta(t, 1.35, ct.Mid(), 1e-9)
}

func TestFindContractNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"s":"no_data"}`))
	})
	_, err := c.FindContract(context.Background(), domain.ContractQuery{Underlying: "SPY", Kind: domain.OptionKindPut, Strike: 400})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUnauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"s":"error","errmsg":"bad token"}`))
	})
	_, err := c.GetQuote(context.Background(), domain.QuoteRequest{Underlying: "SPY", Strike: 1, Kind: domain.OptionKindCall, Expiration: time.Now()})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
