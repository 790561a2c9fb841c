// Package marketdata is the option chain client for the marketdata.app REST
// API. It implements domain.QuoteSource and domain.ContractFinder.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.marketdata.app/v1"

// Config controls the client.
type Config struct {
	BaseURL           string
	Token             string
	RequestsPerSecond float64
	Burst             int
	HTTPTimeout       time.Duration
	// BreakerFailures consecutive transport or 5xx failures open the breaker
	// for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Client calls the options chain endpoint. It is safe for concurrent use; the
// limiter and breaker are shared by all callers.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	now        func() time.Time
}

// New creates a Client.
func New(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:    rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "marketdata",
			Timeout: cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsSuccessful: countsAsSuccess,
		}),
		now: time.Now,
	}
}

// countsAsSuccess keeps client-side outcomes (no data, bad request, bad token)
// from tripping the breaker. Only transport errors and 5xx count.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code < 500
	}
	return errors.Is(err, domain.ErrNoQuote) || errors.Is(err, context.Canceled)
}

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// Health fails while the breaker is open.
func (c *Client) Health(_ context.Context) error {
	if c.breaker.State() == gobreaker.StateOpen {
		return fmt.Errorf("marketdata: %w: circuit open", domain.ErrQuoteUnavailable)
	}
	return nil
}

// GetQuote fetches the single contract matching req and returns its
// bid/ask midpoint. An empty chain or a non-positive mid is domain.ErrNoQuote.
func (c *Client) GetQuote(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error) {
	params := url.Values{}
	params.Set("strike", formatStrike(req.Strike))
	params.Set("side", req.Kind.Side())
	params.Set("expiration", req.Expiration.UTC().Format("2006-01-02"))
	params.Set("limit", "1")

	chain, err := c.chain(ctx, req.Underlying, params)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("marketdata: quote %s %s %s: %w", req.Underlying, formatStrike(req.Strike), req.Kind, err)
	}
	if chain.rows() == 0 {
		return domain.Quote{}, fmt.Errorf("marketdata: quote %s: %w", req.Underlying, domain.ErrNoQuote)
	}

	ct := chain.contract(0)
	q := domain.Quote{
		Mid:             ct.Mid(),
		Last:            ct.Last,
		Bid:             ct.Bid,
		Ask:             ct.Ask,
		Volume:          ct.Volume,
		OpenInterest:    ct.OpenInterest,
		UnderlyingPrice: ct.UnderlyingPrice,
		FetchedAt:       c.now().UTC(),
	}
	if q.Mid <= 0 {
		return domain.Quote{}, fmt.Errorf("marketdata: quote %s: mid %.4f: %w", ct.Symbol, q.Mid, domain.ErrNoQuote)
	}
	return q, nil
}

// FindContract returns the first out-of-the-money contract at least one day
// from expiry that matches q. Strike takes precedence over the bid/ask band.
func (c *Client) FindContract(ctx context.Context, q domain.ContractQuery) (domain.Contract, error) {
	params := url.Values{}
	params.Set("side", q.Kind.Side())
	params.Set("inTheMoney", "false")
	params.Set("dte_gte", "1")
	if q.Strike > 0 {
		params.Set("strike", formatStrike(q.Strike))
	} else if q.MinBid > 0 && q.MaxAsk > 0 {
		params.Set("minBid", strconv.FormatFloat(q.MinBid, 'f', -1, 64))
		params.Set("maxAsk", strconv.FormatFloat(q.MaxAsk, 'f', -1, 64))
	}
	if !q.Expiration.IsZero() {
		params.Set("expiration", q.Expiration.UTC().Format("2006-01-02"))
	}
	if q.MinVolume > 0 {
		params.Set("minVolume", strconv.FormatInt(q.MinVolume, 10))
	}

	underlying := strings.ToUpper(strings.TrimSpace(q.Underlying))
	chain, err := c.chain(ctx, underlying, params)
	if err != nil {
		if errors.Is(err, domain.ErrNoQuote) {
			return domain.Contract{}, fmt.Errorf("marketdata: find contract %s: %w", underlying, domain.ErrNotFound)
		}
		return domain.Contract{}, fmt.Errorf("marketdata: find contract %s: %w", underlying, err)
	}
	if chain.rows() == 0 {
		return domain.Contract{}, fmt.Errorf("marketdata: find contract %s: %w", underlying, domain.ErrNotFound)
	}

	ct := chain.contract(0)
	if ct.Underlying == "" {
		ct.Underlying = underlying
	}
	if ct.Kind == "" {
		ct.Kind = q.Kind
	}
	return ct, nil
}

// chain waits for the limiter, then runs one request through the breaker.
func (c *Client) chain(ctx context.Context, underlying string, params url.Values) (chainResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return chainResponse{}, fmt.Errorf("rate limiter: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doGet(ctx, "/options/chain/"+url.PathEscape(strings.ToUpper(underlying))+"/", params)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return chainResponse{}, fmt.Errorf("%w: %v", domain.ErrQuoteUnavailable, err)
		}
		return chainResponse{}, err
	}
	return out.(chainResponse), nil
}

func (c *Client) doGet(ctx context.Context, path string, params url.Values) (chainResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return chainResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return chainResponse{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return chainResponse{}, fmt.Errorf("read response: %w", err)
	}

	var chain chainResponse
	decodeErr := json.Unmarshal(body, &chain)
	if chain.S == "no_data" {
		return chainResponse{}, domain.ErrNoQuote
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return chainResponse{}, err
	}
	if decodeErr != nil {
		return chainResponse{}, fmt.Errorf("decode chain: %w", decodeErr)
	}
	if chain.S == "error" {
		return chainResponse{}, fmt.Errorf("api error: %s", chain.Errmsg)
	}
	return chain, nil
}

// statusError is a non-2xx response.
type statusError struct {
	code int
	body string
	err  error
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, e.body)
}

func (e *statusError) Unwrap() error { return e.err }

func checkHTTPStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	se := &statusError{code: code, body: strings.TrimSpace(string(body))}
	switch code {
	case http.StatusNotFound:
		se.err = domain.ErrNoQuote
	case http.StatusUnauthorized, http.StatusForbidden:
		se.err = domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		se.err = domain.ErrRateLimited
	}
	return se
}

func formatStrike(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var (
	_ domain.QuoteSource    = (*Client)(nil)
	_ domain.ContractFinder = (*Client)(nil)
)
