package alphavantage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider/ratelimit"
)

const (
	Name           = "alphavantage"
	defaultBaseURL = "https://www.alphavantage.co"
)

// Client is the secondary stock/ETF price provider. The API has no batch
// endpoint and a tight free-tier quota, so symbols are fetched one by one
// behind a limiter.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient provider.HTTPClient
	limiter    ratelimit.Limiter
	logger     *zap.Logger
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithHTTPClient(hc provider.HTTPClient) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithLimiter gates every outbound request. Defaults to 5 requests/minute.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		limiter: ratelimit.PerMinute(5, 1),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	return c
}

func (c *Client) Name() string { return Name }

type globalQuoteResponse struct {
	GlobalQuote  map[string]string `json:"Global Quote"`
	Note         string            `json:"Note"`
	Information  string            `json:"Information"`
	ErrorMessage string            `json:"Error Message"`
}

// FetchPrices fetches each symbol sequentially. A failing symbol is logged
// and omitted; it never aborts the remaining ones.
func (c *Client) FetchPrices(ctx context.Context, symbols []string) ([]provider.PriceQuote, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w for %s", provider.ErrNoAPIKey, Name)
	}

	out := make([]provider.PriceQuote, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = provider.NormalizeSymbol(s)
		if _, dup := seen[s]; dup || s == "" {
			continue
		}
		seen[s] = struct{}{}

		if err := c.limiter.Wait(ctx); err != nil {
			return out, fmt.Errorf("alphavantage: %w", err)
		}
		q, err := c.fetchOne(ctx, s)
		if err != nil {
			c.logger.Warn("alphavantage quote failed", zap.String("symbol", s), zap.Error(err))
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (c *Client) fetchOne(ctx context.Context, symbol string) (provider.PriceQuote, error) {
	q := url.Values{}
	q.Set("function", "GLOBAL_QUOTE")
	q.Set("symbol", symbol)
	q.Set("apikey", c.apiKey)
	addr := fmt.Sprintf("%s/query?%s", c.baseURL, q.Encode())

	var resp globalQuoteResponse
	if err := provider.GetJSON(ctx, c.httpClient, addr, nil, &resp); err != nil {
		return provider.PriceQuote{}, err
	}
	switch {
	case resp.ErrorMessage != "":
		return provider.PriceQuote{}, errors.New(resp.ErrorMessage)
	case resp.Note != "":
		return provider.PriceQuote{}, errors.New(resp.Note)
	case resp.Information != "":
		return provider.PriceQuote{}, errors.New(resp.Information)
	case len(resp.GlobalQuote) == 0:
		return provider.PriceQuote{}, fmt.Errorf("empty quote for %s", symbol)
	}

	price, err := decimal.NewFromString(strings.TrimSpace(resp.GlobalQuote["05. price"]))
	if err != nil {
		return provider.PriceQuote{}, fmt.Errorf("parsing price: %w", err)
	}
	if !price.IsPositive() {
		return provider.PriceQuote{}, fmt.Errorf("non-positive price %s", price)
	}

	var change *decimal.Decimal
	if raw := strings.TrimSuffix(strings.TrimSpace(resp.GlobalQuote["10. change percent"]), "%"); raw != "" {
		if d, err := decimal.NewFromString(raw); err == nil {
			change = &d
		}
	}

	return provider.PriceQuote{
		Symbol:    symbol,
		Price:     price,
		Change24h: change,
		Currency:  "USD",
		Source:    Name,
		FetchedAt: time.Now().UTC(),
	}, nil
}
