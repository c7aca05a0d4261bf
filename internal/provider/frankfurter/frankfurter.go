package frankfurter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider"
)

const (
	Name           = "frankfurter"
	defaultBaseURL = "https://api.frankfurter.app"
)

// Client is the primary FX provider (ECB reference rates).
type Client struct {
	baseURL    string
	httpClient provider.HTTPClient
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

func New(opts ...Option) *Client {
	c := &Client{baseURL: defaultBaseURL, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	return c
}

func (c *Client) Name() string { return Name }

type latestResponse struct {
	Amount decimal.Decimal            `json:"amount"`
	Base   string                     `json:"base"`
	Date   string                     `json:"date"`
	Rates  map[string]decimal.Decimal `json:"rates"`
}

// FetchRates requests every other supported currency against base in one call.
func (c *Client) FetchRates(ctx context.Context, base string) (provider.ExchangeRateSet, error) {
	base = provider.NormalizeSymbol(base)
	targets := make([]string, 0, len(provider.SupportedCurrencies))
	for _, cur := range provider.SupportedCurrencies {
		if cur != base {
			targets = append(targets, cur)
		}
	}

	q := url.Values{}
	q.Set("from", base)
	q.Set("to", strings.Join(targets, ","))
	addr := fmt.Sprintf("%s/latest?%s", c.baseURL, q.Encode())

	var resp latestResponse
	if err := provider.GetJSON(ctx, c.httpClient, addr, nil, &resp); err != nil {
		return provider.ExchangeRateSet{}, fmt.Errorf("frankfurter: %w", err)
	}

	rates := make(map[string]decimal.Decimal, len(resp.Rates)+1)
	for cur, r := range resp.Rates {
		if r.IsPositive() {
			rates[provider.NormalizeSymbol(cur)] = r
		}
	}
	if len(rates) == 0 {
		return provider.ExchangeRateSet{}, fmt.Errorf("frankfurter: %w for %s", provider.ErrNoRates, base)
	}
	rates[base] = decimal.NewFromInt(1)

	c.logger.Debug("fetched rates", zap.String("base", base), zap.Int("count", len(rates)), zap.String("date", resp.Date))
	return provider.ExchangeRateSet{
		Base:      base,
		Rates:     rates,
		Source:    Name,
		FetchedAt: time.Now().UTC(),
		Errors:    []string{},
		Success:   true,
	}, nil
}
