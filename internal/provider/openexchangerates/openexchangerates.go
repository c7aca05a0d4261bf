package openexchangerates

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
	Name           = "openexchangerates"
	defaultBaseURL = "https://openexchangerates.org"
	// tableBase is the only base the free plan serves.
	tableBase = "USD"
)

// Client is the secondary FX provider.
type Client struct {
	appID      string
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

func New(appID string, opts ...Option) *Client {
	c := &Client{appID: appID, baseURL: defaultBaseURL, logger: zap.NewNop()}
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
	Base      string                     `json:"base"`
	Timestamp int64                      `json:"timestamp"`
	Rates     map[string]decimal.Decimal `json:"rates"`
}

// FetchRates loads the USD table and rebases it onto base when needed.
// Only supported currencies are returned.
func (c *Client) FetchRates(ctx context.Context, base string) (provider.ExchangeRateSet, error) {
	if c.appID == "" {
		return provider.ExchangeRateSet{}, fmt.Errorf("%w for %s", provider.ErrNoAPIKey, Name)
	}
	base = provider.NormalizeSymbol(base)

	q := url.Values{}
	q.Set("app_id", c.appID)
	addr := fmt.Sprintf("%s/api/latest.json?%s", c.baseURL, q.Encode())

	var resp latestResponse
	if err := provider.GetJSON(ctx, c.httpClient, addr, nil, &resp); err != nil {
		return provider.ExchangeRateSet{}, fmt.Errorf("openexchangerates: %w", err)
	}

	table := make(map[string]decimal.Decimal, len(resp.Rates)+1)
	for cur, r := range resp.Rates {
		if r.IsPositive() {
			table[provider.NormalizeSymbol(cur)] = r
		}
	}
	tb := provider.NormalizeSymbol(resp.Base)
	if tb == "" {
		tb = tableBase
	}
	table[tb] = decimal.NewFromInt(1)

	rates, err := Rebase(table, tb, base)
	if err != nil {
		return provider.ExchangeRateSet{}, fmt.Errorf("openexchangerates: %w", err)
	}

	filtered := make(map[string]decimal.Decimal, len(provider.SupportedCurrencies)+1)
	for _, cur := range provider.SupportedCurrencies {
		if r, ok := rates[cur]; ok {
			filtered[cur] = r
		}
	}
	filtered[base] = decimal.NewFromInt(1)
	if len(filtered) == 1 {
		return provider.ExchangeRateSet{}, fmt.Errorf("openexchangerates: %w for %s", provider.ErrNoRates, base)
	}

	fetchedAt := time.Now().UTC()
	if resp.Timestamp > 0 {
		c.logger.Debug("rate table age", zap.Time("published", time.Unix(resp.Timestamp, 0).UTC()))
	}
	return provider.ExchangeRateSet{
		Base:      base,
		Rates:     filtered,
		Source:    Name,
		FetchedAt: fetchedAt,
		Errors:    []string{},
		Success:   true,
	}, nil
}

// Rebase re-expresses a table quoted against from so that it is quoted
// against to: every rate is divided by table[to].
func Rebase(table map[string]decimal.Decimal, from, to string) (map[string]decimal.Decimal, error) {
	if from == to {
		return table, nil
	}
	pivot, ok := table[to]
	if !ok || pivot.IsZero() {
		return nil, fmt.Errorf("base currency %s not in %s rate table", to, from)
	}
	out := make(map[string]decimal.Decimal, len(table))
	for cur, r := range table {
		out[cur] = r.Div(pivot)
	}
	out[to] = decimal.NewFromInt(1)
	return out, nil
}
