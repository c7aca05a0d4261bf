package yahoo

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
)

const (
	Name           = "yahoo"
	defaultBaseURL = "https://query1.finance.yahoo.com"
)

// Client is the primary stock/ETF price provider.
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

type quoteResponse struct {
	QuoteResponse struct {
		Result []quote    `json:"result"`
		Error  *respError `json:"error"`
	} `json:"quoteResponse"`
}

type quote struct {
	Symbol                     string           `json:"symbol"`
	Currency                   string           `json:"currency"`
	RegularMarketPrice         *decimal.Decimal `json:"regularMarketPrice"`
	RegularMarketChangePercent *decimal.Decimal `json:"regularMarketChangePercent"`
}

type respError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// FetchPrices issues one batched quote request. A provider-reported error
// object fails the whole batch.
func (c *Client) FetchPrices(ctx context.Context, symbols []string) ([]provider.PriceQuote, error) {
	want := make(map[string]struct{}, len(symbols))
	list := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = provider.NormalizeSymbol(s)
		if _, dup := want[s]; dup || s == "" {
			continue
		}
		want[s] = struct{}{}
		list = append(list, s)
	}
	if len(list) == 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("symbols", strings.Join(list, ","))
	addr := fmt.Sprintf("%s/v7/finance/quote?%s", c.baseURL, q.Encode())

	var resp quoteResponse
	if err := provider.GetJSON(ctx, c.httpClient, addr, nil, &resp); err != nil {
		return nil, fmt.Errorf("yahoo: %w", err)
	}
	if e := resp.QuoteResponse.Error; e != nil {
		msg := e.Description
		if msg == "" {
			msg = e.Code
		}
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("yahoo: %w", errors.New(msg))
	}

	now := time.Now().UTC()
	out := make([]provider.PriceQuote, 0, len(resp.QuoteResponse.Result))
	for _, r := range resp.QuoteResponse.Result {
		sym := provider.NormalizeSymbol(r.Symbol)
		if _, ok := want[sym]; !ok {
			continue
		}
		if r.RegularMarketPrice == nil || !r.RegularMarketPrice.IsPositive() {
			c.logger.Debug("quote without market price", zap.String("symbol", sym))
			continue
		}
		cur := provider.NormalizeSymbol(r.Currency)
		if cur == "" {
			cur = "USD"
		}
		out = append(out, provider.PriceQuote{
			Symbol:    sym,
			Price:     *r.RegularMarketPrice,
			Change24h: r.RegularMarketChangePercent,
			Currency:  cur,
			Source:    Name,
			FetchedAt: now,
		})
	}
	return out, nil
}
