package coingecko

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
	Name           = "coingecko"
	defaultBaseURL = "https://api.coingecko.com"
)

// coinIDs maps tickers to CoinGecko coin ids.
var coinIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"BNB":   "binancecoin",
	"SOL":   "solana",
	"XRP":   "ripple",
	"ADA":   "cardano",
	"DOGE":  "dogecoin",
	"DOT":   "polkadot",
	"MATIC": "matic-network",
	"POL":   "polygon-ecosystem-token",
	"LTC":   "litecoin",
	"AVAX":  "avalanche-2",
	"LINK":  "chainlink",
	"ATOM":  "cosmos",
	"TRX":   "tron",
	"USDT":  "tether",
	"USDC":  "usd-coin",
	"DAI":   "dai",
	"XLM":   "stellar",
	"XMR":   "monero",
}

// CoinID returns the CoinGecko id for symbol.
func CoinID(symbol string) (string, bool) {
	id, ok := coinIDs[provider.NormalizeSymbol(symbol)]
	return id, ok
}

// Client is the secondary crypto price provider.
type Client struct {
	baseURL    string
	apiKey     string
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

// New creates a CoinGecko markets client. apiKey is optional (demo plan key).
func New(apiKey string, opts ...Option) *Client {
	c := &Client{baseURL: defaultBaseURL, apiKey: apiKey, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	return c
}

func (c *Client) Name() string { return Name }

type market struct {
	ID                       string           `json:"id"`
	CurrentPrice             *decimal.Decimal `json:"current_price"`
	PriceChangePercentage24h *decimal.Decimal `json:"price_change_percentage_24h"`
}

// FetchPrices requests all mappable symbols in one call. Symbols without a
// known coin id are skipped.
func (c *Client) FetchPrices(ctx context.Context, symbols []string) ([]provider.PriceQuote, error) {
	symbolByID := make(map[string]string, len(symbols))
	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = provider.NormalizeSymbol(s)
		id, ok := CoinID(s)
		if !ok {
			c.logger.Debug("no coingecko id for symbol, skipping", zap.String("symbol", s))
			continue
		}
		if _, dup := symbolByID[id]; dup {
			continue
		}
		symbolByID[id] = s
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("ids", strings.Join(ids, ","))
	addr := fmt.Sprintf("%s/api/v3/coins/markets?%s", c.baseURL, q.Encode())

	var header http.Header
	if c.apiKey != "" {
		header = http.Header{"x-cg-demo-api-key": []string{c.apiKey}}
	}

	var markets []market
	if err := provider.GetJSON(ctx, c.httpClient, addr, header, &markets); err != nil {
		return nil, fmt.Errorf("coingecko: %w", err)
	}

	now := time.Now().UTC()
	out := make([]provider.PriceQuote, 0, len(markets))
	for _, m := range markets {
		sym, ok := symbolByID[m.ID]
		if !ok || m.CurrentPrice == nil || !m.CurrentPrice.IsPositive() {
			continue
		}
		out = append(out, provider.PriceQuote{
			Symbol:    sym,
			Price:     *m.CurrentPrice,
			Change24h: m.PriceChangePercentage24h,
			Currency:  "USD",
			Source:    Name,
			FetchedAt: now,
		})
	}
	return out, nil
}
