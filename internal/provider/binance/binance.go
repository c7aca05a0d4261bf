package binance

import (
	"context"
	"encoding/json"
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
	// Name is the source identifier stamped on quotes.
	Name           = "binance"
	defaultBaseURL = "https://api.binance.com"
	quoteSuffix    = "USDT"
)

// pairs maps tickers to the trading pair whose price we report.
// Anything missing falls back to <SYMBOL>USDT.
var pairs = map[string]string{
	"BTC":   "BTCUSDT",
	"ETH":   "ETHUSDT",
	"BNB":   "BNBUSDT",
	"SOL":   "SOLUSDT",
	"XRP":   "XRPUSDT",
	"ADA":   "ADAUSDT",
	"DOGE":  "DOGEUSDT",
	"DOT":   "DOTUSDT",
	"MATIC": "MATICUSDT",
	"POL":   "POLUSDT",
	"LTC":   "LTCUSDT",
	"AVAX":  "AVAXUSDT",
	"LINK":  "LINKUSDT",
	"ATOM":  "ATOMUSDT",
	"TRX":   "TRXUSDT",
	"USDC":  "USDCUSDT",
	"DAI":   "DAIUSDT",
}

// listed holds the pairs from the table above.
var listed = func() map[string]bool {
	m := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		m[p] = true
	}
	return m
}()

// Pair returns the trading pair used for symbol.
func Pair(symbol string) string {
	symbol = provider.NormalizeSymbol(symbol)
	if p, ok := pairs[symbol]; ok {
		return p
	}
	return symbol + quoteSuffix
}

// Client is the primary crypto price provider.
type Client struct {
	baseURL    string
	httpClient provider.HTTPClient
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(hc provider.HTTPClient) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Binance ticker client.
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

type ticker struct {
	Symbol             string          `json:"symbol"`
	LastPrice          decimal.Decimal `json:"lastPrice"`
	PriceChangePercent decimal.Decimal `json:"priceChangePercent"`
}

// FetchPrices issues one batched 24h ticker request for all symbols.
// Pairs the exchange does not return are left out of the result. When the
// exchange rejects the batch with 400, the pairs from the static table are
// requested once more on their own.
func (c *Client) FetchPrices(ctx context.Context, symbols []string) ([]provider.PriceQuote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	bySymbolPair := make(map[string]string, len(symbols))
	reqPairs := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = provider.NormalizeSymbol(s)
		p := Pair(s)
		if _, dup := bySymbolPair[p]; dup {
			continue
		}
		bySymbolPair[p] = s
		reqPairs = append(reqPairs, p)
	}

	tickers, err := c.fetchTickers(ctx, reqPairs)
	var se *provider.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusBadRequest {
		// One unlisted pair fails the whole batch; retry the known pairs.
		if known := listedOnly(reqPairs); len(known) > 0 && len(known) < len(reqPairs) {
			c.logger.Debug("batch rejected, retrying listed pairs",
				zap.Int("requested", len(reqPairs)), zap.Int("listed", len(known)), zap.Error(err))
			tickers, err = c.fetchTickers(ctx, known)
		}
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]provider.PriceQuote, 0, len(tickers))
	for _, t := range tickers {
		sym, ok := bySymbolPair[t.Symbol]
		if !ok {
			c.logger.Debug("unrequested pair in response", zap.String("pair", t.Symbol))
			continue
		}
		if !t.LastPrice.IsPositive() {
			continue
		}
		change := t.PriceChangePercent
		out = append(out, provider.PriceQuote{
			Symbol:    sym,
			Price:     t.LastPrice,
			Change24h: &change,
			Currency:  "USD",
			Source:    Name,
			FetchedAt: now,
		})
	}
	if len(out) < len(reqPairs) {
		c.logger.Debug("binance returned fewer pairs than requested",
			zap.Int("requested", len(reqPairs)), zap.Int("returned", len(out)))
	}
	return out, nil
}

func (c *Client) fetchTickers(ctx context.Context, reqPairs []string) ([]ticker, error) {
	encoded, err := json.Marshal(reqPairs)
	if err != nil {
		return nil, fmt.Errorf("binance: encoding symbols: %w", err)
	}
	q := url.Values{}
	q.Set("symbols", string(encoded))
	addr := fmt.Sprintf("%s/api/v3/ticker/24hr?%s", c.baseURL, q.Encode())

	var tickers []ticker
	if err := provider.GetJSON(ctx, c.httpClient, addr, nil, &tickers); err != nil {
		return nil, fmt.Errorf("binance: %w", err)
	}
	return tickers, nil
}

func listedOnly(reqPairs []string) []string {
	out := make([]string, 0, len(reqPairs))
	for _, p := range reqPairs {
		if listed[p] {
			out = append(out, p)
		}
	}
	return out
}
