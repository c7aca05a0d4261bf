package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/manualrate"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider"
)

type fakeService struct {
	mu        sync.Mutex
	prices    provider.PriceResult
	rates     map[string]provider.ExchangeRateSet
	gotAssets []provider.AssetRequest
	panicMsg  string

	// hold, when set, keeps rate fetches in flight until it is closed.
	hold      chan struct{}
	inFlight  chan struct{}
	once      sync.Once
	rateCalls atomic.Int32
}

func (f *fakeService) FetchPrices(_ context.Context, assets []provider.AssetRequest) provider.PriceResult {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.mu.Lock()
	f.gotAssets = append(f.gotAssets, assets...)
	f.mu.Unlock()
	return f.prices
}

func (f *fakeService) FetchExchangeRates(ctx context.Context, base string) provider.ExchangeRateSet {
	f.rateCalls.Add(1)
	if f.hold != nil {
		f.once.Do(func() { close(f.inFlight) })
		select {
		case <-f.hold:
		case <-ctx.Done():
			return provider.ExchangeRateSet{Base: base, Rates: map[string]decimal.Decimal{}, Source: "none", Errors: []string{ctx.Err().Error()}}
		}
	}
	if set, ok := f.rates[base]; ok {
		return set
	}
	return provider.ExchangeRateSet{Base: base, Rates: map[string]decimal.Decimal{}, Source: "none", Errors: []string{"no rates"}}
}

func (f *fakeService) Snapshot(ctx context.Context, assets []provider.AssetRequest, base string) (provider.PriceResult, provider.ExchangeRateSet) {
	return f.FetchPrices(ctx, assets), f.FetchExchangeRates(ctx, base)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func usdSet() provider.ExchangeRateSet {
	return provider.ExchangeRateSet{
		Base:    "USD",
		Rates:   map[string]decimal.Decimal{"USD": d("1"), "EUR": d("0.9"), "GBP": d("0.8")},
		Source:  "frankfurter",
		Errors:  []string{},
		Success: true,
	}
}

func newTestServer(t *testing.T, svc *fakeService) (http.Handler, *manualrate.Memory) {
	t.Helper()
	store := manualrate.NewMemory()
	return NewServer(svc, store, "USD", time.Second, zaptest.NewLogger(t)).Handler(), store
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestPostPrices(t *testing.T) {
	t.Parallel()

	svc := &fakeService{prices: provider.PriceResult{
		Success: true,
		Prices:  []provider.PriceQuote{{Symbol: "BTC", Price: d("65000"), Currency: "USD", Source: "binance"}},
		Errors:  []string{},
	}}
	h, _ := newTestServer(t, svc)

	rr := do(t, h, http.MethodPost, "/api/prices", `{"assets":[{"symbol":"btc","kind":"crypto"}]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NotEmpty(t, rr.Header().Get(requestIDHeader))

	var res provider.PriceResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.True(t, res.Success)
	require.Len(t, res.Prices, 1)
	require.Equal(t, []provider.AssetRequest{{Symbol: "btc", Kind: provider.KindCrypto}}, svc.gotAssets)
}

func TestPostPrices_ValidationError(t *testing.T) {
	t.Parallel()

	h, _ := newTestServer(t, &fakeService{})

	rr := do(t, h, http.MethodPost, "/api/prices", `{"assets":[{"symbol":"BTC","kind":"BOND"}]}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "validation failed", body.Error)
	require.Len(t, body.Details, 1)
	require.Contains(t, body.Details[0].Field, "Kind")
}

func TestPostPrices_BadJSON(t *testing.T) {
	t.Parallel()

	h, _ := newTestServer(t, &fakeService{})

	rr := do(t, h, http.MethodPost, "/api/prices", `{"symbols":["BTC"]}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "invalid JSON body")
}

func TestPostPrices_AllProvidersFailed(t *testing.T) {
	t.Parallel()

	svc := &fakeService{prices: provider.PriceResult{
		Prices: []provider.PriceQuote{},
		Errors: []string{"binance: boom", "coingecko: boom"},
	}}
	h, _ := newTestServer(t, svc)

	rr := do(t, h, http.MethodPost, "/api/prices", `{"assets":[{"symbol":"BTC","kind":"CRYPTO"}]}`)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Contains(t, rr.Body.String(), "binance: boom")
}

func TestGetPrices_QueryParams(t *testing.T) {
	t.Parallel()

	svc := &fakeService{prices: provider.PriceResult{Success: true, Prices: []provider.PriceQuote{}, Errors: []string{}}}
	h, _ := newTestServer(t, svc)

	rr := do(t, h, http.MethodGet, "/api/prices?crypto=BTC,ETH&etf=VOO", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, []provider.AssetRequest{
		{Symbol: "BTC", Kind: provider.KindCrypto},
		{Symbol: "ETH", Kind: provider.KindCrypto},
		{Symbol: "VOO", Kind: provider.KindETF},
	}, svc.gotAssets)

	rr = do(t, h, http.MethodGet, "/api/prices", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestExchangeRates_ManualOverlay(t *testing.T) {
	t.Parallel()

	svc := &fakeService{rates: map[string]provider.ExchangeRateSet{"USD": usdSet()}}
	h, store := newTestServer(t, svc)
	require.NoError(t, store.Set(context.Background(), "USD", "ARS", d("1000")))

	rr := do(t, h, http.MethodGet, "/api/exchange-rates", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp exchangeRatesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "USD", resp.Base)
	require.Equal(t, "frankfurter", resp.Source)
	require.Equal(t, []string{"ARS"}, resp.Manual)
	require.True(t, d("1000").Equal(resp.Rates["ARS"]))
	require.True(t, d("0.9").Equal(resp.Rates["EUR"]))
}

func TestExchangeRates_SharedFetchOutlivesCanceledCaller(t *testing.T) {
	t.Parallel()

	svc := &fakeService{
		rates:    map[string]provider.ExchangeRateSet{"USD": usdSet()},
		hold:     make(chan struct{}),
		inFlight: make(chan struct{}),
	}
	h, _ := newTestServer(t, svc)

	ctxA, cancelA := context.WithCancel(context.Background())
	recA := httptest.NewRecorder()
	doneA := make(chan struct{})
	go func() {
		defer close(doneA)
		h.ServeHTTP(recA, httptest.NewRequest(http.MethodGet, "/api/exchange-rates?base=USD", nil).WithContext(ctxA))
	}()
	<-svc.inFlight

	recB := httptest.NewRecorder()
	doneB := make(chan struct{})
	go func() {
		defer close(doneB)
		h.ServeHTTP(recB, httptest.NewRequest(http.MethodGet, "/api/exchange-rates?base=USD", nil))
	}()
	// Let B join the in-flight fetch before A goes away.
	time.Sleep(50 * time.Millisecond)

	cancelA()
	<-doneA
	require.Equal(t, http.StatusBadGateway, recA.Code)

	close(svc.hold)
	<-doneB
	require.Equal(t, http.StatusOK, recB.Code, recB.Body.String())
	require.Contains(t, recB.Body.String(), `"source":"frankfurter"`)
	require.Equal(t, int32(1), svc.rateCalls.Load())
}

func TestExchangeRates_UnsupportedBase(t *testing.T) {
	t.Parallel()

	h, _ := newTestServer(t, &fakeService{})

	rr := do(t, h, http.MethodGet, "/api/exchange-rates?base=XYZ", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestExchangeRates_Failure(t *testing.T) {
	t.Parallel()

	h, _ := newTestServer(t, &fakeService{})

	rr := do(t, h, http.MethodGet, "/api/exchange-rates?base=eur", "")
	require.Equal(t, http.StatusBadGateway, rr.Code)

	var resp exchangeRatesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "EUR", resp.Base)
	require.Equal(t, "none", resp.Source)
	require.False(t, resp.Success)
}

func TestManualRates(t *testing.T) {
	t.Parallel()

	h, _ := newTestServer(t, &fakeService{})

	rr := do(t, h, http.MethodPut, "/api/manual-rates", `{"currency":"cny","rate":"7.2"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodGet, "/api/manual-rates?base=USD", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp manualRatesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "USD", resp.Base)
	require.True(t, d("7.2").Equal(resp.Rates["CNY"]))

	rr = do(t, h, http.MethodPut, "/api/manual-rates", `{"currency":"EUR","rate":"0.5"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), manualrate.ErrProviderCurrency.Error())

	rr = do(t, h, http.MethodPut, "/api/manual-rates", `{"currency":"ARS","rate":"-1"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestConvert(t *testing.T) {
	t.Parallel()

	svc := &fakeService{rates: map[string]provider.ExchangeRateSet{"GBP": {
		Base:    "GBP",
		Rates:   map[string]decimal.Decimal{"GBP": d("1"), "EUR": d("1.125"), "USD": d("1.25")},
		Source:  "openexchangerates (fallback)",
		Errors:  []string{},
		Success: true,
	}}}
	h, _ := newTestServer(t, svc)

	rr := do(t, h, http.MethodPost, "/api/convert", `{"amount":"90","from":"EUR","to":"GBP"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp convertResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, d("80").Equal(resp.Result), resp.Result.String())
	require.Equal(t, "openexchangerates (fallback)", resp.Source)

	rr = do(t, h, http.MethodPost, "/api/convert", `{"amount":"10","from":"BRL","to":"GBP"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), "rate unavailable")
}

func TestSummary(t *testing.T) {
	t.Parallel()

	svc := &fakeService{rates: map[string]provider.ExchangeRateSet{"USD": usdSet()}}
	h, _ := newTestServer(t, svc)

	rr := do(t, h, http.MethodPost, "/api/summary", `{"balances":[
		{"currency":"USD","paid":"10","unpaid":"5"},
		{"currency":"EUR","paid":"9","unpaid":"0"}
	]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Currency string          `json:"currency"`
		Total    decimal.Decimal `json:"total"`
		Skipped  []string        `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "USD", resp.Currency)
	require.True(t, d("25").Equal(resp.Total), resp.Total.String())
	require.Empty(t, resp.Skipped)
}

func TestPortfolio(t *testing.T) {
	t.Parallel()

	svc := &fakeService{
		prices: provider.PriceResult{
			Success: true,
			Prices:  []provider.PriceQuote{{Symbol: "AAPL", Price: d("100"), Currency: "USD", Source: "yahoo"}},
			Errors:  []string{},
		},
		rates: map[string]provider.ExchangeRateSet{"EUR": {
			Base:    "EUR",
			Rates:   map[string]decimal.Decimal{"EUR": d("1"), "USD": d("1.25")},
			Source:  "frankfurter",
			Errors:  []string{},
			Success: true,
		}},
	}
	h, _ := newTestServer(t, svc)

	rr := do(t, h, http.MethodPost, "/api/portfolio", `{"currency":"EUR","holdings":[
		{"symbol":"AAPL","kind":"STOCK","quantity":"2"},
		{"symbol":"MSFT","kind":"STOCK","quantity":"1"}
	]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Total    decimal.Decimal `json:"total"`
		Unpriced []string        `json:"unpriced"`
		Errors   []string        `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, d("160").Equal(resp.Total), resp.Total.String())
	require.Equal(t, []string{"MSFT"}, resp.Unpriced)
	require.Empty(t, resp.Errors)
}

func TestDividends(t *testing.T) {
	t.Parallel()

	svc := &fakeService{rates: map[string]provider.ExchangeRateSet{"USD": usdSet()}}
	h, _ := newTestServer(t, svc)

	rr := do(t, h, http.MethodPost, "/api/dividends", `{"payouts":[
		{"symbol":"VOO","amount":"6","currency":"USD"},
		{"symbol":"VWCE","amount":"9","currency":"EUR"}
	]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Total          decimal.Decimal `json:"total"`
		MonthlyAverage decimal.Decimal `json:"monthlyAverage"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, d("16").Equal(resp.Total), resp.Total.String())
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	h, _ := newTestServer(t, &fakeService{panicMsg: "boom"})

	rr := do(t, h, http.MethodOptions, "/api/prices", "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "PUT")

	rr = do(t, h, http.MethodPost, "/api/prices", `{"assets":[{"symbol":"BTC","kind":"CRYPTO"}]}`)
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "abc", rr.Header().Get(requestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))

	rr = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `api_requests_total{method="GET",path="/healthz"`)
}
