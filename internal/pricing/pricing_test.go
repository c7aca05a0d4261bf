package pricing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"

	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/aggregate"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/pricing"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider/mocks"
)

type fixture struct {
	binance, coingecko, yahoo, alphavantage *mocks.MockPriceProvider
	frankfurter, oxr                        *mocks.MockRateProvider
	svc                                     *pricing.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		binance:      mocks.NewMockPriceProvider(ctrl),
		coingecko:    mocks.NewMockPriceProvider(ctrl),
		yahoo:        mocks.NewMockPriceProvider(ctrl),
		alphavantage: mocks.NewMockPriceProvider(ctrl),
		frankfurter:  mocks.NewMockRateProvider(ctrl),
		oxr:          mocks.NewMockRateProvider(ctrl),
	}
	f.binance.EXPECT().Name().Return("binance").AnyTimes()
	f.coingecko.EXPECT().Name().Return("coingecko").AnyTimes()
	f.yahoo.EXPECT().Name().Return("yahoo").AnyTimes()
	f.alphavantage.EXPECT().Name().Return("alphavantage").AnyTimes()
	f.frankfurter.EXPECT().Name().Return("frankfurter").AnyTimes()
	f.oxr.EXPECT().Name().Return("openexchangerates").AnyTimes()

	log := zaptest.NewLogger(t)
	f.svc = pricing.New(
		aggregate.NewPrices("crypto", f.binance, f.coingecko, log),
		aggregate.NewPrices("stock", f.yahoo, f.alphavantage, log),
		aggregate.NewRates(f.frankfurter, f.oxr, log),
		log,
	)
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestFetchPrices_CryptoAndStock(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.binance.EXPECT().FetchPrices(gomock.Any(), []string{"BTC"}).Return([]provider.PriceQuote{
		{Symbol: "BTC", Price: dec("50000"), Change24h: decPtr("2.5"), Currency: "USD", Source: "binance"},
	}, nil)
	f.yahoo.EXPECT().FetchPrices(gomock.Any(), []string{"AAPL"}).Return([]provider.PriceQuote{
		{Symbol: "AAPL", Price: dec("180"), Change24h: decPtr("-1.2"), Currency: "USD", Source: "yahoo"},
	}, nil)

	res := f.svc.FetchPrices(context.Background(), []provider.AssetRequest{
		{Symbol: "BTC", Kind: provider.KindCrypto},
		{Symbol: "AAPL", Kind: provider.KindStock},
	})

	require.True(t, res.Success)
	require.Empty(t, res.Errors)
	require.Len(t, res.Prices, 2)
	require.Equal(t, "BTC", res.Prices[0].Symbol)
	require.Equal(t, "binance", res.Prices[0].Source)
	require.Equal(t, "2.5", res.Prices[0].Change24h.String())
	require.Equal(t, "AAPL", res.Prices[1].Symbol)
	require.Equal(t, "yahoo", res.Prices[1].Source)
	require.Equal(t, "-1.2", res.Prices[1].Change24h.String())
}

func TestFetchPrices_EmptyInput(t *testing.T) {
	t.Parallel()
	// No FetchPrices expectations: any provider call fails the test.
	f := newFixture(t)

	res := f.svc.FetchPrices(context.Background(), nil)

	require.Equal(t, provider.PriceResult{Success: false, Prices: []provider.PriceQuote{}, Errors: []string{}}, res)
}

func TestFetchPrices_ETFRoutedToStockProviders(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.yahoo.EXPECT().FetchPrices(gomock.Any(), []string{"VOO", "AAPL"}).Return(nil, errors.New("yahoo: GET query1.finance.yahoo.com/v7/finance/quote -> 401"))
	f.alphavantage.EXPECT().FetchPrices(gomock.Any(), []string{"VOO", "AAPL"}).Return([]provider.PriceQuote{
		{Symbol: "VOO", Price: dec("500"), Currency: "USD", Source: "alphavantage"},
	}, nil)

	res := f.svc.FetchPrices(context.Background(), []provider.AssetRequest{
		{Symbol: "voo", Kind: provider.KindETF},
		{Symbol: "AAPL", Kind: provider.KindStock},
	})

	require.True(t, res.Success)
	require.Len(t, res.Prices, 1)
	require.Equal(t, []string{"yahoo: GET query1.finance.yahoo.com/v7/finance/quote -> 401"}, res.Errors)
}

func TestFetchPrices_TotalFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.binance.EXPECT().FetchPrices(gomock.Any(), gomock.Any()).Return(nil, errors.New("binance: down"))
	f.coingecko.EXPECT().FetchPrices(gomock.Any(), gomock.Any()).Return(nil, errors.New("coingecko: down"))

	res := f.svc.FetchPrices(context.Background(), []provider.AssetRequest{{Symbol: "BTC", Kind: provider.KindCrypto}})

	require.False(t, res.Success)
	require.Empty(t, res.Prices)
	require.Equal(t, []string{"binance: down", "coingecko: down"}, res.Errors)
}

type panickingPrices struct{}

func (panickingPrices) Fetch(context.Context, []string) aggregate.Outcome[provider.PriceQuote] {
	panic("aggregator bug")
}

func TestFetchPrices_PanicBecomesError(t *testing.T) {
	t.Parallel()

	svc := pricing.New(panickingPrices{}, panickingPrices{}, nil, zaptest.NewLogger(t))

	res := svc.FetchPrices(context.Background(), []provider.AssetRequest{{Symbol: "BTC", Kind: provider.KindCrypto}})

	require.False(t, res.Success)
	require.Equal(t, []string{"crypto prices: aggregator bug"}, res.Errors)

	set := svc.FetchExchangeRates(context.Background(), "usd")
	require.False(t, set.Success)
	require.Equal(t, "none", set.Source)
	require.Len(t, set.Errors, 1)
}

func TestFetchExchangeRates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.frankfurter.EXPECT().FetchRates(gomock.Any(), "GBP").Return(provider.ExchangeRateSet{
		Base:   "GBP",
		Rates:  map[string]decimal.Decimal{"USD": dec("1.25"), "EUR": dec("1.17")},
		Source: "frankfurter",
	}, nil)

	set := f.svc.FetchExchangeRates(context.Background(), " gbp ")

	require.True(t, set.Success)
	require.Equal(t, "GBP", set.Base)
	require.Equal(t, "1", set.Rates["GBP"].String())
	require.Len(t, set.Rates, 3)
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.binance.EXPECT().FetchPrices(gomock.Any(), []string{"ETH"}).Return([]provider.PriceQuote{
		{Symbol: "ETH", Price: dec("3000"), Currency: "USD", Source: "binance"},
	}, nil)
	f.frankfurter.EXPECT().FetchRates(gomock.Any(), "EUR").Return(provider.ExchangeRateSet{
		Base:   "EUR",
		Rates:  map[string]decimal.Decimal{"USD": dec("1.08")},
		Source: "frankfurter",
	}, nil)

	prices, rates := f.svc.Snapshot(context.Background(), []provider.AssetRequest{{Symbol: "eth", Kind: provider.KindCrypto}}, "EUR")

	require.True(t, prices.Success)
	require.True(t, rates.Success)
	require.Equal(t, "1.08", rates.Rates["USD"].String())
}
