// Package pricing is the single entry point for price and rate fetches.
package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/aggregate"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider"
)

// PriceAggregator is satisfied by *aggregate.Prices.
type PriceAggregator interface {
	Fetch(ctx context.Context, symbols []string) aggregate.Outcome[provider.PriceQuote]
}

// RateAggregator is satisfied by *aggregate.Rates.
type RateAggregator interface {
	Fetch(ctx context.Context, base string) provider.ExchangeRateSet
}

// Service routes requests to the aggregator for each asset kind.
// It holds no mutable state and is safe for concurrent use.
type Service struct {
	crypto PriceAggregator
	stock  PriceAggregator
	fx     RateAggregator
	logger *zap.Logger
}

func New(crypto, stock PriceAggregator, fx RateAggregator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{crypto: crypto, stock: stock, fx: fx, logger: logger}
}

// FetchPrices partitions assets by kind and queries the crypto and stock
// aggregators concurrently. Crypto quotes come first in the result.
// Success is true when at least one quote was found.
func (s *Service) FetchPrices(ctx context.Context, assets []provider.AssetRequest) provider.PriceResult {
	res := provider.PriceResult{Prices: []provider.PriceQuote{}, Errors: []string{}}

	var cryptoSyms, stockSyms []string
	for _, a := range assets {
		sym := provider.NormalizeSymbol(a.Symbol)
		if sym == "" {
			continue
		}
		switch a.Kind {
		case provider.KindCrypto:
			cryptoSyms = append(cryptoSyms, sym)
		case provider.KindStock, provider.KindETF:
			stockSyms = append(stockSyms, sym)
		default:
			res.Errors = append(res.Errors, fmt.Sprintf("%s: unsupported asset kind %q", sym, a.Kind))
		}
	}

	var cryptoOut, stockOut aggregate.Outcome[provider.PriceQuote]
	var g errgroup.Group
	if len(cryptoSyms) > 0 {
		g.Go(func() error {
			cryptoOut = s.fetchKind(ctx, "crypto", s.crypto, cryptoSyms)
			return nil
		})
	}
	if len(stockSyms) > 0 {
		g.Go(func() error {
			stockOut = s.fetchKind(ctx, "stock", s.stock, stockSyms)
			return nil
		})
	}
	_ = g.Wait()

	res.Prices = append(res.Prices, cryptoOut.Items...)
	res.Prices = append(res.Prices, stockOut.Items...)
	res.Errors = append(res.Errors, cryptoOut.Errors...)
	res.Errors = append(res.Errors, stockOut.Errors...)
	res.Success = len(res.Prices) > 0
	return res
}

// fetchKind converts a panic escaping the aggregator into an error entry.
func (s *Service) fetchKind(ctx context.Context, kind string, agg PriceAggregator, symbols []string) (out aggregate.Outcome[provider.PriceQuote]) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("price aggregator panicked", zap.String("kind", kind), zap.Any("panic", r))
			out = aggregate.Outcome[provider.PriceQuote]{Errors: []string{fmt.Sprintf("%s prices: %v", kind, r)}}
		}
	}()
	if agg == nil {
		return aggregate.Outcome[provider.PriceQuote]{Errors: []string{fmt.Sprintf("%s prices: no provider configured", kind)}}
	}
	return agg.Fetch(ctx, symbols)
}

// FetchExchangeRates returns the FX aggregator's rate set for base.
func (s *Service) FetchExchangeRates(ctx context.Context, base string) (set provider.ExchangeRateSet) {
	base = provider.NormalizeSymbol(base)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("rate aggregator panicked", zap.String("base", base), zap.Any("panic", r))
			set = provider.ExchangeRateSet{
				Base:      base,
				Rates:     map[string]decimal.Decimal{},
				Source:    aggregate.SourceNone,
				FetchedAt: time.Now().UTC(),
				Errors:    []string{fmt.Sprintf("exchange rates: %v", r)},
			}
		}
	}()
	return s.fx.Fetch(ctx, base)
}

// Snapshot fetches prices for assets and rates for base concurrently.
func (s *Service) Snapshot(ctx context.Context, assets []provider.AssetRequest, base string) (provider.PriceResult, provider.ExchangeRateSet) {
	var (
		prices provider.PriceResult
		rates  provider.ExchangeRateSet
		g      errgroup.Group
	)
	g.Go(func() error {
		prices = s.FetchPrices(ctx, assets)
		return nil
	})
	g.Go(func() error {
		rates = s.FetchExchangeRates(ctx, base)
		return nil
	})
	_ = g.Wait()
	return prices, rates
}
