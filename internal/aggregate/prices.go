package aggregate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/metrics"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider"
)

// Prices fails over between two price providers of the same asset class.
type Prices struct {
	kind      string
	primary   provider.PriceProvider
	secondary provider.PriceProvider
	logger    *zap.Logger
}

// NewPrices wires a pair of providers. kind labels metrics and logs
// ("crypto", "stock"). secondary may be nil.
func NewPrices(kind string, primary, secondary provider.PriceProvider, logger *zap.Logger) *Prices {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prices{kind: kind, primary: primary, secondary: secondary, logger: logger}
}

// Fetch returns at most one quote per distinct requested symbol.
func (p *Prices) Fetch(ctx context.Context, symbols []string) Outcome[provider.PriceQuote] {
	o := Failover(ctx, symbols, priceStage(p.primary), priceStage(p.secondary),
		func(q provider.PriceQuote) string { return q.Symbol })

	if o.Fallback {
		metrics.Fallbacks.WithLabelValues(p.kind).Inc()
	}
	for _, e := range o.Errors {
		p.logger.Warn("price provider failed", zap.String("kind", p.kind), zap.String("error", e))
	}
	if len(o.Missing) > 0 {
		p.logger.Info("symbols unresolved by all providers", zap.String("kind", p.kind), zap.Strings("symbols", o.Missing))
	}
	return o
}

func priceStage(pp provider.PriceProvider) Stage[provider.PriceQuote] {
	if pp == nil {
		return Stage[provider.PriceQuote]{}
	}
	name := pp.Name()
	return Stage[provider.PriceQuote]{
		Name: name,
		Fetch: func(ctx context.Context, keys []string) ([]provider.PriceQuote, error) {
			started := time.Now()
			quotes, err := pp.FetchPrices(ctx, keys)
			metrics.ObserveProvider(name, outcome(len(quotes), len(keys), err), started)
			for i := range quotes {
				quotes[i].Symbol = provider.NormalizeSymbol(quotes[i].Symbol)
			}
			return quotes, err
		},
	}
}

func outcome(got, want int, err error) string {
	switch {
	case err != nil:
		return metrics.OutcomeError
	case got == 0:
		return metrics.OutcomeEmpty
	case got < want:
		return metrics.OutcomePartial
	default:
		return metrics.OutcomeOK
	}
}
