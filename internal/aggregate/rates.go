package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/metrics"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider"
)

// SourceNone labels a rate set that no provider could supply.
const SourceNone = "none"

// Rates fails over between two FX providers. Rate tables are not merged per
// currency: when the primary fails, the secondary's table is used whole.
type Rates struct {
	primary   provider.RateProvider
	secondary provider.RateProvider
	logger    *zap.Logger
}

func NewRates(primary, secondary provider.RateProvider, logger *zap.Logger) *Rates {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rates{primary: primary, secondary: secondary, logger: logger}
}

// Fetch never fails; a set with Success=false and Source "none" reports
// that both providers failed, with one error per attempt.
func (r *Rates) Fetch(ctx context.Context, base string) provider.ExchangeRateSet {
	base = provider.NormalizeSymbol(base)
	o := Failover(ctx, []string{base}, rateStage(r.primary), rateStage(r.secondary),
		func(s provider.ExchangeRateSet) string { return s.Base })

	for _, e := range o.Errors {
		r.logger.Warn("rate provider failed", zap.String("base", base), zap.String("error", e))
	}
	if o.Fallback {
		metrics.Fallbacks.WithLabelValues("fx").Inc()
	}

	if len(o.Items) == 0 {
		return provider.ExchangeRateSet{
			Base:      base,
			Rates:     map[string]decimal.Decimal{},
			Source:    SourceNone,
			FetchedAt: time.Now().UTC(),
			Errors:    o.Errors,
			Success:   false,
		}
	}

	set := o.Items[0]
	rates := make(map[string]decimal.Decimal, len(set.Rates)+1)
	for cur, v := range set.Rates {
		rates[provider.NormalizeSymbol(cur)] = v
	}
	rates[base] = decimal.NewFromInt(1)
	set.Rates = rates
	set.Errors = o.Errors
	set.Success = true
	if o.Fallback {
		set.Source = fmt.Sprintf("%s (fallback)", set.Source)
	}
	if set.FetchedAt.IsZero() {
		set.FetchedAt = time.Now().UTC()
	}
	return set
}

func rateStage(rp provider.RateProvider) Stage[provider.ExchangeRateSet] {
	if rp == nil {
		return Stage[provider.ExchangeRateSet]{}
	}
	name := rp.Name()
	return Stage[provider.ExchangeRateSet]{
		Name: name,
		Fetch: func(ctx context.Context, keys []string) ([]provider.ExchangeRateSet, error) {
			base := keys[0]
			started := time.Now()
			set, err := rp.FetchRates(ctx, base)
			switch {
			case err != nil:
				metrics.ObserveProvider(name, metrics.OutcomeError, started)
				return nil, err
			case len(set.Rates) == 0:
				metrics.ObserveProvider(name, metrics.OutcomeEmpty, started)
				return nil, fmt.Errorf("%s: %w for %s", name, provider.ErrNoRates, base)
			}
			metrics.ObserveProvider(name, metrics.OutcomeOK, started)
			set.Base = provider.NormalizeSymbol(set.Base)
			if set.Base == "" {
				set.Base = base
			}
			if set.Source == "" {
				set.Source = name
			}
			return []provider.ExchangeRateSet{set}, nil
		},
	}
}
