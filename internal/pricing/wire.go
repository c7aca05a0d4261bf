package pricing

import (
	"time"

	"go.uber.org/zap"

	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/aggregate"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/config"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider/alphavantage"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider/binance"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider/coingecko"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider/frankfurter"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider/openexchangerates"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider/ratelimit"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider/yahoo"
)

// FromConfig builds the six provider clients and their aggregators.
// Credentials come from cfg only.
func FromConfig(cfg config.Config, hc provider.HTTPClient, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	bnOpts := []binance.Option{binance.WithHTTPClient(hc), binance.WithLogger(logger.Named(binance.Name))}
	if cfg.Binance.Endpoint != "" {
		bnOpts = append(bnOpts, binance.WithBaseURL(cfg.Binance.Endpoint))
	}
	cgOpts := []coingecko.Option{coingecko.WithHTTPClient(hc), coingecko.WithLogger(logger.Named(coingecko.Name))}
	if cfg.CoinGecko.Endpoint != "" {
		cgOpts = append(cgOpts, coingecko.WithBaseURL(cfg.CoinGecko.Endpoint))
	}
	yhOpts := []yahoo.Option{yahoo.WithHTTPClient(hc), yahoo.WithLogger(logger.Named(yahoo.Name))}
	if cfg.Yahoo.Endpoint != "" {
		yhOpts = append(yhOpts, yahoo.WithBaseURL(cfg.Yahoo.Endpoint))
	}
	avOpts := []alphavantage.Option{
		alphavantage.WithHTTPClient(hc),
		alphavantage.WithLogger(logger.Named(alphavantage.Name)),
		alphavantage.WithLimiter(Limiter(cfg.AlphaVantage)),
	}
	if cfg.AlphaVantage.Endpoint != "" {
		avOpts = append(avOpts, alphavantage.WithBaseURL(cfg.AlphaVantage.Endpoint))
	}
	ffOpts := []frankfurter.Option{frankfurter.WithHTTPClient(hc), frankfurter.WithLogger(logger.Named(frankfurter.Name))}
	if cfg.Frankfurter.Endpoint != "" {
		ffOpts = append(ffOpts, frankfurter.WithBaseURL(cfg.Frankfurter.Endpoint))
	}
	oxOpts := []openexchangerates.Option{openexchangerates.WithHTTPClient(hc), openexchangerates.WithLogger(logger.Named(openexchangerates.Name))}
	if cfg.OpenExchangeRates.Endpoint != "" {
		oxOpts = append(oxOpts, openexchangerates.WithBaseURL(cfg.OpenExchangeRates.Endpoint))
	}

	if cfg.AlphaVantage.APIKey == "" {
		logger.Warn("ALPHAVANTAGE_API_KEY not set; stock fallback disabled")
	}
	if cfg.OpenExchangeRates.AppID == "" {
		logger.Warn("OPENEXCHANGERATES_APP_ID not set; FX fallback disabled")
	}

	agg := logger.Named("aggregate")
	return New(
		aggregate.NewPrices("crypto", binance.New(bnOpts...), coingecko.New(cfg.CoinGecko.APIKey, cgOpts...), agg),
		aggregate.NewPrices("stock", yahoo.New(yhOpts...), alphavantage.New(cfg.AlphaVantage.APIKey, avOpts...), agg),
		aggregate.NewRates(frankfurter.New(ffOpts...), openexchangerates.New(cfg.OpenExchangeRates.AppID, oxOpts...), agg),
		logger,
	)
}

// Limiter prefers a token bucket when an RPM budget is set, otherwise a
// minimum interval, otherwise no limit.
func Limiter(cfg config.AlphaVantage) ratelimit.Limiter {
	switch {
	case cfg.MaxRequestsPerMinute > 0:
		return ratelimit.PerMinute(cfg.MaxRequestsPerMinute, cfg.Burst)
	case cfg.MinRequestIntervalSec > 0:
		return &ratelimit.MinInterval{Interval: time.Duration(cfg.MinRequestIntervalSec) * time.Second}
	default:
		return ratelimit.Unlimited{}
	}
}
