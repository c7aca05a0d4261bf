package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/config"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/httpx"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/logger"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/pricing"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/valuation"
)

// setup loads config and builds the pricing service. Logs go to stderr at
// warn level unless the config asks for more.
func setup() (*pricing.Service, config.Config, context.CancelFunc, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, cfg, nil, err
	}
	if timeoutSec > 0 {
		cfg.Server.RequestTimeoutSec = timeoutSec
	}
	level := cfg.Server.LogLevel
	if level == "" || level == "info" {
		level = "warn"
	}
	log, err := logger.New(level, true)
	if err != nil {
		return nil, cfg, nil, err
	}
	timeout := time.Duration(cfg.Server.RequestTimeoutSec) * time.Second
	svc := pricing.FromConfig(cfg, httpx.New(timeout), log)
	return svc, cfg, func() { _ = log.Sync() }, nil
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, err)
	return subcommands.ExitFailure
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

type pricesCmd struct {
	crypto, stock, etf string
	asJSON             bool
}

func (*pricesCmd) Name() string     { return "prices" }
func (*pricesCmd) Synopsis() string { return "fetch current prices for crypto, stock and ETF symbols" }
func (*pricesCmd) Usage() string {
	return `prices [-crypto BTC,ETH] [-stock AAPL] [-etf VOO] [-json]

  Queries the primary provider for each asset kind and retries anything it
  missed on the secondary.
`
}

func (p *pricesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.crypto, "crypto", "", "comma-separated crypto symbols")
	f.StringVar(&p.stock, "stock", "", "comma-separated stock symbols")
	f.StringVar(&p.etf, "etf", "", "comma-separated ETF symbols")
	f.BoolVar(&p.asJSON, "json", false, "print the raw result as JSON")
}

func (p *pricesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	assets := assetsFromFlags(p.crypto, p.stock, p.etf)
	if len(assets) == 0 {
		fmt.Fprintln(os.Stderr, "no symbols provided")
		return subcommands.ExitUsageError
	}
	svc, _, done, err := setup()
	if err != nil {
		return fail(err)
	}
	defer done()

	res := svc.FetchPrices(ctx, assets)
	if p.asJSON {
		if err := printJSON(os.Stdout, res); err != nil {
			return fail(err)
		}
	} else {
		renderPrices(os.Stdout, res)
	}
	if !res.Success {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func assetsFromFlags(crypto, stock, etf string) []provider.AssetRequest {
	var out []provider.AssetRequest
	for kind, csv := range map[provider.Kind]string{provider.KindCrypto: crypto, provider.KindStock: stock, provider.KindETF: etf} {
		for _, s := range splitCSV(csv) {
			out = append(out, provider.AssetRequest{Symbol: s, Kind: kind})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// renderPrices prints one line per quote with the 24h change colored by sign.
func renderPrices(w io.Writer, res provider.PriceResult) {
	for _, q := range res.Prices {
		fmt.Fprintf(w, "%-10s %18s  %-8s %s\n", q.Symbol, valuation.Format(q.Price, q.Currency), changeText(q.Change24h), q.Source)
	}
	for _, e := range res.Errors {
		fmt.Fprintln(w, color.YellowString("! %s", e))
	}
}

func changeText(change *decimal.Decimal) string {
	if change == nil {
		return "-"
	}
	s := change.StringFixed(2) + "%"
	switch change.Sign() {
	case 1:
		return color.GreenString("+%s", s)
	case -1:
		return color.RedString("%s", s)
	}
	return s
}

type ratesCmd struct {
	base   string
	asJSON bool
}

func (*ratesCmd) Name() string     { return "rates" }
func (*ratesCmd) Synopsis() string { return "fetch exchange rates for a base currency" }
func (*ratesCmd) Usage() string {
	return `rates [-base USD] [-json]
`
}

func (r *ratesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.base, "base", "", "base currency (defaults to server.default_base)")
	f.BoolVar(&r.asJSON, "json", false, "print the raw rate set as JSON")
}

func (r *ratesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	svc, cfg, done, err := setup()
	if err != nil {
		return fail(err)
	}
	defer done()

	base := provider.NormalizeSymbol(r.base)
	if base == "" {
		base = provider.NormalizeSymbol(cfg.Server.DefaultBase)
	}
	if !provider.IsSupported(base) {
		fmt.Fprintf(os.Stderr, "unsupported base currency %q (supported: %s)\n", base, strings.Join(provider.SupportedCurrencies, ", "))
		return subcommands.ExitUsageError
	}

	set := svc.FetchExchangeRates(ctx, base)
	if r.asJSON {
		if err := printJSON(os.Stdout, set); err != nil {
			return fail(err)
		}
	} else {
		renderRates(os.Stdout, set)
	}
	if !set.Success {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func renderRates(w io.Writer, set provider.ExchangeRateSet) {
	fmt.Fprintf(w, "1 %s (source: %s)\n", set.Base, set.Source)
	curs := make([]string, 0, len(set.Rates))
	for cur := range set.Rates {
		if cur != set.Base {
			curs = append(curs, cur)
		}
	}
	sort.Strings(curs)
	for _, cur := range curs {
		fmt.Fprintf(w, "  %s %s\n", cur, set.Rates[cur].String())
	}
	for _, e := range set.Errors {
		fmt.Fprintln(w, color.YellowString("! %s", e))
	}
}

type convertCmd struct{}

func (*convertCmd) Name() string     { return "convert" }
func (*convertCmd) Synopsis() string { return "convert an amount between two currencies" }
func (*convertCmd) Usage() string {
	return `convert <amount> <from> <to>
`
}

func (*convertCmd) SetFlags(*flag.FlagSet) {}

func (*convertCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 3 {
		fmt.Fprintln(os.Stderr, "usage: convert <amount> <from> <to>")
		return subcommands.ExitUsageError
	}
	amount, err := decimal.NewFromString(f.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid amount %q\n", f.Arg(0))
		return subcommands.ExitUsageError
	}
	from, to := provider.NormalizeSymbol(f.Arg(1)), provider.NormalizeSymbol(f.Arg(2))

	svc, cfg, done, err := setup()
	if err != nil {
		return fail(err)
	}
	defer done()

	base := to
	if !provider.IsSupported(base) {
		base = provider.NormalizeSymbol(cfg.Server.DefaultBase)
	}
	set := svc.FetchExchangeRates(ctx, base)
	out, ok := valuation.NewRateTable(set).Convert(amount, from, to)
	if !ok {
		for _, e := range set.Errors {
			fmt.Fprintln(os.Stderr, color.YellowString("! %s", e))
		}
		return fail(fmt.Errorf("rate unavailable for %s -> %s", from, to))
	}
	fmt.Printf("%s = %s (%s)\n", valuation.Format(amount, from), valuation.Format(out, to), set.Source)
	return subcommands.ExitSuccess
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
