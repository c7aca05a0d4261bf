package valuation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider"
)

// Holding is a quantity of one asset.
type Holding struct {
	Symbol   string          `json:"symbol" validate:"required,ticker"`
	Kind     provider.Kind   `json:"kind" validate:"required,oneof=CRYPTO STOCK ETF"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Position is a priced holding.
type Position struct {
	Symbol    string           `json:"symbol"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Price     decimal.Decimal  `json:"price"`
	Currency  string           `json:"currency"`
	Change24h *decimal.Decimal `json:"change24h,omitempty"`
	Source    string           `json:"source"`
	// Value is Quantity*Price converted into the reporting currency.
	Value   decimal.Decimal `json:"value"`
	Display string          `json:"display"`
}

// Valuation is the portfolio worth in one reporting currency.
type Valuation struct {
	Currency  string          `json:"currency"`
	Positions []Position      `json:"positions"`
	Total     decimal.Decimal `json:"total"`
	Display   string          `json:"display"`
	// Unpriced lists symbols without a quote or without a rate for the
	// quote currency.
	Unpriced []string `json:"unpriced"`
}

// Portfolio values holdings against quotes. Holdings of the same symbol are
// valued separately.
func Portfolio(holdings []Holding, quotes []provider.PriceQuote, reporting string, table RateTable) Valuation {
	reporting = provider.NormalizeSymbol(reporting)
	v := Valuation{Currency: reporting, Positions: []Position{}, Unpriced: []string{}}

	bySymbol := make(map[string]provider.PriceQuote, len(quotes))
	for _, q := range quotes {
		sym := provider.NormalizeSymbol(q.Symbol)
		if _, dup := bySymbol[sym]; !dup {
			bySymbol[sym] = q
		}
	}

	for _, h := range holdings {
		sym := provider.NormalizeSymbol(h.Symbol)
		q, ok := bySymbol[sym]
		if !ok {
			v.Unpriced = append(v.Unpriced, sym)
			continue
		}
		cur := q.Currency
		if cur == "" {
			cur = "USD"
		}
		value, ok := table.Convert(h.Quantity.Mul(q.Price), cur, reporting)
		if !ok {
			v.Unpriced = append(v.Unpriced, sym)
			continue
		}
		v.Positions = append(v.Positions, Position{
			Symbol:    sym,
			Quantity:  h.Quantity,
			Price:     q.Price,
			Currency:  cur,
			Change24h: q.Change24h,
			Source:    q.Source,
			Value:     value,
			Display:   Format(value, reporting),
		})
		v.Total = v.Total.Add(value)
	}
	v.Display = Format(v.Total, reporting)
	return v
}

// Dividend is one payout.
type Dividend struct {
	Symbol   string          `json:"symbol" validate:"required,ticker"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"required,currency"`
}

// SymbolTotal is the converted dividend income of one symbol.
type SymbolTotal struct {
	Symbol  string          `json:"symbol"`
	Total   decimal.Decimal `json:"total"`
	Display string          `json:"display"`
}

// DividendSummary aggregates a year of payouts.
type DividendSummary struct {
	Currency       string          `json:"currency"`
	BySymbol       []SymbolTotal   `json:"bySymbol"`
	Total          decimal.Decimal `json:"total"`
	MonthlyAverage decimal.Decimal `json:"monthlyAverage"`
	Display        string          `json:"display"`
	Skipped        []string        `json:"skipped"`
}

var months = decimal.NewFromInt(12)

// Dividends converts payouts into reporting and totals them per symbol.
// Payouts whose currency cannot be converted are listed in Skipped.
func Dividends(payouts []Dividend, reporting string, table RateTable) DividendSummary {
	reporting = provider.NormalizeSymbol(reporting)
	d := DividendSummary{Currency: reporting, BySymbol: []SymbolTotal{}, Skipped: []string{}}

	totals := make(map[string]decimal.Decimal)
	skipped := make(map[string]bool)
	for _, p := range payouts {
		sym := provider.NormalizeSymbol(p.Symbol)
		cur := provider.NormalizeSymbol(p.Currency)
		amt, ok := table.Convert(p.Amount, cur, reporting)
		if !ok {
			if !skipped[cur] {
				skipped[cur] = true
				d.Skipped = append(d.Skipped, cur)
			}
			continue
		}
		totals[sym] = totals[sym].Add(amt)
		d.Total = d.Total.Add(amt)
	}

	for sym, total := range totals {
		d.BySymbol = append(d.BySymbol, SymbolTotal{Symbol: sym, Total: total, Display: Format(total, reporting)})
	}
	sort.Slice(d.BySymbol, func(i, j int) bool { return d.BySymbol[i].Symbol < d.BySymbol[j].Symbol })

	d.MonthlyAverage = d.Total.Div(months)
	d.Display = Format(d.Total, reporting)
	return d
}
