// Package valuation converts amounts between currencies and computes the
// dashboard aggregates. Everything here is pure and works on decimals.
package valuation

import (
	"github.com/shopspring/decimal"

	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider"
)

var one = decimal.NewFromInt(1)

// ConvertCurrency converts amount from one currency to another through base.
// rates holds multipliers relative to base. ok is false when either side has
// no usable rate; from == to always succeeds, even with no rates at all.
func ConvertCurrency(amount decimal.Decimal, from, to string, rates map[string]decimal.Decimal, base string) (decimal.Decimal, bool) {
	from, to, base = provider.NormalizeSymbol(from), provider.NormalizeSymbol(to), provider.NormalizeSymbol(base)
	if from == to {
		return amount, true
	}
	fromRate, ok := multiplier(from, rates, base)
	if !ok {
		return decimal.Zero, false
	}
	toRate, ok := multiplier(to, rates, base)
	if !ok {
		return decimal.Zero, false
	}
	return amount.Div(fromRate).Mul(toRate), true
}

func multiplier(cur string, rates map[string]decimal.Decimal, base string) (decimal.Decimal, bool) {
	if cur == base {
		return one, true
	}
	r, ok := rates[cur]
	if !ok || !r.IsPositive() {
		return decimal.Zero, false
	}
	return r, true
}

// RateTable is a rate set ready for conversions, optionally extended with
// manual rates for currencies no provider quotes.
type RateTable struct {
	Base  string
	Rates map[string]decimal.Decimal
	// Manual lists the currencies whose rate came from WithManual.
	Manual []string
}

// NewRateTable copies the rates of set. A failed set yields a table that can
// only convert between equal currencies.
func NewRateTable(set provider.ExchangeRateSet) RateTable {
	t := RateTable{Base: provider.NormalizeSymbol(set.Base), Rates: make(map[string]decimal.Decimal, len(set.Rates)+2)}
	for cur, r := range set.Rates {
		t.Rates[provider.NormalizeSymbol(cur)] = r
	}
	return t
}

// WithManual returns a copy of t with manual rates added. Provider rates win
// over manual ones for the same currency.
func (t RateTable) WithManual(manual map[string]decimal.Decimal) RateTable {
	out := RateTable{Base: t.Base, Rates: make(map[string]decimal.Decimal, len(t.Rates)+len(manual))}
	for cur, r := range t.Rates {
		out.Rates[cur] = r
	}
	out.Manual = append(out.Manual, t.Manual...)
	for cur, r := range manual {
		cur = provider.NormalizeSymbol(cur)
		if _, exists := out.Rates[cur]; exists || !r.IsPositive() {
			continue
		}
		out.Rates[cur] = r
		out.Manual = append(out.Manual, cur)
	}
	return out
}

// Convert is ConvertCurrency over the table.
func (t RateTable) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, bool) {
	return ConvertCurrency(amount, from, to, t.Rates, t.Base)
}
