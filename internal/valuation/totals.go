package valuation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider"
)

// Balance is the paid and unpaid sum of expenses in one currency.
type Balance struct {
	Currency string          `json:"currency" validate:"required,currency"`
	Paid     decimal.Decimal `json:"paid"`
	Unpaid   decimal.Decimal `json:"unpaid"`
}

// Line is a same-currency subtotal.
type Line struct {
	Currency string          `json:"currency"`
	Paid     decimal.Decimal `json:"paid"`
	Unpaid   decimal.Decimal `json:"unpaid"`
	Total    decimal.Decimal `json:"total"`
	Display  string          `json:"display"`
}

// Summary is the expense dashboard: one line per currency plus a combined
// total in the reporting currency.
type Summary struct {
	Currency string          `json:"currency"`
	Lines    []Line          `json:"lines"`
	Paid     decimal.Decimal `json:"paid"`
	Unpaid   decimal.Decimal `json:"unpaid"`
	Total    decimal.Decimal `json:"total"`
	Display  string          `json:"display"`
	// Skipped lists currencies left out of the combined total for lack of a rate.
	Skipped []string `json:"skipped"`
}

// Totals groups balances by currency and converts each group into
// reporting. Currencies with zero paid and zero unpaid are omitted.
func Totals(balances []Balance, reporting string, table RateTable) Summary {
	reporting = provider.NormalizeSymbol(reporting)
	s := Summary{Currency: reporting, Lines: []Line{}, Skipped: []string{}}

	byCur := make(map[string]*Line, len(balances))
	for _, b := range balances {
		cur := provider.NormalizeSymbol(b.Currency)
		l, ok := byCur[cur]
		if !ok {
			l = &Line{Currency: cur}
			byCur[cur] = l
		}
		l.Paid = l.Paid.Add(b.Paid)
		l.Unpaid = l.Unpaid.Add(b.Unpaid)
	}

	for _, l := range byCur {
		if l.Paid.IsZero() && l.Unpaid.IsZero() {
			continue
		}
		l.Total = l.Paid.Add(l.Unpaid)
		l.Display = Format(l.Total, l.Currency)
		s.Lines = append(s.Lines, *l)
	}
	sort.Slice(s.Lines, func(i, j int) bool { return s.Lines[i].Currency < s.Lines[j].Currency })

	for _, l := range s.Lines {
		paid, okPaid := table.Convert(l.Paid, l.Currency, reporting)
		unpaid, okUnpaid := table.Convert(l.Unpaid, l.Currency, reporting)
		if !okPaid || !okUnpaid {
			s.Skipped = append(s.Skipped, l.Currency)
			continue
		}
		s.Paid = s.Paid.Add(paid)
		s.Unpaid = s.Unpaid.Add(unpaid)
	}
	s.Total = s.Paid.Add(s.Unpaid)
	s.Display = Format(s.Total, reporting)
	return s
}
