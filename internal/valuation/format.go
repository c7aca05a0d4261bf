package valuation

import (
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider"
)

// Format renders amount with the currency's symbol, separators and minor
// units, e.g. "$1,234.50". Codes unknown to go-money fall back to "1234.50 XYZ".
func Format(amount decimal.Decimal, currency string) string {
	currency = provider.NormalizeSymbol(currency)
	cur := money.GetCurrency(currency)
	if cur == nil {
		return fmt.Sprintf("%s %s", amount.StringFixed(2), currency)
	}
	minor := amount.Round(int32(cur.Fraction)).Shift(int32(cur.Fraction))
	return cur.Formatter().Format(minor.IntPart())
}
