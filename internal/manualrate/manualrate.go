// Package manualrate stores user-entered rates for currencies the FX
// providers do not quote (ARS, CNY).
package manualrate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider"
)

var (
	// ErrProviderCurrency rejects manual rates for currencies the providers serve.
	ErrProviderCurrency = errors.New("currency is served by the rate providers")
	ErrInvalidRate      = errors.New("rate must be positive")
	ErrInvalidCurrency  = errors.New("invalid currency code")
)

// Store keeps rates per base currency. A rate is the number of currency
// units per one base unit, the same convention as provider rate sets.
type Store interface {
	Get(ctx context.Context, base string) (map[string]decimal.Decimal, error)
	Set(ctx context.Context, base, currency string, rate decimal.Decimal) error
}

// Validate normalizes a manual rate entry.
func Validate(base, currency string, rate decimal.Decimal) (string, string, error) {
	base, currency = provider.NormalizeSymbol(base), provider.NormalizeSymbol(currency)
	if !provider.IsSupported(base) {
		return "", "", fmt.Errorf("%w: base %q", ErrInvalidCurrency, base)
	}
	if len(currency) != 3 || currency == base {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	if provider.IsSupported(currency) {
		return "", "", fmt.Errorf("%s: %w", currency, ErrProviderCurrency)
	}
	if !rate.IsPositive() {
		return "", "", ErrInvalidRate
	}
	return base, currency, nil
}

// Memory is an in-process Store.
type Memory struct {
	mu    sync.RWMutex
	rates map[string]map[string]decimal.Decimal
}

func NewMemory() *Memory {
	return &Memory{rates: make(map[string]map[string]decimal.Decimal)}
}

func (m *Memory) Get(_ context.Context, base string) (map[string]decimal.Decimal, error) {
	base = provider.NormalizeSymbol(base)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(m.rates[base]))
	for cur, r := range m.rates[base] {
		out[cur] = r
	}
	return out, nil
}

func (m *Memory) Set(_ context.Context, base, currency string, rate decimal.Decimal) error {
	base, currency, err := Validate(base, currency, rate)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rates[base] == nil {
		m.rates[base] = make(map[string]decimal.Decimal)
	}
	m.rates[base][currency] = rate
	return nil
}
