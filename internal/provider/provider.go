package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoAPIKey is returned by providers that need a credential which was not provisioned.
	ErrNoAPIKey = errors.New("No API key configured")
	// ErrNoRates is returned when an FX provider answered without any usable rate.
	ErrNoRates = errors.New("no rates returned")
)

// Kind is the asset class of a requested symbol.
type Kind string

const (
	KindCrypto Kind = "CRYPTO"
	KindStock  Kind = "STOCK"
	KindETF    Kind = "ETF"
)

// ParseKind accepts any casing of the known kinds.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindCrypto, KindStock, KindETF:
		return k, nil
	}
	return "", fmt.Errorf("unknown asset kind %q", s)
}

// UnmarshalText upper-cases the kind; validation rejects unknown values.
func (k *Kind) UnmarshalText(b []byte) error {
	*k = Kind(strings.ToUpper(strings.TrimSpace(string(b))))
	return nil
}

// IsCrypto reports whether the kind is routed to the crypto providers.
func (k Kind) IsCrypto() bool { return k == KindCrypto }

// AssetRequest is one symbol to price.
type AssetRequest struct {
	Symbol string `json:"symbol" validate:"required,ticker"`
	Kind   Kind   `json:"kind" validate:"required,oneof=CRYPTO STOCK ETF"`
}

// PriceQuote is the normalized shape returned by all price providers.
// It is never persisted.
type PriceQuote struct {
	Symbol    string           `json:"symbol"`
	Price     decimal.Decimal  `json:"price"`
	Change24h *decimal.Decimal `json:"change24h,omitempty"`
	Currency  string           `json:"currency"`
	Source    string           `json:"source"`
	FetchedAt time.Time        `json:"fetchedAt"`
}

// ExchangeRateSet holds multipliers relative to Base. When Success is true,
// Rates[Base] is 1.
type ExchangeRateSet struct {
	Base      string                     `json:"baseCurrency"`
	Rates     map[string]decimal.Decimal `json:"rates"`
	Source    string                     `json:"source"`
	FetchedAt time.Time                  `json:"fetchedAt"`
	Errors    []string                   `json:"errors"`
	Success   bool                       `json:"success"`
}

// PriceResult is the merged answer of a price fetch across asset kinds.
type PriceResult struct {
	Success bool         `json:"success"`
	Prices  []PriceQuote `json:"prices"`
	Errors  []string     `json:"errors"`
}

// PriceProvider fetches quotes for a batch of upper-cased symbols.
// Symbols the provider cannot resolve are simply absent from the result.
type PriceProvider interface {
	Name() string
	FetchPrices(ctx context.Context, symbols []string) ([]PriceQuote, error)
}

// RateProvider fetches a full rate table for a base currency.
type RateProvider interface {
	Name() string
	FetchRates(ctx context.Context, base string) (ExchangeRateSet, error)
}

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -source=provider.go -destination=mocks/mock_provider.go -package=mocks
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SupportedCurrencies is the allowlist served by the FX providers.
// ARS and CNY are deliberately absent; they come from manual rates.
var SupportedCurrencies = []string{"USD", "EUR", "GBP", "JPY", "CAD", "AUD", "CHF", "BRL"}

// IsSupported reports whether code is in SupportedCurrencies.
func IsSupported(code string) bool {
	code = NormalizeSymbol(code)
	for _, c := range SupportedCurrencies {
		if c == code {
			return true
		}
	}
	return false
}

// NormalizeSymbol trims and upper-cases a ticker or currency code.
func NormalizeSymbol(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// NoCache marks a request so that no intermediary serves a stored response.
func NoCache(req *http.Request) {
	req.Header.Set("Cache-Control", "no-cache, no-store")
	req.Header.Set("Pragma", "no-cache")
}
