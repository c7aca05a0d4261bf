package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/aggregate"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/manualrate"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/validation"
	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/valuation"
)

const maxAssets = 200

// pricingService is satisfied by *pricing.Service.
type pricingService interface {
	FetchPrices(ctx context.Context, assets []provider.AssetRequest) provider.PriceResult
	FetchExchangeRates(ctx context.Context, base string) provider.ExchangeRateSet
	Snapshot(ctx context.Context, assets []provider.AssetRequest, base string) (provider.PriceResult, provider.ExchangeRateSet)
}

type Server struct {
	svc         pricingService
	manual      manualrate.Store
	defaultBase string
	timeout     time.Duration
	logger      *zap.Logger
	// rates collapses concurrent fetches for the same base.
	rates singleflight.Group
}

func NewServer(svc pricingService, manual manualrate.Store, defaultBase string, timeout time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Server{
		svc:         svc,
		manual:      manual,
		defaultBase: provider.NormalizeSymbol(defaultBase),
		timeout:     timeout,
		logger:      logger,
	}
}

// Handler returns the full middleware chain around the router.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(withRequestID)
	router.Use(observe(s.logger))

	router.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	// withGzip already compresses the outer response.
	metricsHandler := promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{DisableCompression: true})
	router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/prices", s.getPricesHandler).Methods(http.MethodGet)
	api.HandleFunc("/prices", s.postPricesHandler).Methods(http.MethodPost)
	api.HandleFunc("/exchange-rates", s.exchangeRatesHandler).Methods(http.MethodGet)
	api.HandleFunc("/manual-rates", s.getManualRatesHandler).Methods(http.MethodGet)
	api.HandleFunc("/manual-rates", s.putManualRateHandler).Methods(http.MethodPut)
	api.HandleFunc("/convert", s.convertHandler).Methods(http.MethodPost)
	api.HandleFunc("/summary", s.summaryHandler).Methods(http.MethodPost)
	api.HandleFunc("/portfolio", s.portfolioHandler).Methods(http.MethodPost)
	api.HandleFunc("/dividends", s.dividendsHandler).Methods(http.MethodPost)

	return withJSONHeaders(withGzip(recoverPanic(s.logger)(limitBody(router))))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(data)
}

type errorResponse struct {
	Error   string                     `json:"error"`
	Details validation.ValidationErrors `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeInvalid reports a validation failure with per-field details when
// available.
func writeInvalid(w http.ResponseWriter, err error) {
	var ve validation.ValidationErrors
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Details: ve})
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func (s *Server) withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pricesRequest struct {
	Assets []provider.AssetRequest `json:"assets" validate:"required,min=1,max=200,dive"`
}

// getPricesHandler reads ?crypto=BTC,ETH&stock=AAPL&etf=VOO.
func (s *Server) getPricesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var req pricesRequest
	for _, k := range []provider.Kind{provider.KindCrypto, provider.KindStock, provider.KindETF} {
		for _, sym := range splitCSV(q.Get(strings.ToLower(string(k)))) {
			req.Assets = append(req.Assets, provider.AssetRequest{Symbol: sym, Kind: k})
		}
	}
	if len(req.Assets) == 0 {
		writeError(w, http.StatusBadRequest, "missing crypto, stock or etf query param")
		return
	}
	s.writePrices(w, r, req)
}

func (s *Server) postPricesHandler(w http.ResponseWriter, r *http.Request) {
	var req pricesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writePrices(w, r, req)
}

func (s *Server) writePrices(w http.ResponseWriter, r *http.Request, req pricesRequest) {
	if len(req.Assets) > maxAssets {
		writeError(w, http.StatusBadRequest, "too many assets (max 200)")
		return
	}
	if err := validation.Struct(req); err != nil {
		writeInvalid(w, err)
		return
	}
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	res := s.svc.FetchPrices(ctx, req.Assets)
	status := http.StatusOK
	if !res.Success && len(res.Errors) > 0 {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

// baseParam returns the requested base, the default when absent, or ""
// when the currency is not supported.
func (s *Server) baseParam(raw string) string {
	base := provider.NormalizeSymbol(raw)
	if base == "" {
		return s.defaultBase
	}
	if !provider.IsSupported(base) {
		return ""
	}
	return base
}

// rateBase picks the base used to fetch rates for a reporting currency.
// Manual-only currencies are reached through the default base.
func (s *Server) rateBase(reporting string) string {
	if provider.IsSupported(reporting) {
		return reporting
	}
	return s.defaultBase
}

// fetchRates shares one upstream fetch among concurrent callers for base.
// The shared fetch is detached from any single caller; each caller stops
// waiting when its own context ends.
func (s *Server) fetchRates(ctx context.Context, base string) provider.ExchangeRateSet {
	ch := s.rates.DoChan(base, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.svc.FetchExchangeRates(fctx, base), nil
	})
	select {
	case res := <-ch:
		return res.Val.(provider.ExchangeRateSet)
	case <-ctx.Done():
		return provider.ExchangeRateSet{
			Base:      base,
			Rates:     map[string]decimal.Decimal{},
			Source:    aggregate.SourceNone,
			FetchedAt: time.Now().UTC(),
			Errors:    []string{ctx.Err().Error()},
		}
	}
}

// rateTable fetches rates for base and overlays the manual ones. A store
// failure degrades to provider rates only.
func (s *Server) rateTable(ctx context.Context, base string) (valuation.RateTable, provider.ExchangeRateSet) {
	set := s.fetchRates(ctx, base)
	return s.withManual(ctx, base, set), set
}

func (s *Server) withManual(ctx context.Context, base string, set provider.ExchangeRateSet) valuation.RateTable {
	table := valuation.NewRateTable(set)
	if table.Base == "" {
		table.Base = base
	}
	if s.manual == nil {
		return table
	}
	manual, err := s.manual.Get(ctx, base)
	if err != nil {
		s.logger.Warn("manual rates unavailable", zap.String("base", base), zap.Error(err))
		return table
	}
	return table.WithManual(manual)
}

type exchangeRatesResponse struct {
	provider.ExchangeRateSet
	// Manual lists currencies whose rate was entered by hand.
	Manual []string `json:"manual"`
}

func (s *Server) exchangeRatesHandler(w http.ResponseWriter, r *http.Request) {
	base := s.baseParam(r.URL.Query().Get("base"))
	if base == "" {
		writeError(w, http.StatusBadRequest, "unsupported base currency")
		return
	}
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	table, set := s.rateTable(ctx, base)
	resp := exchangeRatesResponse{ExchangeRateSet: set, Manual: table.Manual}
	resp.Rates = table.Rates
	if resp.Manual == nil {
		resp.Manual = []string{}
	}
	status := http.StatusOK
	if !set.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

type manualRatesResponse struct {
	Base  string                     `json:"baseCurrency"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

func (s *Server) getManualRatesHandler(w http.ResponseWriter, r *http.Request) {
	base := s.baseParam(r.URL.Query().Get("base"))
	if base == "" {
		writeError(w, http.StatusBadRequest, "unsupported base currency")
		return
	}
	rates, err := s.manual.Get(r.Context(), base)
	if err != nil {
		s.logger.Error("get manual rates", zap.String("base", base), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "manual rate store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, manualRatesResponse{Base: base, Rates: rates})
}

type manualRateRequest struct {
	Base     string          `json:"baseCurrency" validate:"omitempty,currency"`
	Currency string          `json:"currency" validate:"required,currency"`
	Rate     decimal.Decimal `json:"rate"`
}

func (s *Server) putManualRateHandler(w http.ResponseWriter, r *http.Request) {
	var req manualRateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.Struct(req); err != nil {
		writeInvalid(w, err)
		return
	}
	if req.Base == "" {
		req.Base = s.defaultBase
	}
	base, cur, err := manualrate.Validate(req.Base, req.Currency, req.Rate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.manual.Set(r.Context(), base, cur, req.Rate); err != nil {
		s.logger.Error("set manual rate", zap.String("base", base), zap.String("currency", cur), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "manual rate store unavailable")
		return
	}
	rates, err := s.manual.Get(r.Context(), base)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "manual rate store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, manualRatesResponse{Base: base, Rates: rates})
}

type convertRequest struct {
	Amount decimal.Decimal `json:"amount"`
	From   string          `json:"from" validate:"required,currency"`
	To     string          `json:"to" validate:"required,currency"`
}

type convertResponse struct {
	Amount  decimal.Decimal `json:"amount"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	Result  decimal.Decimal `json:"result"`
	Display string          `json:"display"`
	Source  string          `json:"source"`
}

func (s *Server) convertHandler(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.Struct(req); err != nil {
		writeInvalid(w, err)
		return
	}
	from, to := provider.NormalizeSymbol(req.From), provider.NormalizeSymbol(req.To)
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	table, set := s.rateTable(ctx, s.rateBase(to))
	out, ok := table.Convert(req.Amount, from, to)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "rate unavailable")
		return
	}
	writeJSON(w, http.StatusOK, convertResponse{
		Amount:  req.Amount,
		From:    from,
		To:      to,
		Result:  out,
		Display: valuation.Format(out, to),
		Source:  set.Source,
	})
}

type summaryRequest struct {
	Currency string              `json:"currency" validate:"omitempty,currency"`
	Balances []valuation.Balance `json:"balances" validate:"max=1000,dive"`
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.Struct(req); err != nil {
		writeInvalid(w, err)
		return
	}
	reporting := s.reporting(req.Currency)
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	table, _ := s.rateTable(ctx, s.rateBase(reporting))
	writeJSON(w, http.StatusOK, valuation.Totals(req.Balances, reporting, table))
}

type portfolioRequest struct {
	Currency string              `json:"currency" validate:"omitempty,currency"`
	Holdings []valuation.Holding `json:"holdings" validate:"required,min=1,max=200,dive"`
}

type portfolioResponse struct {
	valuation.Valuation
	Errors []string `json:"errors"`
}

func (s *Server) portfolioHandler(w http.ResponseWriter, r *http.Request) {
	var req portfolioRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.Struct(req); err != nil {
		writeInvalid(w, err)
		return
	}
	reporting := s.reporting(req.Currency)
	assets := make([]provider.AssetRequest, 0, len(req.Holdings))
	for _, h := range req.Holdings {
		assets = append(assets, provider.AssetRequest{Symbol: h.Symbol, Kind: h.Kind})
	}
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	base := s.rateBase(reporting)
	prices, set := s.svc.Snapshot(ctx, assets, base)
	table := s.withManual(ctx, base, set)

	resp := portfolioResponse{
		Valuation: valuation.Portfolio(req.Holdings, prices.Prices, reporting, table),
		Errors:    append(append([]string{}, prices.Errors...), set.Errors...),
	}
	writeJSON(w, http.StatusOK, resp)
}

type dividendsRequest struct {
	Currency string               `json:"currency" validate:"omitempty,currency"`
	Payouts  []valuation.Dividend `json:"payouts" validate:"max=1000,dive"`
}

func (s *Server) dividendsHandler(w http.ResponseWriter, r *http.Request) {
	var req dividendsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.Struct(req); err != nil {
		writeInvalid(w, err)
		return
	}
	reporting := s.reporting(req.Currency)
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	table, _ := s.rateTable(ctx, s.rateBase(reporting))
	writeJSON(w, http.StatusOK, valuation.Dividends(req.Payouts, reporting, table))
}

func (s *Server) reporting(cur string) string {
	if cur = provider.NormalizeSymbol(cur); cur != "" {
		return cur
	}
	return s.defaultBase
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
