// Package exchange is the read API of the mirror: klines through the
// reconciler, tickers and symbols through gated caches.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"klinemirror/internal/gate"
	"klinemirror/internal/kline"
	"klinemirror/internal/logger"
	"klinemirror/internal/market"
	symbolpkg "klinemirror/internal/pkg/symbol"
	"klinemirror/internal/pkg/trading"
	"klinemirror/internal/store"

	"github.com/shopspring/decimal"
)

// ErrInvalidArgument wraps caller mistakes such as a blank symbol.
var ErrInvalidArgument = errors.New("invalid argument")

type Config struct {
	TickerInterval       time.Duration
	ExchangeInfoInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickerInterval <= 0 {
		c.TickerInterval = gate.DefaultTickerInterval
	}
	if c.ExchangeInfoInterval <= 0 {
		c.ExchangeInfoInterval = gate.DefaultExchangeInfoInterval
	}
	return c
}

// TickerQuery filters and orders GetTickers. Sorting needs both fields.
type TickerQuery struct {
	QuoteAsset string
	SortBy     string
	SortDir    string
}

// SymbolQuery filters, orders and pages GetSymbols. PerPage 0 returns every
// match.
type SymbolQuery struct {
	QuoteAsset string
	Search     string
	SortBy     string
	SortDir    string
	Page       int
	PerPage    int
}

type Service struct {
	source market.Source
	store  store.Store
	klines *kline.Reconciler
	gate   *gate.Gate
	cfg    Config
}

func NewService(source market.Source, st store.Store, klines *kline.Reconciler, g *gate.Gate, cfg Config) *Service {
	return &Service{source: source, store: st, klines: klines, gate: g, cfg: cfg.withDefaults()}
}

func normalizeSymbol(symbol string) (string, error) {
	out := symbolpkg.Normalize(symbol)
	if !symbolpkg.IsValid(out) {
		return "", fmt.Errorf("%w: symbol %q", ErrInvalidArgument, symbol)
	}
	return out, nil
}

// GetKlines returns the reconciled series, ascending by open time.
func (s *Service) GetKlines(ctx context.Context, symbol, interval string) ([]market.Bar, error) {
	sym, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return s.klines.Bars(ctx, sym, market.NormalizeInterval(interval))
}

// UpdateAndGetLastBar fetches the remote tail and stores it over the local
// tail. It does not seed an empty series.
func (s *Service) UpdateAndGetLastBar(ctx context.Context, symbol, interval string) (market.Bar, error) {
	sym, err := normalizeSymbol(symbol)
	if err != nil {
		return market.Bar{}, err
	}
	return s.klines.LastBar(ctx, sym, market.NormalizeInterval(interval))
}

// GetKlineRange reconciles the series, then returns only bars with open_time
// in [start, end].
func (s *Service) GetKlineRange(ctx context.Context, symbol, interval string, start, end int64) ([]market.Bar, error) {
	sym, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	iv := market.NormalizeInterval(interval)
	if _, _, err := s.klines.Reconcile(ctx, sym, iv); err != nil {
		return nil, err
	}
	return store.RangeBars(ctx, s.store, sym, iv, start, end)
}

// KlineManifest reports the stored file for one series. Only the per-series
// file backend keeps manifests.
func (s *Service) KlineManifest(ctx context.Context, symbol, interval string) (store.Manifest, error) {
	sym, err := normalizeSymbol(symbol)
	if err != nil {
		return store.Manifest{}, err
	}
	iv := market.NormalizeInterval(interval)
	if _, err := market.IntervalMillis(iv); err != nil {
		return store.Manifest{}, err
	}
	mr, ok := s.store.(store.ManifestReader)
	if !ok {
		return store.Manifest{}, store.ErrManifestUnsupported
	}
	return mr.Manifest(ctx, sym, iv)
}

// Ping checks the storage backends.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.store.(store.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// GetTimeframes lists the supported interval keys, shortest first.
func (s *Service) GetTimeframes() []string {
	return market.SupportedIntervals()
}

// RefreshTickers pulls 24h tickers when the ticker gate is due.
func (s *Service) RefreshTickers(ctx context.Context) (bool, error) {
	return s.gate.Refresh(ctx, gate.KeyTicker24h, s.cfg.TickerInterval, func(ctx context.Context) error {
		tickers, err := s.source.Tickers24h(ctx)
		if err != nil {
			return err
		}
		if err := s.store.UpsertTickers(ctx, tickers); err != nil {
			return err
		}
		logger.Infof("[exchange] refreshed %d tickers", len(tickers))
		return nil
	})
}

// RefreshExchangeInfo pulls exchange info when the metadata gate is due.
func (s *Service) RefreshExchangeInfo(ctx context.Context) (bool, error) {
	return s.gate.Refresh(ctx, gate.KeyExchangeInfo, s.cfg.ExchangeInfoInterval, s.loadExchangeInfo)
}

func (s *Service) loadExchangeInfo(ctx context.Context) error {
	info, err := s.source.ExchangeInfo(ctx)
	if err != nil {
		return err
	}
	symbols := market.ProjectSymbols(info)
	if err := s.store.UpsertSymbols(ctx, symbols); err != nil {
		return err
	}
	logger.Infof("[exchange] refreshed %d symbols", len(symbols))
	return nil
}

// ensureSymbols runs the gated refresh, then loads exchange info anyway when
// the gate is fresh but the symbol table is empty (redis state over a memory
// store, or a failed fetch that already marked the gate).
func (s *Service) ensureSymbols(ctx context.Context) error {
	refreshed, err := s.RefreshExchangeInfo(ctx)
	if err != nil {
		return fmt.Errorf("refresh exchange info: %w", err)
	}
	if refreshed {
		return nil
	}
	n, err := s.store.CountSymbols(ctx)
	if err != nil {
		return fmt.Errorf("count symbols: %w", err)
	}
	if n > 0 {
		return nil
	}
	logger.Warnf("[exchange] symbol cache empty, loading exchange info")
	if err := s.loadExchangeInfo(ctx); err != nil {
		return fmt.Errorf("load exchange info: %w", err)
	}
	return s.gate.MarkRefreshed(ctx, gate.KeyExchangeInfo, s.gate.NowMillis())
}

// GetTickers serves the ticker cache after a gated refresh.
func (s *Service) GetTickers(ctx context.Context, q TickerQuery) ([]market.Ticker, error) {
	filter := store.TickerFilter{
		QuoteAsset: strings.TrimSpace(q.QuoteAsset),
		SortBy:     q.SortBy,
		SortDir:    q.SortDir,
	}
	if _, _, err := store.ResolveTickerSort(filter); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if _, err := s.RefreshTickers(ctx); err != nil {
		return nil, fmt.Errorf("refresh tickers: %w", err)
	}
	return s.store.ListTickers(ctx, filter)
}

// GetSymbols serves TRADING symbols after a gated exchange-info refresh.
func (s *Service) GetSymbols(ctx context.Context, q SymbolQuery) ([]market.SymbolInfo, error) {
	query := store.SymbolQuery{
		QuoteAsset: strings.TrimSpace(q.QuoteAsset),
		Search:     q.Search,
		SortBy:     q.SortBy,
		SortDir:    q.SortDir,
		Page:       q.Page,
		PerPage:    q.PerPage,
	}
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if err := s.ensureSymbols(ctx); err != nil {
		return nil, err
	}
	return s.store.ListSymbols(ctx, query)
}

func (s *Service) GetSymbol(ctx context.Context, symbol string) (market.SymbolInfo, error) {
	sym, err := normalizeSymbol(symbol)
	if err != nil {
		return market.SymbolInfo{}, err
	}
	if err := s.ensureSymbols(ctx); err != nil {
		return market.SymbolInfo{}, err
	}
	return s.store.GetSymbol(ctx, sym)
}

// SymbolMinPrice is the cached PRICE_FILTER.minPrice.
func (s *Service) SymbolMinPrice(ctx context.Context, symbol string) (string, error) {
	info, err := s.GetSymbol(ctx, symbol)
	if err != nil {
		return "", err
	}
	return info.MinPrice, nil
}

// CalculateOrderQuantity sizes a market order spending percent of balance
// at the current price. A zero quantity comes with trading.ErrNoPrice.
func (s *Service) CalculateOrderQuantity(ctx context.Context, symbol string, balance, percent decimal.Decimal) (decimal.Decimal, error) {
	if balance.IsNegative() || percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Zero, fmt.Errorf("%w: balance must be >= 0 and percent in [0, 100]", ErrInvalidArgument)
	}
	info, err := s.GetSymbol(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if info.StepSize == "" {
		return decimal.Zero, fmt.Errorf("%w: %s", trading.ErrMissingFilter, info.Symbol)
	}
	price, err := s.source.LastPrice(ctx, info.Symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return trading.ComputeQuantityString(balance, percent, price, info.StepSize)
}

// ServerTime passes the exchange clock through.
func (s *Service) ServerTime(ctx context.Context) (int64, error) {
	return s.source.ServerTime(ctx)
}
