package store

import (
	"context"

	"klinemirror/internal/market"
)

// TimeSeriesRepository persists bars keyed by (symbol, interval, open_time).
// Every call reads or writes the durable state directly; nothing is cached
// between calls.
type TimeSeriesRepository interface {
	// Query returns the series ascending by open_time, empty when none.
	Query(ctx context.Context, symbol, interval string) ([]market.Bar, error)
	// Append inserts new bars and fails with ErrDuplicateKey if any key
	// already exists or repeats within the batch.
	Append(ctx context.Context, bars []market.Bar) error
	// UpsertTail inserts or replaces the bar with the same key.
	UpsertTail(ctx context.Context, bar market.Bar) error
	// UpsertMany is the batched form of UpsertTail.
	UpsertMany(ctx context.Context, bars []market.Bar) error
}

// TickerFilter narrows ListTickers. An empty QuoteAsset returns everything.
type TickerFilter struct {
	QuoteAsset string
	SortBy     string
	SortDir    string
}

// SymbolQuery narrows, orders and pages ListSymbols. Search matches a
// substring of the symbol or its base asset. PerPage 0 returns every match.
type SymbolQuery struct {
	QuoteAsset string
	Search     string
	SortBy     string
	SortDir    string
	Page       int
	PerPage    int
}

type TickerRepository interface {
	UpsertTickers(ctx context.Context, tickers []market.Ticker) error
	ListTickers(ctx context.Context, filter TickerFilter) ([]market.Ticker, error)
}

type SymbolRepository interface {
	UpsertSymbols(ctx context.Context, symbols []market.SymbolInfo) error
	// ListSymbols returns TRADING symbols matching q, by symbol unless q sorts.
	ListSymbols(ctx context.Context, q SymbolQuery) ([]market.SymbolInfo, error)
	// GetSymbol fails with ErrSymbolNotFound.
	GetSymbol(ctx context.Context, symbol string) (market.SymbolInfo, error)
	CountSymbols(ctx context.Context) (int64, error)
}

// RefreshStateRepository stores one "last refreshed at" timestamp (Unix ms)
// per cache domain.
type RefreshStateRepository interface {
	// LastRefreshed returns 0 when the key was never written.
	LastRefreshed(ctx context.Context, key string) (int64, error)
	// CompareAndSwapRefreshed sets key to next only when the stored value is
	// still old (0 matches a missing row). It reports whether it swapped.
	CompareAndSwapRefreshed(ctx context.Context, key string, old, next int64) (bool, error)
}

// Manifest summarizes one stored series file.
type Manifest struct {
	Symbol     string `json:"symbol"`
	Interval   string `json:"interval"`
	MinTime    int64  `json:"min_time"`
	MaxTime    int64  `json:"max_time"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

// ManifestReader is implemented by bar backends that keep per-series
// statistics. Unknown series fail with ErrSeriesNotFound.
type ManifestReader interface {
	Manifest(ctx context.Context, symbol, interval string) (Manifest, error)
}

// RangeReader reads bars with open_time in [start, end] without loading the
// whole series.
type RangeReader interface {
	RangeBars(ctx context.Context, symbol, interval string, start, end int64) ([]market.Bar, error)
}

// Pinger checks that a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store bundles every repository the mirror needs.
type Store interface {
	TimeSeriesRepository
	TickerRepository
	SymbolRepository
	RefreshStateRepository
	Close() error
}
