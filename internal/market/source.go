package market

import (
	"context"

	"github.com/shopspring/decimal"
)

// RangeQuery bounds a historical kline request. Zero values are omitted and
// the remote applies its own defaults.
type RangeQuery struct {
	Start int64 // Unix ms, inclusive
	End   int64 // Unix ms, inclusive
	Limit int
}

// Source is the remote market-data capability. Implementations return bars in
// ascending open_time order and may return fewer than Limit bars near the live
// edge. Errors are transport errors and are passed through untouched.
type Source interface {
	// TailBar returns the current, possibly still forming, bar.
	TailBar(ctx context.Context, symbol, interval string) (Bar, error)

	Range(ctx context.Context, symbol, interval string, q RangeQuery) ([]Bar, error)

	Tickers24h(ctx context.Context) ([]Ticker, error)

	ExchangeInfo(ctx context.Context) (ExchangeInfo, error)

	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	ServerTime(ctx context.Context) (int64, error)
}

// PageCapper is implemented by sources that cap the bars returned by one
// Range call. A page of exactly the cap is a full page, not the series end.
type PageCapper interface {
	MaxPageLimit() int
}
