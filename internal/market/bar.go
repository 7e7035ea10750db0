package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV kline for (symbol, interval, open_time).
type Bar struct {
	Symbol      string          `json:"symbol"`
	Interval    string          `json:"interval"`
	OpenTime    int64           `json:"open_time"`
	CloseTime   int64           `json:"close_time"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
	Trades      int64           `json:"trades"`
}

// BarKey is the identity of a bar. At most one bar per key is stored.
type BarKey struct {
	Symbol   string
	Interval string
	OpenTime int64
}

func (b Bar) Key() BarKey {
	return BarKey{Symbol: b.Symbol, Interval: b.Interval, OpenTime: b.OpenTime}
}

// SameBar reports whether both bars describe the same window. Only the open
// time is compared; OHLCV of a forming bar keeps changing.
func (b Bar) SameBar(other Bar) bool {
	return b.OpenTime == other.OpenTime
}

func (b Bar) Equal(other Bar) bool {
	return b.Key() == other.Key() &&
		b.CloseTime == other.CloseTime &&
		b.Open.Equal(other.Open) &&
		b.High.Equal(other.High) &&
		b.Low.Equal(other.Low) &&
		b.Close.Equal(other.Close) &&
		b.Volume.Equal(other.Volume) &&
		b.QuoteVolume.Equal(other.QuoteVolume) &&
		b.Trades == other.Trades
}

func (b Bar) OpenAt() time.Time {
	return time.UnixMilli(b.OpenTime).UTC()
}

// Bars is an ascending-by-open-time series.
type Bars []Bar

// Tail returns the most recent bar.
func (bs Bars) Tail() (Bar, bool) {
	if len(bs) == 0 {
		return Bar{}, false
	}
	return bs[len(bs)-1], true
}

// ReplaceTail returns a copy with the last bar swapped for b.
func (bs Bars) ReplaceTail(b Bar) Bars {
	if len(bs) == 0 {
		return Bars{b}
	}
	out := make(Bars, len(bs))
	copy(out, bs)
	out[len(out)-1] = b
	return out
}

// Closes returns close prices as float64, for charting and indicators.
func (bs Bars) Closes() []float64 {
	out := make([]float64, len(bs))
	for i, b := range bs {
		out[i], _ = b.Close.Float64()
	}
	return out
}
