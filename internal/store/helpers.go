package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"klinemirror/internal/market"

	"github.com/shopspring/decimal"
)

// CheckDistinct fails with ErrDuplicateKey when two bars in the batch share a key.
func CheckDistinct(bars []market.Bar) error {
	seen := make(map[market.BarKey]struct{}, len(bars))
	for _, b := range bars {
		k := b.Key()
		if _, ok := seen[k]; ok {
			return DuplicateKey(k.Symbol, k.Interval, k.OpenTime)
		}
		seen[k] = struct{}{}
	}
	return nil
}

// DedupeLast keeps the last occurrence of each key, so a later revision of a
// bar in the same batch wins, and returns them ascending by open_time.
func DedupeLast(bars []market.Bar) []market.Bar {
	idx := make(map[market.BarKey]int, len(bars))
	out := make([]market.Bar, 0, len(bars))
	for _, b := range bars {
		if i, ok := idx[b.Key()]; ok {
			out[i] = b
			continue
		}
		idx[b.Key()] = len(out)
		out = append(out, b)
	}
	SortBars(out)
	return out
}

func SortBars(bars []market.Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		if bars[i].Symbol != bars[j].Symbol {
			return bars[i].Symbol < bars[j].Symbol
		}
		if bars[i].Interval != bars[j].Interval {
			return bars[i].Interval < bars[j].Interval
		}
		return bars[i].OpenTime < bars[j].OpenTime
	})
}

// RangeBars reads [start, end] from repo, through RangeReader when the
// backend has one. Swapped bounds are accepted.
func RangeBars(ctx context.Context, repo TimeSeriesRepository, symbol, interval string, start, end int64) ([]market.Bar, error) {
	if end < start {
		start, end = end, start
	}
	if rr, ok := repo.(RangeReader); ok {
		return rr.RangeBars(ctx, symbol, interval, start, end)
	}
	bars, err := repo.Query(ctx, symbol, interval)
	if err != nil {
		return nil, err
	}
	lo := sort.Search(len(bars), func(i int) bool { return bars[i].OpenTime >= start })
	hi := sort.Search(len(bars), func(i int) bool { return bars[i].OpenTime > end })
	return bars[lo:hi], nil
}

// tickerSortColumns are the columns ListTickers may order by. Numeric columns
// are stored as exact decimal text and need a numeric cast to sort.
var tickerSortColumns = map[string]bool{
	"symbol":               false,
	"price_change":         true,
	"price_change_percent": true,
	"last_price":           true,
	"open":                 true,
	"high":                 true,
	"low":                  true,
	"volume":               true,
	"quote_volume":         true,
	"open_time":            false,
	"close_time":           false,
}

// ResolvedSort is a validated ORDER BY target.
type ResolvedSort struct {
	Column  string
	Numeric bool
	Desc    bool
}

// symbolSortColumns are the columns ListSymbols may order by.
var symbolSortColumns = map[string]bool{
	"symbol":               false,
	"base_asset":           false,
	"quote_asset":          false,
	"base_asset_precision": false,
	"min_price":            true,
}

// ResolveTickerSort validates filter.SortBy/SortDir. ok is false when no
// ordering was requested; both fields must be set to sort.
func ResolveTickerSort(filter TickerFilter) (rs ResolvedSort, ok bool, err error) {
	return resolveSort(tickerSortColumns, filter.SortBy, filter.SortDir)
}

// ResolveSymbolSort is ResolveTickerSort for the symbol columns.
func ResolveSymbolSort(q SymbolQuery) (rs ResolvedSort, ok bool, err error) {
	return resolveSort(symbolSortColumns, q.SortBy, q.SortDir)
}

func resolveSort(columns map[string]bool, sortBy, sortDir string) (rs ResolvedSort, ok bool, err error) {
	col := strings.ToLower(strings.TrimSpace(sortBy))
	dir := strings.ToLower(strings.TrimSpace(sortDir))
	if col == "" || dir == "" {
		return ResolvedSort{}, false, nil
	}
	numeric, known := columns[col]
	if !known {
		return ResolvedSort{}, false, fmtInvalidSort("sort_by", col)
	}
	switch dir {
	case "asc":
	case "desc":
		rs.Desc = true
	default:
		return ResolvedSort{}, false, fmtInvalidSort("sort_dir", dir)
	}
	rs.Column = col
	rs.Numeric = numeric
	return rs, true, nil
}

func fmtInvalidSort(field, value string) error {
	return &invalidSortError{field: field, value: value}
}

type invalidSortError struct {
	field, value string
}

func (e *invalidSortError) Error() string {
	return ErrInvalidSort.Error() + ": " + e.field + "=" + e.value
}

func (e *invalidSortError) Unwrap() error { return ErrInvalidSort }

// SortTickers orders tickers in place for backends without SQL. Ties keep
// their incoming order.
func SortTickers(tickers []market.Ticker, rs ResolvedSort) {
	less := func(a, b market.Ticker) int {
		switch rs.Column {
		case "symbol":
			return strings.Compare(a.Symbol, b.Symbol)
		case "open_time":
			return cmpInt(a.OpenTime, b.OpenTime)
		case "close_time":
			return cmpInt(a.CloseTime, b.CloseTime)
		}
		return tickerDecimal(a, rs.Column).Cmp(tickerDecimal(b, rs.Column))
	}
	sort.SliceStable(tickers, func(i, j int) bool {
		c := less(tickers[i], tickers[j])
		if rs.Desc {
			return c > 0
		}
		return c < 0
	})
}

func tickerDecimal(t market.Ticker, column string) decimal.Decimal {
	switch column {
	case "price_change":
		return t.PriceChange
	case "price_change_percent":
		return t.PriceChangePercent
	case "last_price":
		return t.LastPrice
	case "open":
		return t.Open
	case "high":
		return t.High
	case "low":
		return t.Low
	case "volume":
		return t.Volume
	case "quote_volume":
		return t.QuoteVolume
	}
	return decimal.Zero
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// NormalizeQuote upper-cases a quote asset filter.
func NormalizeQuote(q string) string {
	return strings.ToUpper(strings.TrimSpace(q))
}

// NormalizeSearch upper-cases a symbol search term and drops LIKE wildcards.
func NormalizeSearch(q string) string {
	return strings.NewReplacer("%", "", "_", "").Replace(strings.ToUpper(strings.TrimSpace(q)))
}

// MatchSymbol applies the QuoteAsset and Search parts of a SymbolQuery to one
// symbol. quote and search must already be normalized.
func MatchSymbol(sym market.SymbolInfo, quote, search string) bool {
	if sym.Status != market.SymbolStatusTrading {
		return false
	}
	if quote != "" && sym.QuoteAsset != quote {
		return false
	}
	if search == "" {
		return true
	}
	return strings.Contains(sym.Symbol, search) || strings.Contains(sym.BaseAsset, search)
}

// SortSymbols orders symbols in place for backends without SQL. Ties fall
// back to symbol ascending.
func SortSymbols(symbols []market.SymbolInfo, rs ResolvedSort) {
	cmp := func(a, b market.SymbolInfo) int {
		switch rs.Column {
		case "base_asset":
			return strings.Compare(a.BaseAsset, b.BaseAsset)
		case "quote_asset":
			return strings.Compare(a.QuoteAsset, b.QuoteAsset)
		case "base_asset_precision":
			return cmpInt(int64(a.BaseAssetPrecision), int64(b.BaseAssetPrecision))
		case "min_price":
			return decimalOrZero(a.MinPrice).Cmp(decimalOrZero(b.MinPrice))
		}
		return strings.Compare(a.Symbol, b.Symbol)
	}
	sort.SliceStable(symbols, func(i, j int) bool {
		c := cmp(symbols[i], symbols[j])
		if c == 0 {
			return symbols[i].Symbol < symbols[j].Symbol
		}
		if rs.Desc {
			return c > 0
		}
		return c < 0
	})
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// MaxPerPage caps SymbolQuery.PerPage.
const MaxPerPage = 1000

// Window turns Page/PerPage into an offset and limit. paged is false when
// PerPage is 0, meaning every match is returned. Page 0 reads as page 1.
func (q SymbolQuery) Window() (offset, limit int, paged bool, err error) {
	if q.Page < 0 || q.PerPage < 0 {
		return 0, 0, false, fmt.Errorf("%w: page=%d per_page=%d", ErrInvalidPage, q.Page, q.PerPage)
	}
	if q.PerPage == 0 {
		return 0, 0, false, nil
	}
	limit = min(q.PerPage, MaxPerPage)
	page := max(q.Page, 1)
	return (page - 1) * limit, limit, true, nil
}

// Validate checks the sort and paging fields without running the query.
func (q SymbolQuery) Validate() error {
	if _, _, err := ResolveSymbolSort(q); err != nil {
		return err
	}
	_, _, _, err := q.Window()
	return err
}

// Paginate slices an already ordered result to the query window.
func Paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}
