// Package storetest holds behaviour checks shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"testing"

	"klinemirror/internal/market"
	"klinemirror/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minute = int64(60_000)

// Bar builds a 1m bar at openTime with close price c.
func Bar(symbol string, openTime int64, c string) market.Bar {
	px := decimal.RequireFromString(c)
	return market.Bar{
		Symbol:      symbol,
		Interval:    "1m",
		OpenTime:    openTime,
		CloseTime:   openTime + minute - 1,
		Open:        px,
		High:        px,
		Low:         px,
		Close:       px,
		Volume:      decimal.RequireFromString("1.5"),
		QuoteVolume: decimal.RequireFromString("100.25"),
		Trades:      3,
	}
}

// Series builds n consecutive 1m bars starting at start.
func Series(symbol string, start int64, n int) []market.Bar {
	out := make([]market.Bar, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Bar(symbol, start+int64(i)*minute, decimal.NewFromInt(int64(100+i)).String()))
	}
	return out
}

// RunTimeSeries checks the bar repository contract.
func RunTimeSeries(t *testing.T, open func(t *testing.T) store.TimeSeriesRepository) {
	ctx := context.Background()

	t.Run("empty query", func(t *testing.T) {
		repo := open(t)
		bars, err := repo.Query(ctx, "BTCUSDT", "1m")
		require.NoError(t, err)
		assert.Empty(t, bars)
	})

	t.Run("append then query ascending", func(t *testing.T) {
		repo := open(t)
		in := Series("BTCUSDT", 0, 5)
		shuffled := []market.Bar{in[3], in[0], in[4], in[1], in[2]}
		require.NoError(t, repo.Append(ctx, shuffled))
		got, err := repo.Query(ctx, "BTCUSDT", "1m")
		require.NoError(t, err)
		require.Len(t, got, 5)
		for i := range in {
			assert.True(t, in[i].Equal(got[i]), "bar %d", i)
		}
		other, err := repo.Query(ctx, "ETHUSDT", "1m")
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("append duplicate existing key", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.Append(ctx, Series("BTCUSDT", 0, 3)))
		err := repo.Append(ctx, []market.Bar{Bar("BTCUSDT", 3*minute, "1"), Bar("BTCUSDT", minute, "2")})
		require.Error(t, err)
		assert.True(t, errors.Is(err, store.ErrDuplicateKey), "got %v", err)
		got, err := repo.Query(ctx, "BTCUSDT", "1m")
		require.NoError(t, err)
		assert.Len(t, got, 3, "failed append must not write")
	})

	t.Run("append duplicate within batch", func(t *testing.T) {
		repo := open(t)
		err := repo.Append(ctx, []market.Bar{Bar("BTCUSDT", 0, "1"), Bar("BTCUSDT", 0, "2")})
		assert.ErrorIs(t, err, store.ErrDuplicateKey)
	})

	t.Run("upsert tail replaces in place", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.Append(ctx, Series("BTCUSDT", 0, 3)))
		updated := Bar("BTCUSDT", 2*minute, "999.5")
		require.NoError(t, repo.UpsertTail(ctx, updated))
		require.NoError(t, repo.UpsertTail(ctx, updated))
		got, err := repo.Query(ctx, "BTCUSDT", "1m")
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.True(t, got[2].Close.Equal(decimal.RequireFromString("999.5")))
		assert.True(t, got[0].Close.Equal(decimal.NewFromInt(100)))
	})

	t.Run("upsert tail inserts new key", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.UpsertTail(ctx, Bar("BTCUSDT", 0, "1")))
		got, err := repo.Query(ctx, "BTCUSDT", "1m")
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("upsert many is idempotent", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.Append(ctx, Series("BTCUSDT", 0, 4)))
		overlap := Series("BTCUSDT", 2*minute, 4)
		overlap = append(overlap, Bar("BTCUSDT", 5*minute, "7"))
		require.NoError(t, repo.UpsertMany(ctx, overlap))
		require.NoError(t, repo.UpsertMany(ctx, overlap))
		got, err := repo.Query(ctx, "BTCUSDT", "1m")
		require.NoError(t, err)
		require.Len(t, got, 6)
		seen := map[int64]bool{}
		for i, b := range got {
			assert.False(t, seen[b.OpenTime])
			seen[b.OpenTime] = true
			if i > 0 {
				assert.Less(t, got[i-1].OpenTime, b.OpenTime)
			}
		}
		assert.True(t, got[5].Close.Equal(decimal.NewFromInt(7)), "later duplicate in batch wins")
	})
}

// RunTickers checks the ticker cache contract.
func RunTickers(t *testing.T, open func(t *testing.T) store.TickerRepository) {
	ctx := context.Background()
	tk := func(symbol, last, pct string) market.Ticker {
		return market.Ticker{
			Symbol:             symbol,
			LastPrice:          decimal.RequireFromString(last),
			PriceChangePercent: decimal.RequireFromString(pct),
			Volume:             decimal.RequireFromString("10"),
		}
	}

	t.Run("upsert replaces by symbol", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.UpsertTickers(ctx, []market.Ticker{tk("BTCUSDT", "1", "0")}))
		require.NoError(t, repo.UpsertTickers(ctx, []market.Ticker{tk("BTCUSDT", "2", "5")}))
		got, err := repo.ListTickers(ctx, store.TickerFilter{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].LastPrice.Equal(decimal.NewFromInt(2)))
	})

	t.Run("quote filter and numeric sort", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.UpsertTickers(ctx, []market.Ticker{
			tk("BTCUSDT", "60000", "2.5"),
			tk("ETHUSDT", "3000", "10"),
			tk("DEADUSDT", "0", "-1"),
			tk("ETHBTC", "0.05", "9"),
			tk("SOLUSDT", "150", "-3"),
		}))
		got, err := repo.ListTickers(ctx, store.TickerFilter{
			QuoteAsset: "usdt", SortBy: "price_change_percent", SortDir: "desc",
		})
		require.NoError(t, err)
		symbols := make([]string, 0, len(got))
		for _, g := range got {
			symbols = append(symbols, g.Symbol)
		}
		assert.Equal(t, []string{"ETHUSDT", "BTCUSDT", "SOLUSDT"}, symbols)

		got, err = repo.ListTickers(ctx, store.TickerFilter{SortBy: "last_price", SortDir: "asc"})
		require.NoError(t, err)
		require.Len(t, got, 5)
		assert.Equal(t, "DEADUSDT", got[0].Symbol)
		assert.Equal(t, "BTCUSDT", got[4].Symbol)
	})

	t.Run("rejects unknown sort column", func(t *testing.T) {
		repo := open(t)
		_, err := repo.ListTickers(ctx, store.TickerFilter{SortBy: "1;DROP TABLE tickers", SortDir: "asc"})
		assert.ErrorIs(t, err, store.ErrInvalidSort)
	})
}

// RunSymbols checks the symbol cache contract.
func RunSymbols(t *testing.T, open func(t *testing.T) store.SymbolRepository) {
	ctx := context.Background()
	sym := func(name, status, quote string) market.SymbolInfo {
		return market.SymbolInfo{
			Symbol:      name,
			Status:      status,
			BaseAsset:   name[:3],
			QuoteAsset:  quote,
			MinPrice:    "0.01",
			StepSize:    "0.001",
			OrderTypes:  []string{"LIMIT", "MARKET"},
			Permissions: []string{"SPOT"},
		}
	}

	t.Run("list trading by quote", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.UpsertSymbols(ctx, []market.SymbolInfo{
			sym("BTCUSDT", "TRADING", "USDT"),
			sym("ETHBTC", "TRADING", "BTC"),
			sym("LUNUSDT", "BREAK", "USDT"),
		}))
		all, err := repo.ListSymbols(ctx, store.SymbolQuery{})
		require.NoError(t, err)
		assert.Len(t, all, 2)
		usdt, err := repo.ListSymbols(ctx, store.SymbolQuery{QuoteAsset: "usdt"})
		require.NoError(t, err)
		require.Len(t, usdt, 1)
		assert.Equal(t, "BTCUSDT", usdt[0].Symbol)
		assert.Equal(t, []string{"LIMIT", "MARKET"}, usdt[0].OrderTypes)
		assert.Equal(t, []string{"SPOT"}, usdt[0].Permissions)
		n, err := repo.CountSymbols(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)
	})

	t.Run("search sort and page", func(t *testing.T) {
		repo := open(t)
		seed := []market.SymbolInfo{
			sym("BTCUSDT", "TRADING", "USDT"),
			sym("ETHUSDT", "TRADING", "USDT"),
			sym("ETHBTC", "TRADING", "BTC"),
			sym("SOLUSDT", "TRADING", "USDT"),
			sym("XRPUSDT", "BREAK", "USDT"),
		}
		seed[0].MinPrice = "0.01"
		seed[1].MinPrice = "0.1"
		seed[2].MinPrice = "0.000001"
		seed[3].MinPrice = "0.001"
		require.NoError(t, repo.UpsertSymbols(ctx, seed))

		names := func(in []market.SymbolInfo) []string {
			out := make([]string, 0, len(in))
			for _, s := range in {
				out = append(out, s.Symbol)
			}
			return out
		}

		got, err := repo.ListSymbols(ctx, store.SymbolQuery{Search: "eth"})
		require.NoError(t, err)
		assert.Equal(t, []string{"ETHBTC", "ETHUSDT"}, names(got))

		got, err = repo.ListSymbols(ctx, store.SymbolQuery{Search: "usdt", QuoteAsset: "USDT"})
		require.NoError(t, err)
		assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, names(got))

		// min_price orders numerically, not as text.
		got, err = repo.ListSymbols(ctx, store.SymbolQuery{SortBy: "min_price", SortDir: "desc"})
		require.NoError(t, err)
		assert.Equal(t, []string{"ETHUSDT", "BTCUSDT", "SOLUSDT", "ETHBTC"}, names(got))

		got, err = repo.ListSymbols(ctx, store.SymbolQuery{SortBy: "symbol", SortDir: "desc", Page: 2, PerPage: 3})
		require.NoError(t, err)
		assert.Equal(t, []string{"BTCUSDT"}, names(got))

		got, err = repo.ListSymbols(ctx, store.SymbolQuery{PerPage: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"BTCUSDT", "ETHBTC"}, names(got))

		got, err = repo.ListSymbols(ctx, store.SymbolQuery{Page: 9, PerPage: 2})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("rejects bad symbol query", func(t *testing.T) {
		repo := open(t)
		_, err := repo.ListSymbols(ctx, store.SymbolQuery{SortBy: "status; DROP TABLE symbols", SortDir: "asc"})
		assert.ErrorIs(t, err, store.ErrInvalidSort)
		_, err = repo.ListSymbols(ctx, store.SymbolQuery{SortBy: "symbol", SortDir: "up"})
		assert.ErrorIs(t, err, store.ErrInvalidSort)
		_, err = repo.ListSymbols(ctx, store.SymbolQuery{Page: -1, PerPage: 10})
		assert.ErrorIs(t, err, store.ErrInvalidPage)
	})

	t.Run("get symbol", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.UpsertSymbols(ctx, []market.SymbolInfo{sym("BTCUSDT", "TRADING", "USDT")}))
		updated := sym("BTCUSDT", "TRADING", "USDT")
		updated.MinPrice = "0.1"
		require.NoError(t, repo.UpsertSymbols(ctx, []market.SymbolInfo{updated}))
		got, err := repo.GetSymbol(ctx, "BTCUSDT")
		require.NoError(t, err)
		assert.Equal(t, "0.1", got.MinPrice)
		assert.Equal(t, "0.001", got.StepSize)
		_, err = repo.GetSymbol(ctx, "NOPE")
		assert.ErrorIs(t, err, store.ErrSymbolNotFound)
	})
}

// RunRefreshState checks the compare-and-swap contract.
func RunRefreshState(t *testing.T, open func(t *testing.T) store.RefreshStateRepository) {
	ctx := context.Background()

	t.Run("missing key reads zero", func(t *testing.T) {
		repo := open(t)
		v, err := repo.LastRefreshed(ctx, "ticker24h")
		require.NoError(t, err)
		assert.Zero(t, v)
	})

	t.Run("swap only from the observed value", func(t *testing.T) {
		repo := open(t)
		ok, err := repo.CompareAndSwapRefreshed(ctx, "ticker24h", 0, 1000)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.CompareAndSwapRefreshed(ctx, "ticker24h", 0, 2000)
		require.NoError(t, err)
		assert.False(t, ok, "stale old value must lose")

		ok, err = repo.CompareAndSwapRefreshed(ctx, "ticker24h", 1000, 3000)
		require.NoError(t, err)
		assert.True(t, ok)

		v, err := repo.LastRefreshed(ctx, "ticker24h")
		require.NoError(t, err)
		assert.EqualValues(t, 3000, v)

		other, err := repo.LastRefreshed(ctx, "exchangeInfo")
		require.NoError(t, err)
		assert.Zero(t, other)
	})
}

// RunAll runs every contract against a full store.
func RunAll(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("timeseries", func(t *testing.T) {
		RunTimeSeries(t, func(t *testing.T) store.TimeSeriesRepository { return open(t) })
	})
	t.Run("tickers", func(t *testing.T) {
		RunTickers(t, func(t *testing.T) store.TickerRepository { return open(t) })
	})
	t.Run("symbols", func(t *testing.T) {
		RunSymbols(t, func(t *testing.T) store.SymbolRepository { return open(t) })
	})
	t.Run("refresh state", func(t *testing.T) {
		RunRefreshState(t, func(t *testing.T) store.RefreshStateRepository { return open(t) })
	})
}
