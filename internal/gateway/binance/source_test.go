package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"klinemirror/internal/market"
	"klinemirror/internal/pkg/circuit"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func klineRow(openTime int64, close string) []any {
	return []any{openTime, "100.1", "110.5", "99.9", close, "12.5", openTime + 59_999, "1250.75", 42, "6", "600", "0"}
}

type fakeExchange struct {
	prefixes  []string
	lastQuery atomic.Value
}

func (f *fakeExchange) handler() http.Handler {
	mux := http.NewServeMux()
	handle := func(path string, fn http.HandlerFunc) {
		for _, prefix := range f.prefixes {
			mux.HandleFunc(prefix+path, fn)
		}
	}
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	handle("/klines", func(w http.ResponseWriter, r *http.Request) {
		f.lastQuery.Store(r.URL.Query())
		if r.URL.Query().Get("symbol") == "BADUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, map[string]any{"code": -1121, "msg": "Invalid symbol."})
			return
		}
		writeJSON(w, [][]any{klineRow(60_000, "105"), klineRow(120_000, "106.25")})
	})
	handle("/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{{
			"symbol": "BTCUSDT", "priceChange": "-94.99999800", "priceChangePercent": "-95.960",
			"lastPrice": "4.00000200", "openPrice": "99.00000000", "highPrice": "100.00000000",
			"lowPrice": "0.10000000", "volume": "8913.30000000", "quoteVolume": "15.30000000",
			"openTime": 1499783499040, "closeTime": 1499869899040, "count": 76,
		}})
	})
	handle("/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"serverTime": 1565246363776,
			"symbols": []map[string]any{{
				"symbol": "ETHBTC", "status": "TRADING", "baseAsset": "ETH", "baseAssetPrecision": 8,
				"quoteAsset": "BTC", "orderTypes": []string{"LIMIT", "MARKET"}, "orderType": []string{"LIMIT", "MARKET"},
				"permissions": []string{"SPOT", "MARGIN"},
				"filters": []map[string]any{
					{"filterType": "PRICE_FILTER", "minPrice": "0.00000100", "maxPrice": "100000.00000000", "tickSize": "0.00000100"},
					{"filterType": "MARKET_LOT_SIZE", "minQty": "0.00100000", "maxQty": "100000.00000000", "stepSize": "0.00100000"},
				},
			}},
		})
	})
	handle("/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"symbol": r.URL.Query().Get("symbol"), "price": "4.00000200"})
	})
	handle("/time", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"serverTime": 1499827319559})
	})
	return mux
}

func newTestSource(t *testing.T, kind string, cfg Config) (*Source, *fakeExchange) {
	t.Helper()
	prefixes := []string{"/api/v3"}
	if kind == KindFutures {
		prefixes = []string{"/fapi/v1", "/fapi/v2"}
	}
	fx := &fakeExchange{prefixes: prefixes}
	srv := httptest.NewServer(fx.handler())
	t.Cleanup(srv.Close)
	cfg.Kind = kind
	cfg.RESTBaseURL = srv.URL
	src, err := New(cfg)
	require.NoError(t, err)
	return src, fx
}

func TestSourceKinds(t *testing.T) {
	for _, kind := range []string{KindSpot, KindFutures} {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			src, fx := newTestSource(t, kind, Config{})
			assert.Equal(t, kind, src.Kind())

			bars, err := src.Range(ctx, "btc/usdt", "1m", market.RangeQuery{Start: 60_000, End: 120_000, Limit: 5000})
			require.NoError(t, err)
			require.Len(t, bars, 2)
			assert.Equal(t, "BTCUSDT", bars[0].Symbol)
			assert.Equal(t, "1m", bars[0].Interval)
			assert.True(t, bars[1].Close.Equal(decimal.RequireFromString("106.25")))
			assert.True(t, bars[0].QuoteVolume.Equal(decimal.RequireFromString("1250.75")))
			assert.EqualValues(t, 42, bars[0].Trades)
			q := fx.lastQuery.Load().(url.Values)
			assert.Equal(t, []string{"60000"}, q["startTime"])
			assert.Equal(t, []string{"120000"}, q["endTime"])
			assert.Equal(t, []string{"BTCUSDT"}, q["symbol"])
			if kind == KindSpot {
				assert.Equal(t, []string{"1000"}, q["limit"])
			} else {
				assert.Equal(t, []string{"1500"}, q["limit"])
			}

			tail, err := src.TailBar(ctx, "BTCUSDT", "1m")
			require.NoError(t, err)
			assert.EqualValues(t, 120_000, tail.OpenTime)

			tickers, err := src.Tickers24h(ctx)
			require.NoError(t, err)
			require.Len(t, tickers, 1)
			assert.True(t, tickers[0].PriceChangePercent.Equal(decimal.RequireFromString("-95.96")))
			assert.EqualValues(t, 1499869899040, tickers[0].CloseTime)

			info, err := src.ExchangeInfo(ctx)
			require.NoError(t, err)
			require.Len(t, info.Symbols, 1)
			sym := info.Symbols[0].Project()
			assert.Equal(t, "0.00000100", sym.MinPrice)
			assert.Equal(t, "0.00100000", sym.StepSize)
			assert.Equal(t, []string{"LIMIT", "MARKET"}, sym.OrderTypes)

			px, err := src.LastPrice(ctx, "BTCUSDT")
			require.NoError(t, err)
			assert.True(t, px.Equal(decimal.RequireFromString("4.000002")))

			ts, err := src.ServerTime(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 1499827319559, ts)
		})
	}
}

func TestBarAndTickerFrom(t *testing.T) {
	bar := barFrom("BTCUSDT", "1m", 60_000, 119_999, "1.5", "2", "1", "1.75", "10", "bad", 7)
	assert.True(t, bar.Open.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, bar.Close.Equal(decimal.RequireFromString("1.75")))
	assert.True(t, bar.QuoteVolume.IsZero(), "unparsable decimals become zero")
	assert.EqualValues(t, 119_999, bar.CloseTime)
	assert.EqualValues(t, 7, bar.Trades)

	tk := tickerFrom("ETHUSDT", "-1", "-0.5", "199", "200", "210", "190", " 3 ", "600", 1, 2)
	assert.Equal(t, "ETHUSDT", tk.Symbol)
	assert.True(t, tk.PriceChangePercent.Equal(decimal.RequireFromString("-0.5")))
	assert.True(t, tk.Volume.Equal(decimal.NewFromInt(3)))
	assert.EqualValues(t, 2, tk.CloseTime)
}

func TestAPIErrorsPassThroughWithoutTripping(t *testing.T) {
	src, _ := newTestSource(t, KindSpot, Config{BreakerThreshold: 1})
	for i := 0; i < 3; i++ {
		_, err := src.Range(context.Background(), "BADUSDT", "1m", market.RangeQuery{Limit: 1})
		require.Error(t, err)
		assert.True(t, IsAPIError(err), "got %T", err)
	}
	assert.Equal(t, circuit.StateClosed, src.breaker.State())
}

func TestTransportFailuresOpenBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()
	src, err := New(Config{RESTBaseURL: base, BreakerThreshold: 2, BreakerCooldown: time.Hour, HTTPTimeout: time.Second})
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := src.ServerTime(ctx)
		require.Error(t, err)
		assert.False(t, IsAPIError(err))
	}
	_, err = src.ServerTime(ctx)
	assert.ErrorIs(t, err, circuit.ErrOpen)
}

func TestLimiterHonoursContext(t *testing.T) {
	src, _ := newTestSource(t, KindSpot, Config{RequestsPerSecond: 0.001, Burst: 1})
	ctx := context.Background()
	_, err := src.ServerTime(ctx)
	require.NoError(t, err)
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = src.ServerTime(short)
	assert.Error(t, err)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Kind: "options"})
	assert.Error(t, err)
	_, err = New(Config{ProxyEnabled: true, RESTProxyURL: "://bad"})
	assert.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	c := Config{Kind: " Futures "}
	got := c.withDefaults()
	assert.Equal(t, KindFutures, got.Kind)
	assert.Equal(t, "https://fapi.binance.com", got.RESTBaseURL)
	spot := (&Config{RequestsPerSecond: 5}).withDefaults()
	assert.Equal(t, "https://api.binance.com", spot.RESTBaseURL)
	assert.Equal(t, 1, spot.Burst)
}
