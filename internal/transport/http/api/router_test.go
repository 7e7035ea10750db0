package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"klinemirror/internal/archive"
	"klinemirror/internal/exchange"
	"klinemirror/internal/kline"
	"klinemirror/internal/logger"
	"klinemirror/internal/market"
	"klinemirror/internal/pkg/trading"
	"klinemirror/internal/store"
)

type fakeService struct {
	bars     []market.Bar
	barsErr  error
	window   [2]int64
	manifest *store.Manifest
	tickers  []market.Ticker
	lastQ    exchange.TickerQuery
	symbols  []market.SymbolInfo
	symbolQ  exchange.SymbolQuery
	minPrice map[string]string
	qty      decimal.Decimal
	qtyErr   error
}

func (f *fakeService) GetKlines(_ context.Context, symbol, interval string) ([]market.Bar, error) {
	if _, err := market.IntervalMillis(interval); err != nil {
		return nil, err
	}
	return f.bars, f.barsErr
}

func (f *fakeService) GetKlineRange(_ context.Context, _, _ string, start, end int64) ([]market.Bar, error) {
	f.window = [2]int64{start, end}
	out := []market.Bar{}
	for _, b := range f.bars {
		if b.OpenTime >= start && b.OpenTime <= end {
			out = append(out, b)
		}
	}
	return out, f.barsErr
}

func (f *fakeService) KlineManifest(_ context.Context, symbol, interval string) (store.Manifest, error) {
	if f.manifest == nil {
		return store.Manifest{}, store.ErrManifestUnsupported
	}
	if strings.ToUpper(symbol) != f.manifest.Symbol {
		return store.Manifest{}, fmt.Errorf("%w: %s@%s", store.ErrSeriesNotFound, symbol, interval)
	}
	return *f.manifest, nil
}

func (f *fakeService) UpdateAndGetLastBar(_ context.Context, _, _ string) (market.Bar, error) {
	if len(f.bars) == 0 {
		return market.Bar{}, nil
	}
	return f.bars[len(f.bars)-1], nil
}

func (f *fakeService) GetTimeframes() []string { return market.SupportedIntervals() }

func (f *fakeService) GetTickers(_ context.Context, q exchange.TickerQuery) ([]market.Ticker, error) {
	f.lastQ = q
	if q.SortBy != "" && q.SortBy != "last_price" {
		return nil, fmt.Errorf("%w: %w", exchange.ErrInvalidArgument, store.ErrInvalidSort)
	}
	return f.tickers, nil
}

func (f *fakeService) GetSymbols(_ context.Context, q exchange.SymbolQuery) ([]market.SymbolInfo, error) {
	f.symbolQ = q
	if q.SortBy != "" && q.SortBy != "symbol" {
		return nil, fmt.Errorf("%w: %w", exchange.ErrInvalidArgument, store.ErrInvalidSort)
	}
	if q.Page < 0 || q.PerPage < 0 {
		return nil, fmt.Errorf("%w: %w", exchange.ErrInvalidArgument, store.ErrInvalidPage)
	}
	return f.symbols, nil
}

func (f *fakeService) SymbolMinPrice(_ context.Context, symbol string) (string, error) {
	p, ok := f.minPrice[strings.ToUpper(symbol)]
	if !ok {
		return "", fmt.Errorf("%w: %s", store.ErrSymbolNotFound, symbol)
	}
	return p, nil
}

func (f *fakeService) CalculateOrderQuantity(_ context.Context, _ string, _, _ decimal.Decimal) (decimal.Decimal, error) {
	return f.qty, f.qtyErr
}

func (f *fakeService) ServerTime(context.Context) (int64, error) { return 1_700_000_000_000, nil }

func series(n int) []market.Bar {
	out := make([]market.Bar, n)
	for i := range out {
		px := decimal.NewFromInt(int64(100 + i))
		out[i] = market.Bar{
			Symbol: "BTCUSDT", Interval: "1m", OpenTime: int64(i) * 60_000, CloseTime: int64(i)*60_000 + 59_999,
			Open: px, High: px.Add(decimal.NewFromInt(1)), Low: px.Sub(decimal.NewFromInt(1)), Close: px,
			Volume: decimal.NewFromInt(5), QuoteVolume: decimal.NewFromInt(500),
		}
	}
	return out
}

func newTestServer(t *testing.T, svc *fakeService) http.Handler {
	t.Helper()
	srv, err := NewServer(Config{Service: svc, RequestTimeout: time.Second})
	require.NoError(t, err)
	return srv.Handler()
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewServerRequiresService(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestHealthzAndRequestID(t *testing.T) {
	h := newTestServer(t, &fakeService{})
	rec := do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", gjson.Get(rec.Body.String(), "status").String())
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(headerRequestID, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(headerRequestID))
}

func TestKlines(t *testing.T) {
	h := newTestServer(t, &fakeService{bars: series(5)})
	rec := do(h, http.MethodGet, "/api/klines?symbol=btcusdt&interval=1m&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, "BTCUSDT", gjson.Get(body, "symbol").String())
	assert.Equal(t, int64(2), gjson.Get(body, "count").Int())
	assert.Equal(t, int64(4*60_000), gjson.Get(body, "bars.1.open_time").Int())
	assert.Equal(t, "104", gjson.Get(body, "bars.1.close").String())
}

func TestKlinesErrors(t *testing.T) {
	h := newTestServer(t, &fakeService{})
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/klines?symbol=BTCUSDT", "").Code)

	rec := do(h, http.MethodGet, "/api/klines?symbol=BTCUSDT&interval=7m", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, gjson.Get(rec.Body.String(), "error").String(), "unknown interval")

	h = newTestServer(t, &fakeService{barsErr: fmt.Errorf("%w: dup", kline.ErrInvariantViolation)})
	assert.Equal(t, http.StatusInternalServerError, do(h, http.MethodGet, "/api/klines?symbol=BTCUSDT&interval=1m", "").Code)

	h = newTestServer(t, &fakeService{barsErr: fmt.Errorf("range: %w", &common.APIError{Code: -1121, Message: "Invalid symbol."})})
	assert.Equal(t, http.StatusBadGateway, do(h, http.MethodGet, "/api/klines?symbol=NOPEUSDT&interval=1m", "").Code)
}

func TestChart(t *testing.T) {
	h := newTestServer(t, &fakeService{bars: series(30)})
	rec := do(h, http.MethodGet, "/api/klines/chart?symbol=BTCUSDT&interval=1m&sma=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "SMA(5)")

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/klines/chart?symbol=BTCUSDT&interval=1m&sma=x", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/klines/chart?symbol=BTCUSDT&interval=1m&sma=50", "").Code)
	rec = do(h, http.MethodGet, "/api/klines/chart?symbol=BTCUSDT&interval=1m&sma=1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, gjson.Get(rec.Body.String(), "error").String(), "invalid indicator")
	assert.NotEmpty(t, gjson.Get(rec.Body.String(), "request_id").String())

	h = newTestServer(t, &fakeService{})
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/klines/chart?symbol=BTCUSDT&interval=1m", "").Code)
}

func TestExport(t *testing.T) {
	bars := series(3)
	h := newTestServer(t, &fakeService{bars: bars})
	rec := do(h, http.MethodGet, "/api/klines/export?symbol=BTCUSDT&interval=1m", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, parquetContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "BTCUSDT_1m_0_120000.parquet")

	got, err := archive.ReadBars(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, bars[2].Equal(got[2]))
}

func TestTickers(t *testing.T) {
	svc := &fakeService{tickers: []market.Ticker{{Symbol: "ETHUSDT", LastPrice: decimal.RequireFromString("2500.5")}}}
	h := newTestServer(t, svc)
	rec := do(h, http.MethodGet, "/api/tickers?quote=USDT&sort_by=last_price&sort_dir=desc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2500.5", gjson.Get(rec.Body.String(), "tickers.0.last_price").String())
	assert.Equal(t, exchange.TickerQuery{QuoteAsset: "USDT", SortBy: "last_price", SortDir: "desc"}, svc.lastQ)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/tickers?sort_by=evil&sort_dir=asc", "").Code)
}

func TestSymbolsAndMinPrice(t *testing.T) {
	svc := &fakeService{
		symbols:  []market.SymbolInfo{{Symbol: "BTCUSDT", Status: "TRADING", QuoteAsset: "USDT", MinPrice: "0.01"}},
		minPrice: map[string]string{"BTCUSDT": "0.01"},
	}
	h := newTestServer(t, svc)
	rec := do(h, http.MethodGet, "/api/symbols?quote=USDT", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BTCUSDT", gjson.Get(rec.Body.String(), "symbols.0.symbol").String())
	assert.False(t, gjson.Get(rec.Body.String(), "page").Exists())

	rec = do(h, http.MethodGet, "/api/symbols/btcusdt/min-price", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0.01", gjson.Get(rec.Body.String(), "min_price").String())

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/symbols/XYZUSDT/min-price", "").Code)
}

func TestSymbolsQuery(t *testing.T) {
	svc := &fakeService{symbols: []market.SymbolInfo{{Symbol: "ETHUSDT", Status: "TRADING", QuoteAsset: "USDT"}}}
	h := newTestServer(t, svc)
	rec := do(h, http.MethodGet, "/api/symbols?quote=USDT&search=eth&sort_by=symbol&sort_dir=desc&page=2&per_page=5000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, exchange.SymbolQuery{
		QuoteAsset: "USDT", Search: "eth", SortBy: "symbol", SortDir: "desc", Page: 2, PerPage: 5000,
	}, svc.symbolQ)
	body := rec.Body.String()
	assert.Equal(t, int64(2), gjson.Get(body, "page").Int())
	assert.Equal(t, int64(store.MaxPerPage), gjson.Get(body, "per_page").Int())

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/symbols?sort_by=status&sort_dir=asc", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/symbols?page=two", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/symbols?per_page=-1", "").Code)
}

func TestKlinesWindow(t *testing.T) {
	svc := &fakeService{bars: series(10)}
	h := newTestServer(t, svc)
	rec := do(h, http.MethodGet, "/api/klines?symbol=BTCUSDT&interval=1m&from=120000&to=240000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), gjson.Get(rec.Body.String(), "count").Int())
	assert.Equal(t, [2]int64{120_000, 240_000}, svc.window)

	rec = do(h, http.MethodGet, "/api/klines/export?symbol=BTCUSDT&interval=1m&from=480000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [2]int64{480_000, math.MaxInt64}, svc.window)
	got, err := archive.ReadBars(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, got, 2)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/klines?symbol=BTCUSDT&interval=1m&to=soon", "").Code)
}

func TestManifest(t *testing.T) {
	h := newTestServer(t, &fakeService{})
	assert.Equal(t, http.StatusNotImplemented, do(h, http.MethodGet, "/api/klines/manifest?symbol=BTCUSDT&interval=1m", "").Code)

	h = newTestServer(t, &fakeService{manifest: &store.Manifest{Symbol: "BTCUSDT", Interval: "1m", Rows: 42, MaxTime: 600_000}})
	rec := do(h, http.MethodGet, "/api/klines/manifest?symbol=btcusdt&interval=1m", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(42), gjson.Get(rec.Body.String(), "manifest.rows").Int())
	assert.Equal(t, int64(600_000), gjson.Get(rec.Body.String(), "manifest.max_time").Int())

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/klines/manifest?symbol=ETHUSDT&interval=1m", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/klines/manifest?symbol=ETHUSDT", "").Code)
}

func TestHealthzUsesHealthCheck(t *testing.T) {
	healthy := true
	srv, err := NewServer(Config{Service: &fakeService{}, Health: func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("database is closed")
	}})
	require.NoError(t, err)
	h := srv.Handler()
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)

	healthy = false
	rec := do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "database is closed", gjson.Get(rec.Body.String(), "error").String())
}

func TestRequestLogIsStructured(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetFormat("json")
	logger.SetLevel("debug")
	t.Cleanup(func() {
		logger.SetFormat("text")
		logger.SetOutput(os.Stdout)
		logger.SetLevel("info")
	})

	h := newTestServer(t, &fakeService{})
	req := httptest.NewRequest(http.MethodGet, "/api/timeframes", nil)
	req.Header.Set(headerRequestID, "rid-7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line string
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if gjson.Get(l, "msg").String() == "[http] request" {
			line = l
		}
	}
	require.NotEmpty(t, line, buf.String())
	assert.Equal(t, "rid-7", gjson.Get(line, "rid").String())
	assert.Equal(t, int64(http.StatusOK), gjson.Get(line, "status").Int())
	assert.Equal(t, "/api/timeframes", gjson.Get(line, "path").String())
}

func TestTimeframesAndServerTime(t *testing.T) {
	h := newTestServer(t, &fakeService{})
	rec := do(h, http.MethodGet, "/api/timeframes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1s", gjson.Get(rec.Body.String(), "timeframes.0").String())

	rec = do(h, http.MethodGet, "/api/time", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1_700_000_000_000), gjson.Get(rec.Body.String(), "server_time").Int())
}

func TestQuantity(t *testing.T) {
	h := newTestServer(t, &fakeService{qty: decimal.RequireFromString("0.123")})
	rec := do(h, http.MethodPost, "/api/quantity", `{"symbol":"btcusdt","balance":"1000","percent":50}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0.123", gjson.Get(rec.Body.String(), "quantity").String())
	assert.Equal(t, "BTCUSDT", gjson.Get(rec.Body.String(), "symbol").String())

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/quantity", `{"balance":"1"}`).Code)

	h = newTestServer(t, &fakeService{qtyErr: trading.ErrNoPrice})
	rec = do(h, http.MethodPost, "/api/quantity", `{"symbol":"BTCUSDT","balance":"1000","percent":50}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", gjson.Get(rec.Body.String(), "quantity").String())

	h = newTestServer(t, &fakeService{qtyErr: fmt.Errorf("%w: BTCUSDT", trading.ErrMissingFilter)})
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/api/quantity", `{"symbol":"BTCUSDT","balance":"1","percent":1}`).Code)

	h = newTestServer(t, &fakeService{qtyErr: fmt.Errorf("%w: percent", exchange.ErrInvalidArgument)})
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/quantity", `{"symbol":"BTCUSDT","balance":"1","percent":101}`).Code)
}

func TestStartStopsOnCancel(t *testing.T) {
	srv, err := NewServer(Config{Addr: "127.0.0.1:0", Service: &fakeService{}})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
