package api

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"klinemirror/internal/analysis/indicator"
	"klinemirror/internal/analysis/visual"
	"klinemirror/internal/archive"
	"klinemirror/internal/exchange"
	"klinemirror/internal/market"
	"klinemirror/internal/pkg/trading"
	"klinemirror/internal/store"
)

const parquetContentType = "application/vnd.apache.parquet"

type Router struct {
	svc MarketService
	now func() time.Time
}

func NewRouter(svc MarketService) *Router {
	return &Router{svc: svc, now: time.Now}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/klines", r.handleKlines)
	group.GET("/klines/last", r.handleLastBar)
	group.GET("/klines/chart", r.handleChart)
	group.GET("/klines/export", r.handleExport)
	group.GET("/klines/manifest", r.handleManifest)
	group.GET("/tickers", r.handleTickers)
	group.GET("/symbols", r.handleSymbols)
	group.GET("/symbols/:symbol/min-price", r.handleMinPrice)
	group.GET("/timeframes", r.handleTimeframes)
	group.GET("/time", r.handleServerTime)
	group.POST("/quantity", r.handleQuantity)
}

func seriesParams(c *gin.Context) (string, string, bool) {
	symbol := strings.TrimSpace(c.Query("symbol"))
	interval := strings.TrimSpace(c.Query("interval"))
	if symbol == "" || interval == "" {
		badRequest(c, "symbol 和 interval 不能为空")
		return "", "", false
	}
	return symbol, interval, true
}

// int64Query reads an optional integer query parameter.
func int64Query(c *gin.Context, key string) (int64, bool, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s=%q", exchange.ErrInvalidArgument, key, raw)
	}
	return v, true, nil
}

// seriesBars loads the whole series, or only open times in [from, to] (Unix
// ms) when either bound is given.
func (r *Router) seriesBars(c *gin.Context, symbol, interval string) ([]market.Bar, error) {
	from, hasFrom, err := int64Query(c, "from")
	if err != nil {
		return nil, err
	}
	to, hasTo, err := int64Query(c, "to")
	if err != nil {
		return nil, err
	}
	if !hasFrom && !hasTo {
		return r.svc.GetKlines(c.Request.Context(), symbol, interval)
	}
	if !hasTo {
		to = math.MaxInt64
	}
	return r.svc.GetKlineRange(c.Request.Context(), symbol, interval, from, to)
}

func (r *Router) handleKlines(c *gin.Context) {
	symbol, interval, ok := seriesParams(c)
	if !ok {
		return
	}
	bars, err := r.seriesBars(c, symbol, interval)
	if err != nil {
		writeError(c, "klines", err)
		return
	}
	if limit, _ := strconv.Atoi(c.Query("limit")); limit > 0 && limit < len(bars) {
		bars = bars[len(bars)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"symbol": strings.ToUpper(symbol), "interval": interval, "count": len(bars), "bars": bars})
}

func (r *Router) handleLastBar(c *gin.Context) {
	symbol, interval, ok := seriesParams(c)
	if !ok {
		return
	}
	bar, err := r.svc.UpdateAndGetLastBar(c.Request.Context(), symbol, interval)
	if err != nil {
		writeError(c, "last bar", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bar": bar})
}

func (r *Router) handleChart(c *gin.Context) {
	symbol, interval, ok := seriesParams(c)
	if !ok {
		return
	}
	bars, err := r.svc.GetKlines(c.Request.Context(), symbol, interval)
	if err != nil {
		writeError(c, "chart", err)
		return
	}
	input := visual.ChartInput{Symbol: symbol, Interval: interval, Bars: bars}
	if raw := strings.TrimSpace(c.Query("sma")); raw != "" {
		ov, err := smaOverlay(bars, raw)
		if err != nil {
			writeError(c, "chart", err)
			return
		}
		input.Overlay = &ov
	}
	var buf bytes.Buffer
	if err := visual.RenderKline(&buf, input); err != nil {
		writeError(c, "chart", err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func smaOverlay(bars []market.Bar, raw string) (indicator.Overlay, error) {
	period, err := strconv.Atoi(raw)
	if err != nil {
		return indicator.Overlay{}, fmt.Errorf("%w: sma=%q", indicator.ErrInvalidIndicator, raw)
	}
	return indicator.Compute(indicator.KindSMA, market.Bars(bars).Closes(), period)
}

func (r *Router) handleExport(c *gin.Context) {
	symbol, interval, ok := seriesParams(c)
	if !ok {
		return
	}
	bars, err := r.seriesBars(c, symbol, interval)
	if err != nil {
		writeError(c, "export", err)
		return
	}
	var buf bytes.Buffer
	if err := archive.WriteBars(&buf, bars); err != nil {
		writeError(c, "export", err)
		return
	}
	name := archive.Filename(symbol, interval, bars)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, parquetContentType, buf.Bytes())
}

func (r *Router) handleManifest(c *gin.Context) {
	symbol, interval, ok := seriesParams(c)
	if !ok {
		return
	}
	m, err := r.svc.KlineManifest(c.Request.Context(), symbol, interval)
	if err != nil {
		writeError(c, "manifest", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": m})
}

func (r *Router) handleTickers(c *gin.Context) {
	q := exchange.TickerQuery{
		QuoteAsset: c.Query("quote"),
		SortBy:     c.Query("sort_by"),
		SortDir:    c.Query("sort_dir"),
	}
	tickers, err := r.svc.GetTickers(c.Request.Context(), q)
	if err != nil {
		writeError(c, "tickers", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(tickers), "tickers": tickers})
}

func (r *Router) handleSymbols(c *gin.Context) {
	page, _, err := int64Query(c, "page")
	if err != nil {
		writeError(c, "symbols", err)
		return
	}
	perPage, _, err := int64Query(c, "per_page")
	if err != nil {
		writeError(c, "symbols", err)
		return
	}
	q := exchange.SymbolQuery{
		QuoteAsset: c.Query("quote"),
		Search:     c.Query("search"),
		SortBy:     c.Query("sort_by"),
		SortDir:    c.Query("sort_dir"),
		Page:       int(page),
		PerPage:    int(perPage),
	}
	symbols, err := r.svc.GetSymbols(c.Request.Context(), q)
	if err != nil {
		writeError(c, "symbols", err)
		return
	}
	resp := gin.H{"count": len(symbols), "symbols": symbols}
	if q.PerPage > 0 {
		resp["page"] = max(q.Page, 1)
		resp["per_page"] = min(q.PerPage, store.MaxPerPage)
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleMinPrice(c *gin.Context) {
	symbol := c.Param("symbol")
	price, err := r.svc.SymbolMinPrice(c.Request.Context(), symbol)
	if err != nil {
		writeError(c, "min price", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": strings.ToUpper(symbol), "min_price": price})
}

func (r *Router) handleTimeframes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"timeframes": r.svc.GetTimeframes()})
}

func (r *Router) handleServerTime(c *gin.Context) {
	ts, err := r.svc.ServerTime(c.Request.Context())
	if err != nil {
		writeError(c, "server time", err)
		return
	}
	local := r.now().UnixMilli()
	c.JSON(http.StatusOK, gin.H{"server_time": ts, "local_time": local, "drift_ms": local - ts})
}

type quantityRequest struct {
	Symbol  string          `json:"symbol" binding:"required"`
	Balance decimal.Decimal `json:"balance"`
	Percent decimal.Decimal `json:"percent"`
}

func (r *Router) handleQuantity(c *gin.Context) {
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	qty, err := r.svc.CalculateOrderQuantity(c.Request.Context(), req.Symbol, req.Balance, req.Percent)
	if errors.Is(err, trading.ErrNoPrice) {
		c.JSON(http.StatusOK, gin.H{"symbol": strings.ToUpper(req.Symbol), "quantity": "0", "reason": err.Error()})
		return
	}
	if err != nil {
		writeError(c, "quantity", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": strings.ToUpper(req.Symbol), "quantity": qty.String()})
}
