package binance

import (
	"context"
	"strings"

	"klinemirror/internal/market"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

// restClient hides the spot/futures SDK split behind market types.
type restClient interface {
	klines(ctx context.Context, symbol, interval string, q market.RangeQuery) ([]market.Bar, error)
	tickers(ctx context.Context) ([]market.Ticker, error)
	exchangeInfo(ctx context.Context) (market.ExchangeInfo, error)
	lastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	serverTime(ctx context.Context) (int64, error)
	maxLimit() int
}

type spotClient struct {
	c *binance.Client
}

func (s spotClient) maxLimit() int { return 1000 }

func (s spotClient) klines(ctx context.Context, symbol, interval string, q market.RangeQuery) ([]market.Bar, error) {
	kls, err := withRange(s.c.NewKlinesService().Symbol(symbol).Interval(interval), q).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Bar, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, barFrom(symbol, interval, kl.OpenTime, kl.CloseTime,
			kl.Open, kl.High, kl.Low, kl.Close, kl.Volume, kl.QuoteAssetVolume, kl.TradeNum))
	}
	return out, nil
}

func (s spotClient) tickers(ctx context.Context) ([]market.Ticker, error) {
	stats, err := s.c.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Ticker, 0, len(stats))
	for _, st := range stats {
		if st == nil {
			continue
		}
		out = append(out, tickerFrom(st.Symbol, st.PriceChange, st.PriceChangePercent, st.LastPrice,
			st.OpenPrice, st.HighPrice, st.LowPrice, st.Volume, st.QuoteVolume, st.OpenTime, st.CloseTime))
	}
	return out, nil
}

func (s spotClient) exchangeInfo(ctx context.Context) (market.ExchangeInfo, error) {
	info, err := s.c.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return market.ExchangeInfo{}, err
	}
	out := market.ExchangeInfo{ServerTime: info.ServerTime, Symbols: make([]market.ExchangeSymbol, 0, len(info.Symbols))}
	for _, sym := range info.Symbols {
		out.Symbols = append(out.Symbols, market.ExchangeSymbol{
			Symbol:             sym.Symbol,
			Status:             sym.Status,
			BaseAsset:          sym.BaseAsset,
			BaseAssetPrecision: sym.BaseAssetPrecision,
			QuoteAsset:         sym.QuoteAsset,
			OrderTypes:         sym.OrderTypes,
			Permissions:        sym.Permissions,
			Filters:            sym.Filters,
		})
	}
	return out, nil
}

func (s spotClient) lastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := s.c.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, p := range prices {
		if p != nil && strings.EqualFold(p.Symbol, symbol) {
			return parseDecimal(p.Price), nil
		}
	}
	return decimal.Zero, nil
}

func (s spotClient) serverTime(ctx context.Context) (int64, error) {
	return s.c.NewServerTimeService().Do(ctx)
}

type futuresClient struct {
	c *futures.Client
}

func (f futuresClient) maxLimit() int { return 1500 }

func (f futuresClient) klines(ctx context.Context, symbol, interval string, q market.RangeQuery) ([]market.Bar, error) {
	kls, err := withRange(f.c.NewKlinesService().Symbol(symbol).Interval(interval), q).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Bar, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, barFrom(symbol, interval, kl.OpenTime, kl.CloseTime,
			kl.Open, kl.High, kl.Low, kl.Close, kl.Volume, kl.QuoteAssetVolume, kl.TradeNum))
	}
	return out, nil
}

func (f futuresClient) tickers(ctx context.Context) ([]market.Ticker, error) {
	stats, err := f.c.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Ticker, 0, len(stats))
	for _, st := range stats {
		if st == nil {
			continue
		}
		out = append(out, tickerFrom(st.Symbol, st.PriceChange, st.PriceChangePercent, st.LastPrice,
			st.OpenPrice, st.HighPrice, st.LowPrice, st.Volume, st.QuoteVolume, st.OpenTime, st.CloseTime))
	}
	return out, nil
}

func (f futuresClient) exchangeInfo(ctx context.Context) (market.ExchangeInfo, error) {
	info, err := f.c.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return market.ExchangeInfo{}, err
	}
	out := market.ExchangeInfo{ServerTime: info.ServerTime, Symbols: make([]market.ExchangeSymbol, 0, len(info.Symbols))}
	for _, sym := range info.Symbols {
		orderTypes := make([]string, 0, len(sym.OrderType))
		for _, ot := range sym.OrderType {
			orderTypes = append(orderTypes, string(ot))
		}
		out.Symbols = append(out.Symbols, market.ExchangeSymbol{
			Symbol:             sym.Symbol,
			Status:             sym.Status,
			BaseAsset:          sym.BaseAsset,
			BaseAssetPrecision: sym.BaseAssetPrecision,
			QuoteAsset:         sym.QuoteAsset,
			OrderTypes:         orderTypes,
			Permissions:        []string{},
			Filters:            sym.Filters,
		})
	}
	return out, nil
}

func (f futuresClient) lastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := f.c.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, p := range prices {
		if p != nil && strings.EqualFold(p.Symbol, symbol) {
			return parseDecimal(p.Price), nil
		}
	}
	return decimal.Zero, nil
}

func (f futuresClient) serverTime(ctx context.Context) (int64, error) {
	return f.c.NewServerTimeService().Do(ctx)
}

// rangeService is the part of the spot and futures klines services that
// takes a window.
type rangeService[S any] interface {
	StartTime(startTime int64) S
	EndTime(endTime int64) S
	Limit(limit int) S
}

func withRange[S rangeService[S]](svc S, q market.RangeQuery) S {
	if q.Start > 0 {
		svc = svc.StartTime(q.Start)
	}
	if q.End > 0 {
		svc = svc.EndTime(q.End)
	}
	if q.Limit > 0 {
		svc = svc.Limit(q.Limit)
	}
	return svc
}

// barFrom maps the decimal strings both SDK kline types carry.
func barFrom(symbol, interval string, openTime, closeTime int64, o, h, l, c, volume, quoteVolume string, trades int64) market.Bar {
	return market.Bar{
		Symbol:      symbol,
		Interval:    interval,
		OpenTime:    openTime,
		CloseTime:   closeTime,
		Open:        parseDecimal(o),
		High:        parseDecimal(h),
		Low:         parseDecimal(l),
		Close:       parseDecimal(c),
		Volume:      parseDecimal(volume),
		QuoteVolume: parseDecimal(quoteVolume),
		Trades:      trades,
	}
}

func tickerFrom(symbol, change, changePct, last, o, h, l, volume, quoteVolume string, openTime, closeTime int64) market.Ticker {
	return market.Ticker{
		Symbol:             symbol,
		PriceChange:        parseDecimal(change),
		PriceChangePercent: parseDecimal(changePct),
		LastPrice:          parseDecimal(last),
		Open:               parseDecimal(o),
		High:               parseDecimal(h),
		Low:                parseDecimal(l),
		Volume:             parseDecimal(volume),
		QuoteVolume:        parseDecimal(quoteVolume),
		OpenTime:           openTime,
		CloseTime:          closeTime,
	}
}

func parseDecimal(val string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(val))
	if err != nil {
		return decimal.Zero
	}
	return d
}
