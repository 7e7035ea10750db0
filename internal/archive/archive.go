// Package archive exports bar series as parquet.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"klinemirror/internal/market"
)

// Row is the parquet layout of a bar. Decimals stay strings so no
// precision is lost.
type Row struct {
	Symbol      string `parquet:"symbol,dict"`
	Interval    string `parquet:"interval,dict"`
	OpenTime    int64  `parquet:"open_time"`
	CloseTime   int64  `parquet:"close_time"`
	Open        string `parquet:"open"`
	High        string `parquet:"high"`
	Low         string `parquet:"low"`
	Close       string `parquet:"close"`
	Volume      string `parquet:"volume"`
	QuoteVolume string `parquet:"quote_volume"`
	Trades      int64  `parquet:"trades"`
}

func ToRows(bars []market.Bar) []Row {
	rows := make([]Row, len(bars))
	for i, b := range bars {
		rows[i] = Row{
			Symbol:      b.Symbol,
			Interval:    b.Interval,
			OpenTime:    b.OpenTime,
			CloseTime:   b.CloseTime,
			Open:        b.Open.String(),
			High:        b.High.String(),
			Low:         b.Low.String(),
			Close:       b.Close.String(),
			Volume:      b.Volume.String(),
			QuoteVolume: b.QuoteVolume.String(),
			Trades:      b.Trades,
		}
	}
	return rows
}

func WriteBars(w io.Writer, bars []market.Bar) error {
	if err := parquet.Write(w, ToRows(bars)); err != nil {
		return fmt.Errorf("parquet 写入失败: %w", err)
	}
	return nil
}

// ReadBars decodes a file produced by WriteBars.
func ReadBars(data []byte) ([]market.Bar, error) {
	rows, err := parquet.Read[Row](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parquet 读取失败: %w", err)
	}
	bars := make([]market.Bar, len(rows))
	for i, r := range rows {
		b := market.Bar{
			Symbol:    r.Symbol,
			Interval:  r.Interval,
			OpenTime:  r.OpenTime,
			CloseTime: r.CloseTime,
			Trades:    r.Trades,
		}
		if b.Open, err = parseDecimal("open", r.Open); err != nil {
			return nil, err
		}
		if b.High, err = parseDecimal("high", r.High); err != nil {
			return nil, err
		}
		if b.Low, err = parseDecimal("low", r.Low); err != nil {
			return nil, err
		}
		if b.Close, err = parseDecimal("close", r.Close); err != nil {
			return nil, err
		}
		if b.Volume, err = parseDecimal("volume", r.Volume); err != nil {
			return nil, err
		}
		if b.QuoteVolume, err = parseDecimal("quote_volume", r.QuoteVolume); err != nil {
			return nil, err
		}
		bars[i] = b
	}
	return bars, nil
}

// Filename is e.g. "BTCUSDT_1h_1700000000000_1700003600000.parquet".
func Filename(symbol, interval string, bars []market.Bar) string {
	symbol = strings.ToUpper(symbol)
	if len(bars) == 0 {
		return fmt.Sprintf("%s_%s_empty.parquet", symbol, interval)
	}
	return fmt.Sprintf("%s_%s_%d_%d.parquet", symbol, interval, bars[0].OpenTime, bars[len(bars)-1].OpenTime)
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parquet 字段 %s 无效: %w", field, err)
	}
	return d, nil
}
