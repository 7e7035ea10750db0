package model

import (
	"encoding/json"

	"klinemirror/internal/market"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Decimals are stored as TEXT so the exact exchange representation survives.

type BarModel struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Symbol      string `gorm:"column:symbol;size:32;not null;uniqueIndex:idx_klines_key,priority:1"`
	Interval    string `gorm:"column:interval;size:8;not null;uniqueIndex:idx_klines_key,priority:2"`
	OpenTime    int64  `gorm:"column:open_time;not null;uniqueIndex:idx_klines_key,priority:3"`
	CloseTime   int64  `gorm:"column:close_time"`
	Open        string `gorm:"column:open;type:TEXT"`
	High        string `gorm:"column:high;type:TEXT"`
	Low         string `gorm:"column:low;type:TEXT"`
	Close       string `gorm:"column:close;type:TEXT"`
	Volume      string `gorm:"column:volume;type:TEXT"`
	QuoteVolume string `gorm:"column:quote_volume;type:TEXT"`
	Trades      int64  `gorm:"column:trades"`
}

func (BarModel) TableName() string { return "klines" }

type TickerModel struct {
	Symbol             string `gorm:"column:symbol;primaryKey;size:32"`
	PriceChange        string `gorm:"column:price_change;type:TEXT"`
	PriceChangePercent string `gorm:"column:price_change_percent;type:TEXT"`
	LastPrice          string `gorm:"column:last_price;type:TEXT"`
	Open               string `gorm:"column:open;type:TEXT"`
	High               string `gorm:"column:high;type:TEXT"`
	Low                string `gorm:"column:low;type:TEXT"`
	Volume             string `gorm:"column:volume;type:TEXT"`
	QuoteVolume        string `gorm:"column:quote_volume;type:TEXT"`
	OpenTime           int64  `gorm:"column:open_time"`
	CloseTime          int64  `gorm:"column:close_time"`
}

func (TickerModel) TableName() string { return "tickers" }

type SymbolModel struct {
	Symbol             string         `gorm:"column:symbol;primaryKey;size:32"`
	Status             string         `gorm:"column:status;index"`
	BaseAsset          string         `gorm:"column:base_asset"`
	BaseAssetPrecision int            `gorm:"column:base_asset_precision"`
	QuoteAsset         string         `gorm:"column:quote_asset;index"`
	MinPrice           string         `gorm:"column:min_price"`
	StepSize           string         `gorm:"column:step_size"`
	OrderTypes         datatypes.JSON `gorm:"column:order_types;type:TEXT"`
	Permissions        datatypes.JSON `gorm:"column:permissions;type:TEXT"`
}

func (SymbolModel) TableName() string { return "symbols" }

// RefreshStateModel holds one timestamp per gated cache domain.
type RefreshStateModel struct {
	Key       string `gorm:"column:key;primaryKey;size:64"`
	UpdatedAt int64  `gorm:"column:updated_at;not null"`
}

func (RefreshStateModel) TableName() string { return "refresh_state" }

func FromBar(b market.Bar) BarModel {
	return BarModel{
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

func (m BarModel) ToBar() market.Bar {
	return market.Bar{
		Symbol:      m.Symbol,
		Interval:    m.Interval,
		OpenTime:    m.OpenTime,
		CloseTime:   m.CloseTime,
		Open:        ParseDecimal(m.Open),
		High:        ParseDecimal(m.High),
		Low:         ParseDecimal(m.Low),
		Close:       ParseDecimal(m.Close),
		Volume:      ParseDecimal(m.Volume),
		QuoteVolume: ParseDecimal(m.QuoteVolume),
		Trades:      m.Trades,
	}
}

func FromTicker(t market.Ticker) TickerModel {
	return TickerModel{
		Symbol:             t.Symbol,
		PriceChange:        t.PriceChange.String(),
		PriceChangePercent: t.PriceChangePercent.String(),
		LastPrice:          t.LastPrice.String(),
		Open:               t.Open.String(),
		High:               t.High.String(),
		Low:                t.Low.String(),
		Volume:             t.Volume.String(),
		QuoteVolume:        t.QuoteVolume.String(),
		OpenTime:           t.OpenTime,
		CloseTime:          t.CloseTime,
	}
}

func (m TickerModel) ToTicker() market.Ticker {
	return market.Ticker{
		Symbol:             m.Symbol,
		PriceChange:        ParseDecimal(m.PriceChange),
		PriceChangePercent: ParseDecimal(m.PriceChangePercent),
		LastPrice:          ParseDecimal(m.LastPrice),
		Open:               ParseDecimal(m.Open),
		High:               ParseDecimal(m.High),
		Low:                ParseDecimal(m.Low),
		Volume:             ParseDecimal(m.Volume),
		QuoteVolume:        ParseDecimal(m.QuoteVolume),
		OpenTime:           m.OpenTime,
		CloseTime:          m.CloseTime,
	}
}

func FromSymbol(s market.SymbolInfo) SymbolModel {
	return SymbolModel{
		Symbol:             s.Symbol,
		Status:             s.Status,
		BaseAsset:          s.BaseAsset,
		BaseAssetPrecision: s.BaseAssetPrecision,
		QuoteAsset:         s.QuoteAsset,
		MinPrice:           s.MinPrice,
		StepSize:           s.StepSize,
		OrderTypes:         EncodeStrings(s.OrderTypes),
		Permissions:        EncodeStrings(s.Permissions),
	}
}

func (m SymbolModel) ToSymbol() market.SymbolInfo {
	return market.SymbolInfo{
		Symbol:             m.Symbol,
		Status:             m.Status,
		BaseAsset:          m.BaseAsset,
		BaseAssetPrecision: m.BaseAssetPrecision,
		QuoteAsset:         m.QuoteAsset,
		MinPrice:           m.MinPrice,
		StepSize:           m.StepSize,
		OrderTypes:         DecodeStrings(m.OrderTypes),
		Permissions:        DecodeStrings(m.Permissions),
	}
}

// ParseDecimal returns zero for empty or malformed text.
func ParseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func EncodeStrings(in []string) datatypes.JSON {
	if in == nil {
		in = []string{}
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(raw)
}

func DecodeStrings(raw []byte) []string {
	out := []string{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return []string{}
	}
	return out
}
