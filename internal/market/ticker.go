package market

import "github.com/shopspring/decimal"

// Ticker is the rolling 24h statistics of one symbol, keyed by symbol.
type Ticker struct {
	Symbol             string          `json:"symbol"`
	PriceChange        decimal.Decimal `json:"price_change"`
	PriceChangePercent decimal.Decimal `json:"price_change_percent"`
	LastPrice          decimal.Decimal `json:"last_price"`
	Open               decimal.Decimal `json:"open"`
	High               decimal.Decimal `json:"high"`
	Low                decimal.Decimal `json:"low"`
	Volume             decimal.Decimal `json:"volume"`
	QuoteVolume        decimal.Decimal `json:"quote_volume"`
	OpenTime           int64           `json:"open_time"`
	CloseTime          int64           `json:"close_time"`
}
