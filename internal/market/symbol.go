package market

import (
	"fmt"
	"strings"
)

const (
	FilterPrice         = "PRICE_FILTER"
	FilterMarketLotSize = "MARKET_LOT_SIZE"

	SymbolStatusTrading = "TRADING"
)

// ExchangeInfo is the subset of the exchange-info payload the mirror keeps.
type ExchangeInfo struct {
	ServerTime int64
	Symbols    []ExchangeSymbol
}

// ExchangeSymbol mirrors one entry of exchange info, filters kept raw.
type ExchangeSymbol struct {
	Symbol             string
	Status             string
	BaseAsset          string
	BaseAssetPrecision int
	QuoteAsset         string
	OrderTypes         []string
	Permissions        []string
	Filters            []map[string]any
}

// SymbolInfo is the cached projection of an ExchangeSymbol, keyed by symbol.
type SymbolInfo struct {
	Symbol             string   `json:"symbol"`
	Status             string   `json:"status"`
	BaseAsset          string   `json:"base_asset"`
	BaseAssetPrecision int      `json:"base_asset_precision"`
	QuoteAsset         string   `json:"quote_asset"`
	MinPrice           string   `json:"min_price"`
	StepSize           string   `json:"step_size,omitempty"`
	OrderTypes         []string `json:"order_types"`
	Permissions        []string `json:"permissions"`
}

// Filter returns the first filter of the given type.
func (s ExchangeSymbol) Filter(filterType string) (map[string]any, bool) {
	for _, f := range s.Filters {
		if ft, _ := f["filterType"].(string); ft == filterType {
			return f, true
		}
	}
	return nil, false
}

// FilterValue returns filter[field] as a string, "" when absent.
func (s ExchangeSymbol) FilterValue(filterType, field string) string {
	f, ok := s.Filter(filterType)
	if !ok {
		return ""
	}
	switch v := f[field].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Project keeps PRICE_FILTER.minPrice and MARKET_LOT_SIZE.stepSize and drops
// every other filter.
func (s ExchangeSymbol) Project() SymbolInfo {
	return SymbolInfo{
		Symbol:             s.Symbol,
		Status:             s.Status,
		BaseAsset:          s.BaseAsset,
		BaseAssetPrecision: s.BaseAssetPrecision,
		QuoteAsset:         s.QuoteAsset,
		MinPrice:           s.FilterValue(FilterPrice, "minPrice"),
		StepSize:           s.FilterValue(FilterMarketLotSize, "stepSize"),
		OrderTypes:         cloneStrings(s.OrderTypes),
		Permissions:        cloneStrings(s.Permissions),
	}
}

// ProjectSymbols projects every symbol of info, skipping blank names.
func ProjectSymbols(info ExchangeInfo) []SymbolInfo {
	out := make([]SymbolInfo, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if strings.TrimSpace(s.Symbol) == "" {
			continue
		}
		out = append(out, s.Project())
	}
	return out
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
