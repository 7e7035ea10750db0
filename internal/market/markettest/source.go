// Package markettest provides a testify mock of market.Source.
package markettest

import (
	"context"

	"klinemirror/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type MockSource struct {
	mock.Mock
}

var _ market.Source = (*MockSource)(nil)

func (m *MockSource) TailBar(ctx context.Context, symbol, interval string) (market.Bar, error) {
	args := m.Called(ctx, symbol, interval)
	return args.Get(0).(market.Bar), args.Error(1)
}

func (m *MockSource) Range(ctx context.Context, symbol, interval string, q market.RangeQuery) ([]market.Bar, error) {
	args := m.Called(ctx, symbol, interval, q)
	if bars, ok := args.Get(0).([]market.Bar); ok {
		return bars, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSource) Tickers24h(ctx context.Context) ([]market.Ticker, error) {
	args := m.Called(ctx)
	if v, ok := args.Get(0).([]market.Ticker); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSource) ExchangeInfo(ctx context.Context) (market.ExchangeInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).(market.ExchangeInfo), args.Error(1)
}

func (m *MockSource) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockSource) ServerTime(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}
