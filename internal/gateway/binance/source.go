package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"klinemirror/internal/logger"
	"klinemirror/internal/market"
	"klinemirror/internal/pkg/circuit"
	symbolpkg "klinemirror/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// ErrNoData is returned when the exchange answers with no kline at all.
var ErrNoData = errors.New("binance returned no data")

// Source 基于 go-binance SDK 实现 market.Source（现货或 U 本位合约）。
type Source struct {
	cfg     Config
	client  restClient
	limiter *rate.Limiter
	breaker *circuit.Breaker
}

var _ market.Source = (*Source)(nil)

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}

	var client restClient
	switch final.Kind {
	case KindSpot:
		c := binance.NewClient("", "")
		c.BaseURL = final.RESTBaseURL
		c.HTTPClient = httpClient
		client = spotClient{c: c}
	case KindFutures:
		c := futures.NewClient("", "")
		c.BaseURL = final.RESTBaseURL
		c.HTTPClient = httpClient
		client = futuresClient{c: c}
	default:
		return nil, fmt.Errorf("unknown binance kind %q", final.Kind)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if final.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(final.RequestsPerSecond), final.Burst)
	}
	return &Source{
		cfg:     final,
		client:  client,
		limiter: limiter,
		breaker: circuit.New("binance-"+final.Kind, final.BreakerThreshold, final.BreakerCooldown),
	}, nil
}

func (s *Source) Kind() string { return s.cfg.Kind }

// MaxPageLimit is the most klines one request returns: 1000 on spot, 1500 on
// futures.
func (s *Source) MaxPageLimit() int { return s.client.maxLimit() }

var _ market.PageCapper = (*Source)(nil)

// IsAPIError reports whether err is a structured rejection from the exchange
// rather than a transport failure.
func IsAPIError(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr)
}

func trips(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !IsAPIError(err)
}

// call paces and guards one REST request. SDK errors are returned as-is.
func (s *Source) call(ctx context.Context, op string, fn func() error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	err := s.breaker.Do(fn, trips)
	if err != nil {
		logger.Debugf("[binance] %s %s failed: %v", s.cfg.Kind, op, err)
	}
	return err
}

func cleanSymbol(symbol string) (string, error) {
	clean := symbolpkg.Normalize(symbol)
	if clean == "" {
		return "", fmt.Errorf("symbol is required")
	}
	return clean, nil
}

func (s *Source) TailBar(ctx context.Context, symbol, interval string) (market.Bar, error) {
	sym, err := cleanSymbol(symbol)
	if err != nil {
		return market.Bar{}, err
	}
	var bars []market.Bar
	err = s.call(ctx, "tail", func() error {
		var err error
		bars, err = s.client.klines(ctx, sym, strings.TrimSpace(interval), market.RangeQuery{Limit: 1})
		return err
	})
	if err != nil {
		return market.Bar{}, err
	}
	tail, ok := market.Bars(bars).Tail()
	if !ok {
		return market.Bar{}, fmt.Errorf("%w: tail %s %s", ErrNoData, sym, interval)
	}
	return tail, nil
}

func (s *Source) Range(ctx context.Context, symbol, interval string, q market.RangeQuery) ([]market.Bar, error) {
	sym, err := cleanSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if limit := s.client.maxLimit(); q.Limit > limit {
		q.Limit = limit
	}
	var bars []market.Bar
	err = s.call(ctx, "klines", func() error {
		var err error
		bars, err = s.client.klines(ctx, sym, strings.TrimSpace(interval), q)
		return err
	})
	return bars, err
}

func (s *Source) Tickers24h(ctx context.Context) ([]market.Ticker, error) {
	var out []market.Ticker
	err := s.call(ctx, "ticker24h", func() error {
		var err error
		out, err = s.client.tickers(ctx)
		return err
	})
	return out, err
}

func (s *Source) ExchangeInfo(ctx context.Context) (market.ExchangeInfo, error) {
	var out market.ExchangeInfo
	err := s.call(ctx, "exchangeInfo", func() error {
		var err error
		out, err = s.client.exchangeInfo(ctx)
		return err
	})
	return out, err
}

func (s *Source) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	sym, err := cleanSymbol(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	var px decimal.Decimal
	err = s.call(ctx, "price", func() error {
		var err error
		px, err = s.client.lastPrice(ctx, sym)
		return err
	})
	return px, err
}

func (s *Source) ServerTime(ctx context.Context) (int64, error) {
	var ts int64
	err := s.call(ctx, "time", func() error {
		var err error
		ts, err = s.client.serverTime(ctx)
		return err
	})
	return ts, err
}
