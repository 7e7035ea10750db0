package config

import (
	"fmt"
	"strings"

	symbolpkg "klinemirror/internal/pkg/symbol"
)

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppLogFormat      = "text"
	defaultAppHTTPAddr       = ":8080"
	defaultRequestTimeout    = 30
	defaultMarketName        = "binance"
	defaultMarketKind        = "spot"
	defaultMarketREST        = "https://api.binance.com"
	defaultMarketFuturesREST = "https://fapi.binance.com"
	defaultMarketTimeout     = 15
	defaultMarketRPS         = 10
	defaultMarketBurst       = 5
	defaultStorageDriver     = StorageGorm
	defaultStoragePath       = "data/klinemirror.db"
	defaultRefreshDriver     = RefreshStore
	defaultRedisPrefix       = "klinemirror:refresh:"
	defaultTickerIntervalMs  = 60_000
	defaultExchangeInfoMs    = 120_000
	defaultKlinePageLimit    = 500
	defaultKlineBackfill     = 1000
	defaultKlineMaxPages     = 1
	defaultWarmupConcurrency = 4
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Storage.applyDefaults(keys)
	c.Refresh.applyDefaults(keys)
	c.Kline.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		intFieldDefault("app.request_timeout_seconds", &a.RequestTimeoutSeconds, defaultRequestTimeout),
	)
}

func (m *MarketConfig) applyDefaults(_ keySet) {
	if m == nil {
		return
	}
	if len(m.Sources) == 0 {
		m.Sources = []MarketSource{{Name: defaultMarketName, Enabled: true}}
	}
	for i := range m.Sources {
		src := &m.Sources[i]
		src.Name = strings.TrimSpace(src.Name)
		if src.Name == "" {
			if i == 0 {
				src.Name = defaultMarketName
			} else {
				src.Name = fmt.Sprintf("market_%d", i)
			}
		}
		src.Kind = strings.ToLower(strings.TrimSpace(src.Kind))
		if src.Kind == "" {
			src.Kind = defaultMarketKind
		}
		if src.RESTBaseURL == "" {
			src.RESTBaseURL = defaultMarketREST
			if src.Kind == "futures" {
				src.RESTBaseURL = defaultMarketFuturesREST
			}
		}
		if src.TimeoutSeconds <= 0 {
			src.TimeoutSeconds = defaultMarketTimeout
		}
		if src.RequestsPerSecond == 0 {
			src.RequestsPerSecond = defaultMarketRPS
		}
		if src.Burst <= 0 {
			src.Burst = defaultMarketBurst
		}
		src.Proxy.normalize()
	}
	if strings.TrimSpace(m.ActiveSource) == "" {
		m.ActiveSource = firstEnabledMarket(m.Sources)
	}
}

func (s *StorageConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("storage.driver", &s.Driver, defaultStorageDriver),
	)
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	if s.Driver == StorageGorm && strings.TrimSpace(s.Path) == "" {
		s.Path = defaultStoragePath
	}
}

func (r *RefreshConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("refresh.driver", &r.Driver, defaultRefreshDriver),
		stringFieldDefault("refresh.redis.prefix", &r.Redis.Prefix, defaultRedisPrefix),
		fieldDefault{
			key:   "refresh.ticker_interval_ms",
			need:  func() bool { return r.TickerIntervalMs <= 0 },
			apply: func() { r.TickerIntervalMs = defaultTickerIntervalMs },
		},
		fieldDefault{
			key:   "refresh.exchange_info_interval_ms",
			need:  func() bool { return r.ExchangeInfoIntervalMs <= 0 },
			apply: func() { r.ExchangeInfoIntervalMs = defaultExchangeInfoMs },
		},
	)
	r.Driver = strings.ToLower(strings.TrimSpace(r.Driver))
}

func (k *KlineConfig) applyDefaults(keys keySet) {
	if k == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("kline.page_limit", &k.PageLimit, defaultKlinePageLimit),
		intFieldDefault("kline.backfill_limit", &k.BackfillLimit, defaultKlineBackfill),
		intFieldDefault("kline.max_backfill_pages", &k.MaxBackfillPages, defaultKlineMaxPages),
		intFieldDefault("kline.warmup_concurrency", &k.WarmupConcurrency, defaultWarmupConcurrency),
	)
	k.WarmupSymbols = symbolpkg.NormalizeList(k.WarmupSymbols)
	k.WarmupIntervals = normalizeList(k.WarmupIntervals, nil)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func firstEnabledMarket(sources []MarketSource) string {
	for _, src := range sources {
		name := strings.TrimSpace(src.Name)
		if src.Enabled && name != "" {
			return name
		}
	}
	if len(sources) > 0 {
		if name := strings.TrimSpace(sources[0].Name); name != "" {
			return name
		}
	}
	return defaultMarketName
}

func normalizeList(items []string, transform func(string) string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if transform != nil {
			item = transform(item)
		}
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
