package config

import (
	"strings"
	"time"
)

const (
	StorageGorm     = "gorm"
	StorageSQLFile  = "sqlfile"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"

	RefreshStore  = "store"
	RefreshRedis  = "redis"
	RefreshMemory = "memory"
)

// Config 汇总服务的全部配置。
type Config struct {
	App     AppConfig     `toml:"app"`
	Market  MarketConfig  `toml:"market"`
	Storage StorageConfig `toml:"storage"`
	Refresh RefreshConfig `toml:"refresh"`
	Kline   KlineConfig   `toml:"kline"`
}

type AppConfig struct {
	Env                   string `toml:"env"`
	LogLevel              string `toml:"log_level"`
	LogFormat             string `toml:"log_format"`
	LogPath               string `toml:"log_path"`
	HTTPAddr              string `toml:"http_addr"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

func (a AppConfig) RequestTimeout() time.Duration {
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

type MarketConfig struct {
	ActiveSource string         `toml:"active_source"`
	Sources      []MarketSource `toml:"sources"`
}

type MarketSource struct {
	Name               string      `toml:"name"`
	Enabled            bool        `toml:"enabled"`
	Kind               string      `toml:"kind"`
	RESTBaseURL        string      `toml:"rest_base_url"`
	TimeoutSeconds     int         `toml:"timeout_seconds"`
	RequestsPerSecond  float64     `toml:"requests_per_second"`
	Burst              int         `toml:"burst"`
	BreakerThreshold   int         `toml:"breaker_threshold"`
	BreakerCooldownSec int         `toml:"breaker_cooldown_seconds"`
	Proxy              ProxyConfig `toml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
}

// ResolveActiveSource 返回 active_source 指定的启用源，缺省取第一个启用源。
func (m MarketConfig) ResolveActiveSource() MarketSource {
	if len(m.Sources) == 0 {
		return MarketSource{
			Name:        defaultMarketName,
			Enabled:     true,
			Kind:        defaultMarketKind,
			RESTBaseURL: defaultMarketREST,
		}
	}
	active := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	var fallback MarketSource
	for _, src := range m.Sources {
		if fallback.Name == "" {
			fallback = src
		}
		if !src.Enabled {
			continue
		}
		if active == "" || strings.ToLower(src.Name) == active {
			return src
		}
	}
	return fallback
}

type StorageConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
	// KlineFilesDir moves bar series into one sqlite file per series while
	// tickers, symbols and refresh state stay on Driver.
	KlineFilesDir string `toml:"kline_files_dir"`
}

type RefreshConfig struct {
	Driver                 string      `toml:"driver"`
	Redis                  RedisConfig `toml:"redis"`
	TickerIntervalMs       int64       `toml:"ticker_interval_ms"`
	ExchangeInfoIntervalMs int64       `toml:"exchange_info_interval_ms"`
}

func (r RefreshConfig) TickerInterval() time.Duration {
	return time.Duration(r.TickerIntervalMs) * time.Millisecond
}

func (r RefreshConfig) ExchangeInfoInterval() time.Duration {
	return time.Duration(r.ExchangeInfoIntervalMs) * time.Millisecond
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

type KlineConfig struct {
	PageLimit         int      `toml:"page_limit"`
	BackfillLimit     int      `toml:"backfill_limit"`
	MaxBackfillPages  int      `toml:"max_backfill_pages"`
	WarmupSymbols     []string `toml:"warmup_symbols"`
	WarmupIntervals   []string `toml:"warmup_intervals"`
	WarmupConcurrency int      `toml:"warmup_concurrency"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
