package config

import (
	"fmt"
	"strings"

	"klinemirror/internal/market"
)

// validate 对配置进行语义校验，结构校验由 schema 完成。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if err := c.Refresh.validate(); err != nil {
		return err
	}
	if err := c.Kline.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(a.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format must be text or json, got %q", a.LogFormat)
	}
	if a.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("app.request_timeout_seconds must be >= 0")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	names := make(map[string]bool, len(m.Sources))
	for _, src := range m.Sources {
		key := strings.ToLower(src.Name)
		if names[key] {
			return fmt.Errorf("market.sources contains duplicate name: %s", src.Name)
		}
		names[key] = true
		if src.Kind != "spot" && src.Kind != "futures" {
			return fmt.Errorf("market.sources.%s.kind must be spot or futures", src.Name)
		}
		if src.Proxy.Enabled && src.Proxy.RESTURL == "" {
			return fmt.Errorf("market.sources.%s.proxy.rest_url 不能为空", src.Name)
		}
	}
	if active := strings.ToLower(strings.TrimSpace(m.ActiveSource)); active != "" && !names[active] {
		return fmt.Errorf("market.active_source %q is not configured", m.ActiveSource)
	}
	return nil
}

func (s *StorageConfig) validate() error {
	switch s.Driver {
	case StorageGorm:
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("storage.path 不能为空")
		}
	case StorageSQLFile:
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("storage.path is required for sqlfile (root directory)")
		}
	case StoragePostgres:
		if strings.TrimSpace(s.DSN) == "" {
			return fmt.Errorf("storage.dsn is required for postgres")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unsupported storage.driver: %s", s.Driver)
	}
	return nil
}

func (r *RefreshConfig) validate() error {
	switch r.Driver {
	case RefreshStore, RefreshMemory:
	case RefreshRedis:
		if strings.TrimSpace(r.Redis.Addr) == "" {
			return fmt.Errorf("refresh.redis.addr is required for redis")
		}
	default:
		return fmt.Errorf("unsupported refresh.driver: %s", r.Driver)
	}
	if r.TickerIntervalMs <= 0 || r.ExchangeInfoIntervalMs <= 0 {
		return fmt.Errorf("refresh intervals must be > 0")
	}
	return nil
}

func (k *KlineConfig) validate() error {
	if k.PageLimit <= 0 || k.BackfillLimit <= 0 {
		return fmt.Errorf("kline.page_limit and kline.backfill_limit must be > 0")
	}
	if k.MaxBackfillPages <= 0 {
		return fmt.Errorf("kline.max_backfill_pages must be > 0")
	}
	if k.WarmupConcurrency <= 0 {
		return fmt.Errorf("kline.warmup_concurrency must be > 0")
	}
	for _, iv := range k.WarmupIntervals {
		if !market.IsValidInterval(iv) {
			return fmt.Errorf("kline.warmup_intervals: %w: %s", market.ErrUnknownInterval, iv)
		}
	}
	return nil
}
