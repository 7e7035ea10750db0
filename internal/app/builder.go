package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"klinemirror/internal/config"
	"klinemirror/internal/exchange"
	"klinemirror/internal/gate"
	"klinemirror/internal/gate/redisstate"
	"klinemirror/internal/gateway"
	"klinemirror/internal/kline"
	"klinemirror/internal/logger"
	"klinemirror/internal/market"
	"klinemirror/internal/store"
	"klinemirror/internal/store/gormstore"
	"klinemirror/internal/store/memory"
	"klinemirror/internal/store/pgstore"
	"klinemirror/internal/store/sqlfile"
	apihttp "klinemirror/internal/transport/http/api"
)

// AppBuilder 按配置组装依赖，构造函数均可替换以便测试。
type AppBuilder struct {
	cfg *config.Config

	sourceFn  func(*config.Config) (market.Source, error)
	storeFn   func(context.Context, config.StorageConfig) (store.Store, error)
	refreshFn func(context.Context, config.RefreshConfig, store.Store) (store.RefreshStateRepository, error)
}

type AppBuilderOption func(*AppBuilder)

// WithSource replaces the exchange source, e.g. with a fake in tests.
func WithSource(src market.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		b.sourceFn = func(*config.Config) (market.Source, error) { return src, nil }
	}
}

func WithStore(st store.Store) AppBuilderOption {
	return func(b *AppBuilder) {
		b.storeFn = func(context.Context, config.StorageConfig) (store.Store, error) { return st, nil }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:       cfg,
		sourceFn:  buildSource,
		storeFn:   buildStore,
		refreshFn: buildRefreshState,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	source, err := b.sourceFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化行情源失败: %w", err)
	}
	base, err := b.storeFn(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("初始化存储失败: %w", err)
	}
	refresh, err := b.refreshFn(ctx, cfg.Refresh, base)
	if err != nil {
		_ = base.Close()
		return nil, fmt.Errorf("初始化刷新状态失败: %w", err)
	}
	st := store.NewComposite(base, nil, refresh)

	reconciler := kline.NewReconciler(source, st, kline.Config{
		PageLimit:        cfg.Kline.PageLimit,
		BackfillLimit:    cfg.Kline.BackfillLimit,
		MaxBackfillPages: cfg.Kline.MaxBackfillPages,
	})
	svc := exchange.NewService(source, st, reconciler, gate.New(st), exchange.Config{
		TickerInterval:       cfg.Refresh.TickerInterval(),
		ExchangeInfoInterval: cfg.Refresh.ExchangeInfoInterval(),
	})
	server, err := apihttp.NewServer(apihttp.Config{
		Addr:           cfg.App.HTTPAddr,
		Service:        svc,
		RequestTimeout: cfg.App.RequestTimeout(),
		Health:         svc.Ping,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	logger.Infof("✓ 存储=%s 刷新状态=%s 行情源=%s(%s)", cfg.Storage.Driver, cfg.Refresh.Driver, cfg.Market.ActiveSource, sourceKind(source))
	return &App{
		cfg:     cfg,
		store:   st,
		service: svc,
		http:    server,
		warmup:  NewWarmer(reconciler, cfg.Kline.WarmupSymbols, cfg.Kline.WarmupIntervals, cfg.Kline.WarmupConcurrency),
	}, nil
}

// sourceKind names the market a source trades, "spot" or "futures" for
// binance.
func sourceKind(src market.Source) string {
	if k, ok := src.(interface{ Kind() string }); ok {
		return k.Kind()
	}
	return "custom"
}

func buildSource(cfg *config.Config) (market.Source, error) {
	return gateway.NewSourceFromConfig(cfg)
}

// buildStore opens the configured backend. With kline_files_dir set, or the
// sqlfile driver, bar series live in per-series sqlite files and the rest of
// the state in the gorm store.
func buildStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	var (
		base store.Store
		err  error
	)
	barsDir := strings.TrimSpace(cfg.KlineFilesDir)
	switch cfg.Driver {
	case config.StorageGorm, "":
		base, err = gormstore.NewGormStore(cfg.Path)
	case config.StoragePostgres:
		base, err = pgstore.New(ctx, cfg.DSN)
	case config.StorageMemory:
		base = memory.New()
	case config.StorageSQLFile:
		if barsDir == "" {
			barsDir = cfg.Path
		}
		base, err = gormstore.NewGormStore(filepath.Join(cfg.Path, "meta.db"))
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if barsDir == "" {
		return base, nil
	}
	files, err := sqlfile.NewStore(barsDir)
	if err != nil {
		_ = base.Close()
		return nil, err
	}
	return store.NewComposite(base, files, nil), nil
}

func buildRefreshState(ctx context.Context, cfg config.RefreshConfig, st store.Store) (store.RefreshStateRepository, error) {
	switch cfg.Driver {
	case config.RefreshStore, "":
		return st, nil
	case config.RefreshMemory:
		return memory.New(), nil
	case config.RefreshRedis:
		return redisstate.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
	default:
		return nil, fmt.Errorf("unsupported refresh driver: %s", cfg.Driver)
	}
}
