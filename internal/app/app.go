package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"klinemirror/internal/config"
	"klinemirror/internal/exchange"
	"klinemirror/internal/logger"
	"klinemirror/internal/store"
	apihttp "klinemirror/internal/transport/http/api"
)

// App 负责应用级编排：初始化依赖→预热→启动 HTTP 服务。
type App struct {
	cfg     *config.Config
	store   store.Store
	service *exchange.Service
	http    *apihttp.Server
	warmup  *Warmer
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run serves HTTP and warms the configured series until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		a.warmup.Run(ctx)
		return nil
	})
	return group.Wait()
}

// Service exposes the read API, for embedding and tests.
func (a *App) Service() *exchange.Service {
	if a == nil {
		return nil
	}
	return a.service
}

func (a *App) Close() error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Close()
}
