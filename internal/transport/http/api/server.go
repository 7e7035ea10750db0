// Package api exposes the mirror over HTTP under /api.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"klinemirror/internal/exchange"
	"klinemirror/internal/logger"
	"klinemirror/internal/market"
	"klinemirror/internal/store"
)

// MarketService is what the handlers need from exchange.Service.
type MarketService interface {
	GetKlines(ctx context.Context, symbol, interval string) ([]market.Bar, error)
	GetKlineRange(ctx context.Context, symbol, interval string, start, end int64) ([]market.Bar, error)
	KlineManifest(ctx context.Context, symbol, interval string) (store.Manifest, error)
	UpdateAndGetLastBar(ctx context.Context, symbol, interval string) (market.Bar, error)
	GetTimeframes() []string
	GetTickers(ctx context.Context, q exchange.TickerQuery) ([]market.Ticker, error)
	GetSymbols(ctx context.Context, q exchange.SymbolQuery) ([]market.SymbolInfo, error)
	SymbolMinPrice(ctx context.Context, symbol string) (string, error)
	CalculateOrderQuantity(ctx context.Context, symbol string, balance, percent decimal.Decimal) (decimal.Decimal, error)
	ServerTime(ctx context.Context) (int64, error)
}

// Server 提供 /api HTTP 服务。
type Server struct {
	addr   string
	router *gin.Engine
}

type Config struct {
	Addr           string
	Service        MarketService
	RequestTimeout time.Duration
	// Health backs /healthz when set; a failure answers 503.
	Health func(context.Context) error
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("service 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), requestLogger())
	if cfg.RequestTimeout > 0 {
		router.Use(requestTimeout(cfg.RequestTimeout))
	}

	router.GET("/healthz", func(c *gin.Context) {
		if cfg.Health != nil {
			if err := cfg.Health(c.Request.Context()); err != nil {
				logger.Warnf("[http] healthz failed rid=%s err=%v", c.GetString(ctxRequestID), err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	NewRouter(cfg.Service).Register(router.Group("/api"))
	return &Server{addr: cfg.Addr, router: router}, nil
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Handler is the gin engine, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[http] listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
