// Package gate guards auxiliary cache refreshes so the remote is asked at
// most once per interval, whatever the number of callers.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"klinemirror/internal/logger"
	"klinemirror/internal/store"
)

const (
	KeyTicker24h    = "ticker24h"
	KeyExchangeInfo = "exchangeInfo"

	DefaultTickerInterval       = 60 * time.Second
	DefaultExchangeInfoInterval = 120 * time.Second
)

const maxMarkAttempts = 8

var ErrContended = errors.New("refresh state contended")

// Gate reads and advances per-key "last refreshed" timestamps (Unix ms).
type Gate struct {
	repo store.RefreshStateRepository
	now  func() time.Time
}

type Option func(*Gate)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

func New(repo store.RefreshStateRepository, opts ...Option) *Gate {
	g := &Gate{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NowMillis is the gate clock in Unix ms.
func (g *Gate) NowMillis() int64 {
	return g.now().UnixMilli()
}

// ShouldRefresh reports whether more than intervalMs passed since the last
// mark. A key never marked always refreshes.
func (g *Gate) ShouldRefresh(ctx context.Context, key string, nowMs, intervalMs int64) (bool, error) {
	last, err := g.repo.LastRefreshed(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read refresh state %s: %w", key, err)
	}
	return due(last, nowMs, intervalMs), nil
}

func due(last, nowMs, intervalMs int64) bool {
	return last == 0 || nowMs-last > intervalMs
}

// MarkRefreshed records nowMs for key. The stored value never moves
// backwards: an older nowMs is a no-op.
func (g *Gate) MarkRefreshed(ctx context.Context, key string, nowMs int64) error {
	for i := 0; i < maxMarkAttempts; i++ {
		last, err := g.repo.LastRefreshed(ctx, key)
		if err != nil {
			return fmt.Errorf("read refresh state %s: %w", key, err)
		}
		if last >= nowMs {
			return nil
		}
		ok, err := g.repo.CompareAndSwapRefreshed(ctx, key, last, nowMs)
		if err != nil {
			return fmt.Errorf("write refresh state %s: %w", key, err)
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrContended, key)
}

// TryAcquire is ShouldRefresh and MarkRefreshed as one compare-and-swap.
// Exactly one of several concurrent callers within an interval wins.
func (g *Gate) TryAcquire(ctx context.Context, key string, nowMs, intervalMs int64) (bool, error) {
	last, err := g.repo.LastRefreshed(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read refresh state %s: %w", key, err)
	}
	if !due(last, nowMs, intervalMs) || nowMs <= last {
		return false, nil
	}
	ok, err := g.repo.CompareAndSwapRefreshed(ctx, key, last, nowMs)
	if err != nil {
		return false, fmt.Errorf("write refresh state %s: %w", key, err)
	}
	return ok, nil
}

// Refresh runs fetch when the key is due. The mark is written before fetch,
// so a failed fetch leaves the key fresh until the next interval. The bool
// reports whether fetch ran.
func (g *Gate) Refresh(ctx context.Context, key string, interval time.Duration, fetch func(context.Context) error) (bool, error) {
	acquired, err := g.TryAcquire(ctx, key, g.NowMillis(), interval.Milliseconds())
	if err != nil {
		return false, err
	}
	if !acquired {
		logger.Debugf("[gate] %s fresh, serving cache", key)
		return false, nil
	}
	logger.Debugf("[gate] %s due, refreshing", key)
	if err := fetch(ctx); err != nil {
		logger.Warnf("[gate] %s refresh failed: %v", key, err)
		return true, err
	}
	return true, nil
}
