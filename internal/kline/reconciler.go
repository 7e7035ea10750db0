// Package kline keeps the local bar store in step with the remote source on
// every read.
package kline

import (
	"context"
	"errors"
	"fmt"

	"klinemirror/internal/logger"
	"klinemirror/internal/market"
	symbolpkg "klinemirror/internal/pkg/symbol"
	"klinemirror/internal/store"
)

// ErrInvariantViolation marks a store state the reconciler cannot reach on
// its own, such as a duplicate key while seeding an empty series.
var ErrInvariantViolation = errors.New("kline invariant violation")

const (
	DefaultPageLimit     = 500
	DefaultBackfillLimit = 1000
)

type Config struct {
	// PageLimit is how many bars seed an empty series.
	PageLimit int
	// BackfillLimit is the page size of a gap backfill.
	BackfillLimit int
	// MaxBackfillPages bounds consecutive backfill pages per call.
	MaxBackfillPages int
}

func (c Config) withDefaults() Config {
	if c.PageLimit <= 0 {
		c.PageLimit = DefaultPageLimit
	}
	if c.BackfillLimit <= 0 {
		c.BackfillLimit = DefaultBackfillLimit
	}
	if c.MaxBackfillPages <= 0 {
		c.MaxBackfillPages = 1
	}
	return c
}

// Path names the branch a reconcile call took.
type Path string

const (
	PathEmpty    Path = "empty"
	PathTailOpen Path = "tail_open"
	PathGap      Path = "gap"
)

// Reconciler holds no per-series state; concurrent gap repairs of one series
// converge because every write is an upsert.
type Reconciler struct {
	source market.Source
	repo   store.TimeSeriesRepository
	cfg    Config
}

// NewReconciler clamps the page sizes to the source's per-request cap when
// the source reports one, so a capped page is never mistaken for the end of
// the remote series.
func NewReconciler(source market.Source, repo store.TimeSeriesRepository, cfg Config) *Reconciler {
	cfg = cfg.withDefaults()
	if capped, ok := source.(market.PageCapper); ok {
		if limit := capped.MaxPageLimit(); limit > 0 {
			if cfg.PageLimit > limit {
				logger.Warnf("[kline] page_limit %d exceeds source cap, using %d", cfg.PageLimit, limit)
				cfg.PageLimit = limit
			}
			if cfg.BackfillLimit > limit {
				logger.Warnf("[kline] backfill_limit %d exceeds source cap, using %d", cfg.BackfillLimit, limit)
				cfg.BackfillLimit = limit
			}
		}
	}
	return &Reconciler{source: source, repo: repo, cfg: cfg}
}

// Config returns the effective limits after defaults and clamping.
func (r *Reconciler) Config() Config {
	return r.cfg
}

// Bars returns the series for (symbol, interval) after reconciling it.
func (r *Reconciler) Bars(ctx context.Context, symbol, interval string) ([]market.Bar, error) {
	bars, _, err := r.Reconcile(ctx, symbol, interval)
	return bars, err
}

// Reconcile is Bars plus the branch taken.
// The symbol is normalised first so local keys match the bars the source
// returns ("BTC/USDT" and "BTCUSDT" are one series).
func (r *Reconciler) Reconcile(ctx context.Context, symbol, interval string) ([]market.Bar, Path, error) {
	symbol = symbolpkg.Normalize(symbol)
	intervalMs, err := market.IntervalMillis(interval)
	if err != nil {
		return nil, "", err
	}
	remoteTail, err := r.source.TailBar(ctx, symbol, interval)
	if err != nil {
		return nil, "", err
	}
	local, err := r.repo.Query(ctx, symbol, interval)
	if err != nil {
		return nil, "", err
	}
	localTail, ok := market.Bars(local).Tail()
	switch {
	case !ok:
		bars, err := r.seed(ctx, symbol, interval)
		return bars, PathEmpty, err
	case remoteTail.SameBar(localTail):
		if err := r.repo.UpsertTail(ctx, remoteTail); err != nil {
			return nil, PathTailOpen, err
		}
		return market.Bars(local).ReplaceTail(remoteTail), PathTailOpen, nil
	default:
		bars, err := r.backfill(ctx, symbol, interval, intervalMs, localTail.OpenTime, remoteTail.OpenTime)
		return bars, PathGap, err
	}
}

func (r *Reconciler) seed(ctx context.Context, symbol, interval string) ([]market.Bar, error) {
	bars, err := r.source.Range(ctx, symbol, interval, market.RangeQuery{Limit: r.cfg.PageLimit})
	if err != nil {
		return nil, err
	}
	if err := r.repo.Append(ctx, bars); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: seeding %s %s: %w", ErrInvariantViolation, symbol, interval, err)
		}
		return nil, err
	}
	logger.Infof("[kline] seeded %s %s with %d bars", symbol, interval, len(bars))
	return bars, nil
}

// backfill re-fetches from two intervals before the local tail up to the
// remote tail, then serves the series from the store.
func (r *Reconciler) backfill(ctx context.Context, symbol, interval string, intervalMs, localTail, remoteTail int64) ([]market.Bar, error) {
	cursor := localTail - 2*intervalMs
	limit := r.cfg.BackfillLimit
	total := 0
	for page := 0; page < r.cfg.MaxBackfillPages; page++ {
		bars, err := r.source.Range(ctx, symbol, interval, market.RangeQuery{
			Start: cursor,
			End:   remoteTail,
			Limit: limit,
		})
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			break
		}
		if err := r.repo.UpsertMany(ctx, bars); err != nil {
			return nil, err
		}
		total += len(bars)
		last := bars[len(bars)-1].OpenTime
		if len(bars) < limit || last >= remoteTail {
			break
		}
		cursor = last + intervalMs
	}
	logger.Debugf("[kline] backfilled %s %s: %d bars from %d", symbol, interval, total, localTail-2*intervalMs)
	return r.repo.Query(ctx, symbol, interval)
}

// LastBar fetches the remote tail and stores it when the series already has
// bars. An empty series is left for Bars to seed.
func (r *Reconciler) LastBar(ctx context.Context, symbol, interval string) (market.Bar, error) {
	symbol = symbolpkg.Normalize(symbol)
	if _, err := market.IntervalMillis(interval); err != nil {
		return market.Bar{}, err
	}
	tail, err := r.source.TailBar(ctx, symbol, interval)
	if err != nil {
		return market.Bar{}, err
	}
	local, err := r.repo.Query(ctx, symbol, interval)
	if err != nil {
		return market.Bar{}, err
	}
	if len(local) == 0 {
		return tail, nil
	}
	if err := r.repo.UpsertTail(ctx, tail); err != nil {
		return market.Bar{}, err
	}
	return tail, nil
}
