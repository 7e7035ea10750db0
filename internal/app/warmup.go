package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"klinemirror/internal/kline"
	"klinemirror/internal/logger"
)

// Warmer reconciles the configured series once at startup.
type Warmer struct {
	reconciler  *kline.Reconciler
	symbols     []string
	intervals   []string
	concurrency int
}

type WarmupSummary struct {
	Series  int
	Failed  int
	Bars    int
	Elapsed time.Duration
}

func NewWarmer(r *kline.Reconciler, symbols, intervals []string, concurrency int) *Warmer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Warmer{reconciler: r, symbols: symbols, intervals: intervals, concurrency: concurrency}
}

// Run never fails the process: series errors are logged and counted.
func (w *Warmer) Run(ctx context.Context) WarmupSummary {
	var sum WarmupSummary
	if w == nil || w.reconciler == nil || len(w.symbols) == 0 || len(w.intervals) == 0 {
		return sum
	}
	start := time.Now()
	type result struct {
		bars int
		err  error
	}
	results := make([]result, len(w.symbols)*len(w.intervals))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(w.concurrency)
	i := 0
	for _, sym := range w.symbols {
		for _, iv := range w.intervals {
			idx := i
			i++
			group.Go(func() error {
				bars, path, err := w.reconciler.Reconcile(gctx, sym, iv)
				if err != nil {
					logger.Warnf("[warmup] %s %s failed: %v", sym, iv, err)
					results[idx] = result{err: err}
					return nil
				}
				logger.Debugf("[warmup] %s %s path=%s bars=%d", sym, iv, path, len(bars))
				results[idx] = result{bars: len(bars)}
				return nil
			})
		}
	}
	_ = group.Wait()
	sum.Series = len(results)
	for _, r := range results {
		if r.err != nil {
			sum.Failed++
			continue
		}
		sum.Bars += r.bars
	}
	sum.Elapsed = time.Since(start)
	logger.Infof("[warmup] series=%d failed=%d bars=%d elapsed=%s", sum.Series, sum.Failed, sum.Bars, sum.Elapsed)
	return sum
}
