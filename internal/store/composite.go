package store

import (
	"context"
	"io"

	"klinemirror/internal/market"
)

// Composite routes bars and refresh state to repositories other than the
// base store, e.g. per-series files or a shared redis.
type Composite struct {
	TimeSeriesRepository
	TickerRepository
	SymbolRepository
	RefreshStateRepository

	closers []io.Closer
}

var _ Store = (*Composite)(nil)

// NewComposite starts from base; nil overrides keep base's repository.
func NewComposite(base Store, bars TimeSeriesRepository, refresh RefreshStateRepository) *Composite {
	c := &Composite{
		TimeSeriesRepository:   base,
		TickerRepository:       base,
		SymbolRepository:       base,
		RefreshStateRepository: base,
		closers:                []io.Closer{base},
	}
	if bars != nil {
		c.TimeSeriesRepository = bars
		c.addCloser(bars)
	}
	if refresh != nil {
		c.RefreshStateRepository = refresh
		c.addCloser(refresh)
	}
	return c
}

func (c *Composite) addCloser(v any) {
	cl, ok := v.(io.Closer)
	if !ok {
		return
	}
	for _, existing := range c.closers {
		if existing == cl {
			return
		}
	}
	c.closers = append(c.closers, cl)
}

// Close closes every distinct backend and returns the first error.
func (c *Composite) Close() error {
	var first error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Manifest forwards to the bar repository when it keeps manifests.
func (c *Composite) Manifest(ctx context.Context, symbol, interval string) (Manifest, error) {
	mr, ok := c.TimeSeriesRepository.(ManifestReader)
	if !ok {
		return Manifest{}, ErrManifestUnsupported
	}
	return mr.Manifest(ctx, symbol, interval)
}

func (c *Composite) RangeBars(ctx context.Context, symbol, interval string, start, end int64) ([]market.Bar, error) {
	return RangeBars(ctx, c.TimeSeriesRepository, symbol, interval, start, end)
}

// Ping pings every backend that supports it.
func (c *Composite) Ping(ctx context.Context) error {
	for _, cl := range c.closers {
		if p, ok := cl.(Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

var (
	_ ManifestReader = (*Composite)(nil)
	_ RangeReader    = (*Composite)(nil)
	_ Pinger         = (*Composite)(nil)
)
