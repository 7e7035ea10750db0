package kline

import (
	"context"
	"errors"
	"testing"

	"klinemirror/internal/market"
	"klinemirror/internal/market/markettest"
	"klinemirror/internal/store"
	"klinemirror/internal/store/memory"
	"klinemirror/internal/store/storetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const minute = int64(60_000)

// T is an arbitrary minute-aligned open time.
const T = int64(1_700_000_040_000)

func newFixture(cfg Config) (*Reconciler, *markettest.MockSource, *memory.Store) {
	src := &markettest.MockSource{}
	repo := memory.New()
	return NewReconciler(src, repo, cfg), src, repo
}

func TestEmptySeriesSeedsFromRemote(t *testing.T) {
	ctx := context.Background()
	r, src, repo := newFixture(Config{PageLimit: 5})
	remote := storetest.Series("BTCUSDT", T, 5)
	src.On("TailBar", mock.Anything, "BTCUSDT", "1m").Return(remote[4], nil).Twice()
	src.On("Range", mock.Anything, "BTCUSDT", "1m", market.RangeQuery{Limit: 5}).Return(remote, nil).Once()

	got, path, err := r.Reconcile(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Equal(t, PathEmpty, path)
	assert.Equal(t, remote, got)

	stored, err := repo.Query(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Len(t, stored, 5)

	// second call takes the still-open path, nothing else fetched
	again, path, err := r.Reconcile(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Equal(t, PathTailOpen, path)
	require.Len(t, again, 5)
	for i := range remote {
		assert.True(t, remote[i].Equal(again[i]))
	}
	src.AssertExpectations(t)
}

func TestTailStillOpenReplacesOnlyLastBar(t *testing.T) {
	ctx := context.Background()
	r, src, repo := newFixture(Config{})
	local := storetest.Series("BTCUSDT", T, 3)
	require.NoError(t, repo.Append(ctx, local))

	forming := storetest.Bar("BTCUSDT", T+2*minute, "123.45")
	src.On("TailBar", mock.Anything, "BTCUSDT", "1m").Return(forming, nil).Once()

	got, err := r.Bars(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, local[0].Equal(got[0]))
	assert.True(t, local[1].Equal(got[1]))
	assert.True(t, got[2].Close.Equal(decimal.RequireFromString("123.45")))

	stored, err := repo.Query(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.True(t, forming.Equal(stored[2]))
	src.AssertNotCalled(t, "Range", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGapBackfillsFromTwoIntervalsBack(t *testing.T) {
	ctx := context.Background()
	r, src, repo := newFixture(Config{})
	require.NoError(t, repo.Append(ctx, storetest.Series("BTCUSDT", T-2*minute, 3)))

	remoteTail := storetest.Bar("BTCUSDT", T+3*minute, "9")
	page := storetest.Series("BTCUSDT", T-2*minute, 6)
	src.On("TailBar", mock.Anything, "BTCUSDT", "1m").Return(remoteTail, nil).Once()
	src.On("Range", mock.Anything, "BTCUSDT", "1m", mock.MatchedBy(func(q market.RangeQuery) bool {
		return q.Start <= T-2*minute && q.End == T+3*minute && q.Limit == DefaultBackfillLimit
	})).Return(page, nil).Once()

	got, path, err := r.Reconcile(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Equal(t, PathGap, path)
	require.Len(t, got, 6)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].OpenTime+minute, got[i].OpenTime)
	}
	assert.EqualValues(t, T+3*minute, got[5].OpenTime)
	src.AssertExpectations(t)
}

func TestGapPagesUpToConfiguredLimit(t *testing.T) {
	ctx := context.Background()
	r, src, repo := newFixture(Config{BackfillLimit: 3, MaxBackfillPages: 3})
	require.NoError(t, repo.Append(ctx, storetest.Series("BTCUSDT", 0, 3)))

	end := 10 * minute
	src.On("TailBar", mock.Anything, "BTCUSDT", "1m").Return(storetest.Bar("BTCUSDT", end, "1"), nil).Once()
	src.On("Range", mock.Anything, "BTCUSDT", "1m", market.RangeQuery{Start: 0, End: end, Limit: 3}).
		Return(storetest.Series("BTCUSDT", 0, 3), nil).Once()
	src.On("Range", mock.Anything, "BTCUSDT", "1m", market.RangeQuery{Start: 3 * minute, End: end, Limit: 3}).
		Return(storetest.Series("BTCUSDT", 3*minute, 3), nil).Once()
	src.On("Range", mock.Anything, "BTCUSDT", "1m", market.RangeQuery{Start: 6 * minute, End: end, Limit: 3}).
		Return(storetest.Series("BTCUSDT", 6*minute, 3), nil).Once()

	got, err := r.Bars(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Len(t, got, 9, "third page reached the page cap")
	src.AssertExpectations(t)
}

func TestGapStopsOnShortPage(t *testing.T) {
	ctx := context.Background()
	r, src, repo := newFixture(Config{BackfillLimit: 3, MaxBackfillPages: 5})
	require.NoError(t, repo.Append(ctx, storetest.Series("BTCUSDT", 2*minute, 1)))

	end := 4 * minute
	src.On("TailBar", mock.Anything, "BTCUSDT", "1m").Return(storetest.Bar("BTCUSDT", end, "1"), nil).Once()
	src.On("Range", mock.Anything, "BTCUSDT", "1m", market.RangeQuery{Start: 0, End: end, Limit: 3}).
		Return(storetest.Series("BTCUSDT", 0, 3), nil).Once()
	src.On("Range", mock.Anything, "BTCUSDT", "1m", market.RangeQuery{Start: 3 * minute, End: end, Limit: 3}).
		Return(storetest.Series("BTCUSDT", 3*minute, 2), nil).Once()

	got, err := r.Bars(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Len(t, got, 5)
	src.AssertExpectations(t)
}

func TestUnknownIntervalFailsBeforeRemote(t *testing.T) {
	r, src, _ := newFixture(Config{})
	_, err := r.Bars(context.Background(), "BTCUSDT", "7m")
	assert.ErrorIs(t, err, market.ErrUnknownInterval)
	src.AssertNotCalled(t, "TailBar", mock.Anything, mock.Anything, mock.Anything)
}

func TestSourceErrorsPassThrough(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection reset")

	t.Run("tail", func(t *testing.T) {
		r, src, _ := newFixture(Config{})
		src.On("TailBar", mock.Anything, "BTCUSDT", "1m").Return(market.Bar{}, boom)
		_, err := r.Bars(ctx, "BTCUSDT", "1m")
		assert.Same(t, boom, err)
	})

	t.Run("seed", func(t *testing.T) {
		r, src, _ := newFixture(Config{})
		src.On("TailBar", mock.Anything, "BTCUSDT", "1m").Return(storetest.Bar("BTCUSDT", T, "1"), nil)
		src.On("Range", mock.Anything, "BTCUSDT", "1m", mock.Anything).Return(nil, boom)
		_, err := r.Bars(ctx, "BTCUSDT", "1m")
		assert.Same(t, boom, err)
	})

	t.Run("gap", func(t *testing.T) {
		r, src, repo := newFixture(Config{})
		require.NoError(t, repo.Append(ctx, storetest.Series("BTCUSDT", T, 1)))
		src.On("TailBar", mock.Anything, "BTCUSDT", "1m").Return(storetest.Bar("BTCUSDT", T+5*minute, "1"), nil)
		src.On("Range", mock.Anything, "BTCUSDT", "1m", mock.Anything).Return(nil, boom)
		_, err := r.Bars(ctx, "BTCUSDT", "1m")
		assert.Same(t, boom, err)
	})
}

type dupRepo struct {
	store.TimeSeriesRepository
}

func (dupRepo) Append(context.Context, []market.Bar) error {
	return store.DuplicateKey("BTCUSDT", "1m", T)
}

func TestSeedDuplicateIsInvariantViolation(t *testing.T) {
	src := &markettest.MockSource{}
	r := NewReconciler(src, dupRepo{memory.New()}, Config{})
	src.On("TailBar", mock.Anything, "BTCUSDT", "1m").Return(storetest.Bar("BTCUSDT", T, "1"), nil)
	src.On("Range", mock.Anything, "BTCUSDT", "1m", mock.Anything).Return(storetest.Series("BTCUSDT", T, 2), nil)
	_, err := r.Bars(context.Background(), "BTCUSDT", "1m")
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestLastBarWritesOnlyExistingSeries(t *testing.T) {
	ctx := context.Background()
	r, src, repo := newFixture(Config{})
	tail := storetest.Bar("BTCUSDT", T, "42")
	src.On("TailBar", mock.Anything, "BTCUSDT", "1m").Return(tail, nil)

	got, err := r.LastBar(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.True(t, tail.Equal(got))
	stored, err := repo.Query(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Empty(t, stored)

	require.NoError(t, repo.Append(ctx, storetest.Series("BTCUSDT", T-minute, 1)))
	_, err = r.LastBar(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	stored, err = repo.Query(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.True(t, tail.Equal(stored[1]))
}

// cappedSource serves a fixed remote series and truncates every Range call
// to cap bars, the way the exchange does.
type cappedSource struct {
	*markettest.MockSource
	remote []market.Bar
	cap    int
	calls  int
}

func (s *cappedSource) MaxPageLimit() int { return s.cap }

func (s *cappedSource) TailBar(context.Context, string, string) (market.Bar, error) {
	return s.remote[len(s.remote)-1], nil
}

func (s *cappedSource) Range(_ context.Context, _, _ string, q market.RangeQuery) ([]market.Bar, error) {
	s.calls++
	limit := q.Limit
	if limit <= 0 || limit > s.cap {
		limit = s.cap
	}
	var out []market.Bar
	for _, b := range s.remote {
		if b.OpenTime < q.Start || (q.End > 0 && b.OpenTime > q.End) {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, b)
	}
	return out, nil
}

func TestBackfillLimitClampedToSourceCap(t *testing.T) {
	ctx := context.Background()
	src := &cappedSource{MockSource: &markettest.MockSource{}, remote: storetest.Series("BTCUSDT", 0, 10), cap: 3}
	repo := memory.New()
	r := NewReconciler(src, repo, Config{PageLimit: 50, BackfillLimit: 5, MaxBackfillPages: 5})
	assert.Equal(t, 3, r.Config().BackfillLimit)
	assert.Equal(t, 3, r.Config().PageLimit)

	require.NoError(t, repo.Append(ctx, storetest.Series("BTCUSDT", 2*minute, 1)))
	got, path, err := r.Reconcile(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Equal(t, PathGap, path)
	require.Len(t, got, 10, "capped pages must not end the backfill early")
	assert.EqualValues(t, 9*minute, got[9].OpenTime)
	assert.Equal(t, 4, src.calls)
}

func TestReconcileNormalisesSymbol(t *testing.T) {
	ctx := context.Background()
	r, src, repo := newFixture(Config{PageLimit: 3})
	remote := storetest.Series("BTCUSDT", T, 3)
	src.On("TailBar", mock.Anything, "BTCUSDT", "1m").Return(remote[2], nil).Twice()
	src.On("Range", mock.Anything, "BTCUSDT", "1m", market.RangeQuery{Limit: 3}).Return(remote, nil).Once()

	_, path, err := r.Reconcile(ctx, "btc/usdt", "1m")
	require.NoError(t, err)
	assert.Equal(t, PathEmpty, path)

	got, path, err := r.Reconcile(ctx, "BTC/USDT", "1m")
	require.NoError(t, err)
	assert.Equal(t, PathTailOpen, path)
	assert.Len(t, got, 3)

	stored, err := repo.Query(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	src.AssertExpectations(t)
}
