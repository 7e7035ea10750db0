package sqlfile

import (
	"context"
	"os"
	"testing"

	"klinemirror/internal/store"
	"klinemirror/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLFileContract(t *testing.T) {
	storetest.RunTimeSeries(t, func(t *testing.T) store.TimeSeriesRepository { return openTemp(t) })
}

func TestQueryDoesNotCreateFiles(t *testing.T) {
	s := openTemp(t)
	bars, err := s.Query(context.Background(), "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Empty(t, bars)
	_, err = os.Stat(s.dbPath("BTCUSDT", "1m"))
	assert.True(t, os.IsNotExist(err))
}

func TestMinuteAndMonthAreSeparateFiles(t *testing.T) {
	s := openTemp(t)
	assert.NotEqual(t, s.dbPath("BTCUSDT", "1m"), s.dbPath("BTCUSDT", "1M"))
}

func TestManifestTracksRows(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	require.NoError(t, s.Append(ctx, storetest.Series("BTCUSDT", 60_000, 4)))
	m, err := s.Manifest(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.EqualValues(t, 4, m.Rows)
	assert.EqualValues(t, 60_000, m.MinTime)
	assert.EqualValues(t, 4*60_000, m.MaxTime)
	assert.Equal(t, "BTCUSDT", m.Symbol)
	assert.NotZero(t, m.LastSyncAt)
}

func TestManifestUnknownSeries(t *testing.T) {
	s := openTemp(t)
	_, err := s.Manifest(context.Background(), "ETHUSDT", "1h")
	assert.ErrorIs(t, err, store.ErrSeriesNotFound)
	assert.NoFileExists(t, s.dbPath("ETHUSDT", "1h"))
}

func TestRangeBarsIsInclusive(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	require.NoError(t, s.Append(ctx, storetest.Series("BTCUSDT", 0, 10)))
	got, err := store.RangeBars(ctx, s, "BTCUSDT", "1m", 5*60_000, 2*60_000)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.EqualValues(t, 2*60_000, got[0].OpenTime)
	assert.EqualValues(t, 5*60_000, got[3].OpenTime)
}
