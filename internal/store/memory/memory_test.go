package memory

import (
	"context"
	"sync"
	"testing"

	"klinemirror/internal/market"
	"klinemirror/internal/store"
	"klinemirror/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreContract(t *testing.T) {
	storetest.RunAll(t, func(t *testing.T) store.Store { return New() })
}

func TestSingleShardStillSeparatesSeries(t *testing.T) {
	ctx := context.Background()
	s := newStore(0)
	require.NoError(t, s.Append(ctx, storetest.Series("BTCUSDT", 0, 3)))
	require.NoError(t, s.Append(ctx, storetest.Series("ETHUSDT", 0, 2)))
	btc, err := s.Query(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	eth, err := s.Query(ctx, "ETHUSDT", "1m")
	require.NoError(t, err)
	assert.Len(t, btc, 3)
	assert.Len(t, eth, 2)
}

func TestQueryReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Append(ctx, storetest.Series("BTCUSDT", 0, 2)))
	got, err := s.Query(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	got[0].Symbol = "MUTATED"
	again, err := s.Query(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", again[0].Symbol)
}

func TestAppendRejectsBlankSeries(t *testing.T) {
	err := New().Append(context.Background(), []market.Bar{{OpenTime: 1}})
	assert.Error(t, err)
}

func TestConcurrentUpsertsKeepKeysUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_ = s.UpsertMany(ctx, storetest.Series("BTCUSDT", int64(i)*60_000, 5))
			}
		}()
	}
	wg.Wait()
	got, err := s.Query(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Len(t, got, 24)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].OpenTime, got[i].OpenTime)
	}
}

func TestConcurrentCompareAndSwapHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := New()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			ok, err := s.CompareAndSwapRefreshed(ctx, "ticker24h", 0, 1000+n)
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(int64(w))
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
