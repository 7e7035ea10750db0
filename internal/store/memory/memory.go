// Package memory is a process-local store.Store. Bars are sharded by series
// so unrelated symbols do not contend on one lock.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"klinemirror/internal/market"
	"klinemirror/internal/store"
)

const defaultShardCount = 32

type Store struct {
	shards []seriesShard

	mu      sync.RWMutex
	tickers map[string]market.Ticker
	symbols map[string]market.SymbolInfo
	refresh map[string]int64
}

type seriesShard struct {
	mu   sync.RWMutex
	data map[string][]market.Bar
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return newStore(defaultShardCount)
}

func newStore(shards int) *Store {
	if shards <= 0 {
		shards = 1
	}
	out := &Store{
		shards:  make([]seriesShard, shards),
		tickers: make(map[string]market.Ticker),
		symbols: make(map[string]market.SymbolInfo),
		refresh: make(map[string]int64),
	}
	for i := range out.shards {
		out.shards[i] = seriesShard{data: make(map[string][]market.Bar)}
	}
	return out
}

func (s *Store) Close() error { return nil }

func seriesKey(symbol, interval string) string { return symbol + "@" + interval }

func (s *Store) shardFor(key string) *seriesShard {
	idx := hashKey(key) % uint32(len(s.shards))
	return &s.shards[idx]
}

func (s *Store) Query(_ context.Context, symbol, interval string) ([]market.Bar, error) {
	k := seriesKey(symbol, interval)
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur := sh.data[k]
	out := make([]market.Bar, len(cur))
	copy(out, cur)
	return out, nil
}

func (s *Store) Append(_ context.Context, bars []market.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	if err := validate(bars); err != nil {
		return err
	}
	if err := store.CheckDistinct(bars); err != nil {
		return err
	}
	groups := groupBySeries(bars)
	// lock every touched shard in index order so the whole batch is atomic
	locked := s.lockShards(groups)
	defer unlock(locked)
	for k, group := range groups {
		cur := s.shardFor(k).data[k]
		for _, b := range group {
			if _, found := search(cur, b.OpenTime); found {
				return store.DuplicateKey(b.Symbol, b.Interval, b.OpenTime)
			}
		}
	}
	for k, group := range groups {
		sh := s.shardFor(k)
		cur := sh.data[k]
		for _, b := range group {
			cur = upsert(cur, b)
		}
		sh.data[k] = cur
	}
	return nil
}

func (s *Store) UpsertTail(ctx context.Context, bar market.Bar) error {
	return s.UpsertMany(ctx, []market.Bar{bar})
}

func (s *Store) UpsertMany(_ context.Context, bars []market.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	if err := validate(bars); err != nil {
		return err
	}
	for k, group := range groupBySeries(bars) {
		sh := s.shardFor(k)
		sh.mu.Lock()
		cur := sh.data[k]
		for _, b := range group {
			cur = upsert(cur, b)
		}
		sh.data[k] = cur
		sh.mu.Unlock()
	}
	return nil
}

func (s *Store) lockShards(groups map[string][]market.Bar) []*seriesShard {
	idx := make([]int, 0, len(groups))
	seen := make(map[int]bool, len(groups))
	for k := range groups {
		i := int(hashKey(k) % uint32(len(s.shards)))
		if !seen[i] {
			seen[i] = true
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	out := make([]*seriesShard, 0, len(idx))
	for _, i := range idx {
		sh := &s.shards[i]
		sh.mu.Lock()
		out = append(out, sh)
	}
	return out
}

func unlock(shards []*seriesShard) {
	for i := len(shards) - 1; i >= 0; i-- {
		shards[i].mu.Unlock()
	}
}

func validate(bars []market.Bar) error {
	for _, b := range bars {
		if b.Symbol == "" || b.Interval == "" {
			return errors.New("symbol/interval 不能为空")
		}
	}
	return nil
}

func groupBySeries(bars []market.Bar) map[string][]market.Bar {
	out := make(map[string][]market.Bar)
	for _, b := range bars {
		k := seriesKey(b.Symbol, b.Interval)
		out[k] = append(out[k], b)
	}
	return out
}

func search(cur []market.Bar, openTime int64) (int, bool) {
	i := sort.Search(len(cur), func(i int) bool { return cur[i].OpenTime >= openTime })
	return i, i < len(cur) && cur[i].OpenTime == openTime
}

// upsert keeps cur sorted by open time.
func upsert(cur []market.Bar, b market.Bar) []market.Bar {
	n := len(cur)
	if n == 0 || cur[n-1].OpenTime < b.OpenTime {
		return append(cur, b)
	}
	i, found := search(cur, b.OpenTime)
	if found {
		cur[i] = b
		return cur
	}
	cur = append(cur, market.Bar{})
	copy(cur[i+1:], cur[i:])
	cur[i] = b
	return cur
}

func (s *Store) UpsertTickers(_ context.Context, tickers []market.Ticker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tickers {
		s.tickers[t.Symbol] = t
	}
	return nil
}

func (s *Store) ListTickers(_ context.Context, filter store.TickerFilter) ([]market.Ticker, error) {
	rs, sorted, err := store.ResolveTickerSort(filter)
	if err != nil {
		return nil, err
	}
	quote := store.NormalizeQuote(filter.QuoteAsset)
	s.mu.RLock()
	out := make([]market.Ticker, 0, len(s.tickers))
	for _, t := range s.tickers {
		if quote != "" && (!strings.HasSuffix(t.Symbol, quote) || !t.LastPrice.IsPositive()) {
			continue
		}
		out = append(out, t)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	if sorted {
		store.SortTickers(out, rs)
	}
	return out, nil
}

func (s *Store) UpsertSymbols(_ context.Context, symbols []market.SymbolInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		s.symbols[sym.Symbol] = sym
	}
	return nil
}

func (s *Store) ListSymbols(_ context.Context, q store.SymbolQuery) ([]market.SymbolInfo, error) {
	rs, sorted, err := store.ResolveSymbolSort(q)
	if err != nil {
		return nil, err
	}
	offset, limit, paged, err := q.Window()
	if err != nil {
		return nil, err
	}
	quote := store.NormalizeQuote(q.QuoteAsset)
	search := store.NormalizeSearch(q.Search)
	s.mu.RLock()
	out := make([]market.SymbolInfo, 0, len(s.symbols))
	for _, sym := range s.symbols {
		if store.MatchSymbol(sym, quote, search) {
			out = append(out, sym)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	if sorted {
		store.SortSymbols(out, rs)
	}
	if paged {
		out = store.Paginate(out, offset, limit)
	}
	return out, nil
}

func (s *Store) GetSymbol(_ context.Context, symbol string) (market.SymbolInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sym, ok := s.symbols[symbol]
	if !ok {
		return market.SymbolInfo{}, store.SymbolNotFound(symbol)
	}
	return sym, nil
}

func (s *Store) CountSymbols(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.symbols)), nil
}

func (s *Store) LastRefreshed(_ context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh[key], nil
}

func (s *Store) CompareAndSwapRefreshed(_ context.Context, key string, old, next int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refresh[key] != old {
		return false, nil
	}
	s.refresh[key] = next
	return true, nil
}

func hashKey(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
