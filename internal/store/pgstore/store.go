// Package pgstore implements store.Store on PostgreSQL through pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"klinemirror/internal/market"
	"klinemirror/internal/store"
	storemodel "klinemirror/internal/store/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Pinger = (*Store)(nil)
)

// New connects and creates the mirror tables when missing.
func New(ctx context.Context, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn 不能为空")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS klines (
		id           BIGSERIAL PRIMARY KEY,
		symbol       TEXT NOT NULL,
		"interval"   TEXT NOT NULL,
		open_time    BIGINT NOT NULL,
		close_time   BIGINT NOT NULL,
		open         TEXT NOT NULL,
		high         TEXT NOT NULL,
		low          TEXT NOT NULL,
		close        TEXT NOT NULL,
		volume       TEXT NOT NULL,
		quote_volume TEXT NOT NULL DEFAULT '0',
		trades       BIGINT NOT NULL DEFAULT 0,
		UNIQUE (symbol, "interval", open_time)
	)`,
	`CREATE TABLE IF NOT EXISTS tickers (
		symbol               TEXT PRIMARY KEY,
		price_change         TEXT NOT NULL,
		price_change_percent TEXT NOT NULL,
		last_price           TEXT NOT NULL,
		open                 TEXT NOT NULL,
		high                 TEXT NOT NULL,
		low                  TEXT NOT NULL,
		volume               TEXT NOT NULL,
		quote_volume         TEXT NOT NULL,
		open_time            BIGINT NOT NULL,
		close_time           BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS symbols (
		symbol               TEXT PRIMARY KEY,
		status               TEXT NOT NULL,
		base_asset           TEXT NOT NULL,
		base_asset_precision INTEGER NOT NULL,
		quote_asset          TEXT NOT NULL,
		min_price            TEXT NOT NULL,
		step_size            TEXT NOT NULL,
		order_types          JSONB NOT NULL DEFAULT '[]',
		permissions          JSONB NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_state (
		key        TEXT PRIMARY KEY,
		updated_at BIGINT NOT NULL
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *Store) Query(ctx context.Context, symbol, interval string) ([]market.Bar, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT open_time, close_time, open, high, low, close, volume, quote_volume, trades
		FROM klines WHERE symbol = $1 AND "interval" = $2
		ORDER BY open_time ASC`, symbol, interval)
	if err != nil {
		return nil, fmt.Errorf("query klines %s %s: %w", symbol, interval, err)
	}
	defer rows.Close()
	out := []market.Bar{}
	for rows.Next() {
		m := storemodel.BarModel{Symbol: symbol, Interval: interval}
		if err := rows.Scan(&m.OpenTime, &m.CloseTime, &m.Open, &m.High, &m.Low, &m.Close, &m.Volume, &m.QuoteVolume, &m.Trades); err != nil {
			return nil, err
		}
		out = append(out, m.ToBar())
	}
	return out, rows.Err()
}

const insertBar = `INSERT INTO klines (symbol, "interval", open_time, close_time, open, high, low, close, volume, quote_volume, trades)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

const upsertBar = insertBar + `
	ON CONFLICT (symbol, "interval", open_time) DO UPDATE SET
		close_time = EXCLUDED.close_time,
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume,
		quote_volume = EXCLUDED.quote_volume,
		trades = EXCLUDED.trades`

func (s *Store) Append(ctx context.Context, bars []market.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	if err := store.CheckDistinct(bars); err != nil {
		return err
	}
	err := s.sendBars(ctx, bars, insertBar)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s %s", store.ErrDuplicateKey, bars[0].Symbol, bars[0].Interval)
	}
	return err
}

func (s *Store) UpsertTail(ctx context.Context, bar market.Bar) error {
	return s.sendBars(ctx, []market.Bar{bar}, upsertBar)
}

func (s *Store) UpsertMany(ctx context.Context, bars []market.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	return s.sendBars(ctx, store.DedupeLast(bars), upsertBar)
}

// sendBars queues one statement per bar in a single transaction.
func (s *Store) sendBars(ctx context.Context, bars []market.Bar, sql string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, b := range bars {
			m := storemodel.FromBar(b)
			batch.Queue(sql, m.Symbol, m.Interval, m.OpenTime, m.CloseTime,
				m.Open, m.High, m.Low, m.Close, m.Volume, m.QuoteVolume, m.Trades)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *Store) UpsertTickers(ctx context.Context, tickers []market.Ticker) error {
	if len(tickers) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, t := range tickers {
			m := storemodel.FromTicker(t)
			batch.Queue(`
				INSERT INTO tickers (symbol, price_change, price_change_percent, last_price, open, high, low, volume, quote_volume, open_time, close_time)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				ON CONFLICT (symbol) DO UPDATE SET
					price_change = EXCLUDED.price_change,
					price_change_percent = EXCLUDED.price_change_percent,
					last_price = EXCLUDED.last_price,
					open = EXCLUDED.open,
					high = EXCLUDED.high,
					low = EXCLUDED.low,
					volume = EXCLUDED.volume,
					quote_volume = EXCLUDED.quote_volume,
					open_time = EXCLUDED.open_time,
					close_time = EXCLUDED.close_time`,
				m.Symbol, m.PriceChange, m.PriceChangePercent, m.LastPrice, m.Open, m.High, m.Low,
				m.Volume, m.QuoteVolume, m.OpenTime, m.CloseTime)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *Store) ListTickers(ctx context.Context, filter store.TickerFilter) ([]market.Ticker, error) {
	rs, sorted, err := store.ResolveTickerSort(filter)
	if err != nil {
		return nil, err
	}
	q := `SELECT symbol, price_change, price_change_percent, last_price, open, high, low, volume, quote_volume, open_time, close_time FROM tickers`
	var args []any
	if quote := store.NormalizeQuote(filter.QuoteAsset); quote != "" {
		q += ` WHERE symbol LIKE $1 AND last_price::numeric > 0`
		args = append(args, "%"+quote)
	}
	if sorted {
		col := rs.Column
		if rs.Numeric {
			col += "::numeric"
		}
		dir := "ASC"
		if rs.Desc {
			dir = "DESC"
		}
		q += fmt.Sprintf(" ORDER BY %s %s, symbol ASC", col, dir)
	} else {
		q += " ORDER BY symbol ASC"
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickers: %w", err)
	}
	defer rows.Close()
	out := []market.Ticker{}
	for rows.Next() {
		var m storemodel.TickerModel
		if err := rows.Scan(&m.Symbol, &m.PriceChange, &m.PriceChangePercent, &m.LastPrice, &m.Open, &m.High, &m.Low,
			&m.Volume, &m.QuoteVolume, &m.OpenTime, &m.CloseTime); err != nil {
			return nil, err
		}
		out = append(out, m.ToTicker())
	}
	return out, rows.Err()
}

func (s *Store) UpsertSymbols(ctx context.Context, symbols []market.SymbolInfo) error {
	if len(symbols) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, sym := range symbols {
			m := storemodel.FromSymbol(sym)
			batch.Queue(`
				INSERT INTO symbols (symbol, status, base_asset, base_asset_precision, quote_asset, min_price, step_size, order_types, permissions)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb)
				ON CONFLICT (symbol) DO UPDATE SET
					status = EXCLUDED.status,
					base_asset = EXCLUDED.base_asset,
					base_asset_precision = EXCLUDED.base_asset_precision,
					quote_asset = EXCLUDED.quote_asset,
					min_price = EXCLUDED.min_price,
					step_size = EXCLUDED.step_size,
					order_types = EXCLUDED.order_types,
					permissions = EXCLUDED.permissions`,
				m.Symbol, m.Status, m.BaseAsset, m.BaseAssetPrecision, m.QuoteAsset, m.MinPrice, m.StepSize,
				string(m.OrderTypes), string(m.Permissions))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

const selectSymbol = `SELECT symbol, status, base_asset, base_asset_precision, quote_asset, min_price, step_size,
	order_types::text, permissions::text FROM symbols`

func scanSymbol(row pgx.Row) (market.SymbolInfo, error) {
	var (
		m                       storemodel.SymbolModel
		orderTypes, permissions string
	)
	if err := row.Scan(&m.Symbol, &m.Status, &m.BaseAsset, &m.BaseAssetPrecision, &m.QuoteAsset,
		&m.MinPrice, &m.StepSize, &orderTypes, &permissions); err != nil {
		return market.SymbolInfo{}, err
	}
	m.OrderTypes = []byte(orderTypes)
	m.Permissions = []byte(permissions)
	return m.ToSymbol(), nil
}

func (s *Store) ListSymbols(ctx context.Context, query store.SymbolQuery) ([]market.SymbolInfo, error) {
	rs, sorted, err := store.ResolveSymbolSort(query)
	if err != nil {
		return nil, err
	}
	offset, limit, paged, err := query.Window()
	if err != nil {
		return nil, err
	}
	q := selectSymbol + ` WHERE status = $1`
	args := []any{market.SymbolStatusTrading}
	if quote := store.NormalizeQuote(query.QuoteAsset); quote != "" {
		args = append(args, quote)
		q += fmt.Sprintf(` AND quote_asset = $%d`, len(args))
	}
	if search := store.NormalizeSearch(query.Search); search != "" {
		args = append(args, "%"+search+"%")
		q += fmt.Sprintf(` AND (symbol LIKE $%d OR base_asset LIKE $%d)`, len(args), len(args))
	}
	q += " ORDER BY "
	if sorted {
		col := rs.Column
		if rs.Numeric {
			// min_price is blank for symbols without a PRICE_FILTER.
			col = fmt.Sprintf("COALESCE(NULLIF(%s, ''), '0')::numeric", col)
		}
		dir := "ASC"
		if rs.Desc {
			dir = "DESC"
		}
		q += fmt.Sprintf("%s %s, ", col, dir)
	}
	q += "symbol ASC"
	if paged {
		args = append(args, limit, offset)
		q += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	defer rows.Close()
	out := []market.SymbolInfo{}
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

func (s *Store) GetSymbol(ctx context.Context, symbol string) (market.SymbolInfo, error) {
	sym, err := scanSymbol(s.pool.QueryRow(ctx, selectSymbol+` WHERE symbol = $1`, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return market.SymbolInfo{}, store.SymbolNotFound(symbol)
	}
	return sym, err
}

func (s *Store) CountSymbols(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM symbols`).Scan(&n)
	return n, err
}

func (s *Store) LastRefreshed(ctx context.Context, key string) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx, `SELECT updated_at FROM refresh_state WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

func (s *Store) CompareAndSwapRefreshed(ctx context.Context, key string, old, next int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE refresh_state SET updated_at = $3 WHERE key = $1 AND updated_at = $2`, key, old, next)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if old != 0 {
		return false, nil
	}
	tag, err = s.pool.Exec(ctx,
		`INSERT INTO refresh_state (key, updated_at) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`, key, next)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
