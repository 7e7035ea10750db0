// Package sqlfile keeps each (symbol, interval) series in its own SQLite file
// under a root directory, with a one-row manifest describing the file.
package sqlfile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"klinemirror/internal/market"
	"klinemirror/internal/store"
	storemodel "klinemirror/internal/store/model"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

var (
	_ store.TimeSeriesRepository = (*Store)(nil)
	_ store.ManifestReader       = (*Store)(nil)
	_ store.RangeReader          = (*Store)(nil)
)

func NewStore(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("kline files root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

// dbPath keeps the interval case: "1m" and "1M" are different series.
func (s *Store) dbPath(symbol, interval string) string {
	name := interval
	if strings.HasSuffix(interval, "M") {
		name = strings.TrimSuffix(interval, "M") + "mo"
	}
	return filepath.Join(s.root, strings.ToUpper(symbol), name+".db")
}

func (s *Store) exists(symbol, interval string) bool {
	s.mu.Lock()
	_, open := s.dbs[seriesKey(symbol, interval)]
	s.mu.Unlock()
	if open {
		return true
	}
	_, err := os.Stat(s.dbPath(symbol, interval))
	return err == nil
}

func seriesKey(symbol, interval string) string {
	return strings.ToUpper(symbol) + "@" + interval
}

func (s *Store) db(symbol, interval string) (*sql.DB, string, error) {
	if symbol == "" || interval == "" {
		return nil, "", fmt.Errorf("symbol/interval 不能为空")
	}
	key := seriesKey(symbol, interval)
	path := s.dbPath(symbol, interval)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db, symbol, interval); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

const selectBars = `SELECT open_time, close_time, open, high, low, close, volume, quote_volume, trades FROM bars`

func (s *Store) Query(ctx context.Context, symbol, interval string) ([]market.Bar, error) {
	if !s.exists(symbol, interval) {
		return []market.Bar{}, nil
	}
	return s.query(ctx, symbol, interval, selectBars+` ORDER BY open_time ASC`)
}

// RangeBars returns bars with open_time in [start, end].
func (s *Store) RangeBars(ctx context.Context, symbol, interval string, start, end int64) ([]market.Bar, error) {
	if !s.exists(symbol, interval) {
		return []market.Bar{}, nil
	}
	return s.query(ctx, symbol, interval,
		selectBars+` WHERE open_time BETWEEN ? AND ? ORDER BY open_time ASC`, start, end)
}

func (s *Store) query(ctx context.Context, symbol, interval, q string, args ...any) ([]market.Bar, error) {
	db, _, err := s.db(symbol, interval)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []market.Bar{}
	for rows.Next() {
		m := storemodel.BarModel{Symbol: symbol, Interval: interval}
		if err := rows.Scan(&m.OpenTime, &m.CloseTime, &m.Open, &m.High, &m.Low, &m.Close, &m.Volume, &m.QuoteVolume, &m.Trades); err != nil {
			return nil, err
		}
		list = append(list, m.ToBar())
	}
	return list, rows.Err()
}

const insertBar = `INSERT INTO bars (open_time, close_time, open, high, low, close, volume, quote_volume, trades)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

const upsertBar = insertBar + `
	ON CONFLICT(open_time) DO UPDATE SET
	    close_time=excluded.close_time,
	    open=excluded.open,
	    high=excluded.high,
	    low=excluded.low,
	    close=excluded.close,
	    volume=excluded.volume,
	    quote_volume=excluded.quote_volume,
	    trades=excluded.trades`

// Append inserts without overwriting. Atomicity is per series file.
func (s *Store) Append(ctx context.Context, bars []market.Bar) error {
	if err := store.CheckDistinct(bars); err != nil {
		return err
	}
	return s.write(ctx, bars, insertBar)
}

func (s *Store) UpsertTail(ctx context.Context, bar market.Bar) error {
	return s.write(ctx, []market.Bar{bar}, upsertBar)
}

func (s *Store) UpsertMany(ctx context.Context, bars []market.Bar) error {
	return s.write(ctx, store.DedupeLast(bars), upsertBar)
}

func (s *Store) write(ctx context.Context, bars []market.Bar, stmtSQL string) error {
	if len(bars) == 0 {
		return nil
	}
	groups := make(map[string][]market.Bar)
	order := make([]string, 0)
	for _, b := range bars {
		k := seriesKey(b.Symbol, b.Interval)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], b)
	}
	sort.Strings(order)
	for _, k := range order {
		if err := s.writeSeries(ctx, groups[k], stmtSQL); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeSeries(ctx context.Context, bars []market.Bar, stmtSQL string) error {
	symbol, interval := bars[0].Symbol, bars[0].Interval
	db, _, err := s.db(symbol, interval)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, b := range bars {
		m := storemodel.FromBar(b)
		if _, err := stmt.ExecContext(ctx, m.OpenTime, m.CloseTime, m.Open, m.High, m.Low, m.Close, m.Volume, m.QuoteVolume, m.Trades); err != nil {
			_ = tx.Rollback()
			if isConstraint(err) {
				return store.DuplicateKey(symbol, interval, b.OpenTime)
			}
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return refreshManifest(ctx, db)
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Manifest 返回某个 symbol@interval 文件的统计信息。
func (s *Store) Manifest(ctx context.Context, symbol, interval string) (store.Manifest, error) {
	if !s.exists(symbol, interval) {
		return store.Manifest{}, fmt.Errorf("%w: %s@%s", store.ErrSeriesNotFound, symbol, interval)
	}
	db, path, err := s.db(symbol, interval)
	if err != nil {
		return store.Manifest{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT symbol, interval, min_time, max_time, rows, last_sync_at FROM manifest WHERE id=1`)
	var m store.Manifest
	if err := row.Scan(&m.Symbol, &m.Interval, &m.MinTime, &m.MaxTime, &m.Rows, &m.LastSyncAt); err != nil {
		return store.Manifest{}, err
	}
	m.Path = path
	return m, nil
}

func refreshManifest(ctx context.Context, db *sql.DB) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE manifest
		SET min_time = (SELECT COALESCE(MIN(open_time), 0) FROM bars),
		    max_time = (SELECT COALESCE(MAX(open_time), 0) FROM bars),
		    rows = (SELECT COUNT(1) FROM bars),
		    last_sync_at = ?
		WHERE id = 1`, now)
	return err
}

func ensureSchema(db *sql.DB, symbol, interval string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			open_time    INTEGER PRIMARY KEY,
			close_time   INTEGER NOT NULL,
			open         TEXT NOT NULL,
			high         TEXT NOT NULL,
			low          TEXT NOT NULL,
			close        TEXT NOT NULL,
			volume       TEXT NOT NULL,
			quote_volume TEXT NOT NULL DEFAULT '0',
			trades       INTEGER DEFAULT 0,
			inserted_at  INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			symbol TEXT NOT NULL,
			interval TEXT NOT NULL,
			min_time INTEGER NOT NULL DEFAULT 0,
			max_time INTEGER NOT NULL DEFAULT 0,
			rows INTEGER NOT NULL DEFAULT 0,
			last_sync_at INTEGER NOT NULL DEFAULT 0
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT INTO manifest (id, symbol, interval) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET symbol=excluded.symbol, interval=excluded.interval`,
		strings.ToUpper(symbol), interval)
	return err
}
