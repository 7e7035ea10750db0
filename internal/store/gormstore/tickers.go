package gormstore

import (
	"context"
	"fmt"

	"klinemirror/internal/market"
	"klinemirror/internal/store"
	storemodel "klinemirror/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *GormStore) UpsertTickers(ctx context.Context, tickers []market.Ticker) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(tickers) == 0 {
		return nil
	}
	byKey := make(map[string]int, len(tickers))
	rows := make([]storemodel.TickerModel, 0, len(tickers))
	for _, t := range tickers {
		if i, ok := byKey[t.Symbol]; ok {
			rows[i] = storemodel.FromTicker(t)
			continue
		}
		byKey[t.Symbol] = len(rows)
		rows = append(rows, storemodel.FromTicker(t))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}},
			UpdateAll: true,
		}).CreateInBatches(&rows, batchSize).Error
	})
}

func (s *GormStore) ListTickers(ctx context.Context, filter store.TickerFilter) ([]market.Ticker, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	sortBy, sorted, err := store.ResolveTickerSort(filter)
	if err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Model(&storemodel.TickerModel{})
	if quote := store.NormalizeQuote(filter.QuoteAsset); quote != "" {
		q = q.Where("symbol LIKE ?", "%"+quote).Where("CAST(last_price AS REAL) > 0")
	}
	if sorted {
		q = q.Order(orderExpr(sortBy))
	} else {
		q = q.Order("symbol ASC")
	}
	var rows []storemodel.TickerModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list tickers: %w", err)
	}
	out := make([]market.Ticker, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ToTicker())
	}
	return out, nil
}

// orderExpr builds an ORDER BY from an allow-listed column.
func orderExpr(rs store.ResolvedSort) string {
	col := rs.Column
	if rs.Numeric {
		col = fmt.Sprintf("CAST(%s AS REAL)", col)
	}
	if rs.Desc {
		return col + " DESC"
	}
	return col + " ASC"
}
