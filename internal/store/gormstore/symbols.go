package gormstore

import (
	"context"
	"errors"
	"fmt"

	"klinemirror/internal/market"
	"klinemirror/internal/store"
	storemodel "klinemirror/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *GormStore) UpsertSymbols(ctx context.Context, symbols []market.SymbolInfo) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(symbols) == 0 {
		return nil
	}
	byKey := make(map[string]int, len(symbols))
	rows := make([]storemodel.SymbolModel, 0, len(symbols))
	for _, sym := range symbols {
		if i, ok := byKey[sym.Symbol]; ok {
			rows[i] = storemodel.FromSymbol(sym)
			continue
		}
		byKey[sym.Symbol] = len(rows)
		rows = append(rows, storemodel.FromSymbol(sym))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}},
			UpdateAll: true,
		}).CreateInBatches(&rows, batchSize).Error
	})
}

func (s *GormStore) ListSymbols(ctx context.Context, query store.SymbolQuery) ([]market.SymbolInfo, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rs, sorted, err := store.ResolveSymbolSort(query)
	if err != nil {
		return nil, err
	}
	offset, limit, paged, err := query.Window()
	if err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Where("status = ?", market.SymbolStatusTrading)
	if quote := store.NormalizeQuote(query.QuoteAsset); quote != "" {
		q = q.Where("quote_asset = ?", quote)
	}
	if search := store.NormalizeSearch(query.Search); search != "" {
		pattern := "%" + search + "%"
		q = q.Where("(symbol LIKE ? OR base_asset LIKE ?)", pattern, pattern)
	}
	if sorted {
		q = q.Order(orderExpr(rs))
	}
	q = q.Order("symbol ASC")
	if paged {
		q = q.Offset(offset).Limit(limit)
	}
	var rows []storemodel.SymbolModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	out := make([]market.SymbolInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ToSymbol())
	}
	return out, nil
}

func (s *GormStore) GetSymbol(ctx context.Context, symbol string) (market.SymbolInfo, error) {
	if err := s.ready(); err != nil {
		return market.SymbolInfo{}, err
	}
	var row storemodel.SymbolModel
	err := s.db.WithContext(ctx).Where("symbol = ?", symbol).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return market.SymbolInfo{}, store.SymbolNotFound(symbol)
	}
	if err != nil {
		return market.SymbolInfo{}, err
	}
	return row.ToSymbol(), nil
}

func (s *GormStore) CountSymbols(ctx context.Context) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&storemodel.SymbolModel{}).Count(&n).Error
	return n, err
}
