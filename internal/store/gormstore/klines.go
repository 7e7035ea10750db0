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

var barConflict = clause.OnConflict{
	Columns: []clause.Column{{Name: "symbol"}, {Name: "interval"}, {Name: "open_time"}},
	DoUpdates: clause.AssignmentColumns([]string{
		"close_time", "open", "high", "low", "close", "volume", "quote_volume", "trades",
	}),
}

func (s *GormStore) Query(ctx context.Context, symbol, interval string) ([]market.Bar, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var rows []storemodel.BarModel
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND interval = ?", symbol, interval).
		Order("open_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query klines %s %s: %w", symbol, interval, err)
	}
	out := make([]market.Bar, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ToBar())
	}
	return out, nil
}

func (s *GormStore) Append(ctx context.Context, bars []market.Bar) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(bars) == 0 {
		return nil
	}
	if err := store.CheckDistinct(bars); err != nil {
		return err
	}
	rows := toBarModels(bars)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&rows, batchSize).Error
	})
	if isDuplicate(err) {
		return fmt.Errorf("%w: %s %s", store.ErrDuplicateKey, bars[0].Symbol, bars[0].Interval)
	}
	return err
}

func (s *GormStore) UpsertTail(ctx context.Context, bar market.Bar) error {
	if err := s.ready(); err != nil {
		return err
	}
	row := storemodel.FromBar(bar)
	return s.db.WithContext(ctx).Clauses(barConflict).Create(&row).Error
}

func (s *GormStore) UpsertMany(ctx context.Context, bars []market.Bar) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(bars) == 0 {
		return nil
	}
	// one statement may not touch the same key twice
	rows := toBarModels(store.DedupeLast(bars))
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(barConflict).CreateInBatches(&rows, batchSize).Error
	})
}

func toBarModels(bars []market.Bar) []storemodel.BarModel {
	rows := make([]storemodel.BarModel, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, storemodel.FromBar(b))
	}
	return rows
}
