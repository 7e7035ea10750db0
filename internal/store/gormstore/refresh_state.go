package gormstore

import (
	"context"
	"errors"

	storemodel "klinemirror/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *GormStore) LastRefreshed(ctx context.Context, key string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var row storemodel.RefreshStateModel
	err := s.db.WithContext(ctx).Where(map[string]any{"key": key}).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.UpdatedAt, nil
}

// CompareAndSwapRefreshed is a conditional UPDATE; a missing row counts as 0
// and is claimed with INSERT ... ON CONFLICT DO NOTHING.
func (s *GormStore) CompareAndSwapRefreshed(ctx context.Context, key string, old, next int64) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	db := s.db.WithContext(ctx)
	res := db.Model(&storemodel.RefreshStateModel{}).
		Where(map[string]any{"key": key, "updated_at": old}).
		Update("updated_at", next)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if old != 0 {
		return false, nil
	}
	res = db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&storemodel.RefreshStateModel{Key: key, UpdatedAt: next})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
