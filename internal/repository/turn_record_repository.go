package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"healthq/internal/model"
)

type TurnRecordRepository struct {
	db *gorm.DB
}

func NewTurnRecordRepository(db *gorm.DB) *TurnRecordRepository {
	return &TurnRecordRepository{db: db}
}

// Create inserts record; a redelivered turn with the same TurnID is ignored.
func (r *TurnRecordRepository) Create(ctx context.Context, record *model.TurnRecord) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "turn_id"}}, DoNothing: true}).
		Create(record).Error
	if err != nil {
		return fmt.Errorf("create turn record failed: %w", err)
	}
	return nil
}

func (r *TurnRecordRepository) ListBySessionID(ctx context.Context, sessionID string, limit int) ([]model.TurnRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	var records []model.TurnRecord
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list turn records failed: %w", err)
	}
	return records, nil
}
