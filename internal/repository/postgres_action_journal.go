package repository

import (
	"context"
	"fmt"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/repository"

	"gorm.io/gorm"
)

const maxRecent = 500

// PostgresActionJournal keeps every action in the actions table.
type PostgresActionJournal struct {
	db *gorm.DB
}

var _ repository.ActionJournal = (*PostgresActionJournal)(nil)

func NewPostgresActionJournal(db *gorm.DB) *PostgresActionJournal {
	return &PostgresActionJournal{db: db}
}

func (j *PostgresActionJournal) Init(ctx context.Context) error {
	if err := j.db.WithContext(ctx).AutoMigrate(&models.Action{}); err != nil {
		return fmt.Errorf("migrate actions: %w", err)
	}
	return nil
}

func (j *PostgresActionJournal) Store(ctx context.Context, a *models.Action) error {
	if err := j.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func (j *PostgresActionJournal) Recent(ctx context.Context, strategy string, limit int) ([]models.Action, error) {
	limit = clampLimit(limit)
	q := j.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if strategy != "" {
		q = q.Where("strategy = ?", strategy)
	}
	var out []models.Action
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("recent actions: %w", err)
	}
	return out, nil
}

func (j *PostgresActionJournal) Health(ctx context.Context) error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (j *PostgresActionJournal) Close() error {
	return nil // managed by pkg/postgres
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return min(limit, maxRecent)
}
