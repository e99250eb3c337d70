package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/repository"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

const chActionsSchema = `
        CREATE TABLE IF NOT EXISTS %s (
            id         UUID,
            created_at DateTime64(3, 'UTC'),
            strategy   LowCardinality(String),
            source     LowCardinality(String),
            kind       LowCardinality(String),
            message    String,
            price      Float64,
            rsi        Float64,
            natr       Float64
        ) ENGINE = MergeTree
        ORDER BY (strategy, source, created_at)
    `

// ClickHouseActionStore appends actions to a MergeTree table.
type ClickHouseActionStore struct {
	db    *sql.DB
	table string
}

var _ repository.ActionStore = (*ClickHouseActionStore)(nil)

// NewClickHouseActionStore creates ClickHouse storage for actions.
func NewClickHouseActionStore(db *sql.DB, table string) (*ClickHouseActionStore, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", table)
	}
	return &ClickHouseActionStore{db: db, table: table}, nil
}

func (s *ClickHouseActionStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(chActionsSchema, s.table)); err != nil {
		return fmt.Errorf("init %s: %w", s.table, err)
	}
	return nil
}

func (s *ClickHouseActionStore) Store(ctx context.Context, a *models.Action) error {
	q := fmt.Sprintf("INSERT INTO %s (id, created_at, strategy, source, kind, message, price, rsi, natr) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table)
	_, err := s.db.ExecContext(ctx, q,
		a.ID.String(),
		a.CreatedAt,
		a.Strategy,
		a.Source.String(),
		string(a.Kind),
		a.Message,
		a.Price,
		a.RSI,
		a.NATR,
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func (s *ClickHouseActionStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseActionStore) Close() error {
	return nil // managed by pkg/clickhouse
}
