package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateTripSnapshots,
		migrationCreateStatusTransitions,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateTripSnapshots = `
CREATE TABLE IF NOT EXISTS trip_snapshots (
    id BIGSERIAL PRIMARY KEY,
    trip_id VARCHAR(64) NOT NULL,
    imei VARCHAR(20) NOT NULL,
    is_active BOOLEAN NOT NULL,
    is_completed BOOLEAN NOT NULL,
    is_canceled_by_passenger BOOLEAN NOT NULL,
    destination TEXT,
    grace_period_active BOOLEAN NOT NULL DEFAULT FALSE,
    grace_period_end_time TIMESTAMPTZ,
    received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_trip_snapshots_trip_id ON trip_snapshots(trip_id, received_at DESC);
`

const migrationCreateStatusTransitions = `
CREATE TABLE IF NOT EXISTS status_transitions (
    id BIGSERIAL PRIMARY KEY,
    trip_id VARCHAR(64) NOT NULL,
    from_phase VARCHAR(32) NOT NULL,
    to_phase VARCHAR(32) NOT NULL,
    occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_status_transitions_trip_id ON status_transitions(trip_id, occurred_at DESC);
`
