package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/wariapp/wari/internal/models"
)

// TripLogRepository 行程观测日志。记录信道下发的每条快照和每次阶段
// 转换，供诊断和历史查询使用；写入是尽力而为的，失败不影响追踪流程。
type TripLogRepository struct {
	db *DB
}

// NewTripLogRepository 创建行程日志仓库
func NewTripLogRepository(db *DB) *TripLogRepository {
	return &TripLogRepository{db: db}
}

// SnapshotRecord 一条已落库的快照
type SnapshotRecord struct {
	ID                    int64      `json:"id"`
	TripID                string     `json:"trip_id"`
	IMEI                  string     `json:"imei"`
	IsActive              bool       `json:"is_active"`
	IsCompleted           bool       `json:"is_completed"`
	IsCanceledByPassenger bool       `json:"is_canceled_by_passenger"`
	Destination           *string    `json:"destination,omitempty"`
	GracePeriodActive     bool       `json:"grace_period_active"`
	GracePeriodEndTime    *time.Time `json:"grace_period_end_time,omitempty"`
	ReceivedAt            time.Time  `json:"received_at"`
}

// TransitionRecord 一条已落库的阶段转换
type TransitionRecord struct {
	ID         int64     `json:"id"`
	TripID     string    `json:"trip_id"`
	FromPhase  string    `json:"from_phase"`
	ToPhase    string    `json:"to_phase"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RecordSnapshot 落库一条行程快照
func (r *TripLogRepository) RecordSnapshot(ctx context.Context, t *models.Trip) error {
	var dest *string
	if t.Destination != nil {
		encoded := t.Destination.Encode()
		dest = &encoded
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO trip_snapshots (
			trip_id, imei, is_active, is_completed, is_canceled_by_passenger,
			destination, grace_period_active, grace_period_end_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.IMEI, t.IsActive, t.IsCompleted, t.IsCanceledByPassenger,
		dest, t.GracePeriodActive, t.GracePeriodEndTime,
	)
	if err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	return nil
}

// RecordTransition 落库一条阶段转换
func (r *TripLogRepository) RecordTransition(ctx context.Context, tripID, fromPhase, toPhase string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO status_transitions (trip_id, from_phase, to_phase)
		VALUES ($1, $2, $3)`,
		tripID, fromPhase, toPhase,
	)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// RecentSnapshots 按时间倒序取最近的快照
func (r *TripLogRepository) RecentSnapshots(ctx context.Context, tripID string, limit int) ([]SnapshotRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, trip_id, imei, is_active, is_completed, is_canceled_by_passenger,
		       destination, grace_period_active, grace_period_end_time, received_at
		FROM trip_snapshots
		WHERE trip_id = $1
		ORDER BY received_at DESC
		LIMIT $2`,
		tripID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var records []SnapshotRecord
	for rows.Next() {
		var rec SnapshotRecord
		if err := rows.Scan(
			&rec.ID, &rec.TripID, &rec.IMEI, &rec.IsActive, &rec.IsCompleted,
			&rec.IsCanceledByPassenger, &rec.Destination, &rec.GracePeriodActive,
			&rec.GracePeriodEndTime, &rec.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecentTransitions 按时间倒序取最近的阶段转换
func (r *TripLogRepository) RecentTransitions(ctx context.Context, tripID string, limit int) ([]TransitionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, trip_id, from_phase, to_phase, occurred_at
		FROM status_transitions
		WHERE trip_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2`,
		tripID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var records []TransitionRecord
	for rows.Next() {
		var rec TransitionRecord
		if err := rows.Scan(&rec.ID, &rec.TripID, &rec.FromPhase, &rec.ToPhase, &rec.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
