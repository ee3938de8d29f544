package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/quota"
)

// PostgresStore persists monthly counters in ai_user_quota and generation
// records in ai_usage_log. It also counts log rows as a rate-limit window.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a store over db
func NewPostgresStore(db *DB) *PostgresStore {
	return &PostgresStore{db: db.Conn()}
}

const (
	selectUsageSQL = `SELECT user_id, generations_used_this_month, reset_date FROM ai_user_quota WHERE user_id = $1`

	upsertUsageSQL = `INSERT INTO ai_user_quota (user_id, generations_used_this_month, reset_date, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (user_id) DO UPDATE SET
generations_used_this_month = EXCLUDED.generations_used_this_month,
reset_date = EXCLUDED.reset_date,
updated_at = NOW()`

	incrementUsageSQL = `INSERT INTO ai_user_quota (user_id, generations_used_this_month, updated_at)
VALUES ($1, 1, NOW())
ON CONFLICT (user_id) DO UPDATE SET
generations_used_this_month = ai_user_quota.generations_used_this_month + 1,
updated_at = NOW()
RETURNING generations_used_this_month`

	incrementIfBelowSQL = `UPDATE ai_user_quota
SET generations_used_this_month = generations_used_this_month + 1, updated_at = NOW()
WHERE user_id = $1 AND generations_used_this_month < $2`

	decrementUsageSQL = `UPDATE ai_user_quota
SET generations_used_this_month = GREATEST(generations_used_this_month - 1, 0), updated_at = NOW()
WHERE user_id = $1`

	insertUsageLogSQL = `INSERT INTO ai_usage_log
(user_id, request_type, template_type, timestamp, success, tokens_used, input_length, output_length, error_message, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id`

	listUsageHistorySQL = `SELECT id, user_id, request_type,
COALESCE(template_type, '') AS template_type,
timestamp, success,
COALESCE(tokens_used, 0) AS tokens_used,
COALESCE(input_length, 0) AS input_length,
COALESCE(output_length, 0) AS output_length,
COALESCE(error_message, '') AS error_message,
COALESCE(metadata, '{}'::jsonb) AS metadata
FROM ai_usage_log
WHERE user_id = $1
ORDER BY timestamp DESC
LIMIT $2`

	countRequestsSQL = `SELECT COUNT(*) FROM ai_usage_log WHERE user_id = $1 AND timestamp > $2`
)

// GetUsage implements quota.Store
func (s *PostgresStore) GetUsage(ctx context.Context, userID string) (*quota.Usage, error) {
	var u quota.Usage
	err := s.db.GetContext(ctx, &u, selectUsageSQL, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return &quota.Usage{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	return &u, nil
}

// SaveUsage implements quota.Store
func (s *PostgresStore) SaveUsage(ctx context.Context, usage *quota.Usage) error {
	if _, err := s.db.ExecContext(ctx, upsertUsageSQL, usage.UserID, usage.GenerationsUsed, usage.ResetDate); err != nil {
		return fmt.Errorf("failed to save usage: %w", err)
	}
	return nil
}

// IncrementUsage implements quota.Store
func (s *PostgresStore) IncrementUsage(ctx context.Context, userID string) (int, error) {
	var used int
	if err := s.db.QueryRowxContext(ctx, incrementUsageSQL, userID).Scan(&used); err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return used, nil
}

// IncrementIfBelow implements quota.Store. The row must already exist,
// which quota.Tracker guarantees by saving usage before reserving.
func (s *PostgresStore) IncrementIfBelow(ctx context.Context, userID string, limit int) (bool, error) {
	res, err := s.db.ExecContext(ctx, incrementIfBelowSQL, userID, limit)
	if err != nil {
		return false, fmt.Errorf("failed to reserve usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to reserve usage: %w", err)
	}
	return n == 1, nil
}

// Decrement implements quota.Store
func (s *PostgresStore) Decrement(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, decrementUsageSQL, userID); err != nil {
		return fmt.Errorf("failed to release usage: %w", err)
	}
	return nil
}

// InsertUsageLog appends a generation record and sets its ID
func (s *PostgresStore) InsertUsageLog(ctx context.Context, rec *UsageRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	var metadata interface{}
	if len(rec.Metadata) > 0 {
		metadata = []byte(rec.Metadata)
	}

	err := s.db.QueryRowxContext(ctx, insertUsageLogSQL,
		rec.UserID,
		rec.RequestType,
		nullString(rec.TemplateType),
		rec.Timestamp,
		rec.Success,
		rec.TokensUsed,
		rec.InputLength,
		rec.OutputLength,
		nullString(rec.ErrorMessage),
		metadata,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to insert usage log: %w", err)
	}
	return nil
}

// ListUsageHistory returns a user's records, newest first
func (s *PostgresStore) ListUsageHistory(ctx context.Context, userID string, limit int) ([]UsageRecord, error) {
	records := make([]UsageRecord, 0)
	if err := s.db.SelectContext(ctx, &records, listUsageHistorySQL, userID, ClampHistoryLimit(limit)); err != nil {
		return nil, fmt.Errorf("failed to list usage history: %w", err)
	}
	return records, nil
}

// Record is a no-op: every generation is already written to ai_usage_log,
// which is what Count reads.
func (s *PostgresStore) Record(context.Context, string, time.Time) error {
	return nil
}

// Count returns the number of usage-log rows after now-window
func (s *PostgresStore) Count(ctx context.Context, userID string, window time.Duration, now time.Time) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, countRequestsSQL, userID, now.Add(-window)); err != nil {
		return 0, fmt.Errorf("failed to count requests: %w", err)
	}
	return n, nil
}

// Durable reports that the window survives restarts
func (s *PostgresStore) Durable() bool { return true }

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
