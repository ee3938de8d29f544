package storage

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx/types"
)

const (
	// DefaultHistoryLimit is used when a caller asks for no particular page size
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps the page size of ListUsageHistory
	MaxHistoryLimit = 100
)

// Request types written to the usage log
const (
	RequestTypeGenerate         = "generate"
	RequestTypeGenerateFallback = "generate_fallback"
)

// UsageRecord is one row of ai_usage_log
type UsageRecord struct {
	ID           int64          `db:"id" json:"id"`
	UserID       string         `db:"user_id" json:"user_id"`
	RequestType  string         `db:"request_type" json:"request_type"`
	TemplateType string         `db:"template_type" json:"template_type,omitempty"`
	Timestamp    time.Time      `db:"timestamp" json:"timestamp"`
	Success      bool           `db:"success" json:"success"`
	TokensUsed   int            `db:"tokens_used" json:"tokens_used"`
	InputLength  int            `db:"input_length" json:"input_length"`
	OutputLength int            `db:"output_length" json:"output_length"`
	ErrorMessage string         `db:"error_message" json:"error_message,omitempty"`
	Metadata     types.JSONText `db:"metadata" json:"metadata,omitempty"`
}

// UsageLog appends and reads generation records
type UsageLog interface {
	InsertUsageLog(ctx context.Context, rec *UsageRecord) error
	ListUsageHistory(ctx context.Context, userID string, limit int) ([]UsageRecord, error)
}

// ClampHistoryLimit applies the default and maximum page size
func ClampHistoryLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
