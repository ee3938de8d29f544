package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/quota"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/ratelimit"
)

var (
	_ quota.Store           = (*PostgresStore)(nil)
	_ quota.Store           = (*MemoryStore)(nil)
	_ ratelimit.WindowStore = (*PostgresStore)(nil)
	_ ratelimit.WindowStore = (*MemoryStore)(nil)
	_ UsageLog              = (*PostgresStore)(nil)
	_ UsageLog              = (*MemoryStore)(nil)
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := NewDBFromConn(sqlx.NewDb(mockDB, "postgres"))
	return NewPostgresStore(db), mock
}

func TestPostgresStore_GetUsage(t *testing.T) {
	ctx := context.Background()

	t.Run("existing row", func(t *testing.T) {
		store, mock := newMockStore(t)
		reset := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
		mock.ExpectQuery(regexp.QuoteMeta(selectUsageSQL)).
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "generations_used_this_month", "reset_date"}).
				AddRow("u1", 2, reset))

		u, err := store.GetUsage(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, u.GenerationsUsed)
		require.NotNil(t, u.ResetDate)
		assert.True(t, reset.Equal(*u.ResetDate))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row yields zero usage", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta(selectUsageSQL)).
			WithArgs("new").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "generations_used_this_month", "reset_date"}))

		u, err := store.GetUsage(ctx, "new")
		require.NoError(t, err)
		assert.Equal(t, "new", u.UserID)
		assert.Zero(t, u.GenerationsUsed)
		assert.Nil(t, u.ResetDate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_QuotaWrites(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)
	reset := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(upsertUsageSQL)).
		WithArgs("u1", 0, &reset).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(incrementUsageSQL)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"generations_used_this_month"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta(incrementIfBelowSQL)).
		WithArgs("u1", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(incrementIfBelowSQL)).
		WithArgs("u1", 3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(decrementUsageSQL)).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SaveUsage(ctx, &quota.Usage{UserID: "u1", ResetDate: &reset}))

	used, err := store.IncrementUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, used)

	ok, err := store.IncrementIfBelow(ctx, "u1", 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.IncrementIfBelow(ctx, "u1", 3)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Decrement(ctx, "u1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UsageLog(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)
	ts := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(insertUsageLogSQL)).
		WithArgs("u1", RequestTypeGenerate, "project_charter", ts, true, 120, 80, 900, nil, []byte(`{"industry":"retail"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	rec := &UsageRecord{
		UserID:       "u1",
		RequestType:  RequestTypeGenerate,
		TemplateType: "project_charter",
		Timestamp:    ts,
		Success:      true,
		TokensUsed:   120,
		InputLength:  80,
		OutputLength: 900,
		Metadata:     types.JSONText(`{"industry":"retail"}`),
	}
	require.NoError(t, store.InsertUsageLog(ctx, rec))
	assert.Equal(t, int64(42), rec.ID)

	mock.ExpectQuery(regexp.QuoteMeta(listUsageHistorySQL)).
		WithArgs("u1", MaxHistoryLimit).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "request_type", "template_type", "timestamp", "success",
			"tokens_used", "input_length", "output_length", "error_message", "metadata",
		}).AddRow(42, "u1", "generate", "project_charter", ts, true, 120, 80, 900, "", []byte(`{}`)))

	records, err := store.ListUsageHistory(ctx, "u1", 500)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "project_charter", records[0].TemplateType)
	assert.Equal(t, types.JSONText(`{}`), records[0].Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Count(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(countRequestsSQL)).
		WithArgs("u1", now.Add(-time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	require.NoError(t, store.Record(context.Background(), "u1", now))
	n, err := store.Count(context.Background(), "u1", time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.True(t, store.Durable())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClampHistoryLimit(t *testing.T) {
	assert.Equal(t, 50, ClampHistoryLimit(0))
	assert.Equal(t, 50, ClampHistoryLimit(-3))
	assert.Equal(t, 20, ClampHistoryLimit(20))
	assert.Equal(t, 100, ClampHistoryLimit(101))
}

func TestMemoryStore_UsageLog(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.InsertUsageLog(ctx, &UsageRecord{
			UserID:      "u1",
			RequestType: RequestTypeGenerate,
			Timestamp:   base.Add(time.Duration(i) * 20 * time.Minute),
			Success:     true,
		}))
	}
	require.NoError(t, m.InsertUsageLog(ctx, &UsageRecord{UserID: "u2", RequestType: RequestTypeGenerateFallback, Timestamp: base}))

	history, err := m.ListUsageHistory(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(3), history[0].ID, "newest first")

	n, err := m.Count(ctx, "u1", time.Hour, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	used, err := m.IncrementUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestDB_Health(t *testing.T) {
	ctx := context.Background()
	newDB := func(t *testing.T) (*DB, sqlmock.Sqlmock) {
		mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		t.Cleanup(func() { mockDB.Close() })
		return NewDBFromConn(sqlx.NewDb(mockDB, "postgres")), mock
	}

	t.Run("healthy", func(t *testing.T) {
		db, mock := newDB(t)
		mock.ExpectPing()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT 1")).
			WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		require.NoError(t, db.Health(ctx))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ping fails", func(t *testing.T) {
		db, mock := newDB(t)
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		err := db.Health(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database ping failed")
	})
}

func TestDefaultDBConfig_DSN(t *testing.T) {
	cfg := DefaultDBConfig()
	cfg.Password = "secret"
	assert.Equal(t, "host=localhost port=5432 dbname=guardrail user=postgres password=secret sslmode=disable", cfg.DSN())
	assert.Equal(t, 25, cfg.MaxOpenConns)
}
