package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockSqlx(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "pgx"), mock
}

func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return gdb, mock
}

func expectNonceSchema(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS request_nonces")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS idx_request_nonces_expires")).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestPostgresNonceStoreClaimsFreshNonce(t *testing.T) {
	db, mock := newMockSqlx(t)
	expectNonceSchema(mock)
	store := NewPostgresNonceStore(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO request_nonces")).
		WithArgs("casino:n-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, found, err := store.GetOrLock(context.Background(), "casino:n-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, rec)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresNonceStoreReturnsCachedResponse(t *testing.T) {
	db, mock := newMockSqlx(t)
	expectNonceSchema(mock)
	store := NewPostgresNonceStore(db)
	created := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO request_nonces")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM request_nonces")).
		WithArgs("casino:n-1").
		WillReturnRows(sqlmock.NewRows([]string{"status_code", "response_body", "created_at", "processing"}).
			AddRow(201, []byte(`{"success":true}`), created, false))

	rec, found, err := store.GetOrLock(context.Background(), "casino:n-1", time.Minute)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 201, rec.Status)
	assert.False(t, rec.Processing)
	assert.JSONEq(t, `{"success":true}`, string(rec.Body))
	require.NoError(t, mock.ExpectationsWereMet())
}

func expectAuditSchema(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS audit_logs")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS idx_audit_logs_platform")).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestPostgresAuditRepoInsertAndList(t *testing.T) {
	db, mock := newMockSqlx(t)
	expectAuditSchema(mock)
	repo := NewPostgresAuditRepo(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Insert(context.Background(), &model.AuditLog{
		ID:         "req-1",
		PlatformID: "casino",
		Method:     "POST",
		Path:       "/v1/platforms/casino/deposits",
		StatusCode: 201,
		Context:    map[string]interface{}{"settlement_id": "s1"},
		CreatedAt:  now,
	}))

	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_logs WHERE platform_id = $1 ORDER BY created_at DESC LIMIT $2")).
		WithArgs("casino", 10).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "platform_id", "method", "path", "ip", "user_agent", "request_body", "request_header",
			"status_code", "response_body", "latency_ms", "context", "created_at",
		}).AddRow("req-1", "casino", "POST", "/v1/platforms/casino/deposits", "10.0.0.1", "curl",
			"{}", "{}", 201, "{}", int64(3), []byte(`{"settlement_id":"s1"}`), now))

	logs, err := repo.List(context.Background(), "casino", 10, nil, nil)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "s1", logs[0].Context["settlement_id"])
	assert.Equal(t, 201, logs[0].StatusCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAuditRepoListTimeRange(t *testing.T) {
	db, mock := newMockSqlx(t)
	expectAuditSchema(mock)
	repo := NewPostgresAuditRepo(db)
	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE created_at >= $1 AND created_at <= $2 ORDER BY created_at DESC LIMIT $3")).
		WithArgs(from, to, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	logs, err := repo.List(context.Background(), "", 0, &from, &to)
	require.NoError(t, err)
	assert.Empty(t, logs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPlatformRepoGetByID(t *testing.T) {
	db, mock := newMockGorm(t)
	repo := NewPostgresPlatformRepo(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT \* FROM "platforms" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "secret", "active", "public", "rate_budget", "webhook_url", "created_at", "updated_at"}).
			AddRow("casino", "Casino", "s3cret", true, false, 100, "", now, now))

	p, err := repo.GetByID(context.Background(), "casino")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", p.Secret)
	assert.Equal(t, 100, p.RateBudget)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPlatformRepoNotFound(t *testing.T) {
	db, mock := newMockGorm(t)
	repo := NewPostgresPlatformRepo(db)

	mock.ExpectQuery(`SELECT \* FROM "platforms" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err := repo.GetByID(context.Background(), "ghost")
	assert.True(t, errors.Is(err, ErrPlatformNotFound))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "platforms" SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	err = repo.Update(context.Background(), &model.Platform{ID: "ghost", Name: "Ghost"})
	assert.True(t, errors.Is(err, ErrPlatformNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedgerStoreDefaults(t *testing.T) {
	db, mock := newMockGorm(t)
	store := NewPostgresLedgerStore(db)

	mock.ExpectQuery(`SELECT \* FROM "balances" WHERE platform_id = \$1 AND platform_user_id = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"platform_id"}))
	bal, err := store.GetBalance(context.Background(), "casino", "u-1")
	require.NoError(t, err)
	assert.True(t, bal.CreditsBalance.IsZero())
	assert.Nil(t, bal.LastTransactionAt)

	mock.ExpectQuery(`SELECT \* FROM "settlement_transactions" WHERE platform_id = \$1 AND platform_settlement_id = \$2 AND status = \$3`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = store.FindCompleted(context.Background(), "casino", "s-404")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
