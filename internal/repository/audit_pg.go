package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/jmoiron/sqlx"
)

// PostgresAuditRepo stores audit records in audit_logs via sqlx.
type PostgresAuditRepo struct {
	db *sqlx.DB
}

type auditRow struct {
	ID            string    `db:"id"`
	PlatformID    string    `db:"platform_id"`
	Method        string    `db:"method"`
	Path          string    `db:"path"`
	IP            string    `db:"ip"`
	UserAgent     string    `db:"user_agent"`
	RequestBody   string    `db:"request_body"`
	RequestHeader string    `db:"request_header"`
	StatusCode    int       `db:"status_code"`
	ResponseBody  string    `db:"response_body"`
	LatencyMs     int64     `db:"latency_ms"`
	Context       []byte    `db:"context"`
	CreatedAt     time.Time `db:"created_at"`
}

const auditColumns = `id, platform_id, method, path, ip, user_agent, request_body, request_header, status_code, response_body, latency_ms, context, created_at`

func NewPostgresAuditRepo(db *sqlx.DB) *PostgresAuditRepo {
	repo := &PostgresAuditRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

func (r *PostgresAuditRepo) Insert(ctx context.Context, entry *model.AuditLog) error {
	if entry == nil {
		return nil
	}
	contextJSON, err := json.Marshal(entry.Context)
	if err != nil {
		return err
	}
	row := auditRow{
		ID:            entry.ID,
		PlatformID:    entry.PlatformID,
		Method:        entry.Method,
		Path:          entry.Path,
		IP:            entry.IP,
		UserAgent:     entry.UserAgent,
		RequestBody:   entry.RequestBody,
		RequestHeader: entry.RequestHeader,
		StatusCode:    entry.StatusCode,
		ResponseBody:  entry.ResponseBody,
		LatencyMs:     entry.LatencyMs,
		Context:       contextJSON,
		CreatedAt:     entry.CreatedAt,
	}
	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (`+auditColumns+`)
		VALUES (:id, :platform_id, :method, :path, :ip, :user_agent, :request_body, :request_header,
			:status_code, :response_body, :latency_ms, :context, :created_at)
		ON CONFLICT (id) DO NOTHING
	`, row)
	return err
}

// List returns newest first, filtered by platform and time range when given.
func (r *PostgresAuditRepo) List(ctx context.Context, platformID string, limit int, from, to *time.Time) ([]*model.AuditLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if platformID != "" {
		add("platform_id = $%d", platformID)
	}
	if from != nil {
		add("created_at >= $%d", *from)
	}
	if to != nil {
		add("created_at <= $%d", *to)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	records := make([]*model.AuditLog, 0, len(rows))
	for _, row := range rows {
		entry := &model.AuditLog{
			ID:            row.ID,
			PlatformID:    row.PlatformID,
			Method:        row.Method,
			Path:          row.Path,
			IP:            row.IP,
			UserAgent:     row.UserAgent,
			RequestBody:   row.RequestBody,
			RequestHeader: row.RequestHeader,
			StatusCode:    row.StatusCode,
			ResponseBody:  row.ResponseBody,
			LatencyMs:     row.LatencyMs,
			Context:       map[string]interface{}{},
			CreatedAt:     row.CreatedAt,
		}
		if len(row.Context) > 0 {
			_ = json.Unmarshal(row.Context, &entry.Context)
		}
		records = append(records, entry)
	}
	return records, nil
}

func (r *PostgresAuditRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			platform_id TEXT,
			method TEXT,
			path TEXT,
			ip TEXT,
			user_agent TEXT,
			request_body TEXT,
			request_header TEXT,
			status_code INTEGER,
			response_body TEXT,
			latency_ms BIGINT,
			context JSONB,
			created_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_audit_logs_platform ON audit_logs(platform_id, created_at DESC)`)
	return nil
}

// Cleanup deletes records older than the retention period.
func (r *PostgresAuditRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	return err
}
