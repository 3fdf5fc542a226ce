package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/o11y-orchestrator/internal/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS request_logs (
	id             UUID PRIMARY KEY,
	correlation_id VARCHAR(32)  NOT NULL,
	created_at     TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
	endpoint       VARCHAR(255) NOT NULL,
	status         VARCHAR(50)  NOT NULL,
	duration_ms    INTEGER
);
CREATE INDEX IF NOT EXISTS request_logs_created_at_idx ON request_logs (created_at);
`

// AuditRepo хранит жизненный цикл запросов в таблице request_logs.
// Каждая операция берет соединение из пула только на время одного запроса.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// EnsureSchema создает таблицу и индекс, если их еще нет.
func (r *AuditRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

func (r *AuditRepo) CreateStarted(ctx context.Context, correlationID, endpoint string) (string, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO request_logs (id, correlation_id, endpoint, status) VALUES ($1, $2, $3, $4)`,
		id, correlationID, endpoint, string(audit.StatusStarted),
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert request log: %v", audit.ErrStoreUnavailable, err)
	}
	return id, nil
}

func (r *AuditRepo) CountRecent(ctx context.Context, window time.Duration) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM request_logs WHERE created_at > NOW() - make_interval(secs => $1)`,
		window.Seconds(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("%w: count recent: %v", audit.ErrStoreUnavailable, err)
	}
	return total, nil
}

// CompleteRecord обновляет только строки в статусе started, поэтому длительность
// проставляется не больше одного раза.
func (r *AuditRepo) CompleteRecord(ctx context.Context, id string, durationMs int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE request_logs SET status = $1, duration_ms = $2 WHERE id = $3 AND status = $4`,
		string(audit.StatusCompleted), durationMs, id, string(audit.StatusStarted),
	)
	if err != nil {
		return fmt.Errorf("%w: complete request log: %v", audit.ErrStoreUnavailable, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", audit.ErrStoreUnavailable, err)
	}
	if rows == 1 {
		return nil
	}

	// Разбираемся, почему ничего не обновили
	var status string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM request_logs WHERE id = $1`, id).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %s", audit.ErrRecordNotFound, id)
	case err != nil:
		return fmt.Errorf("%w: lookup request log: %v", audit.ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%w: %s is %s", audit.ErrAlreadyCompleted, id, status)
	}
}

func (r *AuditRepo) Stats(ctx context.Context, window time.Duration) (audit.Stats, error) {
	var (
		st    audit.Stats
		avg   sql.NullFloat64
		maxMs sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT 
			COUNT(*),
			AVG(duration_ms),
			MAX(duration_ms)
		FROM request_logs
		WHERE created_at > NOW() - make_interval(secs => $1)`,
		window.Seconds(),
	).Scan(&st.TotalRequests, &avg, &maxMs)
	if err != nil {
		return audit.Stats{}, fmt.Errorf("%w: stats: %v", audit.ErrStoreUnavailable, err)
	}

	if avg.Valid {
		st.AvgDurationMs = &avg.Float64
	}
	if maxMs.Valid {
		st.MaxDurationMs = &maxMs.Int64
	}
	return st, nil
}

func (r *AuditRepo) Get(ctx context.Context, id string) (audit.Record, error) {
	var (
		rec      audit.Record
		status   string
		duration sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, correlation_id, endpoint, status, created_at, duration_ms
		FROM request_logs
		WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.CorrelationID, &rec.Endpoint, &status, &rec.CreatedAt, &duration)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return audit.Record{}, fmt.Errorf("%w: %s", audit.ErrRecordNotFound, id)
	case err != nil:
		return audit.Record{}, fmt.Errorf("%w: get request log: %v", audit.ErrStoreUnavailable, err)
	}

	rec.Status = audit.Status(status)
	if duration.Valid {
		rec.DurationMs = &duration.Int64
	}
	return rec, nil
}

// Ping проверяет доступность базы (readiness для /health).
func (r *AuditRepo) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", audit.ErrStoreUnavailable, err)
	}
	return nil
}
