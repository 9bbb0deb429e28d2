package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tidewatch/internal/models"
)

// Postgres persists alerts in a PostgreSQL table through the pgx driver.
type Postgres struct {
	db     *sql.DB
	closed atomic.Bool
}

// NewPostgres connects to dsn and makes sure the alerts table exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	db, err := sql.Open("pgx", dsn) // pgx/v5/stdlib registers as "pgx"
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS alerts (
		id               BIGINT PRIMARY KEY,
		alert_type       TEXT NOT NULL,
		severity         TEXT NOT NULL,
		message          TEXT NOT NULL,
		source_sensor_id TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL,
		payload          JSONB
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create alerts: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &Postgres{db: db}, nil
}

func (p *Postgres) InsertBatch(ctx context.Context, alerts []models.Alert) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if len(alerts) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range alerts {
		r, err := toRow(a)
		if err != nil {
			return err
		}
		var payload any
		if r.Payload != nil {
			payload = string(r.Payload)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO alerts
			(id, alert_type, severity, message, source_sensor_id, created_at, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			int64(r.ID), r.Type, r.Severity, r.Message, r.SourceSensorID, r.CreatedAt, payload); err != nil {
			return fmt.Errorf("insert alert %d: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (p *Postgres) MaxID(ctx context.Context) (uint64, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	var max sql.NullInt64
	if err := p.db.QueryRowContext(ctx, `SELECT MAX(id) FROM alerts`).Scan(&max); err != nil {
		return 0, fmt.Errorf("max id: %w", err)
	}
	return uint64(max.Int64), nil
}

func (p *Postgres) List(ctx context.Context, q Query) ([]models.Alert, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	var (
		where []string
		args  []any
	)
	if q.AfterID > 0 {
		args = append(args, int64(q.AfterID))
		where = append(where, fmt.Sprintf("id > $%d", len(args)))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since.UTC())
		where = append(where, fmt.Sprintf("created_at > $%d", len(args)))
	}

	query := `SELECT id, alert_type, severity, message, source_sensor_id, created_at, payload::text FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		var (
			r       row
			id      int64
			payload sql.NullString
		)
		if err := rows.Scan(&id, &r.Type, &r.Severity, &r.Message, &r.SourceSensorID, &r.CreatedAt, &payload); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		r.ID = uint64(id)
		if payload.Valid {
			r.Payload = []byte(payload.String)
		}
		a, err := r.alert()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) Ping(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.db.Close()
}
