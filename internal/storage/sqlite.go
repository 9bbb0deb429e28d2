package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tidewatch/internal/models"
)

// SQLite persists alerts in a local SQLite database (WAL, synchronous=FULL).
type SQLite struct {
	db     *sql.DB
	closed atomic.Bool
}

// NewSQLite opens (or creates) an alerts database at path.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	params := url.Values{}
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(FULL)")
	params.Add("_pragma", "busy_timeout(5000)")
	dsn := "file:" + path + "?" + params.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open alerts db: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS alerts (
		id               INTEGER PRIMARY KEY,
		alert_type       TEXT NOT NULL,
		severity         TEXT NOT NULL,
		message          TEXT NOT NULL,
		source_sensor_id TEXT NOT NULL,
		created_at       INTEGER NOT NULL,
		payload          TEXT
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create alerts: %w", err)
	}
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at)`)

	return &SQLite{db: db}, nil
}

// InsertBatch writes all alerts in a single transaction.
func (s *SQLite) InsertBatch(ctx context.Context, alerts []models.Alert) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(alerts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO alerts
		(id, alert_type, severity, message, source_sensor_id, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range alerts {
		r, err := toRow(a)
		if err != nil {
			return err
		}
		var payload any
		if r.Payload != nil {
			payload = string(r.Payload)
		}
		if _, err := stmt.ExecContext(ctx, int64(r.ID), r.Type, r.Severity, r.Message,
			r.SourceSensorID, r.CreatedAt.UnixNano(), payload); err != nil {
			return fmt.Errorf("insert alert %d: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// MaxID returns the highest persisted id.
func (s *SQLite) MaxID(ctx context.Context) (uint64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM alerts`).Scan(&max); err != nil {
		return 0, fmt.Errorf("max id: %w", err)
	}
	return uint64(max.Int64), nil
}

// List returns alerts newest first.
func (s *SQLite) List(ctx context.Context, q Query) ([]models.Alert, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var (
		where []string
		args  []any
	)
	if q.AfterID > 0 {
		where = append(where, "id > ?")
		args = append(args, int64(q.AfterID))
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at > ?")
		args = append(args, q.Since.UTC().UnixNano())
	}

	query := `SELECT id, alert_type, severity, message, source_sensor_id, created_at, payload FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		var (
			r         row
			id        int64
			createdAt int64
			payload   sql.NullString
		)
		if err := rows.Scan(&id, &r.Type, &r.Severity, &r.Message, &r.SourceSensorID, &createdAt, &payload); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		r.ID = uint64(id)
		r.CreatedAt = time.Unix(0, createdAt)
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

// Ping checks the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
