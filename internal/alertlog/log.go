// Package alertlog is the durable, totally ordered log of alerts. It assigns
// ids and delegates persistence to a storage.AlertStore.
package alertlog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tidewatch/internal/logger"
	"tidewatch/internal/metrics"
	"tidewatch/internal/models"
	"tidewatch/internal/storage"
)

const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 1000
)

var ErrInvalidCursor = errors.New("since must be an alert id or an RFC3339 timestamp")

// Cursor bounds a query to alerts newer than an id or an instant.
type Cursor struct {
	AfterID uint64
	Since   time.Time
}

// ParseCursor accepts "", a decimal alert id, or an RFC3339 timestamp.
func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	if id, err := strconv.ParseUint(s, 10, 64); err == nil {
		return Cursor{AfterID: id}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Cursor{Since: t.UTC()}, nil
	}
	return Cursor{}, &models.ValidationError{Field: "since", Err: ErrInvalidCursor}
}

// Log serializes id assignment behind one mutex. An id is consumed only
// when the batch carrying it has been committed, so ids stay gap-free.
type Log struct {
	mu     sync.Mutex
	store  storage.AlertStore
	lastID uint64
	now    func() time.Time
	log    zerolog.Logger
}

// Open resumes the id sequence from the highest persisted id.
func Open(ctx context.Context, store storage.AlertStore) (*Log, error) {
	last, err := store.MaxID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resume alert ids: %w", err)
	}

	l := &Log{
		store:  store,
		lastID: last,
		now:    time.Now,
		log:    logger.WithComponent("alert_log"),
	}
	l.log.Info().Uint64("last_id", last).Msg("alert log opened")
	return l, nil
}

// Append logs a single alert.
func (l *Log) Append(ctx context.Context, a models.Alert) (models.Alert, error) {
	out, err := l.AppendBatch(ctx, []models.Alert{a})
	if err != nil {
		return models.Alert{}, err
	}
	return out[0], nil
}

// AppendBatch assigns consecutive ids and a creation time to alerts and
// persists them in one transaction. On failure nothing is logged and a
// *models.WriteError is returned.
func (l *Log) AppendBatch(ctx context.Context, alerts []models.Alert) ([]models.Alert, error) {
	if len(alerts) == 0 {
		return nil, nil
	}
	for i := range alerts {
		if err := alerts[i].Validate(); err != nil {
			return nil, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	createdAt := l.now().UTC().Truncate(time.Microsecond)

	out := make([]models.Alert, len(alerts))
	for i, a := range alerts {
		a.ID = l.lastID + uint64(i) + 1
		a.CreatedAt = createdAt
		out[i] = a
	}

	if err := l.store.InsertBatch(ctx, out); err != nil {
		metrics.AlertLogWriteErrors.Inc()
		l.log.Error().Err(err).Int("alerts", len(out)).Msg("failed to persist alerts")
		return nil, &models.WriteError{Op: "append", Err: err}
	}

	l.lastID += uint64(len(out))
	metrics.AlertLogAppendDuration.Observe(time.Since(start).Seconds())
	for _, a := range out {
		metrics.AlertsEmittedTotal.WithLabelValues(a.Type, string(a.Severity)).Inc()
	}
	return out, nil
}

// Query returns up to limit alerts newer than since, newest first. limit <= 0
// means DefaultQueryLimit; it is capped at MaxQueryLimit.
func (l *Log) Query(ctx context.Context, limit int, since Cursor) ([]models.Alert, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	alerts, err := l.store.List(ctx, storage.Query{
		Limit:   limit,
		AfterID: since.AfterID,
		Since:   since.Since,
	})
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	return alerts, nil
}

// LastID returns the id of the most recently logged alert.
func (l *Log) LastID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastID
}

// Ping checks the backing store.
func (l *Log) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}

// Close closes the backing store.
func (l *Log) Close() error {
	return l.store.Close()
}
