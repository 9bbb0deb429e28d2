// Package storage persists logged alerts. The alert log owns id assignment
// and ordering; a store only has to make batches durable atomically.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tidewatch/internal/config"
	"tidewatch/internal/models"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("storage is closed")

// Query selects alerts newest first. Zero values mean "no bound".
type Query struct {
	Limit   int
	AfterID uint64
	Since   time.Time
}

// AlertStore persists alerts durably.
type AlertStore interface {
	// InsertBatch writes all alerts in one transaction; either all are
	// durable when it returns nil or none are.
	InsertBatch(ctx context.Context, alerts []models.Alert) error
	// MaxID returns the highest persisted alert id, or 0 when empty.
	MaxID(ctx context.Context) (uint64, error)
	// List returns alerts matching q ordered by id descending.
	List(ctx context.Context, q Query) ([]models.Alert, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open returns the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (AlertStore, error) {
	switch cfg.Backend {
	case "", "sqlite":
		s, err := NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		p, err := NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
