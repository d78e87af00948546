package storage

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"hermes/pkg/logx"
)

// Store persists run history.
type Store interface {
	// SaveRun inserts or replaces the run with the same ID.
	SaveRun(ctx context.Context, r Run) error
	AppendDelivery(ctx context.Context, d Delivery) error
	// ListRuns returns the most recent runs first. limit <= 0 means all.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	// Deliveries returns the attempts of one run in index order.
	Deliveries(ctx context.Context, runID string) ([]Delivery, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.Newf("storage.path is required for the %s driver", driver)
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.Newf("unknown storage driver: %s", driver)
	}
}
