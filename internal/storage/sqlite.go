package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"hermes/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer: the recorder serializes everything anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	log.Debug("sqlite storage opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveRun(ctx context.Context, r Run) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	workers, err := json.Marshal(r.Workers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs(id, source, outcome, total, attempted, sent, failed, workers, started_at, finished_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
			source=excluded.source, outcome=excluded.outcome, total=excluded.total,
			attempted=excluded.attempted, sent=excluded.sent, failed=excluded.failed,
			workers=excluded.workers, started_at=excluded.started_at, finished_at=excluded.finished_at`,
		r.ID, nullStr(r.Source), r.Outcome, r.Total, r.Attempted, r.Sent, r.Failed, string(workers),
		r.StartedAt.UnixMilli(), nullTime(r.FinishedAt),
	)
	return errors.Wrapf(err, "save run %s", r.ID)
}

func (s *sqliteStore) AppendDelivery(ctx context.Context, d Delivery) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if d.At.IsZero() {
		d.At = time.Now()
	}
	ok := 0
	if d.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO deliveries(run_id, idx, worker, link, ok, err, took_ms, at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		d.RunID, d.Index, d.Worker, d.Link, ok, nullStr(d.Error), d.TookMS, d.At.UnixMilli(),
	)
	return errors.Wrapf(err, "append delivery %s/%d", d.RunID, d.Index)
}

func (s *sqliteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q := `SELECT id, source, outcome, total, attempted, sent, failed, workers, started_at, finished_at
	      FROM runs ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r        Run
			source   sql.NullString
			workers  string
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &source, &r.Outcome, &r.Total, &r.Attempted, &r.Sent, &r.Failed, &workers, &started, &finished); err != nil {
			return nil, err
		}
		r.Source = source.String
		if err := json.Unmarshal([]byte(workers), &r.Workers); err != nil {
			return nil, errors.Wrapf(err, "run %s: workers", r.ID)
		}
		r.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			r.FinishedAt = time.UnixMilli(finished.Int64)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Deliveries(ctx context.Context, runID string) ([]Delivery, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errors.Wrapf(ErrNotFound, "run %s", runID)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, idx, worker, link, ok, err, took_ms, at FROM deliveries WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var (
			d   Delivery
			ok  int
			msg sql.NullString
			at  int64
		)
		if err := rows.Scan(&d.RunID, &d.Index, &d.Worker, &d.Link, &ok, &msg, &d.TookMS, &at); err != nil {
			return nil, err
		}
		d.OK = ok != 0
		d.Error = msg.String
		d.At = time.UnixMilli(at)
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
