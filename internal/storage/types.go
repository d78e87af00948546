package storage

import (
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("run not found")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Run is one dispatch run. It is saved when the run starts and again
// when it finishes.
type Run struct {
	ID         string    `json:"id"`
	Source     string    `json:"source,omitempty"`
	Outcome    string    `json:"outcome"`
	Total      int       `json:"total"`
	Attempted  int       `json:"attempted"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Workers    []string  `json:"workers"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

func (r Run) Finished() bool { return !r.FinishedAt.IsZero() }

// Delivery is one attempt to send a link.
type Delivery struct {
	RunID  string    `json:"run_id"`
	Index  int       `json:"index"`
	Worker string    `json:"worker"`
	Link   string    `json:"link"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
	TookMS int64     `json:"took_ms"`
	At     time.Time `json:"at"`
}
