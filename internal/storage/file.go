package storage

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"hermes/pkg/logx"
)

const compactEvery = 200

// fileStore keeps history in JSON Lines files.
//
// Files:
//   - <prefix>.runs.snapshot.json (compacted runs, keyed by id)
//   - <prefix>.runs.journal.jsonl (run writes since the last snapshot)
//   - <prefix>.deliveries.jsonl   (append-only)
//
// Runs are held in memory. The journal is folded into the snapshot every
// compactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	runs         map[string]Run
	snapshotPath string
	journal      *os.File
	journalN     int

	deliveriesPath string
	deliveries     *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	prefix := filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base)))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:            log,
		runs:           map[string]Run{},
		snapshotPath:   prefix + ".runs.snapshot.json",
		deliveriesPath: prefix + ".deliveries.jsonl",
	}
	journalPath := prefix + ".runs.journal.jsonl"

	if err := loadSnapshot(s.snapshotPath, s.runs); err != nil && !os.IsNotExist(err) {
		log.Warn("run snapshot unreadable; starting from journal", logx.Err(err))
	}
	if err := replayJournal(journalPath, s.runs); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "replay run journal")
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	df, err := os.OpenFile(s.deliveriesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = jf.Close()
		return nil, err
	}
	s.journal = jf
	s.deliveries = df
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journal != nil {
		if s.journalN > 0 {
			errs = append(errs, s.compactLocked())
		}
		errs = append(errs, s.journal.Close())
		s.journal = nil
	}
	if s.deliveries != nil {
		errs = append(errs, s.deliveries.Close())
		s.deliveries = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) SaveRun(_ context.Context, r Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrDisabled
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return errors.Wrapf(err, "save run %s", r.ID)
	}
	s.runs[r.ID] = r
	s.journalN++
	if s.journalN%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("run journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) AppendDelivery(_ context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveries == nil {
		return ErrDisabled
	}
	return errors.Wrapf(json.NewEncoder(s.deliveries).Encode(d), "append delivery %s/%d", d.RunID, d.Index)
}

func (s *fileStore) ListRuns(_ context.Context, limit int) ([]Run, error) {
	s.mu.Lock()
	out := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b Run) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fileStore) Deliveries(_ context.Context, runID string) ([]Delivery, error) {
	s.mu.Lock()
	_, known := s.runs[runID]
	s.mu.Unlock()
	if !known {
		return nil, errors.Wrapf(ErrNotFound, "run %s", runID)
	}

	f, err := os.Open(s.deliveriesPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Delivery
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var d Delivery
		if err := json.Unmarshal(sc.Bytes(), &d); err != nil || d.RunID != runID {
			continue
		}
		out = append(out, d)
	}
	slices.SortStableFunc(out, func(a, b Delivery) int { return cmp.Compare(a.Index, b.Index) })
	return out, sc.Err()
}

// compactLocked writes the in-memory runs to the snapshot and truncates the
// journal.
func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.runs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	s.journalN = 0
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]Run) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]Run
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

// replayJournal applies journal lines in order. Torn lines are skipped.
func replayJournal(path string, out map[string]Run) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var r Run
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.ID == "" {
			continue
		}
		out[r.ID] = r
	}
	return sc.Err()
}
