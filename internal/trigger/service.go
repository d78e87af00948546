// Package trigger starts dispatch runs on a schedule. Each tick loads the
// configured links file and launches a run unless one is already active.
package trigger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	"hermes/internal/dispatch"
	"hermes/pkg/logx"
)

// Source labels runs started by the trigger in history.
const Source = "schedule"

// Launcher starts a run from a links file.
type Launcher interface {
	Launch(ctx context.Context, path, source string) (runID string, total int, err error)
}

type Config struct {
	// Schedule empty disables the trigger.
	Schedule  string
	LinksFile string
	Timezone  string
}

type Service struct {
	launch Launcher
	log    logx.Logger
	parser cron.Parser

	mu    sync.Mutex
	ctx   context.Context
	cfg   Config
	c     *cron.Cron
	entry cron.EntryID

	// read by ticks; separate from mu, which is held while waiting for a
	// tick to finish
	jobMu   sync.Mutex
	jobCtx  context.Context
	jobPath string
}

func New(launch Launcher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		launch: launch,
		log:    log.With(logx.String("comp", "trigger")),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start installs cfg. Runs are launched with ctx, so its cancellation
// cancels scheduled runs too.
func (s *Service) Start(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	return s.installLocked(cfg)
}

// Apply reschedules when cfg differs from the installed one. On error the
// previous schedule keeps running.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return errors.New("trigger not started")
	}
	if cfg == s.cfg {
		return nil
	}
	return s.installLocked(cfg)
}

func (s *Service) installLocked(cfg Config) error {
	cfg.Schedule = strings.TrimSpace(cfg.Schedule)
	if cfg.Schedule == "" {
		s.stopLocked()
		s.cfg = cfg
		s.log.Debug("no schedule configured")
		return nil
	}
	if strings.TrimSpace(cfg.LinksFile) == "" {
		return fmt.Errorf("schedule %q needs a links file", cfg.Schedule)
	}

	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	sched, err := s.build(spec)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", cfg.Schedule, err)
	}
	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return err
	}

	s.stopLocked()
	s.jobMu.Lock()
	s.jobCtx, s.jobPath = s.ctx, cfg.LinksFile
	s.jobMu.Unlock()

	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.entry = c.Schedule(sched, cron.FuncJob(s.fire))
	c.Start()
	s.c = c
	s.cfg = cfg

	s.log.Info("schedule installed",
		logx.String("schedule", cfg.Schedule),
		logx.String("kind", spec.Source),
		logx.String("tz", loc.String()),
		logx.Time("next", c.Entry(s.entry).Next),
	)
	return nil
}

func (s *Service) build(spec ParsedSpec) (cron.Schedule, error) {
	if spec.Kind == SpecInterval {
		return cron.Every(spec.Every), nil
	}
	return s.parser.Parse(spec.Cron)
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", tz, err)
	}
	return loc, nil
}

// Next returns the next tick, or zero when no schedule is installed.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

// Stop removes the schedule and waits for a tick in progress.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Service) stopLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
	s.entry = 0
}

func (s *Service) fire() {
	s.jobMu.Lock()
	ctx, path := s.jobCtx, s.jobPath
	s.jobMu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	id, total, err := s.launch.Launch(ctx, path, Source)
	switch {
	case errors.Is(err, dispatch.ErrRunActive):
		s.log.Info("scheduled run skipped, a run is active")
	case err != nil:
		s.log.Warn("scheduled run failed to start", logx.String("links_file", path), logx.Err(err))
	default:
		s.log.Info("scheduled run started", logx.String("run", id), logx.Int("links", total))
	}
}

// cronLogger routes cron's own logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) { l.log.Debug("cron: "+msg, kvFields(kv)...) }

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
