// Package dispatch drives a fixed sequence of links through a pool of
// workers, one link at a time, under operator control.
//
// A run moves Idle -> Running <-> Paused -> Completed|Canceled and the
// scheduler returns to Idle afterwards. Pause, resume and cancel are
// cooperative: the background loop observes them between steps and while
// waiting, in PollInterval quanta.
package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"hermes/internal/eventbus"
	"hermes/pkg/logx"
)

type Option func(*Scheduler)

func WithBus(b eventbus.Bus) Option { return func(s *Scheduler) { s.bus = b } }

func WithLogger(l logx.Logger) Option { return func(s *Scheduler) { s.log = l } }

// WithRunner hosts run goroutines on r instead of bare goroutines.
func WithRunner(r Runner) Option { return func(s *Scheduler) { s.runner = r } }

// WithLinkLabel sets how a link is named in log lines (e.g. its address).
func WithLinkLabel(fn func(link string) string) Option {
	return func(s *Scheduler) { s.label = fn }
}

// WithRand replaces the [0,1) source used to pick inter-send delays.
func WithRand(fn func() float64) Option { return func(s *Scheduler) { s.rand = fn } }

type run struct {
	id        string
	links     []string
	workers   []string
	startedAt time.Time
	done      chan struct{}

	// Written only by the run goroutine. current is bumped before sent or
	// failed, and readers load it last, so sent+failed <= current holds in
	// every snapshot.
	current atomic.Int64
	sent    atomic.Int64
	failed  atomic.Int64

	// Guarded by Scheduler.mu.
	outcome    State
	finishedAt time.Time

	// Set once before done is closed.
	result Summary
}

type Scheduler struct {
	driver Driver
	bus    eventbus.Bus
	log    logx.Logger
	runner Runner
	label  func(string) string
	rand   func() float64

	mu       sync.Mutex
	cfg      Config
	state    State
	canceled bool
	active   *run
	last     *run
}

func New(driver Driver, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		driver: driver,
		cfg:    cfg.normalize(),
		runner: goRunner{},
		label:  func(link string) string { return link },
		rand:   rand.Float64,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start begins a run over links, assigning link i to workers[i % len(workers)].
// ctx bounds the whole run; its cancellation cancels the run. Start refuses
// (with an error marked ErrPrecondition) when either list is empty or a run
// is already active, and changes nothing in that case.
func (s *Scheduler) Start(ctx context.Context, links, workers []string) (string, error) {
	if len(links) == 0 {
		return "", ErrNoLinks
	}
	if len(workers) == 0 {
		return "", ErrNoWorkers
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return "", ErrRunActive
	}
	r := &run{
		id:        uuid.NewString(),
		links:     slices.Clone(links),
		workers:   slices.Clone(workers),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	s.active = r
	s.state = Running
	s.canceled = false
	s.mu.Unlock()

	s.publish(TopicStarted, Started{RunID: r.id, Total: len(r.links), Workers: r.workers, StartedAt: r.startedAt})
	s.runner.Go("dispatch.run", func(host context.Context) error {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(host, cancel)
		defer stop()
		s.execute(runCtx, r)
		return nil
	})
	return r.id, nil
}

// Pause suspends an active run. It reports whether the state changed.
func (s *Scheduler) Pause() bool {
	s.mu.Lock()
	if s.state != Running || s.canceled {
		s.mu.Unlock()
		return false
	}
	s.state = Paused
	r := s.active
	s.mu.Unlock()

	s.emit(r, TagWarning, "paused")
	s.publish(TopicProgress, s.Snapshot())
	return true
}

// Resume continues a paused run. It reports whether the state changed.
func (s *Scheduler) Resume() bool {
	s.mu.Lock()
	if s.state != Paused {
		s.mu.Unlock()
		return false
	}
	s.state = Running
	r := s.active
	s.mu.Unlock()

	s.emit(r, TagSuccess, "resumed")
	s.publish(TopicProgress, s.Snapshot())
	return true
}

// Toggle pauses a running run or resumes a paused one and returns the
// resulting state.
func (s *Scheduler) Toggle() State {
	if s.Pause() {
		return Paused
	}
	if s.Resume() {
		return Running
	}
	return s.State()
}

// Cancel asks the active run to stop at its next check point. A delivery in
// flight is allowed to finish.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	if !s.state.Active() || s.canceled {
		s.mu.Unlock()
		return false
	}
	s.canceled = true
	r := s.active
	s.mu.Unlock()

	s.emit(r, TagWarning, "canceling")
	return true
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetPacing replaces the inter-send delay window. An active run picks it up
// at its next delay.
func (s *Scheduler) SetPacing(p Pacing) {
	s.mu.Lock()
	s.cfg.Pacing = p.normalize()
	s.mu.Unlock()
}

// Snapshot returns the counters and projection of the active run, or of the
// last finished run when idle.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	state := s.state
	r := s.active
	outcome := state
	var finishedAt time.Time
	if r == nil && s.last != nil {
		r = s.last
		outcome = r.outcome
		finishedAt = r.finishedAt
	}
	s.mu.Unlock()

	if r == nil {
		return Snapshot{State: state, Outcome: state}
	}
	sent := int(r.sent.Load())
	failed := int(r.failed.Load())
	current := int(r.current.Load())

	end := finishedAt
	if end.IsZero() {
		end = time.Now()
	}
	p := Project(r.startedAt, end, current, len(r.links))
	return Snapshot{
		RunID:              r.id,
		State:              state,
		Outcome:            outcome,
		CurrentIndex:       current,
		Total:              len(r.links),
		Sent:               sent,
		Failed:             failed,
		StartedAt:          r.startedAt,
		FinishedAt:         finishedAt,
		Elapsed:            p.Elapsed,
		AveragePerItem:     p.AveragePerItem,
		EstimatedRemaining: p.EstimatedRemaining,
	}
}

// Wait blocks until the active run ends and returns its summary. When idle
// it returns the last run's summary, or a zero Summary if nothing ran yet.
func (s *Scheduler) Wait(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	r := s.active
	if r == nil {
		r = s.last
	}
	s.mu.Unlock()
	if r == nil {
		return Summary{}, nil
	}
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
}

func (s *Scheduler) execute(ctx context.Context, r *run) {
	outcome := Canceled
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("dispatch run panicked", logx.String("run", r.id), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			s.emit(r, TagError, fmt.Sprintf("run aborted: %v", p))
			outcome = Canceled
		}
		s.finish(r, outcome)
	}()

	total := len(r.links)
	s.emit(r, TagInfo, fmt.Sprintf("starting dispatch of %d links across %d workers", total, len(r.workers)))

	for _, w := range r.workers {
		if !s.proceed(ctx) {
			return
		}
		s.reset(ctx, r, w)
	}
	settle := s.Config().SettleDelay
	s.emit(r, TagInfo, fmt.Sprintf("waiting %s before the first delivery", settle))
	if !s.wait(ctx, settle) {
		return
	}

	for i, link := range r.links {
		if !s.proceed(ctx) {
			return
		}
		w := r.workers[i%len(r.workers)]
		s.reset(ctx, r, w)
		if !s.proceed(ctx) {
			return
		}
		s.deliver(ctx, r, i, w, link)

		if i == total-1 {
			break
		}
		delay := s.nextDelay()
		s.emit(r, TagInfo, fmt.Sprintf("waiting %.1fs", delay.Seconds()))
		if !s.wait(ctx, delay) {
			return
		}
	}
	outcome = Completed
}

func (s *Scheduler) reset(ctx context.Context, r *run, worker string) {
	apps := s.Config().AppIDs
	s.emit(r, TagInfo, fmt.Sprintf("closing apps on %s", worker))
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = errors.Newf("driver panic: %v", p)
			}
		}()
		return s.driver.Reset(ctx, worker, apps)
	}()
	if err != nil {
		err = errors.Mark(err, ErrReset)
		s.emit(r, TagWarning, fmt.Sprintf("could not close apps on %s: %v", worker, err))
	}
}

func (s *Scheduler) deliver(ctx context.Context, r *run, i int, worker, link string) {
	total := len(r.links)
	s.emit(r, TagInfo, fmt.Sprintf("%d/%d -> %s on %s", i+1, total, s.label(link), worker))

	began := time.Now()
	err := s.callDeliver(ctx, worker, link)
	took := time.Since(began)

	r.current.Add(1)
	if err != nil {
		r.failed.Add(1)
		s.emit(r, TagError, fmt.Sprintf("%d/%d failed: %v", i+1, total, err))
	} else {
		r.sent.Add(1)
		s.emit(r, TagSuccess, fmt.Sprintf("%d/%d sent", i+1, total))
	}
	s.publish(TopicDelivery, Delivery{RunID: r.id, Index: i, Worker: worker, Link: link, Err: err, Took: took, At: time.Now()})
	s.publish(TopicProgress, s.Snapshot())
}

func (s *Scheduler) callDeliver(ctx context.Context, worker, link string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Mark(errors.Newf("driver panic: %v", p), ErrDelivery)
		}
	}()
	return classify(s.driver.Deliver(ctx, worker, link))
}

func (s *Scheduler) finish(r *run, outcome State) {
	now := time.Now()
	s.mu.Lock()
	r.outcome = outcome
	r.finishedAt = now
	s.active = nil
	s.last = r
	s.state = Idle
	s.canceled = false
	s.mu.Unlock()

	r.result = Summary{
		RunID:      r.id,
		Outcome:    outcome,
		Total:      len(r.links),
		Attempted:  int(r.current.Load()),
		Sent:       int(r.sent.Load()),
		Failed:     int(r.failed.Load()),
		Workers:    r.workers,
		StartedAt:  r.startedAt,
		FinishedAt: now,
	}
	if outcome == Canceled {
		s.emit(r, TagWarning, "dispatch canceled")
	} else {
		s.emit(r, TagSuccess, "dispatch finished")
	}
	s.emit(r, TagInfo, fmt.Sprintf("sent: %d | failed: %d", r.result.Sent, r.result.Failed))
	s.publish(TopicFinished, r.result)
	close(r.done)
}

// proceed blocks while the run is paused and reports whether it may go on.
// Cancellation of ctx counts as a cancel request.
func (s *Scheduler) proceed(ctx context.Context) bool {
	for {
		s.mu.Lock()
		if ctx.Err() != nil {
			s.canceled = true
		}
		paused, stop := s.state == Paused, s.canceled
		poll := s.cfg.PollInterval
		s.mu.Unlock()

		if stop {
			return false
		}
		if !paused {
			return true
		}
		sleep(ctx, poll)
	}
}

// wait sleeps for d in poll quanta. Time spent paused does not count.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	for waited := time.Duration(0); waited < d; {
		if !s.proceed(ctx) {
			return false
		}
		q := min(s.Config().PollInterval, d-waited)
		sleep(ctx, q)
		waited += q
	}
	return s.proceed(ctx)
}

func (s *Scheduler) nextDelay() time.Duration {
	p := s.Config().Pacing
	span := p.DelayMax - p.DelayMin
	if span <= 0 {
		return p.DelayMin
	}
	return p.DelayMin + time.Duration(s.rand()*float64(span))
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (s *Scheduler) emit(r *run, tag Tag, text string) {
	id := ""
	if r != nil {
		id = r.id
	}
	lvl := logx.LevelInfo
	switch tag {
	case TagWarning:
		lvl = logx.LevelWarn
	case TagError:
		lvl = logx.LevelError
	}
	s.log.Log(lvl, text, logx.String("run", id), logx.String("tag", string(tag)))
	s.publish(TopicLog, LogLine{RunID: id, Tag: tag, Text: text, At: time.Now()})
}

func (s *Scheduler) publish(topic string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Topic: topic, Data: data})
}
