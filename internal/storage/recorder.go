package storage

import (
	"context"
	"sync"
	"time"

	"hermes/internal/dispatch"
	"hermes/internal/eventbus"
	"hermes/pkg/logx"
)

// Recorder writes dispatch events to a Store.
type Recorder struct {
	store Store
	log   logx.Logger

	ch          <-chan eventbus.Event
	unsubscribe func()

	mu     sync.Mutex
	runs   map[string]Run
	labels map[string]string
}

// NewRecorder subscribes to bus right away so no event published after it
// returns is missed. Run drains the subscription.
func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	ch, unsub := bus.Subscribe(256, dispatch.TopicStarted, dispatch.TopicDelivery, dispatch.TopicFinished)
	return &Recorder{
		store:       store,
		log:         log,
		ch:          ch,
		unsubscribe: unsub,
		runs:        map[string]Run{},
		labels:      map[string]string{},
	}
}

// Label records what started a run ("cli", "telegram", "schedule").
// It may be called before or after the run's start event is handled.
func (r *Recorder) Label(ctx context.Context, runID, source string) {
	r.mu.Lock()
	run, ok := r.runs[runID]
	if !ok {
		r.labels[runID] = source
		r.mu.Unlock()
		return
	}
	run.Source = source
	r.runs[runID] = run
	r.mu.Unlock()
	r.save(ctx, run)
}

// Run consumes events until ctx is done, then writes whatever is still
// buffered.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.unsubscribe()
	eventbus.Consume(ctx, r.ch, func(e eventbus.Event) { r.handle(ctx, e) })
	for {
		select {
		case e, ok := <-r.ch:
			if !ok {
				return nil
			}
			r.handle(ctx, e)
		default:
			return nil
		}
	}
}

func (r *Recorder) handle(ctx context.Context, e eventbus.Event) {
	// Writes outlive ctx so the final summary of a canceled host still lands.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	switch d := e.Data.(type) {
	case dispatch.Started:
		run := Run{
			ID:        d.RunID,
			Outcome:   dispatch.Running.String(),
			Total:     d.Total,
			Workers:   d.Workers,
			StartedAt: d.StartedAt,
		}
		r.mu.Lock()
		if src, ok := r.labels[d.RunID]; ok {
			run.Source = src
			delete(r.labels, d.RunID)
		}
		r.runs[d.RunID] = run
		r.mu.Unlock()
		r.save(wctx, run)

	case dispatch.Delivery:
		rec := Delivery{
			RunID:  d.RunID,
			Index:  d.Index,
			Worker: d.Worker,
			Link:   d.Link,
			OK:     d.OK(),
			TookMS: d.Took.Milliseconds(),
			At:     d.At,
		}
		if d.Err != nil {
			rec.Error = d.Err.Error()
		}
		if err := r.store.AppendDelivery(wctx, rec); err != nil {
			r.log.Warn("history: delivery not recorded", logx.String("run", d.RunID), logx.Err(err))
		}

	case dispatch.Summary:
		r.mu.Lock()
		run := r.runs[d.RunID]
		delete(r.runs, d.RunID)
		if src, ok := r.labels[d.RunID]; ok {
			run.Source = src
			delete(r.labels, d.RunID)
		}
		r.mu.Unlock()

		run.ID = d.RunID
		run.Outcome = d.Outcome.String()
		run.Total = d.Total
		run.Attempted = d.Attempted
		run.Sent = d.Sent
		run.Failed = d.Failed
		run.Workers = d.Workers
		run.StartedAt = d.StartedAt
		run.FinishedAt = d.FinishedAt
		r.save(wctx, run)
	}
}

func (r *Recorder) save(ctx context.Context, run Run) {
	if err := r.store.SaveRun(ctx, run); err != nil {
		r.log.Warn("history: run not recorded", logx.String("run", run.ID), logx.Err(err))
	}
}
