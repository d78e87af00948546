package control

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"hermes/internal/dispatch"
	"hermes/internal/eventbus"
	kit "hermes/internal/transport"
	"hermes/pkg/logx"
)

const defaultEditEvery = 10 * time.Second

// Announcer posts a live status card to a chat for every run: sent when the
// run starts, edited on progress (rate limited) and replaced by a summary
// when it ends.
type Announcer struct {
	adapter kit.Adapter
	target  kit.ChatTarget
	log     logx.Logger
	edits   *rate.Limiter

	ch          <-chan eventbus.Event
	unsubscribe func()

	mu    sync.Mutex
	cards map[string]kit.MessageRef
}

// NewAnnouncer subscribes immediately. editEvery <= 0 uses 10s.
func NewAnnouncer(adapter kit.Adapter, target kit.ChatTarget, bus eventbus.Bus, editEvery time.Duration, log logx.Logger) *Announcer {
	if editEvery <= 0 {
		editEvery = defaultEditEvery
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	ch, unsub := bus.Subscribe(64, dispatch.TopicStarted, dispatch.TopicProgress, dispatch.TopicFinished)
	return &Announcer{
		adapter:     adapter,
		target:      target,
		log:         log.With(logx.String("comp", "control.announce")),
		edits:       rate.NewLimiter(rate.Every(editEvery), 1),
		ch:          ch,
		unsubscribe: unsub,
		cards:       map[string]kit.MessageRef{},
	}
}

func (a *Announcer) Run(ctx context.Context) error {
	defer a.unsubscribe()
	if a.target.ChatID == 0 {
		a.log.Debug("no announce chat configured")
		<-ctx.Done()
		return nil
	}
	eventbus.Consume(ctx, a.ch, func(e eventbus.Event) { a.handle(ctx, e) })
	return nil
}

func (a *Announcer) handle(ctx context.Context, e eventbus.Event) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	switch v := e.Data.(type) {
	case dispatch.Started:
		card := StatusCard(dispatch.Snapshot{
			RunID: v.RunID, State: dispatch.Running, Outcome: dispatch.Running,
			Total: v.Total, StartedAt: v.StartedAt,
		})
		ref, err := card.Send(sctx, a.adapter, a.target)
		if err != nil {
			a.log.Warn("announce start failed", logx.String("run", v.RunID), logx.Err(err))
			return
		}
		a.mu.Lock()
		a.cards[v.RunID] = ref
		a.mu.Unlock()

	case dispatch.Snapshot:
		if !v.State.Active() || !a.edits.Allow() {
			return
		}
		a.mu.Lock()
		ref, ok := a.cards[v.RunID]
		a.mu.Unlock()
		if !ok {
			return
		}
		if err := StatusCard(v).Edit(sctx, a.adapter, ref); err != nil {
			a.log.Debug("status card edit failed", logx.String("run", v.RunID), logx.Err(err))
		}

	case dispatch.Summary:
		a.mu.Lock()
		ref, ok := a.cards[v.RunID]
		delete(a.cards, v.RunID)
		a.mu.Unlock()
		msg := SummaryCard(v)
		if ok {
			if err := msg.Edit(sctx, a.adapter, ref); err == nil {
				return
			}
		}
		if _, err := msg.Send(sctx, a.adapter, a.target); err != nil {
			a.log.Warn("announce summary failed", logx.String("run", v.RunID), logx.Err(err))
		}
	}
}
