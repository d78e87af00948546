package app

import (
	"context"
	"strings"

	"hermes/internal/config"
	"hermes/internal/linkgen"
	"hermes/pkg/logx"
)

// reloadLoop applies committed configs. Bursts are coalesced to the latest.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.apply(ctx, last, next)
			last = next
		}
	}
}

func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	sections, fields := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	st, err := Resolve(next)
	if err != nil {
		// the manager validates before commit; this only guards direct calls
		a.log.Warn("config does not resolve; keeping previous", logx.Err(err))
		return
	}

	var restart []string
	for _, s := range sections {
		if !config.LiveSections[s] {
			restart = append(restart, s)
		}
	}

	a.logs.Apply(next.Logging.Logx())
	a.sched.SetPacing(st.Dispatch.Pacing)
	a.gen.Store(linkgen.New(st.Generator))
	if err := a.obs.Apply(ctx, st.Observability); err != nil {
		a.log.Warn("observability not applied", logx.Err(err))
	}
	if a.trigger != nil {
		if err := a.trigger.Apply(st.Trigger); err != nil {
			a.log.Warn("schedule not applied; keeping previous", logx.Err(err))
		}
	}
	if a.router != nil && next.Telegram != nil {
		a.router.SetOwners(next.Telegram.OwnerUserIDs)
	}

	// restart-only sections keep their running values
	cur := a.Settings()
	cur.Dispatch.Pacing = st.Dispatch.Pacing
	cur.Generator = st.Generator
	cur.AddressHint = st.AddressHint
	cur.Observability = st.Observability
	cur.Trigger = st.Trigger
	a.settings.Store(&cur)

	fields = append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)
	a.log.Info("config reloaded", fields...)
	if len(restart) > 0 {
		a.log.Warn("some changes need a restart", logx.Strings("sections", restart))
	}
}
