package control

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"hermes/internal/dispatch"
	"hermes/internal/storage"
	"hermes/pkg/tgui"
)

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func count(n int) string { return humanize.Comma(int64(n)) }

func roundDur(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return d.Round(time.Second).String()
}

func stateEmoji(s dispatch.State) string {
	switch s {
	case dispatch.Running:
		return "📤"
	case dispatch.Paused:
		return "⏸"
	case dispatch.Completed:
		return "✅"
	case dispatch.Canceled:
		return "⏹"
	default:
		return "💤"
	}
}

// StatusCard renders a snapshot with the buttons that apply to its state.
func StatusCard(s dispatch.Snapshot) tgui.Message {
	c := tgui.NewCard()
	if s.RunID == "" {
		return c.Title(stateEmoji(dispatch.Idle), "no run yet").Build()
	}
	state := s.State
	if !state.Active() {
		state = s.Outcome
	}
	c.Title(stateEmoji(state), "run "+shortID(s.RunID)+" "+state.String())
	c.KV("progress", fmt.Sprintf("%s/%s (%.1f%%)", count(s.CurrentIndex), count(s.Total), s.Percent()))
	c.KV("sent", count(s.Sent))
	c.KV("failed", count(s.Failed))
	c.KV("elapsed", roundDur(s.Elapsed))
	if state.Active() && s.EstimatedRemaining > 0 {
		c.KV("remaining", "~"+roundDur(s.EstimatedRemaining))
	}
	if !s.StartedAt.IsZero() {
		c.KV("started", humanize.Time(s.StartedAt))
	}

	switch state {
	case dispatch.Running:
		c.Button("⏸ Pause", "pause", s.RunID).Button("⏹ Cancel", "cancel", s.RunID)
	case dispatch.Paused:
		c.Button("▶️ Resume", "resume", s.RunID).Button("⏹ Cancel", "cancel", s.RunID)
	}
	if state.Active() {
		c.Button("🔄", "status", s.RunID)
	}
	return c.Build()
}

// SummaryCard renders a finished run.
func SummaryCard(s dispatch.Summary) tgui.Message {
	c := tgui.NewCard().Title(stateEmoji(s.Outcome), "run "+shortID(s.RunID)+" "+s.Outcome.String())
	c.KV("attempted", count(s.Attempted)+"/"+count(s.Total))
	c.KV("sent", count(s.Sent))
	c.KV("failed", count(s.Failed))
	c.KV("workers", strings.Join(s.Workers, ", "))
	c.KV("took", roundDur(s.Elapsed()))
	return c.Build()
}

// HistoryCard renders past runs, newest first.
func HistoryCard(runs []storage.Run) tgui.Message {
	c := tgui.NewCard().Title("🗂", "recent runs")
	if len(runs) == 0 {
		return c.Line("no runs recorded").Build()
	}
	for _, r := range runs {
		line := fmt.Sprintf("%s %s %s · %s sent, %s failed of %s",
			stateEmojiName(r.Outcome), shortID(r.ID), r.StartedAt.Local().Format("2006-01-02 15:04"),
			count(r.Sent), count(r.Failed), count(r.Total))
		if r.Source != "" {
			line += " · " + r.Source
		}
		c.Line(tgui.TruncRunes(line, 120))
	}
	return c.Build()
}

func stateEmojiName(outcome string) string {
	for _, s := range []dispatch.State{dispatch.Running, dispatch.Paused, dispatch.Completed, dispatch.Canceled} {
		if s.String() == outcome {
			return stateEmoji(s)
		}
	}
	return stateEmoji(dispatch.Idle)
}
