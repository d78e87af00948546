// Package control exposes the dispatch scheduler to chat operators:
// status, pause, resume, cancel, starting a run from a links file and
// listing past runs.
package control

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"hermes/internal/dispatch"
	"hermes/internal/storage"
	kit "hermes/internal/transport"
	"hermes/internal/transport/telegram/router"
	"hermes/pkg/logx"
)

// Dispatcher is the part of dispatch.Scheduler the commands drive.
type Dispatcher interface {
	Pause() bool
	Resume() bool
	Cancel() bool
	State() dispatch.State
	Snapshot() dispatch.Snapshot
}

// Launcher starts a run from a links file. An empty path means the
// configured default file. source labels the run in history.
type Launcher interface {
	Launch(ctx context.Context, path, source string) (runID string, total int, err error)
}

// History lists recorded runs, newest first.
type History interface {
	ListRuns(ctx context.Context, limit int) ([]storage.Run, error)
}

const defaultHistoryLimit = 5

type Handler struct {
	d       Dispatcher
	launch  Launcher
	history History
	log     logx.Logger
}

// New builds the handler. launch and history may be nil; the matching
// commands then report that the feature is unavailable.
func New(d Dispatcher, launch Launcher, history History, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{d: d, launch: launch, history: history, log: log.With(logx.String("comp", "control"))}
}

func (h *Handler) Commands() []router.Command {
	return []router.Command{
		{Name: "status", Aliases: []string{"s"}, Description: "show run progress", Handle: h.cmdStatus},
		{Name: "pause", Aliases: []string{"p"}, Description: "pause the active run", Handle: h.cmdPause},
		{Name: "resume", Aliases: []string{"r"}, Description: "resume a paused run", Handle: h.cmdResume},
		{Name: "cancel", Aliases: []string{"c"}, Description: "cancel the active run", Handle: h.cmdCancel},
		{Name: "send", Usage: "/send [links file]", Description: "start a run from a links file", Handle: h.cmdSend},
		{Name: "history", Usage: "/history [n]", Description: "list recent runs", Handle: h.cmdHistory},
	}
}

func (h *Handler) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Action: "status", Handle: h.cbAct(nil)},
		{Action: "pause", Handle: h.cbAct(h.d.Pause)},
		{Action: "resume", Handle: h.cbAct(h.d.Resume)},
		{Action: "cancel", Handle: h.cbAct(h.d.Cancel)},
	}
}

func (h *Handler) cmdStatus(ctx context.Context, req *router.Request) error {
	_, err := StatusCard(h.d.Snapshot()).Send(ctx, req.Adapter, req.Chat)
	return err
}

func (h *Handler) cmdPause(ctx context.Context, req *router.Request) error {
	return h.act(ctx, req, h.d.Pause, "⏸ paused", "nothing to pause")
}

func (h *Handler) cmdResume(ctx context.Context, req *router.Request) error {
	return h.act(ctx, req, h.d.Resume, "▶️ resumed", "nothing to resume")
}

func (h *Handler) cmdCancel(ctx context.Context, req *router.Request) error {
	return h.act(ctx, req, h.d.Cancel, "⏹ cancel requested", "no active run")
}

func (h *Handler) act(ctx context.Context, req *router.Request, fn func() bool, done, noop string) error {
	if !fn() {
		_, err := req.Reply(ctx, noop+" (state: "+h.d.State().String()+")", nil)
		return err
	}
	req.Logger.Info("run control", logx.String("action", req.Command), logx.String("state", h.d.State().String()))
	_, err := req.Reply(ctx, done, nil)
	return err
}

// cbAct handles a status card button. The payload carries the run ID the
// card was drawn for; a button from an older run only refreshes the card.
func (h *Handler) cbAct(fn func() bool) router.CallbackHandlerFunc {
	return func(ctx context.Context, req *router.Request, payload string) error {
		snap := h.d.Snapshot()
		if fn != nil && (payload == "" || payload == snap.RunID) {
			if fn() {
				req.Logger.Info("run control", logx.String("action", req.Command), logx.String("run", snap.RunID))
			}
			snap = h.d.Snapshot()
		}
		card := StatusCard(snap)
		if cb := req.Update.Callback; cb != nil && cb.MessageID != 0 {
			ref := kit.MessageRef{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID, MessageID: cb.MessageID}
			if err := card.Edit(ctx, req.Adapter, ref); err == nil {
				return nil
			}
		}
		_, err := card.Send(ctx, req.Adapter, req.Chat)
		return err
	}
}

func (h *Handler) cmdSend(ctx context.Context, req *router.Request) error {
	if h.launch == nil {
		_, err := req.Reply(ctx, "starting runs is not available here", nil)
		return err
	}
	path := strings.TrimSpace(strings.Join(req.Args, " "))
	// the run outlives this request
	id, total, err := h.launch.Launch(context.WithoutCancel(ctx), path, "telegram")
	if err != nil {
		req.Logger.Warn("launch refused", logx.String("path", path), logx.Err(err))
		_, rerr := req.Reply(ctx, launchError(err), nil)
		return rerr
	}
	req.Logger.Info("run launched", logx.String("run", id), logx.Int("links", total))
	_, err = req.Reply(ctx, fmt.Sprintf("🚀 run %s started with %d links", shortID(id), total), nil)
	return err
}

func launchError(err error) string {
	switch {
	case errors.Is(err, dispatch.ErrRunActive):
		return "a run is already active; /cancel it first"
	case errors.Is(err, dispatch.ErrNoWorkers):
		return "no devices configured (adb.devices)"
	case errors.Is(err, dispatch.ErrNoLinks):
		return "the links file has no links"
	default:
		return "cannot start: " + err.Error()
	}
}

func (h *Handler) cmdHistory(ctx context.Context, req *router.Request) error {
	if h.history == nil {
		_, err := req.Reply(ctx, "run history is disabled (storage.driver)", nil)
		return err
	}
	limit := defaultHistoryLimit
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n <= 0 {
			_, err := req.Reply(ctx, "usage: /history [n]", nil)
			return err
		}
		limit = min(n, 50)
	}
	runs, err := h.history.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	_, err = HistoryCard(runs).Send(ctx, req.Adapter, req.Chat)
	return err
}
