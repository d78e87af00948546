// Package router turns chat updates into command handler calls with
// owner-only access control, a bounded worker pool and middleware.
package router

import (
	"context"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"

	rtsup "hermes/internal/runtime/supervisor"
	kit "hermes/internal/transport"
	"hermes/pkg/logx"
)

const defaultTimeout = 30 * time.Second

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// Public commands skip the owner check.
	Public  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline button presses whose data is "action" or
// "action:payload". Callbacks are owner-only.
type CallbackRoute struct {
	Action  string
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Payload string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{DisablePreview: true}
	}
	return r.Adapter.SendText(ctx, r.Chat, text, opt)
}

type Router struct {
	log     logx.Logger
	adapter kit.Adapter

	mu        sync.RWMutex
	commands  []Command
	index     map[string]int // name or alias -> commands index
	callbacks map[string]CallbackRoute
	owners    []int64

	workers int
	jobs    chan func()
}

func New(adapter kit.Adapter, owners []int64, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		index:     map[string]int{},
		callbacks: map[string]CallbackRoute{},
		owners:    slices.Clone(owners),
		workers:   2,
		jobs:      make(chan func(), 64),
	}
}

// SetOwners replaces the owner list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	r.mu.Lock()
	r.owners = slices.Clone(owners)
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

// Register installs the command set, adding /help. When the adapter can
// publish a command menu it is updated in the background.
func (r *Router) Register(ctx context.Context, cmds []Command, cbs []CallbackRoute) {
	cmds = append(slices.Clone(cmds), Command{
		Name:        "help",
		Aliases:     []string{"start"},
		Description: "list commands",
		Public:      true,
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Reply(ctx, r.helpText(), nil)
			return err
		},
	})

	index := map[string]int{}
	kept := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		kept = append(kept, c)
		i := len(kept) - 1
		index[name] = i
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				if _, taken := index[a]; !taken {
					index[a] = i
				}
			}
		}
	}
	callbacks := map[string]CallbackRoute{}
	for _, cb := range cbs {
		if a := strings.TrimSpace(cb.Action); a != "" && cb.Handle != nil {
			callbacks[a] = cb
		}
	}

	r.mu.Lock()
	r.commands = kept
	r.index = index
	r.callbacks = callbacks
	r.mu.Unlock()

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		menu := make([]kit.BotCommand, 0, len(kept))
		for _, c := range kept {
			menu = append(menu, kit.BotCommand{Command: c.Name, Description: c.Description})
		}
		go func() {
			mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				r.log.Debug("menu update failed", logx.Err(err))
			}
		}()
	}
}

func (r *Router) helpText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var b strings.Builder
	b.WriteString("commands:\n")
	for _, c := range r.commands {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.WriteString(usage)
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(c.Description)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// Run routes updates until ctx is done or updates is closed. Handlers run
// on a small worker pool so a slow reply never stalls the poll loop.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	for i := range r.workers {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					r.runJob(job)
				}
			}
		}, 200*time.Millisecond, 5*time.Second)
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) runJob(job func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in command job", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) enqueue(fn func()) bool {
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.routeCallback(ctx, up)
		}
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenize(text)
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	r.mu.RLock()
	i, ok := r.index[word]
	var cmd Command
	if ok {
		cmd = r.commands[i]
	}
	r.mu.RUnlock()

	if !ok {
		_, _ = r.adapter.SendText(ctx, chat, "unknown command, try /help", nil)
		return
	}
	if !cmd.Public && !r.isOwner(msg.FromID) {
		r.log.Warn("command refused", logx.Int64("from_id", msg.FromID), logx.String("cmd", cmd.Name))
		_, _ = r.adapter.SendText(ctx, chat, "unauthorized", nil)
		return
	}

	req := r.newRequest(up, chat, msg.FromID, cmd.Name)
	req.Args = parts[1:]
	final := r.chain(cmd.Handle, cmd.Timeout)
	if !r.enqueue(func() { _ = final(ctx, req) }) {
		_, _ = r.adapter.SendText(ctx, chat, "busy, try again", nil)
	}
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	action, payload, _ := strings.Cut(strings.TrimSpace(cb.Data), ":")

	r.mu.RLock()
	route, ok := r.callbacks[action]
	r.mu.RUnlock()
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	if !r.isOwner(cb.FromID) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "forbidden")
		return
	}

	req := r.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.FromID, "cb:"+action)
	req.Payload = payload
	final := r.chain(func(ctx context.Context, req *Request) error {
		return route.Handle(ctx, req, payload)
	}, route.Timeout)
	if !r.enqueue(func() {
		_ = final(ctx, req)
		// stop the client's loading spinner
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
	}) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "busy")
	}
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, from int64, command string) *Request {
	rid := uuid.NewString()[:8]
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: command,
		ReqID:   rid,
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
		),
	}
}

func (r *Router) chain(h HandlerFunc, timeout time.Duration) HandlerFunc {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return Chain(h, MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(timeout))
}

// tokenize splits a command line with shell quoting rules. Unbalanced
// quotes fall back to plain whitespace splitting.
func tokenize(s string) []string {
	parts, err := shellquote.Split(s)
	if err != nil {
		return strings.Fields(s)
	}
	return parts
}
