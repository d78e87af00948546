package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	kit "hermes/internal/transport"
	"hermes/pkg/logx"
)

type sent struct {
	chat kit.ChatTarget
	text string
}

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []sent
	answered []string
	menu     chan []kit.BotCommand
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chat: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, id+"="+text)
	return nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	if f.menu != nil {
		f.menu <- cmds
	}
	return nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.text)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func message(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 10, FromID: from, Text: text}}
}

func TestRouterDispatch(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{menu: make(chan []kit.BotCommand, 1)}
	r := New(ad, []int64{1}, logx.Nop())

	var (
		mu   sync.Mutex
		args [][]string
	)
	r.Register(context.Background(), []Command{
		{
			Name:    "send",
			Aliases: []string{"go"},
			Handle: func(_ context.Context, req *Request) error {
				mu.Lock()
				args = append(args, req.Args)
				mu.Unlock()
				return nil
			},
		},
		{Name: "boom", Handle: func(context.Context, *Request) error { panic("handler bug") }},
	}, []CallbackRoute{{
		Action: "pause",
		Handle: func(ctx context.Context, req *Request, payload string) error {
			_, err := req.Reply(ctx, "paused "+payload, nil)
			return err
		},
	}})

	menu := <-ad.menu
	if len(menu) != 3 || menu[2].Command != "help" {
		t.Fatalf("menu = %+v", menu)
	}

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx, updates)
	}()

	updates <- message(1, `/send@hermes_bot "links file.csv" extra`)
	updates <- message(1, "/go")
	updates <- message(2, "/send")
	updates <- message(1, "/nope")
	updates <- message(1, "/boom")
	updates <- message(1, "plain text")
	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c1", FromID: 1, ChatID: 10, Data: "pause:r1"}}
	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c2", FromID: 2, ChatID: 10, Data: "pause"}}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(args) == 2 && len(ad.texts()) == 3
	})
	mu.Lock()
	if strings.Join(args[0], "|") != "links file.csv|extra" && strings.Join(args[1], "|") != "links file.csv|extra" {
		t.Fatalf("args = %q", args)
	}
	mu.Unlock()

	got := strings.Join(ad.texts(), "\n")
	for _, want := range []string{"unauthorized", "unknown command, try /help", "paused r1"} {
		if !strings.Contains(got, want) {
			t.Fatalf("replies %q lack %q", got, want)
		}
	}
	waitFor(t, func() bool {
		ad.mu.Lock()
		defer ad.mu.Unlock()
		return len(ad.answered) == 2
	})
	ad.mu.Lock()
	answers := strings.Join(ad.answered, ",")
	ad.mu.Unlock()
	if !strings.Contains(answers, "c2=forbidden") {
		t.Fatalf("answers = %s", answers)
	}

	cancel()
	<-done
}

func TestHelpListsCommands(t *testing.T) {
	t.Parallel()
	r := New(&fakeAdapter{}, nil, logx.Nop())
	r.Register(context.Background(), []Command{
		{Name: "status", Description: "show progress", Handle: func(context.Context, *Request) error { return nil }},
		{Name: "", Handle: func(context.Context, *Request) error { return nil }},
	}, nil)
	help := r.helpText()
	if !strings.Contains(help, "/status - show progress") || !strings.Contains(help, "/help - list commands") {
		t.Fatalf("help = %q", help)
	}
}

func TestSanitizeCommand(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"/Status":        "status",
		"send-now":       "send_now",
		"2fa":            "cmd_2fa",
		"  ":             "",
		"a--b":           "a_b",
		"ñ":              "",
		strings.Repeat("x", 40): strings.Repeat("x", 32),
	}
	for in, want := range tests {
		if got := sanitizeCommand(in); got != want {
			t.Errorf("sanitizeCommand(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPanicRecoverReturnsError(t *testing.T) {
	t.Parallel()
	h := Chain(func(context.Context, *Request) error { panic("boom") }, MWPanicRecover(logx.Nop()))
	err := h(context.Background(), &Request{})
	if err == nil || err.Error() != "panic: boom" {
		t.Fatalf("err = %v", err)
	}
}
