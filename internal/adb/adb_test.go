package adb

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"hermes/internal/dispatch"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	// fail returns the error for a call, keyed by the first shell word.
	fail   map[string]error
	stderr string
	// hang makes calls whose shell line contains this text block until ctx is done.
	hang string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{name: name, args: append([]string(nil), args...)})
	f.mu.Unlock()

	line := strings.Join(args[3:], " ")
	if f.hang != "" && strings.Contains(line, f.hang) {
		<-ctx.Done()
		return nil, nil, errors.New("signal: killed")
	}
	if err, ok := f.fail[strings.Fields(args[3])[0]]; ok {
		return nil, []byte(f.stderr), err
	}
	return nil, nil, nil
}

func (f *fakeRunner) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.name+" "+strings.Join(c.args, " "))
	}
	return out
}

func fastConfig() Config {
	return Config{
		Path:           "/opt/platform-tools/adb",
		CommandTimeout: time.Second,
		OpenTimeout:    time.Second,
	}
}

func TestResetForceStopsEveryPackage(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{}
	d := New(fastConfig(), WithRunner(r))
	if err := d.Reset(context.Background(), "emulator-5554", dispatch.DefaultAppIDs); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	want := []string{
		"/opt/platform-tools/adb -s emulator-5554 shell am force-stop com.whatsapp.w4b",
		"/opt/platform-tools/adb -s emulator-5554 shell am force-stop com.whatsapp",
		"/opt/platform-tools/adb -s emulator-5554 shell am force-stop com.google.android.googlequicksearchbox",
	}
	got := r.lines()
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("commands:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestResetJoinsFailuresButTriesAll(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{fail: map[string]error{"am": errors.New("exit status 255")}, stderr: "error: device offline"}
	d := New(fastConfig(), WithRunner(r))
	err := d.Reset(context.Background(), "R58M", []string{"a.b", "c.d"})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(r.lines()) != 2 {
		t.Fatalf("not every package was tried: %v", r.lines())
	}
	for _, want := range []string{"force-stop a.b", "force-stop c.d", "device offline"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q lacks %q", err, want)
		}
	}
}

func TestDeliverSequence(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{}
	d := New(fastConfig(), WithRunner(r))
	link := "https://wa.me/5491111?text=Hola%20Ana"
	if err := d.Deliver(context.Background(), "emu", link); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	got := r.lines()
	if len(got) != 4 {
		t.Fatalf("commands = %v", got)
	}
	prefix := "/opt/platform-tools/adb -s emu shell "
	want := []string{
		prefix + "am force-stop com.whatsapp.w4b",
		prefix + OpenCommand(DefaultLauncherPackage, link),
		prefix + "input keyevent 66",
		prefix + "input keyevent 66",
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("command %d = %q, want %q", i, got[i], want[i])
		}
	}
	// The open step travels as a single shell argument.
	r.mu.Lock()
	openArgs := r.calls[1].args
	r.mu.Unlock()
	if len(openArgs) != 4 {
		t.Fatalf("open args = %q", openArgs)
	}
}

func TestOpenCommandQuotesLink(t *testing.T) {
	t.Parallel()
	got := OpenCommand("com.google.android.googlequicksearchbox", "https://wa.me/1?text=a%20b")
	want := `monkey -p com.google.android.googlequicksearchbox -c android.intent.category.LAUNCHER 1 && sleep 1 && am start -a android.intent.action.VIEW -d https://wa.me/1\?text=a%20b`
	if got != want {
		t.Fatalf("OpenCommand =\n%s\nwant\n%s", got, want)
	}
}

func TestDeliverToleratesPreStopFailure(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{fail: map[string]error{"am": errors.New("exit status 1")}}
	d := New(fastConfig(), WithRunner(r))
	if err := d.Deliver(context.Background(), "emu", "https://wa.me/1?text=x"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
}

func TestDeliverFailsOnKeyEvent(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{fail: map[string]error{"input": errors.New("exit status 1")}, stderr: "no devices/emulators found"}
	d := New(fastConfig(), WithRunner(r))
	err := d.Deliver(context.Background(), "emu", "https://wa.me/1?text=x")
	if err == nil || !strings.Contains(err.Error(), "open chat") || !strings.Contains(err.Error(), "no devices") {
		t.Fatalf("err = %v", err)
	}
	if errors.Is(err, dispatch.ErrDeliveryTimeout) {
		t.Fatal("plain failure reported as timeout")
	}
}

func TestDeliverOpenTimeout(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{hang: "monkey"}
	cfg := fastConfig()
	cfg.OpenTimeout = 20 * time.Millisecond
	d := New(cfg, WithRunner(r))

	err := d.Deliver(context.Background(), "emu", "https://wa.me/1?text=x")
	if !errors.Is(err, dispatch.ErrDeliveryTimeout) {
		t.Fatalf("err = %v, want ErrDeliveryTimeout", err)
	}
	if len(r.lines()) != 2 {
		t.Fatalf("commands after timeout = %v", r.lines())
	}
}

func TestDeliverHonoursCancellation(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{}
	cfg := fastConfig()
	cfg.WaitAfterOpen = time.Hour
	d := New(cfg, WithRunner(r))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Deliver(ctx, "emu", "https://wa.me/1?text=x")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()
	d := New(Config{})
	if d.cfg.Path != "adb" || d.cfg.CommandTimeout != 10*time.Second || d.cfg.OpenTimeout != 15*time.Second {
		t.Fatalf("cfg = %+v", d.cfg)
	}
	if d.cfg.BusinessPackage != DefaultBusinessPackage || d.cfg.LauncherPackage != DefaultLauncherPackage {
		t.Fatalf("packages = %+v", d.cfg)
	}
}
