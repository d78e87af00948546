package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"hermes/internal/dispatch"
	"hermes/internal/linkgen"
	"hermes/internal/storage"
	"hermes/internal/tabular"
	"hermes/pkg/logx"
)

type fakeRun struct {
	state    dispatch.State
	canceled bool
	snap     dispatch.Snapshot
}

func (f *fakeRun) Toggle() dispatch.State {
	switch f.state {
	case dispatch.Running:
		f.state = dispatch.Paused
	case dispatch.Paused:
		f.state = dispatch.Running
	}
	return f.state
}

func (f *fakeRun) Resume() bool {
	if f.state != dispatch.Paused {
		return false
	}
	f.state = dispatch.Running
	return true
}

func (f *fakeRun) Cancel() bool {
	if !f.state.Active() || f.canceled {
		return false
	}
	f.canceled = true
	return true
}

func (f *fakeRun) Snapshot() dispatch.Snapshot {
	s := f.snap
	s.State = f.state
	return s
}

func TestConsoleCommands(t *testing.T) {
	run := &fakeRun{state: dispatch.Running, snap: dispatch.Snapshot{RunID: "r1", CurrentIndex: 1, Total: 4}}
	var out bytes.Buffer
	c := &console{run: run, out: &out}

	c.Run(context.Background(), strings.NewReader("p\ns\nR\n\nc\nc\nx\n"))

	want := []string{
		"run paused",
		"[1/4  25.0%] sent 0, failed 0, elapsed 0s (paused)",
		"run resumed",
		"cancel requested, finishing the current link",
		"no active run",
		consoleHelp,
	}
	got := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(got) != len(want) {
		t.Fatalf("output:\n%s", out.String())
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestConsoleToggleIdle(t *testing.T) {
	var out bytes.Buffer
	c := &console{run: &fakeRun{state: dispatch.Idle}, out: &out}
	c.handle("pause")
	if got := strings.TrimSpace(out.String()); got != "no active run" {
		t.Fatalf("got %q", got)
	}
}

func TestProgressLine(t *testing.T) {
	tests := []struct {
		name string
		in   dispatch.Snapshot
		want string
	}{
		{name: "no run", in: dispatch.Snapshot{}, want: "no run yet"},
		{
			name: "running",
			in: dispatch.Snapshot{
				RunID: "r", State: dispatch.Running, CurrentIndex: 3, Total: 10, Sent: 2, Failed: 1,
				Elapsed: 30 * time.Second, EstimatedRemaining: 70 * time.Second,
			},
			want: "[3/10  30.0%] sent 2, failed 1, elapsed 30s, ~1m10s left",
		},
		{
			name: "large counts",
			in:   dispatch.Snapshot{RunID: "r", State: dispatch.Idle, CurrentIndex: 1500, Total: 1500, Sent: 1500, Elapsed: time.Hour},
			want: "[1,500/1,500 100.0%] sent 1,500, failed 0, elapsed 1h0m0s",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := progressLine(tt.in); got != tt.want {
				t.Fatalf("got  %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestSummaryLine(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	got := summaryLine(dispatch.Summary{
		RunID: "r", Outcome: dispatch.Canceled, Total: 10, Attempted: 4, Sent: 3, Failed: 1,
		StartedAt: t0, FinishedAt: t0.Add(90 * time.Second),
	})
	want := "run r canceled: 4 of 10 attempted, 3 sent, 1 failed in 1m30s"
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}

func TestTabularInputDefaults(t *testing.T) {
	table := tabular.Table{Columns: []string{"Nombre", "Telefono", "$ Hist."}}

	in, err := tabularInput(table, "telefono", generateFlags{template: "Hola {Nombre}"})
	if err != nil {
		t.Fatalf("tabularInput: %v", err)
	}
	if len(in.AddressColumns) != 1 || in.AddressColumns[0] != "Telefono" {
		t.Fatalf("address columns = %q", in.AddressColumns)
	}
	if len(in.PayloadColumns) != 2 || in.PayloadColumns[0] != "Nombre" || in.PayloadColumns[1] != "$ Hist." {
		t.Fatalf("payload columns = %q", in.PayloadColumns)
	}

	if _, err := tabularInput(table, "telefono", generateFlags{}); err == nil {
		t.Fatal("missing template accepted")
	}
	if _, err := tabularInput(table, "celular", generateFlags{template: "x"}); !errors.Is(err, linkgen.ErrNoAddresses) {
		t.Fatalf("no address column err = %v", err)
	}
	if _, err := tabularInput(table, "", generateFlags{template: "x", addressCols: []string{"Movil"}}); err == nil {
		t.Fatal("unknown address column accepted")
	}

	urls := tabular.Table{Columns: []string{"url"}}
	if in, err := tabularInput(urls, "", generateFlags{}); err != nil || in.AddressColumns != nil {
		t.Fatalf("url table = %+v, %v", in, err)
	}
}

func TestPrintPreview(t *testing.T) {
	gen := linkgen.New(linkgen.Options{})
	in := linkgen.TabularInput{
		Rows:           []linkgen.Record{{"Nombre": "Ana", "Telefono": "1155550000"}},
		AddressColumns: []string{"Telefono"},
		PayloadColumns: []string{"Nombre"},
		Template:       "  Hola {Nombre}  ",
	}
	var out bytes.Buffer
	if err := printPreview(&out, gen, in); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "Hola Ana\n" {
		t.Fatalf("preview = %q", got)
	}
}

func TestManualLinks(t *testing.T) {
	dir := t.TempDir()
	numbers := filepath.Join(dir, "numbers.txt")
	messages := filepath.Join(dir, "messages.txt")
	writeFile(t, numbers, "1155550000\n\n11 5555 0001\n")
	writeFile(t, messages, "hola\nchau\nbuenas tardes\n")

	links, err := manualLinks(linkgen.New(linkgen.Options{}), numbers, messages, 1)
	if err != nil {
		t.Fatalf("manualLinks: %v", err)
	}
	want := []string{
		"https://wa.me/5491155550000?text=hola",
		"https://wa.me/5491155550000?text=chau",
		"https://wa.me/5491155550001?text=buenas%20tardes",
	}
	if strings.Join(links, "\n") != strings.Join(want, "\n") {
		t.Fatalf("links = %q", links)
	}

	writeFile(t, numbers, "+5491155550000\n")
	if _, err := manualLinks(linkgen.New(linkgen.Options{}), numbers, messages, 1); !errors.Is(err, linkgen.ErrForbiddenPrefix) {
		t.Fatalf("prefixed number err = %v", err)
	}
}

func TestHistoryOutput(t *testing.T) {
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "h.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	runs := []storage.Run{
		{ID: "abcdef0123", Source: "cli", Outcome: "completed", Total: 2, Sent: 2, StartedAt: now.Add(-2 * time.Hour), FinishedAt: now.Add(-2*time.Hour + 95*time.Second)},
		{ID: "abcdff9999", Outcome: "running", Total: 5, StartedAt: now.Add(-time.Minute)},
	}
	for _, r := range runs {
		if err := st.SaveRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	_ = st.AppendDelivery(ctx, storage.Delivery{RunID: "abcdef0123", Index: 0, Worker: "emu-1", Link: "https://wa.me/1", OK: true, TookMS: 1240})
	_ = st.AppendDelivery(ctx, storage.Delivery{RunID: "abcdef0123", Index: 1, Worker: "emu-2", Link: "https://wa.me/2", Error: "timeout"})

	listed, _ := st.ListRuns(ctx, 0)
	var out bytes.Buffer
	if err := writeRuns(&out, listed, now); err != nil {
		t.Fatal(err)
	}
	text := out.String()
	for _, want := range []string{"RUN", "abcdff99", "abcdef01", "2 hours ago", "cli", "1m35s"} {
		if !strings.Contains(text, want) {
			t.Fatalf("runs output missing %q:\n%s", want, text)
		}
	}

	if _, err := resolveRunID(ctx, st, "abcd"); err == nil {
		t.Fatal("ambiguous prefix accepted")
	}
	if _, err := resolveRunID(ctx, st, "zz"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("unknown prefix err = %v", err)
	}
	id, err := resolveRunID(ctx, st, "abcde")
	if err != nil || id != "abcdef0123" {
		t.Fatalf("resolve = %q, %v", id, err)
	}

	ds, err := st.Deliveries(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := writeDeliveries(&out, ds); err != nil {
		t.Fatal(err)
	}
	text = out.String()
	for _, want := range []string{"emu-1", "1.2s", "failed: timeout", "https://wa.me/2"} {
		if !strings.Contains(text, want) {
			t.Fatalf("deliveries output missing %q:\n%s", want, text)
		}
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}
