package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"hermes/internal/dispatch"
	"hermes/internal/eventbus"
	"hermes/pkg/logx"
)

func openTest(t *testing.T, driver string) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history", "hermes.db")
	st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	if st, err := Open(Config{}, logx.Nop()); st != nil || err != nil {
		t.Fatalf("empty driver = %v, %v", st, err)
	}
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("missing path accepted")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openTest(t, driver)

			t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
			older := Run{ID: "a", Outcome: "completed", Total: 2, Workers: []string{"emu-1"}, StartedAt: t0, FinishedAt: t0.Add(time.Minute)}
			newer := Run{ID: "b", Source: "cli", Outcome: "running", Total: 3, Workers: []string{"emu-1", "emu-2"}, StartedAt: t0.Add(time.Hour)}
			for _, r := range []Run{older, newer} {
				if err := st.SaveRun(ctx, r); err != nil {
					t.Fatalf("SaveRun: %v", err)
				}
			}
			// replace
			newer.Outcome, newer.Sent, newer.Failed, newer.Attempted = "canceled", 1, 1, 2
			newer.FinishedAt = t0.Add(2 * time.Hour)
			if err := st.SaveRun(ctx, newer); err != nil {
				t.Fatalf("SaveRun: %v", err)
			}

			for i, ok := range []bool{true, false} {
				d := Delivery{RunID: "b", Index: 1 - i, Worker: "emu-1", Link: "https://wa.me/1", OK: ok, TookMS: 1500, At: t0}
				if !ok {
					d.Error = "open chat: exit status 1"
				}
				if err := st.AppendDelivery(ctx, d); err != nil {
					t.Fatalf("AppendDelivery: %v", err)
				}
			}

			runs, err := st.ListRuns(ctx, 0)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if len(runs) != 2 || runs[0].ID != "b" || runs[1].ID != "a" {
				t.Fatalf("runs = %+v", runs)
			}
			got := runs[0]
			if got.Outcome != "canceled" || got.Sent != 1 || got.Failed != 1 || got.Source != "cli" || len(got.Workers) != 2 {
				t.Fatalf("run b = %+v", got)
			}
			if !got.FinishedAt.Equal(newer.FinishedAt) || !got.StartedAt.Equal(newer.StartedAt) {
				t.Fatalf("times = %s / %s", got.StartedAt, got.FinishedAt)
			}

			if limited, _ := st.ListRuns(ctx, 1); len(limited) != 1 || limited[0].ID != "b" {
				t.Fatalf("limited = %+v", limited)
			}

			ds, err := st.Deliveries(ctx, "b")
			if err != nil {
				t.Fatalf("Deliveries: %v", err)
			}
			if len(ds) != 2 || ds[0].Index != 0 || ds[0].OK || ds[0].Error == "" || !ds[1].OK {
				t.Fatalf("deliveries = %+v", ds)
			}
			if _, err := st.Deliveries(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("missing run err = %v", err)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hermes.history")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	for i := range compactEvery + 5 {
		r := Run{ID: "r", Outcome: "running", Total: i, StartedAt: time.Unix(int64(i), 0)}
		if err := st.SaveRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.SaveRun(ctx, Run{ID: "s", Outcome: "completed"}); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	runs, _ := st.ListRuns(ctx, 0)
	if len(runs) != 2 {
		t.Fatalf("runs = %+v", runs)
	}
	for _, r := range runs {
		if r.ID == "r" && r.Total != compactEvery+4 {
			t.Fatalf("latest write lost: %+v", r)
		}
	}
}

func TestRecorderFollowsRun(t *testing.T) {
	t.Parallel()
	st := openTest(t, "file")
	bus := eventbus.New()
	rec := NewRecorder(st, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rec.Run(ctx)
	}()

	t0 := time.Now()
	rec.Label(ctx, "run-1", "telegram")
	bus.Publish(eventbus.Event{Topic: dispatch.TopicStarted, Data: dispatch.Started{RunID: "run-1", Total: 2, Workers: []string{"emu"}, StartedAt: t0}})
	bus.Publish(eventbus.Event{Topic: dispatch.TopicDelivery, Data: dispatch.Delivery{RunID: "run-1", Index: 0, Worker: "emu", Link: "l0", Took: time.Second, At: t0}})
	bus.Publish(eventbus.Event{Topic: dispatch.TopicDelivery, Data: dispatch.Delivery{RunID: "run-1", Index: 1, Worker: "emu", Link: "l1", Err: errors.New("boom"), At: t0}})
	bus.Publish(eventbus.Event{Topic: dispatch.TopicFinished, Data: dispatch.Summary{
		RunID: "run-1", Outcome: dispatch.Completed, Total: 2, Attempted: 2, Sent: 1, Failed: 1,
		Workers: []string{"emu"}, StartedAt: t0, FinishedAt: t0.Add(time.Minute),
	}})

	deadline := time.Now().Add(2 * time.Second)
	for {
		runs, _ := st.ListRuns(context.Background(), 0)
		if len(runs) == 1 && runs[0].Finished() {
			r := runs[0]
			if r.Outcome != "completed" || r.Sent != 1 || r.Failed != 1 || r.Source != "telegram" {
				t.Fatalf("run = %+v", r)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run not finished in store: %+v", runs)
		}
		time.Sleep(10 * time.Millisecond)
	}

	ds, err := st.Deliveries(context.Background(), "run-1")
	if err != nil || len(ds) != 2 || ds[1].Error != "boom" || ds[0].TookMS != 1000 {
		t.Fatalf("deliveries = %+v, %v", ds, err)
	}
	cancel()
	<-done
}
