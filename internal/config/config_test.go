package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestDecodeJSONAndYAML(t *testing.T) {
	t.Parallel()

	js := `{"adb":{"path":"/usr/bin/adb","devices":["emu-1","emu-2"]},"dispatch":{"delay_min":"1s","delay_max":"2s"}}`
	ym := "adb:\n  path: /usr/bin/adb\n  devices: [emu-1, emu-2]\ndispatch:\n  delay_min: 1s\n  delay_max: 2s\n"

	for name, data := range map[string]string{"hermes.json": js, "hermes.yaml": ym} {
		cfg, err := Decode(name, []byte(data))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if cfg.ADB.Path != "/usr/bin/adb" || !slices.Equal(cfg.ADB.Devices, []string{"emu-1", "emu-2"}) {
			t.Fatalf("%s: adb = %+v", name, cfg.ADB)
		}
		tm, err := cfg.Timing()
		if err != nil {
			t.Fatalf("%s: Timing: %v", name, err)
		}
		if tm.DelayMin != time.Second || tm.DelayMax != 2*time.Second {
			t.Fatalf("%s: delays = %s..%s", name, tm.DelayMin, tm.DelayMax)
		}
		// untouched sections keep their defaults
		if tm.SettleDelay != 3*time.Second || !cfg.Logging.Console {
			t.Fatalf("%s: defaults lost: %+v", name, tm)
		}
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, file, data string
	}{
		{"unknown key", "c.json", `{"adb":{"serials":[]}}`},
		{"trailing data", "c.json", `{} {}`},
		{"bad yaml", "c.yml", "adb: [unclosed"},
		{"unknown yaml key", "c.yaml", "dispatcher:\n  delay_min: 1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.file, []byte(tt.data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestTimingDefaultsAndErrors(t *testing.T) {
	t.Parallel()

	tm, err := (&Config{}).Timing()
	if err != nil {
		t.Fatalf("Timing: %v", err)
	}
	if tm.DelayMin != 10*time.Second || tm.DelayMax != 15*time.Second || tm.PollInterval != 100*time.Millisecond {
		t.Fatalf("dispatch defaults = %+v", tm)
	}
	if tm.OpenTimeout != 15*time.Second || tm.WaitAfterFirstEnter != 10*time.Second || tm.StepPause != time.Second {
		t.Fatalf("adb defaults = %+v", tm)
	}

	zero := &Config{ADB: ADBConfig{WaitAfterOpen: "0s"}}
	tm, err = zero.Timing()
	if err != nil || tm.WaitAfterOpen != 0 {
		t.Fatalf("explicit zero wait = %s, %v", tm.WaitAfterOpen, err)
	}

	bad := &Config{Dispatch: DispatchConfig{DelayMin: "soon", SettleDelay: "-1s"}}
	_, err = bad.Timing()
	if err == nil || !strings.Contains(err.Error(), "dispatch.delay_min") || !strings.Contains(err.Error(), "dispatch.settle_delay") {
		t.Fatalf("err = %v", err)
	}

	inverted := &Config{Dispatch: DispatchConfig{DelayMin: "20s", DelayMax: "5s"}}
	if _, err := inverted.Timing(); err == nil {
		t.Fatal("delay_max < delay_min accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default", func(*Config) {}, ""},
		{"blank device", func(c *Config) { c.ADB.Devices = []string{"emu", " "} }, "adb.devices[1]"},
		{"storage driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }, "storage.driver"},
		{"telegram token", func(c *Config) {
			c.Telegram = &TelegramConfig{Enabled: true, OwnerUserIDs: []int64{1}}
		}, "telegram.token"},
		{"telegram owners", func(c *Config) { c.Telegram = &TelegramConfig{Enabled: true, Token: "x"} }, "owner_user_ids"},
		{"log sink without chat", func(c *Config) { c.Logging.Telegram.Enabled = true }, "logging.telegram"},
		{"schedule without links", func(c *Config) { c.Dispatch.Schedule = "@daily" }, "dispatch.links_file"},
		{"public metrics", func(c *Config) {
			c.Observability = ObservabilityConfig{Enabled: true, Addr: "0.0.0.0:9464"}
		}, "not loopback"},
		{"public metrics with token", func(c *Config) {
			c.Observability = ObservabilityConfig{Enabled: true, Addr: "0.0.0.0:9464", Token: "t"}
		}, ""},
		{"loopback metrics", func(c *Config) {
			c.Observability = ObservabilityConfig{Enabled: true, Addr: "127.0.0.1:9464"}
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvTelegramToken, "123:abc")
	t.Setenv(EnvADBPath, "/opt/adb")

	cfg := Default()
	ApplyEnv(cfg)
	if cfg.Telegram == nil || cfg.Telegram.Token != "123:abc" {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.ADB.Path != "/opt/adb" {
		t.Fatalf("adb.path = %q", cfg.ADB.Path)
	}
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	a := Default()
	b := Default()
	b.Dispatch.DelayMin = "1s"
	b.Telegram = &TelegramConfig{Enabled: true, Token: "secret-token"}

	changed, fields := SummarizeChange(a, b)
	if !slices.Equal(changed, []string{"dispatch", "telegram"}) {
		t.Fatalf("changed = %v", changed)
	}
	if len(fields) == 0 {
		t.Fatal("no fields")
	}
	if c, _ := SummarizeChange(a, Default()); len(c) != 0 {
		t.Fatalf("identical configs reported %v", c)
	}
}

func TestManagerWatchPublishesReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "hermes.json")
	if err := os.WriteFile(path, []byte(`{"dispatch":{"delay_min":"1s","delay_max":"2s"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Dispatch.DelayMin == "9s" {
			return os.ErrInvalid
		}
		return nil
	})
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Keep rewriting until the watcher is up and the reload lands.
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if cfg.Dispatch.DelayMin != "3s" {
				t.Fatalf("published delay_min = %q", cfg.Dispatch.DelayMin)
			}
			if m.Get() != cfg {
				t.Fatal("published config not committed")
			}
			cancel()
			<-done
			return
		case <-tick.C:
			_ = os.WriteFile(path, []byte(`{"dispatch":{"delay_min":"3s","delay_max":"4s"}}`), 0o600)
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
}

func TestManagerEmptyPathServesDefault(t *testing.T) {
	t.Parallel()
	m := NewManager("")
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dispatch.DelayMax != "15s" {
		t.Fatalf("cfg = %+v", cfg.Dispatch)
	}
}
