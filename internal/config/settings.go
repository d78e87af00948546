package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Timing is the parsed form of every duration in the file.
type Timing struct {
	DelayMin     time.Duration
	DelayMax     time.Duration
	SettleDelay  time.Duration
	PollInterval time.Duration

	CommandTimeout      time.Duration
	OpenTimeout         time.Duration
	WaitAfterOpen       time.Duration
	WaitAfterFirstEnter time.Duration
	StepPause           time.Duration

	TelegramPoll time.Duration
	StorageBusy  time.Duration
	HTTPRead     time.Duration
	HTTPIdle     time.Duration
}

// Timing parses and defaults every duration field.
func (c *Config) Timing() (Timing, error) {
	var (
		t    Timing
		errs []error
	)
	parse := func(dst *time.Duration, path, raw string, def time.Duration, allowZero bool) {
		var (
			d   time.Duration
			err error
		)
		if allowZero {
			d, err = ParseDurationAllowZero(path, raw, def)
		} else {
			d, err = ParseDurationOrDefault(path, raw, def)
		}
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = d
	}

	parse(&t.DelayMin, "dispatch.delay_min", c.Dispatch.DelayMin, 10*time.Second, true)
	parse(&t.DelayMax, "dispatch.delay_max", c.Dispatch.DelayMax, 15*time.Second, true)
	parse(&t.SettleDelay, "dispatch.settle_delay", c.Dispatch.SettleDelay, 3*time.Second, true)
	parse(&t.PollInterval, "dispatch.poll_interval", c.Dispatch.PollInterval, 100*time.Millisecond, false)

	parse(&t.CommandTimeout, "adb.command_timeout", c.ADB.CommandTimeout, 10*time.Second, false)
	parse(&t.OpenTimeout, "adb.open_timeout", c.ADB.OpenTimeout, 15*time.Second, false)
	parse(&t.WaitAfterOpen, "adb.wait_after_open", c.ADB.WaitAfterOpen, 15*time.Second, true)
	parse(&t.WaitAfterFirstEnter, "adb.wait_after_first_enter", c.ADB.WaitAfterFirstEnter, 10*time.Second, true)
	parse(&t.StepPause, "adb.step_pause", c.ADB.StepPause, time.Second, true)

	if c.Telegram != nil {
		parse(&t.TelegramPoll, "telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second, false)
	}
	if c.Storage != nil {
		parse(&t.StorageBusy, "storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second, false)
	}
	parse(&t.HTTPRead, "observability.read_timeout", c.Observability.ReadTimeout, 10*time.Second, false)
	parse(&t.HTTPIdle, "observability.idle_timeout", c.Observability.IdleTimeout, 60*time.Second, false)

	if err := errors.Join(errs...); err != nil {
		return Timing{}, err
	}
	if t.DelayMax < t.DelayMin {
		return Timing{}, fmt.Errorf("dispatch.delay_max (%s) must be >= dispatch.delay_min (%s)", t.DelayMax, t.DelayMin)
	}
	return t, nil
}

// Validate checks the parts of the file that can be checked in isolation.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := c.Timing(); err != nil {
		errs = append(errs, err)
	}
	for i, d := range c.ADB.Devices {
		if strings.TrimSpace(d) == "" {
			errs = append(errs, fmt.Errorf("adb.devices[%d]: empty serial", i))
		}
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
	}
	if tg := c.Telegram; tg != nil && tg.Enabled {
		if strings.TrimSpace(tg.Token) == "" {
			errs = append(errs, errors.New("telegram.token: required when telegram is enabled"))
		}
		if len(tg.OwnerUserIDs) == 0 {
			errs = append(errs, errors.New("telegram.owner_user_ids: at least one owner is required"))
		}
	}
	if c.Logging.Telegram.Enabled && (c.Telegram == nil || !c.Telegram.Enabled || c.Telegram.ChatID == 0) {
		errs = append(errs, errors.New("logging.telegram: needs telegram.enabled and telegram.chat_id"))
	}
	if strings.TrimSpace(c.Dispatch.Schedule) != "" && strings.TrimSpace(c.Dispatch.LinksFile) == "" {
		errs = append(errs, errors.New("dispatch.links_file: required when dispatch.schedule is set"))
	}
	if o := c.Observability; o.Enabled && !o.AllowInsecure && strings.TrimSpace(o.Token) == "" && !isLoopback(o.Addr) {
		errs = append(errs, fmt.Errorf("observability.addr %q is not loopback: set a token or allow_insecure", o.Addr))
	}
	return errors.Join(errs...)
}

func isLoopback(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return true
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
