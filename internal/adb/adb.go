// Package adb drives Android devices through the adb binary. Driver
// implements dispatch.Driver: every worker is a device serial.
package adb

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"

	"hermes/internal/dispatch"
	"hermes/pkg/logx"
)

// KeycodeEnter is the Android key event sent to confirm a message.
const KeycodeEnter = "66"

const (
	DefaultBusinessPackage = "com.whatsapp.w4b"
	DefaultLauncherPackage = "com.google.android.googlequicksearchbox"
)

type Config struct {
	// Path to the adb binary; empty means "adb" from PATH.
	Path string

	CommandTimeout time.Duration
	OpenTimeout    time.Duration

	WaitAfterOpen       time.Duration
	WaitAfterFirstEnter time.Duration
	// StepPause follows the pre-delivery force-stop and the final ENTER.
	StepPause time.Duration

	BusinessPackage string
	LauncherPackage string
}

func DefaultConfig() Config {
	return Config{
		Path:                "adb",
		CommandTimeout:      10 * time.Second,
		OpenTimeout:         15 * time.Second,
		WaitAfterOpen:       15 * time.Second,
		WaitAfterFirstEnter: 10 * time.Second,
		StepPause:           time.Second,
		BusinessPackage:     DefaultBusinessPackage,
		LauncherPackage:     DefaultLauncherPackage,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Path) == "" {
		c.Path = def.Path
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = def.CommandTimeout
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = def.OpenTimeout
	}
	if c.BusinessPackage == "" {
		c.BusinessPackage = def.BusinessPackage
	}
	if c.LauncherPackage == "" {
		c.LauncherPackage = def.LauncherPackage
	}
	return c
}

// Runner executes one command and returns its captured output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

type Option func(*Driver)

func WithRunner(r Runner) Option { return func(d *Driver) { d.runner = r } }

func WithLogger(l logx.Logger) Option { return func(d *Driver) { d.log = l } }

type Driver struct {
	cfg    Config
	runner Runner
	log    logx.Logger
}

func New(cfg Config, opts ...Option) *Driver {
	d := &Driver{cfg: cfg.normalize(), runner: ExecRunner{}}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Resolve returns the absolute path of the adb binary named by path.
func Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		path = "adb"
	}
	p, err := exec.LookPath(path)
	if err != nil {
		return "", errors.WithHint(errors.Wrapf(err, "adb not found at %q", path), "set adb.path or HERMES_ADB_PATH")
	}
	return p, nil
}

// Reset force-stops every package on the device. All packages are tried;
// the failures are joined.
func (d *Driver) Reset(ctx context.Context, serial string, packages []string) error {
	var errs []error
	for _, pkg := range packages {
		if err := d.shell(ctx, serial, d.cfg.CommandTimeout, "am", "force-stop", pkg); err != nil {
			errs = append(errs, errors.Wrapf(err, "force-stop %s", pkg))
		}
	}
	return errors.Join(errs...)
}

// Deliver opens link through the launcher app and confirms it with two
// ENTER key events.
func (d *Driver) Deliver(ctx context.Context, serial, link string) error {
	// A failing force-stop here only means the app was not running.
	if err := d.shell(ctx, serial, d.cfg.CommandTimeout, "am", "force-stop", d.cfg.BusinessPackage); err != nil {
		if errors.Is(err, dispatch.ErrDeliveryTimeout) {
			return err
		}
		d.log.Debug("force-stop before delivery failed", logx.String("device", serial), logx.Err(err))
	}
	if err := pause(ctx, d.cfg.StepPause); err != nil {
		return err
	}

	if err := d.shell(ctx, serial, d.cfg.OpenTimeout, OpenCommand(d.cfg.LauncherPackage, link)); err != nil {
		return errors.Wrap(err, "open link")
	}
	if err := pause(ctx, d.cfg.WaitAfterOpen); err != nil {
		return err
	}
	if err := d.shell(ctx, serial, d.cfg.CommandTimeout, "input", "keyevent", KeycodeEnter); err != nil {
		return errors.Wrap(err, "open chat")
	}
	if err := pause(ctx, d.cfg.WaitAfterFirstEnter); err != nil {
		return err
	}
	if err := d.shell(ctx, serial, d.cfg.CommandTimeout, "input", "keyevent", KeycodeEnter); err != nil {
		return errors.Wrap(err, "send message")
	}
	return pause(ctx, d.cfg.StepPause)
}

// OpenCommand is the device shell line that brings the launcher app to the
// foreground and hands it the link as a VIEW intent.
func OpenCommand(launcher, link string) string {
	return "monkey -p " + shellquote.Join(launcher) +
		" -c android.intent.category.LAUNCHER 1 && sleep 1 && am start -a android.intent.action.VIEW -d " +
		shellquote.Join(link)
}

func (d *Driver) shell(ctx context.Context, serial string, timeout time.Duration, cmd ...string) error {
	args := append([]string{"-s", serial, "shell"}, cmd...)
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d.log.Debug("adb", logx.String("cmd", shellquote.Join(append([]string{d.cfg.Path}, args...)...)))
	stdout, stderr, err := d.runner.Run(cctx, d.cfg.Path, args...)
	if err == nil {
		return nil
	}
	name := verb(cmd)
	if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return errors.Mark(errors.Wrapf(err, "%s timed out after %s on %s", name, timeout, serial), dispatch.ErrDeliveryTimeout)
	}
	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		msg = strings.TrimSpace(string(stdout))
	}
	if msg != "" {
		return errors.Wrapf(err, "%s on %s: %s", name, serial, msg)
	}
	return errors.Wrapf(err, "%s on %s", name, serial)
}

func verb(cmd []string) string {
	if f := strings.Fields(cmd[0]); len(f) > 0 {
		return f[0]
	}
	return "shell"
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
