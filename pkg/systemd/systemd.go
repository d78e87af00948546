// Package systemd reports service state to the systemd manager through
// sd_notify. Outside a Type=notify unit every call is a no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends state lines to $NOTIFY_SOCKET.
type Notifier struct {
	// notify is daemon.SdNotify; replaced in tests.
	notify func(unsetEnvironment bool, state string) (bool, error)
}

func New() *Notifier { return &Notifier{notify: daemon.SdNotify} }

// Ready reports that startup finished.
func (n *Notifier) Ready() (bool, error) { return n.notify(false, daemon.SdNotifyReady) }

// Stopping reports that shutdown began.
func (n *Notifier) Stopping() (bool, error) { return n.notify(false, daemon.SdNotifyStopping) }

// Status sets the free-form status shown by systemctl status.
func (n *Notifier) Status(text string) (bool, error) { return n.notify(false, "STATUS="+text) }

// Watchdog pings the watchdog at half the configured interval until ctx is
// done. It returns at once when the unit has no WatchdogSec.
func (n *Notifier) Watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return err
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := n.notify(false, daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
