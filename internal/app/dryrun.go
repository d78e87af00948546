package app

import (
	"context"
	"time"

	"hermes/pkg/logx"
)

// DryRunDriver logs what would be sent instead of touching devices.
type DryRunDriver struct {
	Log logx.Logger
	// Took is waited per delivery so pacing and progress look real.
	Took time.Duration
}

func (d DryRunDriver) Reset(_ context.Context, worker string, appIDs []string) error {
	d.Log.Debug("dry-run reset", logx.String("worker", worker), logx.Strings("apps", appIDs))
	return nil
}

func (d DryRunDriver) Deliver(ctx context.Context, worker, link string) error {
	d.Log.Info("dry-run deliver", logx.String("worker", worker), logx.String("link", link))
	if d.Took <= 0 {
		return nil
	}
	t := time.NewTimer(d.Took)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
