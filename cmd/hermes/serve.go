package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hermes/internal/app"
	"hermes/internal/dispatch"
	"hermes/internal/eventbus"
	"hermes/pkg/logx"
	"hermes/pkg/systemd"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as a service: scheduled runs and chat control",
	Long: `Stay up, start runs on dispatch.schedule and accept /status, /pause,
/resume, /cancel and /send from the telegram owners. Config changes are
applied live where possible. Under systemd (Type=notify) readiness, status
and watchdog pings are reported through sd_notify.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	a, err := app.New(app.Options{ConfigPath: cfgPath, Mode: app.ModeServe})
	if err != nil {
		return err
	}
	log := a.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	sd := systemd.New()
	if ok, err := sd.Ready(); err != nil {
		log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		log.Debug("sd_notify ready sent")
	}
	go func() {
		if err := sd.Watchdog(ctx); err != nil {
			log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	}()
	go reportStatus(ctx, a.Bus(), sd)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	var reason app.StopReason
	select {
	case sig := <-sigs:
		reason = app.ReasonFromSignal(sig)
	case <-a.Done():
		reason = app.StopFatalError
	}
	_, _ = sd.Stopping()

	stopCtx, stop := context.WithTimeout(context.Background(), time.Minute)
	defer stop()
	_ = a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// reportStatus mirrors run progress into the unit status line.
func reportStatus(ctx context.Context, bus eventbus.Bus, sd *systemd.Notifier) {
	ch, unsub := bus.Subscribe(16, dispatch.TopicProgress, dispatch.TopicFinished)
	defer unsub()
	_, _ = sd.Status("idle")
	eventbus.Consume(ctx, ch, func(e eventbus.Event) {
		switch v := e.Data.(type) {
		case dispatch.Snapshot:
			_, _ = sd.Status(progressLine(v))
		case dispatch.Summary:
			_, _ = sd.Status(summaryLine(v))
		}
	})
}
