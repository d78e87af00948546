package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"hermes/internal/app"
	"hermes/internal/dispatch"
	"hermes/internal/eventbus"
	"hermes/internal/linkgen"
	"hermes/internal/tabular"
	"hermes/pkg/logx"
)

var sendFlags struct {
	devices []string
	dryRun  bool
	dryTook time.Duration
	quiet   bool

	numbers  string
	messages string
	loops    int
}

var sendCmd = &cobra.Command{
	Use:   "send [links.csv]",
	Short: "Open every link of a links file on the adb devices",
	Long: `Dispatch a links file (a table with a URL column, as written by
"hermes generate") round-robin over the devices. Without an argument
dispatch.links_file is used.

With --numbers and --messages the links are built in memory instead: each
message is paired with a number from the rotation, and nothing is written.

While the run is active, type on stdin:
  p  pause or resume
  r  resume
  c  cancel after the current link
  s  print status

Ctrl-C cancels the run; a second Ctrl-C exits immediately.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if sendFlags.numbers != "" && len(args) > 0 {
			return errors.New("a links file and --numbers are mutually exclusive")
		}
		return cobra.MaximumNArgs(1)(cmd, args)
	},
	RunE: runSend,
}

func init() {
	f := sendCmd.Flags()
	f.StringSliceVarP(&sendFlags.devices, "device", "d", nil, "adb serials to use (default: adb.devices)")
	f.BoolVar(&sendFlags.dryRun, "dry-run", false, "log the links instead of driving devices")
	f.DurationVar(&sendFlags.dryTook, "dry-run-took", 200*time.Millisecond, "simulated delivery time in dry-run mode")
	f.BoolVarP(&sendFlags.quiet, "quiet", "q", false, "no progress lines")
	f.StringVar(&sendFlags.numbers, "numbers", "", "manual mode: file with one number per line")
	f.StringVar(&sendFlags.messages, "messages", "", "manual mode: file with one message per line")
	f.IntVar(&sendFlags.loops, "loops", 1, "manual mode: minimum repetitions of the number block")

	sendCmd.MarkFlagsRequiredTogether("numbers", "messages")
}

func runSend(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) > 0 {
		path = args[0]
	}

	opt := app.Options{ConfigPath: cfgPath, Mode: app.ModeSend, Devices: sendFlags.devices}
	if sendFlags.dryRun {
		opt.Driver = app.DryRunDriver{
			Log:  logx.NewConsole("info").With(logx.String("comp", "dry-run")),
			Took: sendFlags.dryTook,
		}
	}
	a, err := app.New(opt)
	if err != nil {
		return err
	}

	ctx, hardStop := context.WithCancel(context.Background())
	defer hardStop()
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}
	out := cmd.OutOrStdout()

	events, unsub := a.Bus().Subscribe(256, dispatch.TopicProgress)
	defer unsub()
	if !sendFlags.quiet {
		go eventbus.Consume(ctx, events, func(e eventbus.Event) {
			if s, ok := e.Data.(dispatch.Snapshot); ok && s.State.Active() {
				fmt.Fprintln(out, progressLine(s))
			}
		})
	}

	var (
		id    string
		total int
	)
	if sendFlags.numbers != "" {
		var links []string
		links, err = manualLinks(a.Generator(), sendFlags.numbers, sendFlags.messages, sendFlags.loops)
		if err == nil {
			total = len(links)
			id, err = a.Run(ctx, links, "cli")
		}
	} else {
		id, total, err = a.Launch(ctx, path, "cli")
	}
	if err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}
	fmt.Fprintf(out, "run %s: %d links over %v\n%s\n", id, total, a.Devices(), consoleHelp)

	con := &console{run: a.Scheduler(), out: out}
	go con.Run(ctx, cmd.InOrStdin())

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	interrupted := make(chan app.StopReason, 1)
	go func() {
		for n := 0; ; n++ {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				if n == 0 {
					interrupted <- app.ReasonFromSignal(sig)
					if a.Scheduler().Cancel() {
						fmt.Fprintln(out, "canceling, press Ctrl-C again to exit now")
						continue
					}
				}
				hardStop()
				return
			}
		}
	}()

	sum, waitErr := a.Scheduler().Wait(ctx)
	if waitErr == nil {
		fmt.Fprintln(out, summaryLine(sum))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reason := app.StopRunDone
	select {
	case reason = <-interrupted:
	default:
	}
	_ = a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil {
		return err
	}
	if waitErr != nil {
		return errors.Wrap(waitErr, "interrupted")
	}
	if sum.Attempted > 0 && sum.Sent == 0 {
		return errors.Newf("no link was delivered (%d failed)", sum.Failed)
	}
	return nil
}

func manualLinks(gen *linkgen.Generator, numbersPath, messagesPath string, loops int) ([]string, error) {
	rawNumbers, err := tabular.ReadLines(numbersPath)
	if err != nil {
		return nil, err
	}
	rawMessages, err := tabular.ReadLines(messagesPath)
	if err != nil {
		return nil, err
	}
	numbers, err := linkgen.ParseAddresses(rawNumbers)
	if err != nil {
		return nil, errors.Wrap(err, numbersPath)
	}
	messages, err := linkgen.ParseMessages(rawMessages)
	if err != nil {
		return nil, errors.Wrap(err, messagesPath)
	}
	return gen.FromManual(numbers, messages, loops), nil
}
