package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"hermes/internal/dispatch"
)

// runControl is the part of the scheduler the console drives.
type runControl interface {
	Toggle() dispatch.State
	Resume() bool
	Cancel() bool
	Snapshot() dispatch.Snapshot
}

const consoleHelp = "commands: p pause/resume, r resume, c cancel, s status"

// console reads one-letter commands from the terminal while a run is active.
type console struct {
	run runControl
	out io.Writer
}

// Run reads lines until in is exhausted or ctx ends. A blocked read on a
// terminal outlives ctx; the caller does not wait for it.
func (c *console) Run(ctx context.Context, in io.Reader) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		c.handle(sc.Text())
	}
}

func (c *console) handle(line string) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
	case "p", "pause":
		st := c.run.Toggle()
		if !st.Active() {
			fmt.Fprintln(c.out, "no active run")
			return
		}
		fmt.Fprintf(c.out, "run %s\n", st)
	case "r", "resume":
		if c.run.Resume() {
			fmt.Fprintln(c.out, "run resumed")
		} else {
			fmt.Fprintln(c.out, "nothing to resume")
		}
	case "c", "cancel":
		if c.run.Cancel() {
			fmt.Fprintln(c.out, "cancel requested, finishing the current link")
		} else {
			fmt.Fprintln(c.out, "no active run")
		}
	case "s", "status":
		fmt.Fprintln(c.out, progressLine(c.run.Snapshot()))
	default:
		fmt.Fprintln(c.out, consoleHelp)
	}
}

// progressLine renders a one-line run status.
func progressLine(s dispatch.Snapshot) string {
	if s.RunID == "" {
		return "no run yet"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s/%s %5.1f%%] sent %s, failed %s, elapsed %s",
		humanize.Comma(int64(s.CurrentIndex)), humanize.Comma(int64(s.Total)), s.Percent(),
		humanize.Comma(int64(s.Sent)), humanize.Comma(int64(s.Failed)),
		s.Elapsed.Round(time.Second),
	)
	if s.State.Active() && s.EstimatedRemaining > 0 {
		fmt.Fprintf(&b, ", ~%s left", s.EstimatedRemaining.Round(time.Second))
	}
	if s.State == dispatch.Paused {
		b.WriteString(" (paused)")
	}
	return b.String()
}

func summaryLine(s dispatch.Summary) string {
	return fmt.Sprintf("run %s %s: %s of %s attempted, %s sent, %s failed in %s",
		s.RunID, s.Outcome,
		humanize.Comma(int64(s.Attempted)), humanize.Comma(int64(s.Total)),
		humanize.Comma(int64(s.Sent)), humanize.Comma(int64(s.Failed)),
		s.Elapsed().Round(time.Second),
	)
}
