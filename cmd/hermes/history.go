package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"hermes/internal/storage"
	"hermes/pkg/logx"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List past runs, or the deliveries of one run",
	Long: `Read the run history kept by storage.driver. With a run ID (or a
unique prefix of one) every delivery attempt of that run is listed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to list (0 = all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	_, st, err := loadSettings()
	if err != nil {
		return err
	}
	store, err := storage.Open(st.Storage, logx.Nop())
	if err != nil {
		return err
	}
	if store == nil {
		return errors.WithHint(storage.ErrDisabled, "set storage.driver to file or sqlite")
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		runs, err := store.ListRuns(ctx, historyLimit)
		if err != nil {
			return err
		}
		return writeRuns(out, runs, time.Now())
	}

	id, err := resolveRunID(ctx, store, args[0])
	if err != nil {
		return err
	}
	ds, err := store.Deliveries(ctx, id)
	if err != nil {
		return err
	}
	return writeDeliveries(out, ds)
}

// resolveRunID expands a unique ID prefix to the full run ID.
func resolveRunID(ctx context.Context, store storage.Store, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		return "", err
	}
	var match []string
	for _, r := range runs {
		if r.ID == prefix {
			return r.ID, nil
		}
		if strings.HasPrefix(r.ID, prefix) {
			match = append(match, r.ID)
		}
	}
	switch len(match) {
	case 0:
		return "", errors.Wrapf(storage.ErrNotFound, "run %s", prefix)
	case 1:
		return match[0], nil
	default:
		return "", errors.Newf("run prefix %q is ambiguous (%d runs)", prefix, len(match))
	}
}

func writeRuns(w io.Writer, runs []storage.Run, now time.Time) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSOURCE\tOUTCOME\tSENT\tFAILED\tTOTAL\tTOOK")
	for _, r := range runs {
		took := "-"
		if r.Finished() {
			took = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		source := r.Source
		if source == "" {
			source = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortRunID(r.ID), humanize.RelTime(r.StartedAt, now, "ago", "from now"), source, r.Outcome,
			humanize.Comma(int64(r.Sent)), humanize.Comma(int64(r.Failed)), humanize.Comma(int64(r.Total)), took)
	}
	return tw.Flush()
}

func writeDeliveries(w io.Writer, ds []storage.Delivery) error {
	if len(ds) == 0 {
		_, err := fmt.Fprintln(w, "no deliveries recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tWORKER\tRESULT\tTOOK\tLINK")
	for _, d := range ds {
		result := "ok"
		if !d.OK {
			result = "failed: " + d.Error
		}
		took := (time.Duration(d.TookMS) * time.Millisecond).Round(100 * time.Millisecond)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", d.Index+1, d.Worker, result, took, d.Link)
	}
	return tw.Flush()
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
