package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dongyingyibadao/data-dealer-auto/internal/ledger"
	"github.com/dongyingyibadao/data-dealer-auto/internal/services"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool
	var runID string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ledger.Open(cfg)
			if err != nil {
				return services.Wrap(services.ErrOutput, "history", "open ledger", "", err)
			}
			defer store.Close()

			if runID != "" {
				return showRun(cmd, store, runID, jsonOutput)
			}

			runs, err := store.Runs(cmd.Context(), limit)
			if err != nil {
				return services.Wrap(services.ErrOutput, "history", "list runs", "", err)
			}
			if jsonOutput {
				return writeJSON(cmd, runs)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			fmt.Fprintln(out, renderRunsTable(runs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list")
	cmd.Flags().StringVar(&runID, "run", "", "Show one run and its committed batches")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print runs as JSON")
	return cmd
}

func showRun(cmd *cobra.Command, store *ledger.Store, id string, jsonOutput bool) error {
	run, err := store.GetRun(cmd.Context(), id)
	if err != nil {
		return services.Wrap(services.ErrOutput, "history", "load run", id, err)
	}
	if run == nil {
		return services.Wrap(services.ErrNotFound, "history", "load run", id, ledger.ErrRunNotFound)
	}
	batches, err := store.CommittedBatches(cmd.Context(), id)
	if err != nil {
		return services.Wrap(services.ErrOutput, "history", "load batches", id, err)
	}
	if jsonOutput {
		return writeJSON(cmd, struct {
			Run     *ledger.Run    `json:"run"`
			Batches []ledger.Batch `json:"batches"`
		}{run, batches})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderRunsTable([]ledger.Run{*run}))
	if run.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", run.Error)
	}
	rows := make([][]string, 0, len(batches))
	for _, b := range batches {
		rows = append(rows, []string{
			strconv.Itoa(b.Index),
			fmt.Sprintf("%d-%d", b.FirstSegment, b.LastSegment),
			strconv.Itoa(b.Frames),
			formatTime(b.CommittedAt),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Batch", "Segments", "Frames", "Committed"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignLeft},
	))
	return nil
}

func renderRunsTable(runs []ledger.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		duration := "-"
		if d := r.Duration(); d > 0 {
			duration = d.Round(time.Second).String()
		}
		rows = append(rows, []string{
			r.ID,
			string(r.Status),
			formatTime(r.StartedAt),
			duration,
			strconv.Itoa(r.Windows),
			strconv.Itoa(r.Segments),
			strconv.Itoa(r.Frames),
			strconv.Itoa(r.ReadFailures),
			r.Output,
		})
	}
	return renderTable(
		[]string{"Run", "Status", "Started", "Duration", "Windows", "Segments", "Frames", "Read failures", "Output"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
	)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
