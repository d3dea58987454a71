package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dongyingyibadao/data-dealer-auto/internal/output"
	"github.com/dongyingyibadao/data-dealer-auto/internal/services"
)

type inspectReport struct {
	Info         output.Info              `json:"info"`
	Structure    []output.OriginalEpisode `json:"structure"`
	Placeholders output.PlaceholderReport `json:"placeholders"`
}

func newInspectCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:         "inspect <output-dir>",
		Short:       "Show how a cut dataset maps back to its original episodes",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := expandFlagPath(args[0])
			if err != nil {
				return services.Wrap(services.ErrConfiguration, "inspect", "resolve path", args[0], err)
			}
			ds, err := output.Open(root)
			if err != nil {
				return services.Wrap(services.ErrNotFound, "inspect", "open output", root, err)
			}
			report, err := ds.VerifyPlaceholders(cmd.Context())
			if err != nil {
				return services.Wrap(services.ErrOutput, "inspect", "read segments", "", err)
			}
			structure := ds.EpisodeStructure()

			if jsonOutput {
				if err := writeJSON(cmd, inspectReport{Info: ds.Info, Structure: structure, Placeholders: report}); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintf(out, "%s: %d segments, %d frames, %d tasks, %d placeholders\n",
					root, ds.Info.TotalEpisodes, ds.Info.TotalFrames, ds.Info.TotalTasks, ds.Info.TotalPlaceholders)
				fmt.Fprintln(out, renderStructureTable(structure))
				fmt.Fprintln(out, placeholderStatusLine(report, colorize))
				for _, c := range report.Checks {
					if !c.Valid {
						fmt.Fprintln(out, renderStatusLine(fmt.Sprintf("Segment %d row %d", c.EpisodeIndex, c.Index), statusError, c.Reason, colorize))
					}
				}
			}
			if !report.OK() {
				return services.Wrap(services.ErrValidation, "inspect", "verify placeholders", "placeholder rows are inconsistent", nil)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the structure as JSON")
	return cmd
}

func renderStructureTable(structure []output.OriginalEpisode) string {
	rows := make([][]string, 0, len(structure))
	for _, ep := range structure {
		segments := make([]string, 0, len(ep.Segments))
		frames := 0
		for _, seg := range ep.Segments {
			label := fmt.Sprintf("%d [%d-%d]", seg.EpisodeIndex, seg.From, seg.To)
			if seg.HasPlaceholder {
				label += "+P"
			}
			segments = append(segments, label)
			frames += seg.Length
		}
		rows = append(rows, []string{
			strconv.Itoa(ep.Original),
			strconv.Itoa(len(ep.Segments)),
			strconv.Itoa(frames),
			strconv.Itoa(len(ep.Placeholders)),
			strings.Join(segments, ", "),
		})
	}
	return renderTable(
		[]string{"Original", "Segments", "Frames", "Placeholders", "Segment [from-to]"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignLeft},
	)
}

func placeholderStatusLine(report output.PlaceholderReport, colorize bool) string {
	found := len(report.Checks)
	if report.OK() {
		return renderStatusLine("Placeholders", statusOK, fmt.Sprintf("%d expected, %d verified", report.Expected, found), colorize)
	}
	bad := 0
	for _, c := range report.Checks {
		if !c.Valid {
			bad++
		}
	}
	return renderStatusLine("Placeholders", statusError, fmt.Sprintf("%d expected, %d invalid", report.Expected, bad), colorize)
}
