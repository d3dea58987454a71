package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dongyingyibadao/data-dealer-auto/internal/dataset"
	"github.com/dongyingyibadao/data-dealer-auto/internal/pipeline"
	"github.com/dongyingyibadao/data-dealer-auto/internal/segment"
	"github.com/dongyingyibadao/data-dealer-auto/internal/services"
)

type detectReport struct {
	Scanned      int                  `json:"scanned"`
	ReadFailures int                  `json:"read_failures"`
	Episodes     int                  `json:"episodes"`
	Events       map[segment.Kind]int `json:"events"`
	Windows      []segment.Window     `json:"windows"`
}

func newDetectCommand(ctx *commandContext) *cobra.Command {
	var flags cutFlags
	var limit int

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Scan the source dataset and list transition windows without writing output",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := applyCutFlags(cmd, cfg, &flags); err != nil {
				return err
			}
			logger, err := ctx.logger(cfg)
			if err != nil {
				return err
			}
			src, err := dataset.OpenDir(cfg.Paths.SourceDir)
			if err != nil {
				return services.Wrap(services.ErrSource, "open_source", "open dataset", cfg.Paths.SourceDir, err)
			}
			analysis, err := pipeline.Analyze(cmd.Context(), cfg, src, nil, logger)
			if err != nil {
				return err
			}

			report := detectReport{
				Scanned:      analysis.Detection.Scanned,
				ReadFailures: analysis.Detection.ReadFailures,
				Episodes:     analysis.Episodes.Episodes(),
				Events:       segment.CountByKind(analysis.Detection.Events),
				Windows:      analysis.Windows,
			}
			if flags.jsonOutput {
				return writeJSON(cmd, report)
			}

			out := cmd.OutOrStdout()
			shown := analysis.Windows
			if limit > 0 && len(shown) > limit {
				shown = shown[:limit]
			}
			fmt.Fprintln(out, renderWindowTable(shown))
			if len(shown) < len(analysis.Windows) {
				fmt.Fprintf(out, "... %d more windows (use --limit 0 to list all)\n", len(analysis.Windows)-len(shown))
			}
			fmt.Fprintf(out, "Scanned %d frames in %d episodes: %d grasp, %d release, %d unknown, %d unreadable\n",
				report.Scanned, report.Episodes,
				report.Events[segment.KindGrasp], report.Events[segment.KindRelease], report.Events[segment.KindUnknown],
				report.ReadFailures,
			)
			fmt.Fprintf(out, "%d windows after filtering and merging\n", len(analysis.Windows))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.source, "source", "", "Source dataset directory (paths.source_dir)")
	f.IntVar(&flags.startIdx, "start-idx", 0, "First dataset position to scan")
	f.IntVar(&flags.endIdx, "end-idx", 0, "Scan end, exclusive; 0 scans to the end")
	f.IntVar(&flags.beforeFrames, "before-frames", segment.DefaultBefore, "Frames kept before each keyframe")
	f.IntVar(&flags.afterFrames, "after-frames", segment.DefaultAfter, "Frames kept after each keyframe")
	f.BoolVar(&flags.merge, "merge", false, "Merge nearby windows of the same episode")
	f.IntVar(&flags.minGap, "min-gap", segment.DefaultMinGap, "Gap in frames below which windows merge")
	f.BoolVar(&flags.jsonOutput, "json", false, "Print the analysis as JSON")
	f.IntVar(&limit, "limit", 50, "Maximum windows to list; 0 lists all")

	return cmd
}

func renderWindowTable(windows []segment.Window) string {
	rows := make([][]string, 0, len(windows))
	for i, w := range windows {
		rows = append(rows, []string{
			strconv.Itoa(i),
			w.Kind.ActionVerb(),
			strconv.Itoa(w.EpisodeID),
			strconv.Itoa(w.Keyframe),
			fmt.Sprintf("%d-%d", w.Start, w.End),
			strconv.Itoa(w.NumFrames()),
			w.Label(),
		})
	}
	return renderTable(
		[]string{"#", "Action", "Episode", "Keyframe", "Range", "Frames", "Task"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
	)
}
