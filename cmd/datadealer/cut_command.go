package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dongyingyibadao/data-dealer-auto/internal/config"
	"github.com/dongyingyibadao/data-dealer-auto/internal/ledger"
	"github.com/dongyingyibadao/data-dealer-auto/internal/pipeline"
	"github.com/dongyingyibadao/data-dealer-auto/internal/segment"
	"github.com/dongyingyibadao/data-dealer-auto/internal/services"
)

// cutFlags mirrors the config keys a single run can override.
type cutFlags struct {
	source             string
	output             string
	startIdx           int
	endIdx             int
	maxEpisodes        int
	beforeFrames       int
	afterFrames        int
	saveMode           string
	merge              bool
	minGap             int
	placeholders       bool
	batchSize          int
	llmProvider        string
	llmAPIKey          string
	llmAPIBase         string
	llmAPIVersion      string
	llmModel           string
	llmFastMode        bool
	checkpointInterval int

	resumeFrom    string
	resumeRun     string
	skipCutting   bool
	loadRanges    string
	skipPreflight bool
	jsonOutput    bool
}

func newCutCommand(ctx *commandContext) *cobra.Command {
	var flags cutFlags

	cmd := &cobra.Command{
		Use:   "cut",
		Short: "Detect transitions, label them and write the cut dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := applyCutFlags(cmd, cfg, &flags); err != nil {
				return err
			}
			if flags.loadRanges != "" {
				if flags.loadRanges, err = expandFlagPath(flags.loadRanges); err != nil {
					return services.Wrap(services.ErrConfiguration, "config", "flags", "--load-ranges", err)
				}
			}
			if flags.resumeFrom != "" {
				if flags.resumeFrom, err = expandFlagPath(flags.resumeFrom); err != nil {
					return services.Wrap(services.ErrConfiguration, "config", "flags", "--resume-from", err)
				}
			}

			logger, err := ctx.logger(cfg)
			if err != nil {
				return err
			}
			store, err := ledger.Open(cfg)
			if err != nil {
				return services.Wrap(services.ErrOutput, "start", "open ledger", "", err)
			}
			defer store.Close()

			runner, err := pipeline.NewRunner(cfg, store, logger)
			if err != nil {
				return err
			}
			res, runErr := runner.Run(cmd.Context(), pipeline.Options{
				LoadRanges:    flags.loadRanges,
				SkipCutting:   flags.skipCutting,
				ResumeFrom:    flags.resumeFrom,
				ResumeRun:     flags.resumeRun,
				SkipPreflight: flags.skipPreflight,
			})
			if res != nil {
				if flags.jsonOutput {
					if err := writeJSON(cmd, res); err != nil {
						return err
					}
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues(cutSummary(res)))
					if runErr != nil && res.RunID != "" {
						fmt.Fprintf(cmd.OutOrStdout(), "Resume with: datadealer cut --resume-run %s\n", res.RunID)
					}
				}
			}
			return runErr
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.source, "source", "", "Source dataset directory (paths.source_dir)")
	f.StringVar(&flags.output, "output", "", "Output directory (paths.output_dir)")
	f.IntVar(&flags.startIdx, "start-idx", 0, "First dataset position to scan")
	f.IntVar(&flags.endIdx, "end-idx", 0, "Scan end, exclusive; 0 scans to the end")
	f.IntVar(&flags.maxEpisodes, "max-episodes", 0, "Maximum number of segments to write; 0 writes all")
	f.IntVar(&flags.beforeFrames, "before-frames", segment.DefaultBefore, "Frames kept before each keyframe")
	f.IntVar(&flags.afterFrames, "after-frames", segment.DefaultAfter, "Frames kept after each keyframe")
	f.StringVar(&flags.saveMode, "save-mode", config.SaveModeDataset, "Output layout: dataset, image or both")
	f.BoolVar(&flags.merge, "merge", false, "Merge nearby windows of the same episode")
	f.IntVar(&flags.minGap, "min-gap", segment.DefaultMinGap, "Gap in frames below which windows merge")
	f.BoolVar(&flags.placeholders, "placeholders", true, "Insert a placeholder frame between segments of one episode")
	f.IntVar(&flags.batchSize, "batch-size", 50, "Windows assembled per batch")
	f.StringVar(&flags.llmProvider, "llm-provider", "", "Caption provider: local, qwen, deepseek, openrouter or gpt")
	f.StringVar(&flags.llmAPIKey, "llm-api-key", "", "Caption provider API key")
	f.StringVar(&flags.llmAPIBase, "llm-api-base", "", "Caption provider endpoint")
	f.StringVar(&flags.llmAPIVersion, "llm-api-version", "", "Azure OpenAI API version (gpt provider)")
	f.StringVar(&flags.llmModel, "llm-model", "", "Caption model name")
	f.BoolVar(&flags.llmFastMode, "llm-fast-mode", false, "gpt provider: send two frames per window instead of six")
	f.IntVar(&flags.checkpointInterval, "checkpoint-interval", 10, "Windows between caption checkpoints")
	f.StringVar(&flags.resumeFrom, "resume-from", "", "Caption checkpoint to resume from")
	f.StringVar(&flags.resumeRun, "resume-run", "", "Failed run id to resume; reuses its ranges file and skips committed batches")
	f.BoolVar(&flags.skipCutting, "skip-cutting", false, "Stop after writing frame_ranges_info.json")
	f.StringVar(&flags.loadRanges, "load-ranges", "", "Use a frame_ranges_info.json from an earlier run")
	f.BoolVar(&flags.skipPreflight, "skip-preflight", false, "Do not run preflight checks")
	f.BoolVar(&flags.jsonOutput, "json", false, "Print the run result as JSON")

	return cmd
}

// applyCutFlags copies every flag the user set onto cfg and revalidates it.
func applyCutFlags(cmd *cobra.Command, cfg *config.Config, f *cutFlags) error {
	changed := cmd.Flags().Changed
	if changed("source") {
		cfg.Paths.SourceDir = f.source
	}
	if changed("output") {
		cfg.Paths.OutputDir = f.output
	}
	if changed("start-idx") {
		cfg.Detect.StartIndex = f.startIdx
	}
	if changed("end-idx") {
		cfg.Detect.EndIndex = f.endIdx
	}
	if changed("max-episodes") {
		cfg.Assembly.MaxSegments = f.maxEpisodes
	}
	if changed("before-frames") {
		cfg.Window.Before = f.beforeFrames
	}
	if changed("after-frames") {
		cfg.Window.After = f.afterFrames
	}
	if changed("save-mode") {
		cfg.Assembly.SaveMode = normalizeSaveMode(f.saveMode)
	}
	if changed("merge") {
		cfg.Merge.Enabled = f.merge
	}
	if changed("min-gap") {
		cfg.Merge.MinGap = f.minGap
	}
	if changed("placeholders") {
		cfg.Assembly.Placeholders = f.placeholders
	}
	if changed("batch-size") {
		cfg.Assembly.BatchSize = f.batchSize
	}
	if changed("llm-provider") && f.llmProvider != cfg.Caption.Provider {
		cfg.Caption.Provider = f.llmProvider
		// Endpoint and model defaults belong to the previous provider.
		cfg.Caption.BaseURL = ""
		cfg.Caption.Model = ""
		cfg.Caption.APIKey = ""
	}
	if changed("llm-api-key") {
		cfg.Caption.APIKey = f.llmAPIKey
	}
	if changed("llm-api-base") {
		cfg.Caption.BaseURL = f.llmAPIBase
	}
	if changed("llm-api-version") {
		cfg.Caption.APIVersion = f.llmAPIVersion
	}
	if changed("llm-model") {
		cfg.Caption.Model = f.llmModel
	}
	if changed("llm-fast-mode") {
		cfg.Caption.FastMode = f.llmFastMode
	}
	if changed("checkpoint-interval") {
		cfg.Caption.CheckpointInterval = f.checkpointInterval
	}
	return applyOverrides(cfg)
}

// normalizeSaveMode accepts "lerobot" as a synonym for the dataset layout.
func normalizeSaveMode(mode string) string {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "lerobot" {
		return config.SaveModeDataset
	}
	return mode
}

func cutSummary(res *pipeline.Result) [][2]string {
	pairs := [][2]string{
		{"Run ID", res.RunID},
		{"Source", res.Source},
		{"Output", res.Output},
		{"Frames scanned", strconv.Itoa(res.Scanned)},
		{"Grasp events", strconv.Itoa(res.Events[segment.KindGrasp])},
		{"Release events", strconv.Itoa(res.Events[segment.KindRelease])},
		{"Windows", strconv.Itoa(res.Windows)},
		{"Captions described", strconv.Itoa(res.Caption.Described)},
		{"Caption cache hits", strconv.Itoa(res.Caption.CacheHits)},
		{"Caption fallbacks", strconv.Itoa(res.Caption.Fallbacks)},
	}
	if res.SkippedCut {
		return append(pairs, [2]string{"Cutting", "skipped"}, [2]string{"Ranges file", res.RangesFile})
	}
	return append(pairs,
		[2]string{"Segments", strconv.Itoa(res.Assembly.Segments - res.Assembly.EmptySegments)},
		[2]string{"Empty segments", strconv.Itoa(res.Assembly.EmptySegments)},
		[2]string{"Frames written", strconv.Itoa(res.Assembly.Frames)},
		[2]string{"Placeholders", strconv.Itoa(res.Assembly.Placeholders)},
		[2]string{"Read failures", strconv.Itoa(res.ReadFailures)},
		[2]string{"Truncated windows", strconv.Itoa(res.Assembly.Truncated)},
		[2]string{"Duration", res.Duration.Round(time.Millisecond).String()},
	)
}
