package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dongyingyibadao/data-dealer-auto/internal/caption"
	"github.com/dongyingyibadao/data-dealer-auto/internal/dataset"
	"github.com/dongyingyibadao/data-dealer-auto/internal/preflight"
	"github.com/dongyingyibadao/data-dealer-auto/internal/services"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	var flags cutFlags

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check source, output, free space and caption provider readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := applyCutFlags(cmd, cfg, &flags); err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return services.Wrap(services.ErrOutput, "preflight", "create directories", "", err)
			}

			var in preflight.Inputs
			if src, err := dataset.OpenDir(cfg.Paths.SourceDir); err == nil {
				in.Frames = src.Len()
			}
			provider, err := caption.NewProvider(cfg.Caption)
			if err != nil {
				return services.Wrap(services.ErrConfiguration, "preflight", "select provider", "", err)
			}
			in.Provider = provider

			results := preflight.RunAll(cmd.Context(), cfg, in)
			if flags.jsonOutput {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, r := range results {
					kind := statusOK
					if !r.Passed {
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
				}
				if in.Frames > 0 {
					fmt.Fprintln(out, renderStatusLine("Source frames", statusInfo, fmt.Sprintf("%d", in.Frames), colorize))
				}
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return services.Wrap(services.ErrValidation, "preflight", "checks failed", preflight.Summary(results), nil)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.source, "source", "", "Source dataset directory (paths.source_dir)")
	f.StringVar(&flags.output, "output", "", "Output directory (paths.output_dir)")
	f.StringVar(&flags.saveMode, "save-mode", "", "Output layout used for the space estimate")
	f.StringVar(&flags.llmProvider, "llm-provider", "", "Caption provider to check")
	f.StringVar(&flags.llmAPIKey, "llm-api-key", "", "Caption provider API key")
	f.StringVar(&flags.llmAPIBase, "llm-api-base", "", "Caption provider endpoint")
	f.StringVar(&flags.llmAPIVersion, "llm-api-version", "", "Azure OpenAI API version (gpt provider)")
	f.StringVar(&flags.llmModel, "llm-model", "", "Caption model name")
	f.BoolVar(&flags.jsonOutput, "json", false, "Print results as JSON")
	return cmd
}
