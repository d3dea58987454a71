package preflight

import (
	"context"
	"strings"

	"github.com/dongyingyibadao/data-dealer-auto/internal/caption"
	"github.com/dongyingyibadao/data-dealer-auto/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Inputs carries what is known about the run at preflight time.
type Inputs struct {
	// Frames is the source dataset length, used to estimate output size.
	Frames int
	// Provider is the caption provider the run will use; zero skips the check.
	Provider caption.Provider
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, in Inputs) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckSourceDataset("Source dataset", cfg.Paths.SourceDir))
	results = append(results, CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir))
	if in.Frames > 0 {
		results = append(results, CheckFreeSpace("Output free space", cfg.Paths.OutputDir, EstimateOutputBytes(in.Frames, cfg.Assembly.SaveMode)))
	}
	if cfg.Paths.StateDir != "" {
		results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
	}
	if in.Provider.Describer != nil && in.Provider.Remote() {
		results = append(results, CheckCaption(ctx, in.Provider))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// Summary joins failed results into one line.
func Summary(results []Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range Failed(results) {
		parts = append(parts, r.Name+": "+r.Detail)
	}
	return strings.Join(parts, "; ")
}
