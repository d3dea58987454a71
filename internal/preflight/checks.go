package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dongyingyibadao/data-dealer-auto/internal/caption"
	"github.com/dongyingyibadao/data-dealer-auto/internal/config"
	"github.com/dongyingyibadao/data-dealer-auto/internal/dataset"
)

// Rough per-frame output cost: two encoded camera frames plus the jsonl row.
const (
	bytesPerFrameDataset = 1536 * 1024
	bytesPerFrameBoth    = 2 * bytesPerFrameDataset
)

// EstimateOutputBytes approximates the disk space a run over frames source
// frames needs. Windows can overlap, so the figure is an upper bound only
// for non-overlapping output.
func EstimateOutputBytes(frames int, saveMode string) uint64 {
	if frames <= 0 {
		return 0
	}
	per := uint64(bytesPerFrameDataset)
	if saveMode == config.SaveModeBoth {
		per = bytesPerFrameBoth
	}
	return uint64(frames) * per
}

// CheckCaption verifies that a remote caption provider is reachable.
// It uses a 30-second timeout and a single attempt.
func CheckCaption(ctx context.Context, provider caption.Provider) Result {
	name := fmt.Sprintf("Caption provider (%s)", provider.Name)
	checker, ok := provider.Describer.(caption.HealthChecker)
	if !ok {
		return Result{Name: name, Passed: true, Detail: "local, no check needed"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := checker.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeCaptionError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

// CheckSourceDataset verifies that path is a readable dataset directory with a
// frame index.
func CheckSourceDataset(name, path string) Result {
	if path == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	index := filepath.Join(path, dataset.IndexFileName)
	if err := unix.Access(index, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s: %v)", path, dataset.IndexFileName, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (readable)", path)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies that the filesystem holding path has at least
// required bytes available to unprivileged users.
func CheckFreeSpace(name, path string, required uint64) Result {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	available := uint64(st.Bavail) * uint64(st.Bsize)
	if available < required {
		return Result{Name: name, Detail: fmt.Sprintf("%s available, %s estimated", formatBytes(available), formatBytes(required))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s available", formatBytes(available))}
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func summarizeCaptionError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (caption API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (caption API unreachable)"
	}
	return err.Error()
}
