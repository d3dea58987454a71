package caption

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dongyingyibadao/data-dealer-auto/internal/fileutil"
	"github.com/dongyingyibadao/data-dealer-auto/internal/segment"
)

// CheckpointFile is the name of the rolling checkpoint.
const CheckpointFile = "checkpoint_latest.json"

// Checkpoint records labelled windows [0, LastIndex].
type Checkpoint struct {
	CompletedRanges []segment.Window `json:"completed_ranges"`
	LastIndex       int              `json:"last_index"`
	Total           int              `json:"total_ranges,omitempty"`
}

// LoadCheckpoint reads a checkpoint file.
func LoadCheckpoint(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Checkpoint{}, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("parse checkpoint %s: %w", filepath.Base(path), err)
	}
	return cp, nil
}

// SaveCheckpoint writes cp atomically to dir/CheckpointFile.
func SaveCheckpoint(dir string, cp Checkpoint) error {
	return fileutil.WriteJSONAtomic(filepath.Join(dir, CheckpointFile), cp)
}
