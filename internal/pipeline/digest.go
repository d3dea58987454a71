package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dongyingyibadao/data-dealer-auto/internal/config"
	"github.com/dongyingyibadao/data-dealer-auto/internal/segment"
)

// WindowsDigest hashes everything that decides segment numbering, task
// indices and batch boundaries. Two runs with equal digests write the same
// batches, so committed batches of one can stand in for the other.
// Gripper values are left out: they never reach the output.
func WindowsDigest(windows []segment.Window, asm config.Assembly) string {
	h := sha256.New()
	fmt.Fprintf(h, "batch=%d max=%d mode=%s placeholders=%t sentinel=%g\n",
		asm.BatchSize, asm.MaxSegments, asm.SaveMode, asm.Placeholders, asm.PlaceholderAction)
	for _, w := range windows {
		fmt.Fprintf(h, "%d|%s|%d|%d|%d|%d|%d|%q|%q\n",
			w.Keyframe, w.Kind, w.Start, w.End, w.EpisodeID, w.LocalIndex, w.TaskIndex, w.TaskLabel, w.Label())
	}
	return hex.EncodeToString(h.Sum(nil))
}
