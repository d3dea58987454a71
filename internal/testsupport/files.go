package testsupport

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/dongyingyibadao/data-dealer-auto/internal/dataset"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

// Episode describes a synthetic recording: one gripper value per frame.
type Episode struct {
	Task    string
	Gripper []float32
}

// WriteSourceDataset lays out frames.jsonl plus two tiny images per frame
// under root, numbering frames consecutively across episodes.
func WriteSourceDataset(t testing.TB, root string, episodes []Episode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, "images"), 0o755); err != nil {
		t.Fatalf("mkdir images: %v", err)
	}
	f, err := os.Create(filepath.Join(root, dataset.IndexFileName))
	if err != nil {
		t.Fatalf("create index: %v", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	index := 0
	for ep, episode := range episodes {
		for local, g := range episode.Gripper {
			img1 := filepath.Join("images", fmt.Sprintf("%06d_cam1.png", index))
			img2 := filepath.Join("images", fmt.Sprintf("%06d_cam2.png", index))
			for _, rel := range []string{img1, img2} {
				if err := os.WriteFile(filepath.Join(root, rel), []byte(rel), 0o644); err != nil {
					t.Fatalf("write image: %v", err)
				}
			}
			rec := dataset.Record{
				Index:      index,
				Episode:    ep,
				LocalIndex: &local,
				Timestamp:  float32(local) / 10,
				Action:     []float32{0.1, 0.2, 0.3, 0, 0, 0, g},
				State:      []float32{float32(index), 0, 0, 0, 0, 0, 0, 0},
				Task:       episode.Task,
				TaskIndex:  ep,
				Image:      img1,
				Image2:     img2,
			}
			if err := enc.Encode(rec); err != nil {
				t.Fatalf("encode record: %v", err)
			}
			index++
		}
	}
}

// Gripper builds a gripper trace: open (-1) for openFrames, closed (+1) for
// closedFrames, then open again for the remainder up to total.
func Gripper(total, openFrames, closedFrames int) []float32 {
	out := make([]float32, total)
	for i := range out {
		switch {
		case i < openFrames:
			out[i] = -1
		case i < openFrames+closedFrames:
			out[i] = 1
		default:
			out[i] = -1
		}
	}
	return out
}
