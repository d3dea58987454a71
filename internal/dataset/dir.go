package dataset

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// IndexFileName is the per-frame metadata file at the root of a source dataset.
const IndexFileName = "frames.jsonl"

// Record is one line of frames.jsonl. Image paths are relative to the
// dataset root.
type Record struct {
	Index      int       `json:"index"`
	Episode    int       `json:"episode_index"`
	LocalIndex *int      `json:"frame_index,omitempty"`
	Timestamp  float32   `json:"timestamp"`
	Action     []float32 `json:"action"`
	State      []float32 `json:"state"`
	Task       string    `json:"task"`
	TaskIndex  int       `json:"task_index"`
	Image      string    `json:"image"`
	Image2     string    `json:"image2"`
}

type dirEntry struct {
	record Record
	err    error
}

// DirSource reads a dataset laid out as frames.jsonl plus image files. The
// metadata is loaded once at Open; image bytes are read on every Frame call.
type DirSource struct {
	root    string
	entries []dirEntry
}

// OpenDir loads the metadata index under root. A missing or unreadable index
// is a run-level failure; a malformed line only poisons its own position.
func OpenDir(root string) (*DirSource, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("open dataset: root directory required")
	}
	file, err := os.Open(filepath.Join(root, IndexFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open dataset: %s not found in %s", IndexFileName, root)
		}
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()

	src := &DirSource{root: root}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		line++
		if text == "" {
			continue
		}
		var rec Record
		entry := dirEntry{}
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			entry.err = fmt.Errorf("%s line %d: %w", IndexFileName, line, err)
		}
		entry.record = rec
		src.entries = append(src.entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("open dataset: read %s: %w", IndexFileName, err)
	}
	return src, nil
}

// Root returns the dataset directory.
func (d *DirSource) Root() string { return d.root }

func (d *DirSource) Len() int { return len(d.entries) }

// Meta returns frame i without reading its images.
func (d *DirSource) Meta(ctx context.Context, i int) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if err := checkIndex(i, len(d.entries)); err != nil {
		return Frame{}, err
	}
	entry := d.entries[i]
	if entry.err != nil {
		return Frame{}, entry.err
	}
	rec := entry.record
	local := UnknownLocalIndex
	if rec.LocalIndex != nil {
		local = *rec.LocalIndex
	}
	return Frame{
		Index:      i,
		EpisodeID:  rec.Episode,
		LocalIndex: local,
		Timestamp:  rec.Timestamp,
		Action:     rec.Action,
		State:      rec.State,
		ImageExt:   imageExt(rec.Image),
		TaskLabel:  rec.Task,
		TaskIndex:  rec.TaskIndex,
	}, nil
}

// Frame returns frame i with both camera images loaded.
func (d *DirSource) Frame(ctx context.Context, i int) (Frame, error) {
	frame, err := d.Meta(ctx, i)
	if err != nil {
		return Frame{}, err
	}
	rec := d.entries[i].record
	if frame.Image1, err = d.readImage(rec.Image); err != nil {
		return Frame{}, fmt.Errorf("frame %d image: %w", i, err)
	}
	if frame.Image2, err = d.readImage(rec.Image2); err != nil {
		return Frame{}, fmt.Errorf("frame %d image2: %w", i, err)
	}
	return frame, nil
}

func (d *DirSource) readImage(rel string) ([]byte, error) {
	if strings.TrimSpace(rel) == "" {
		return nil, nil
	}
	return os.ReadFile(filepath.Join(d.root, filepath.FromSlash(rel)))
}

func imageExt(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "png"
	}
	return ext
}
