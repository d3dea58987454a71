package output

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/dongyingyibadao/data-dealer-auto/internal/assembly"
)

// ErrIncomplete reports an output directory without meta/info.json.
var ErrIncomplete = errors.New("output dataset is incomplete")

// Dataset is a finished output directory loaded for inspection.
type Dataset struct {
	Layout   Layout
	Info     Info
	Episodes []EpisodeMeta
	Tasks    []assembly.Task
	Index    []assembly.Entry
}

// Open loads the metadata of the dataset at root.
func Open(root string) (*Dataset, error) {
	layout := Layout{Root: root}
	data, err := os.ReadFile(layout.MetaFile(infoFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", root, ErrIncomplete)
		}
		return nil, err
	}
	d := &Dataset{Layout: layout}
	if err := json.Unmarshal(data, &d.Info); err != nil {
		return nil, fmt.Errorf("parse %s: %w", infoFile, err)
	}
	if d.Episodes, err = readJSONLines[EpisodeMeta](layout.MetaFile(episodesFile)); err != nil {
		return nil, err
	}
	if d.Tasks, err = readJSONLines[assembly.Task](layout.MetaFile(tasksFile)); err != nil {
		return nil, err
	}
	if d.Index, err = readJSONLines[assembly.Entry](layout.MetaFile(indexMapFile)); err != nil {
		return nil, err
	}
	return d, nil
}

// Episode returns the metadata of a segment by its new index.
func (d *Dataset) Episode(index int) (EpisodeMeta, bool) {
	for _, ep := range d.Episodes {
		if ep.EpisodeIndex == index {
			return ep, true
		}
	}
	return EpisodeMeta{}, false
}

// Records reads the data file of a segment.
func (d *Dataset) Records(index int) ([]Record, error) {
	ep, ok := d.Episode(index)
	if !ok {
		return nil, fmt.Errorf("episode %d not found", index)
	}
	return readJSONLines[Record](d.Layout.Abs(ep.DataFile))
}

// SegmentRef places one segment inside its original episode.
type SegmentRef struct {
	EpisodeIndex   int
	From           int
	To             int
	Length         int
	HasPlaceholder bool
	DataFile       string
}

// OriginalEpisode lists the segments cut from one original episode.
type OriginalEpisode struct {
	Original int
	Segments []SegmentRef
	// Placeholders holds the new global index of every placeholder row.
	Placeholders []int
}

// EpisodeStructure groups segments by original episode, ordered by original
// id and then by position.
func (d *Dataset) EpisodeStructure() []OriginalEpisode {
	groups := make(map[int]*OriginalEpisode)
	for _, ep := range d.Episodes {
		group, ok := groups[ep.OriginalEpisodeIndex]
		if !ok {
			group = &OriginalEpisode{Original: ep.OriginalEpisodeIndex}
			groups[ep.OriginalEpisodeIndex] = group
		}
		group.Segments = append(group.Segments, SegmentRef{
			EpisodeIndex:   ep.EpisodeIndex,
			From:           ep.DatasetFromIndex,
			To:             ep.DatasetToIndex,
			Length:         ep.Length,
			HasPlaceholder: ep.HasPlaceholder,
			DataFile:       ep.DataFile,
		})
		if ep.HasPlaceholder {
			group.Placeholders = append(group.Placeholders, ep.DatasetToIndex)
		}
	}
	out := make([]OriginalEpisode, 0, len(groups))
	for _, group := range groups {
		slices.SortFunc(group.Segments, func(a, b SegmentRef) int { return a.From - b.From })
		slices.Sort(group.Placeholders)
		out = append(out, *group)
	}
	slices.SortFunc(out, func(a, b OriginalEpisode) int { return a.Original - b.Original })
	return out
}

// PlaceholderCheck is the verdict for one segment that should end with a
// placeholder, or that holds one it should not.
type PlaceholderCheck struct {
	EpisodeIndex int
	Index        int
	Valid        bool
	Reason       string
}

// PlaceholderReport summarises VerifyPlaceholders.
type PlaceholderReport struct {
	Expected int
	Checks   []PlaceholderCheck
}

// OK reports whether every check passed.
func (r PlaceholderReport) OK() bool {
	for _, c := range r.Checks {
		if !c.Valid {
			return false
		}
	}
	return true
}

// VerifyPlaceholders reads every segment data file and checks that
// placeholder rows sit exactly at the end of the segments flagged for one,
// carry the sentinel action and agree with the index map.
func (d *Dataset) VerifyPlaceholders(ctx context.Context) (PlaceholderReport, error) {
	var report PlaceholderReport
	for _, ep := range d.Episodes {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		records, err := d.Records(ep.EpisodeIndex)
		if err != nil {
			return report, err
		}
		if ep.HasPlaceholder {
			report.Expected++
		}
		for k, rec := range records {
			last := k == len(records)-1
			if !rec.IsPlaceholder {
				if ep.HasPlaceholder && last {
					report.Checks = append(report.Checks, PlaceholderCheck{
						EpisodeIndex: ep.EpisodeIndex, Index: rec.Index,
						Reason: "segment should end with a placeholder",
					})
				}
				continue
			}
			check := PlaceholderCheck{EpisodeIndex: ep.EpisodeIndex, Index: rec.Index, Valid: true}
			switch {
			case !ep.HasPlaceholder || !last:
				check.Valid, check.Reason = false, "unexpected placeholder position"
			case rec.Index != ep.DatasetToIndex:
				check.Valid, check.Reason = false, "placeholder index does not match dataset_to_index"
			case rec.FrameIndex != -1:
				check.Valid, check.Reason = false, "placeholder frame_index must be -1"
			case !assembly.IsSentinelAction(rec.Action, d.Info.PlaceholderAction):
				check.Valid, check.Reason = false, "placeholder action is not the sentinel"
			case !d.indexIsPlaceholder(rec.Index):
				check.Valid, check.Reason = false, "index map does not mark this row as placeholder"
			}
			report.Checks = append(report.Checks, check)
		}
	}
	return report, nil
}

func (d *Dataset) indexIsPlaceholder(i int) bool {
	if i < 0 || i >= len(d.Index) {
		return false
	}
	return d.Index[i].IsPlaceholder
}

func readJSONLines[T any](path string) ([]T, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var out []T
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var item T
		if err := json.Unmarshal(scanner.Bytes(), &item); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", filepath.Base(path), line, err)
		}
		out = append(out, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return out, nil
}
