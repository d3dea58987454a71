package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dongyingyibadao/data-dealer-auto/internal/fileutil"
	"github.com/dongyingyibadao/data-dealer-auto/internal/segment"
)

// RangesFileName is the analysis summary written at the output root.
const RangesFileName = "frame_ranges_info.json"

// RangeRecord is one window in the ranges file.
type RangeRecord struct {
	ID            int     `json:"id"`
	KeyframeIndex int     `json:"keyframe_index"`
	ActionType    string  `json:"action_type"`
	FrameStart    int     `json:"frame_start"`
	FrameEnd      int     `json:"frame_end"`
	NumFrames     int     `json:"num_frames"`
	OriginalTask  string  `json:"original_task"`
	NewTask       string  `json:"new_task"`
	EpisodeIndex  int     `json:"episode_index"`
	FrameIndex    int     `json:"frame_index"`
	TaskIndex     int     `json:"task_index"`
	PrevGripper   float32 `json:"prev_gripper"`
	CurrGripper   float32 `json:"curr_gripper"`
}

// RangesInfo is the content of the ranges file.
type RangesInfo struct {
	TotalRanges  int           `json:"total_ranges"`
	FrameRanges  []RangeRecord `json:"frame_ranges"`
	PickCount    int           `json:"pick_count"`
	PlaceCount   int           `json:"place_count"`
	UnknownCount int           `json:"unknown_count,omitempty"`
}

// NewRangesInfo summarises windows.
func NewRangesInfo(windows []segment.Window) RangesInfo {
	info := RangesInfo{
		TotalRanges: len(windows),
		FrameRanges: make([]RangeRecord, 0, len(windows)),
	}
	for i, w := range windows {
		switch w.Kind {
		case segment.KindGrasp:
			info.PickCount++
		case segment.KindRelease:
			info.PlaceCount++
		default:
			info.UnknownCount++
		}
		info.FrameRanges = append(info.FrameRanges, RangeRecord{
			ID:            i,
			KeyframeIndex: w.Keyframe,
			ActionType:    w.Kind.ActionVerb(),
			FrameStart:    w.Start,
			FrameEnd:      w.End,
			NumFrames:     w.NumFrames(),
			OriginalTask:  w.TaskLabel,
			NewTask:       w.Label(),
			EpisodeIndex:  w.EpisodeID,
			FrameIndex:    w.LocalIndex,
			TaskIndex:     w.TaskIndex,
			PrevGripper:   w.Prev,
			CurrGripper:   w.Curr,
		})
	}
	return info
}

// Windows rebuilds the window list.
func (info RangesInfo) Windows() ([]segment.Window, error) {
	windows := make([]segment.Window, 0, len(info.FrameRanges))
	for _, r := range info.FrameRanges {
		kind, err := segment.ParseKind(r.ActionType)
		if err != nil {
			return nil, fmt.Errorf("range %d: %w", r.ID, err)
		}
		if r.FrameEnd < r.FrameStart {
			return nil, fmt.Errorf("range %d: frame_end %d before frame_start %d", r.ID, r.FrameEnd, r.FrameStart)
		}
		w := segment.Window{
			Keyframe:   r.KeyframeIndex,
			Kind:       kind,
			Start:      r.FrameStart,
			End:        r.FrameEnd,
			EpisodeID:  r.EpisodeIndex,
			LocalIndex: r.FrameIndex,
			TaskLabel:  r.OriginalTask,
			TaskIndex:  r.TaskIndex,
			Prev:       r.PrevGripper,
			Curr:       r.CurrGripper,
		}
		if strings.TrimSpace(r.NewTask) != "" && r.NewTask != r.OriginalTask {
			w.NewTaskLabel = r.NewTask
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// SaveRanges writes windows to path atomically.
func SaveRanges(path string, windows []segment.Window) error {
	return fileutil.WriteJSONAtomic(path, NewRangesInfo(windows))
}

// LoadRanges reads a ranges file written by an earlier run.
func LoadRanges(path string) ([]segment.Window, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ranges: %w", err)
	}
	var info RangesInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse ranges %s: %w", path, err)
	}
	return info.Windows()
}
